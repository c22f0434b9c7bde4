package api

import "encoding/json"

// Wire shapes of the opencode server API. Field names follow the server's
// camelCase JSON; timestamps are epoch milliseconds.

type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

type SessionSummary struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Files     int `json:"files"`
}

type Session struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"projectID,omitempty"`
	Directory string          `json:"directory,omitempty"`
	ParentID  string          `json:"parentID,omitempty"`
	Title     string          `json:"title"`
	Version   string          `json:"version,omitempty"`
	Summary   *SessionSummary `json:"summary,omitempty"`
	Time      SessionTime     `json:"time"`
}

// SessionStatus is one value of the GET /session/status map.
type SessionStatus struct {
	Type string `json:"type"`
}

type MessageTime struct {
	Created   int64 `json:"created"`
	Completed int64 `json:"completed,omitempty"`
}

type MessageInfo struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      string      `json:"role"`
	Time      MessageTime `json:"time"`
}

type Part struct {
	ID        string `json:"id,omitempty"`
	MessageID string `json:"messageID,omitempty"`
	SessionID string `json:"sessionID,omitempty"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
}

// Message pairs the envelope metadata with its ordered parts, matching the
// server's {info, parts} nesting.
type Message struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
}

type TodoItem struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Status   string `json:"status"`
	Priority string `json:"priority,omitempty"`
}

type FileDiff struct {
	File      string `json:"file"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

type CreateSessionRequest struct {
	Title string `json:"title,omitempty"`
}

type RenameSessionRequest struct {
	Title string `json:"title"`
}

type PromptPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type PromptRequest struct {
	Parts []PromptPart `json:"parts"`
}

type CommandRequest struct {
	Command   string `json:"command"`
	Arguments string `json:"arguments"`
}

// ErrorBody covers the error envelope variants the server produces. The
// message is resolved data.message first, then message, then name.
type ErrorBody struct {
	Data    ErrorData `json:"data"`
	Message string    `json:"message"`
	Name    string    `json:"name"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// EventPayload is the canonical wire form of one push event after frame
// normalization.
type EventPayload struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties,omitempty"`
}
