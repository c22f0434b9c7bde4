package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SessionStatus is the effective run state of a server session after the
// session list has been joined with the status map.
type SessionStatus string

const (
	StatusIdle    SessionStatus = "idle"
	StatusBusy    SessionStatus = "busy"
	StatusRetry   SessionStatus = "retry"
	StatusUnknown SessionStatus = "unknown"
)

// ParseSessionStatus maps a raw status type string onto the known set. An
// empty string means the server reported no activity for the session.
func ParseSessionStatus(raw string) SessionStatus {
	switch strings.TrimSpace(raw) {
	case "", string(StatusIdle):
		return StatusIdle
	case string(StatusBusy):
		return StatusBusy
	case string(StatusRetry):
		return StatusRetry
	default:
		return StatusUnknown
	}
}

// Running reports whether the status counts as active work in progress.
func (s SessionStatus) Running() bool {
	return s == StatusBusy || s == StatusRetry
}

// ServerConfig identifies one opencode server plus the credentials used on
// every request. It is a value: replaced wholesale, never partially mutated.
type ServerConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"-"`
	Directory string `json:"directory,omitempty"`
}

func (c ServerConfig) Valid() bool {
	if strings.TrimSpace(c.Host) == "" {
		return false
	}
	if c.Port < 1 || c.Port > 65535 {
		return false
	}
	return c.Username != "" && c.Password != ""
}

func (c ServerConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// ChangeSummary aggregates the line and file counts of a session's pending
// changes. Zero values mean no reported changes.
type ChangeSummary struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Files     int `json:"files"`
}

type Session struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Directory string        `json:"directory,omitempty"`
	ParentID  string        `json:"parentID,omitempty"`
	Version   string        `json:"version,omitempty"`
	Created   time.Time     `json:"created"`
	Updated   time.Time     `json:"updated"`
	Status    SessionStatus `json:"status"`
	Summary   ChangeSummary `json:"summary"`
}

// JoinStatus merges the status map into the session list: every session's
// effective status becomes the mapped entry, defaulting to idle when the map
// has none. The input slice is returned mutated for convenience.
func JoinStatus(sessions []Session, statuses map[string]SessionStatus) []Session {
	for i := range sessions {
		status, ok := statuses[sessions[i].ID]
		if !ok {
			status = StatusIdle
		}
		sessions[i].Status = status
	}
	return sessions
}

// SortSessions orders the list by Updated descending, breaking ties by ID so
// the ordering is stable across refreshes.
func SortSessions(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].Updated.Equal(sessions[j].Updated) {
			return sessions[i].Updated.After(sessions[j].Updated)
		}
		return sessions[i].ID < sessions[j].ID
	})
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Part is one segment of a message. Only text parts carry visible content;
// other part types (tool calls, step markers) are kept for counting but
// render nothing.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type MessageEnvelope struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      MessageRole `json:"role"`
	Created   time.Time   `json:"created"`
	Completed *time.Time  `json:"completed,omitempty"`
	Parts     []Part      `json:"parts"`
}

// Text concatenates the envelope's non-blank text parts.
func (m MessageEnvelope) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type != "text" || strings.TrimSpace(p.Text) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// HasText reports whether the envelope carries at least one non-blank text
// part. Envelopes without one are hidden from the transcript, not deleted.
func (m MessageEnvelope) HasText() bool {
	for _, p := range m.Parts {
		if p.Type == "text" && strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoCancelled  TodoStatus = "cancelled"
)

type TodoItem struct {
	ID       string     `json:"id"`
	Content  string     `json:"content"`
	Status   TodoStatus `json:"status"`
	Priority string     `json:"priority,omitempty"`
}

// DiffFile is one changed file in the selected session's pending diff.
// Before and After hold the full file contents when the server includes
// them; counts may be zero when the server omits per-file stats.
type DiffFile struct {
	File      string `json:"file"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

type DiffSummary struct {
	Files     int `json:"files"`
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// Event is the canonical form of one server push event. The wire shapes are
// heterogeneous; everything past the stream client sees only this.
type Event struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"sessionID,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

type Health struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version"`
}
