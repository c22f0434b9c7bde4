package opencode

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/giuliastro/opencode-remote/internal/api"
	"github.com/giuliastro/opencode-remote/internal/model"
)

const (
	defaultUnaryTimeout = 30 * time.Second
	defaultMessageLimit = 100
)

// Doer is the transport capability the client needs. *http.Client satisfies
// it; tests may substitute their own.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a typed wrapper over the opencode server HTTP API. Every call
// carries Basic-Auth credentials from the ServerConfig it was built with.
type Client struct {
	baseURL      string
	directory    string
	authHeader   string
	client       Doer
	unaryTimeout time.Duration
}

func New(cfg model.ServerConfig) *Client {
	// No client-level timeout: the event stream shares this client and must
	// be able to idle indefinitely. Unary calls get per-request deadlines.
	return NewWithClient(cfg, &http.Client{})
}

func NewWithClient(cfg model.ServerConfig, client Doer) *Client {
	if client == nil {
		client = &http.Client{}
	}
	credentials := cfg.Username + ":" + cfg.Password
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL(), "/"),
		directory:    strings.TrimSpace(cfg.Directory),
		authHeader:   "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials)),
		client:       client,
		unaryTimeout: defaultUnaryTimeout,
	}
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

func (c *Client) Health(ctx context.Context) (model.Health, error) {
	body, err := c.request(ctx, http.MethodGet, "/global/health", nil, nil, false)
	if err != nil {
		return model.Health{}, err
	}
	var resp api.HealthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Health{}, &DecodeError{What: "health", Err: err}
	}
	return model.Health{Healthy: resp.Healthy, Version: resp.Version}, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]model.Session, error) {
	body, err := c.request(ctx, http.MethodGet, "/session", nil, nil, false)
	if err != nil {
		return nil, err
	}
	var wire []api.Session
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &DecodeError{What: "sessions", Err: err}
	}
	sessions := make([]model.Session, 0, len(wire))
	for _, s := range wire {
		sessions = append(sessions, toSession(s))
	}
	return sessions, nil
}

func (c *Client) ListStatuses(ctx context.Context) (map[string]model.SessionStatus, error) {
	body, err := c.request(ctx, http.MethodGet, "/session/status", nil, nil, false)
	if err != nil {
		return nil, err
	}
	var wire map[string]api.SessionStatus
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &DecodeError{What: "session statuses", Err: err}
	}
	statuses := make(map[string]model.SessionStatus, len(wire))
	for id, s := range wire {
		statuses[id] = model.ParseSessionStatus(s.Type)
	}
	return statuses, nil
}

func (c *Client) CreateSession(ctx context.Context, title string) (model.Session, error) {
	req := api.CreateSessionRequest{Title: strings.TrimSpace(title)}
	body, err := c.request(ctx, http.MethodPost, "/session", nil, req, false)
	if err != nil {
		return model.Session{}, err
	}
	var wire api.Session
	if err := json.Unmarshal(body, &wire); err != nil {
		return model.Session{}, &DecodeError{What: "session", Err: err}
	}
	return toSession(wire), nil
}

func (c *Client) RenameSession(ctx context.Context, sessionID, title string) (model.Session, error) {
	path, err := sessionPath(sessionID, "")
	if err != nil {
		return model.Session{}, err
	}
	body, err := c.request(ctx, http.MethodPatch, path, nil, api.RenameSessionRequest{Title: title}, false)
	if err != nil {
		return model.Session{}, err
	}
	var wire api.Session
	if err := json.Unmarshal(body, &wire); err != nil {
		return model.Session{}, &DecodeError{What: "session", Err: err}
	}
	return toSession(wire), nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	path, err := sessionPath(sessionID, "")
	if err != nil {
		return false, err
	}
	body, err := c.request(ctx, http.MethodDelete, path, nil, nil, false)
	if err != nil {
		return false, err
	}
	return decodeBool(body, "delete result")
}

func (c *Client) Messages(ctx context.Context, sessionID string, limit int) ([]model.MessageEnvelope, error) {
	path, err := sessionPath(sessionID, "message")
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	c.addDirectory(query)
	body, err := c.request(ctx, http.MethodGet, path, query, nil, false)
	if err != nil {
		return nil, err
	}
	var wire []api.Message
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &DecodeError{What: "messages", Err: err}
	}
	envelopes := make([]model.MessageEnvelope, 0, len(wire))
	for _, m := range wire {
		envelopes = append(envelopes, toEnvelope(m))
	}
	return envelopes, nil
}

func (c *Client) Todo(ctx context.Context, sessionID string) ([]model.TodoItem, error) {
	path, err := sessionPath(sessionID, "todo")
	if err != nil {
		return nil, err
	}
	body, err := c.request(ctx, http.MethodGet, path, nil, nil, false)
	if err != nil {
		return nil, err
	}
	var wire []api.TodoItem
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &DecodeError{What: "todo list", Err: err}
	}
	items := make([]model.TodoItem, 0, len(wire))
	for _, t := range wire {
		items = append(items, model.TodoItem{
			ID:       t.ID,
			Content:  t.Content,
			Status:   model.TodoStatus(t.Status),
			Priority: t.Priority,
		})
	}
	return items, nil
}

func (c *Client) Diff(ctx context.Context, sessionID string) ([]model.DiffFile, error) {
	path, err := sessionPath(sessionID, "diff")
	if err != nil {
		return nil, err
	}
	body, err := c.request(ctx, http.MethodGet, path, nil, nil, false)
	if err != nil {
		return nil, err
	}
	var wire []api.FileDiff
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &DecodeError{What: "diff", Err: err}
	}
	files := make([]model.DiffFile, 0, len(wire))
	for _, f := range wire {
		files = append(files, model.DiffFile{
			File:      f.File,
			Before:    f.Before,
			After:     f.After,
			Additions: f.Additions,
			Deletions: f.Deletions,
		})
	}
	return files, nil
}

// SendPrompt posts a text prompt and waits for the produced assistant
// envelope. Callers refresh the transcript afterwards instead of trusting
// the response body alone.
func (c *Client) SendPrompt(ctx context.Context, sessionID, text string) (model.MessageEnvelope, error) {
	path, err := sessionPath(sessionID, "message")
	if err != nil {
		return model.MessageEnvelope{}, err
	}
	query := url.Values{}
	c.addDirectory(query)
	body, err := c.request(ctx, http.MethodPost, path, query, promptRequest(text), false)
	if err != nil {
		return model.MessageEnvelope{}, err
	}
	var wire api.Message
	if err := json.Unmarshal(body, &wire); err != nil {
		return model.MessageEnvelope{}, &DecodeError{What: "message", Err: err}
	}
	return toEnvelope(wire), nil
}

// SendPromptAsync posts a text prompt and returns as soon as the server
// accepts it; the settling state arrives via events or the next poll.
func (c *Client) SendPromptAsync(ctx context.Context, sessionID, text string) error {
	path, err := sessionPath(sessionID, "prompt_async")
	if err != nil {
		return err
	}
	query := url.Values{}
	c.addDirectory(query)
	_, err = c.request(ctx, http.MethodPost, path, query, promptRequest(text), false)
	return err
}

func (c *Client) SendCommand(ctx context.Context, sessionID, command, arguments string) error {
	path, err := sessionPath(sessionID, "command")
	if err != nil {
		return err
	}
	query := url.Values{}
	c.addDirectory(query)
	req := api.CommandRequest{Command: strings.TrimSpace(command), Arguments: arguments}
	_, err = c.request(ctx, http.MethodPost, path, query, req, false)
	return err
}

func (c *Client) Abort(ctx context.Context, sessionID string) (bool, error) {
	path, err := sessionPath(sessionID, "abort")
	if err != nil {
		return false, err
	}
	body, err := c.request(ctx, http.MethodPost, path, nil, nil, false)
	if err != nil {
		return false, err
	}
	return decodeBool(body, "abort result")
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any, longLived bool) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	reqCtx := ctx
	if !longLived && c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.authHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	if resp.StatusCode >= 400 {
		return nil, &HTTPError{
			Status:  resp.StatusCode,
			Message: resolveErrorMessage(resp.StatusCode, payload),
		}
	}
	return payload, nil
}

func (c *Client) addDirectory(query url.Values) {
	if c.directory != "" {
		query.Set("directory", c.directory)
	}
}

func sessionPath(sessionID, suffix string) (string, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return "", fmt.Errorf("session id is required")
	}
	path := "/session/" + url.PathEscape(id)
	if suffix != "" {
		path += "/" + suffix
	}
	return path, nil
}

func promptRequest(text string) api.PromptRequest {
	return api.PromptRequest{Parts: []api.PromptPart{{Type: "text", Text: text}}}
}

func decodeBool(body []byte, what string) (bool, error) {
	var ok bool
	if err := json.Unmarshal(bytes.TrimSpace(body), &ok); err != nil {
		return false, &DecodeError{What: what, Err: err}
	}
	return ok, nil
}

func toSession(wire api.Session) model.Session {
	s := model.Session{
		ID:        wire.ID,
		Title:     wire.Title,
		Directory: wire.Directory,
		ParentID:  wire.ParentID,
		Version:   wire.Version,
		Created:   fromMillis(wire.Time.Created),
		Updated:   fromMillis(wire.Time.Updated),
		Status:    model.StatusUnknown,
	}
	if wire.Summary != nil {
		s.Summary = model.ChangeSummary{
			Additions: wire.Summary.Additions,
			Deletions: wire.Summary.Deletions,
			Files:     wire.Summary.Files,
		}
	}
	return s
}

func toEnvelope(wire api.Message) model.MessageEnvelope {
	env := model.MessageEnvelope{
		ID:        wire.Info.ID,
		SessionID: wire.Info.SessionID,
		Role:      model.MessageRole(wire.Info.Role),
		Created:   fromMillis(wire.Info.Time.Created),
		Parts:     make([]model.Part, 0, len(wire.Parts)),
	}
	if wire.Info.Time.Completed > 0 {
		completed := fromMillis(wire.Info.Time.Completed)
		env.Completed = &completed
	}
	for _, p := range wire.Parts {
		env.Parts = append(env.Parts, model.Part{Type: p.Type, Text: p.Text})
	}
	return env
}

func fromMillis(millis int64) time.Time {
	if millis <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis).UTC()
}
