package opencode

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/giuliastro/opencode-remote/internal/api"
	"github.com/giuliastro/opencode-remote/internal/model"
)

const (
	streamScannerInitialBuffer = 64 * 1024
	streamScannerMaxBuffer     = 10 * 1024 * 1024
	defaultStreamBackoff       = 2 * time.Second
)

type StreamOptions struct {
	// Backoff is the fixed wait between reconnect attempts. Defaults to 2s.
	Backoff time.Duration
	// OnEvent receives every normalized event.
	OnEvent func(model.Event)
	// OnError receives connection-level failures. The loop reconnects after
	// each one; malformed frames are dropped without a callback.
	OnError func(error)
}

// StreamEvents opens the long-lived event feed and keeps it open until ctx
// is canceled, reconnecting after every connection failure. The returned
// error is always the ctx error.
func (c *Client) StreamEvents(ctx context.Context, opts StreamOptions) error {
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultStreamBackoff
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.readEvents(ctx, opts.OnEvent)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && opts.OnError != nil {
			opts.OnError(&StreamError{Err: err})
		}
		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
	}
}

// ProbeEvents verifies the event endpoint accepts a streaming connection,
// then closes it immediately.
func (c *Client) ProbeEvents(ctx context.Context) error {
	resp, err := c.openStream(ctx)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *Client) openStream(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", c.authHeader)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "GET /event", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &HTTPError{
			Status:  resp.StatusCode,
			Message: resolveErrorMessage(resp.StatusCode, payload),
		}
	}
	return resp, nil
}

// readEvents consumes one connection until it drops. A clean server-side
// close still counts as a failure: the feed is expected to stay open.
func (c *Client) readEvents(ctx context.Context, onEvent func(model.Event)) error {
	resp, err := c.openStream(ctx)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, streamScannerInitialBuffer), streamScannerMaxBuffer)
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				if ev, ok := parseEventFrame(strings.Join(data, "\n")); ok && onEvent != nil {
					onEvent(ev)
				}
				data = data[:0]
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return fmt.Errorf("event stream closed")
}

// parseEventFrame normalizes one SSE frame payload. Pre-wrapped frames use
// their payload field as-is, flat frames with a top-level type are wrapped,
// anything else (heartbeats, unknown shapes, malformed JSON) is dropped.
func parseEventFrame(payload string) (model.Event, bool) {
	raw := []byte(payload)
	var frame struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return model.Event{}, false
	}
	body := raw
	if len(frame.Payload) > 0 && string(frame.Payload) != "null" {
		body = frame.Payload
	}
	var wire api.EventPayload
	if err := json.Unmarshal(body, &wire); err != nil || strings.TrimSpace(wire.Type) == "" {
		return model.Event{}, false
	}
	return model.Event{
		Type:       wire.Type,
		SessionID:  extractSessionID(wire.Properties),
		Properties: wire.Properties,
	}, true
}

// extractSessionID pulls the session reference out of event properties.
// Servers spell it several ways; absence is fine.
func extractSessionID(properties json.RawMessage) string {
	if len(properties) == 0 {
		return ""
	}
	var probe struct {
		SessionID    string `json:"sessionID"`
		SessionIDAlt string `json:"sessionId"`
		Info         struct {
			SessionID string `json:"sessionID"`
		} `json:"info"`
		Part struct {
			SessionID string `json:"sessionID"`
		} `json:"part"`
	}
	if err := json.Unmarshal(properties, &probe); err != nil {
		return ""
	}
	for _, candidate := range []string{probe.SessionID, probe.SessionIDAlt, probe.Info.SessionID, probe.Part.SessionID} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
