package opencode

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/giuliastro/opencode-remote/internal/api"
)

// TransportError means the destination was unreachable: no decoded server
// response exists.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError is a server response with status >= 400, message resolved from
// the error envelope.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return ""
	}
	message := strings.TrimSpace(e.Message)
	if message != "" {
		return fmt.Sprintf("http %d: %s", e.Status, message)
	}
	return fmt.Sprintf("http %d", e.Status)
}

func (e *HTTPError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout {
		return true
	}
	return e.Status >= 500
}

// DecodeError means a 2xx body did not match the expected shape.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// StreamError is a connection-level event stream failure: failed connect,
// dropped socket, or unexpected close. Malformed frames never produce one.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("event stream: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// resolveErrorMessage extracts a human-readable message from a non-2xx body:
// data.message, then message, then name, then the raw body, then the status
// text.
func resolveErrorMessage(status int, payload []byte) string {
	var body api.ErrorBody
	if err := json.Unmarshal(payload, &body); err == nil {
		for _, candidate := range []string{body.Data.Message, body.Message, body.Name} {
			if strings.TrimSpace(candidate) != "" {
				return strings.TrimSpace(candidate)
			}
		}
	}
	if raw := strings.TrimSpace(string(payload)); raw != "" {
		return raw
	}
	return http.StatusText(status)
}
