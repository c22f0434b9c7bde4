package opencode

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/giuliastro/opencode-remote/internal/model"
)

func testServerConfig(t *testing.T, srv *httptest.Server) model.ServerConfig {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	return model.ServerConfig{Host: u.Hostname(), Port: port, Username: "opencode", Password: "hunter2-long"}
}

func TestHealthSendsBasicAuth(t *testing.T) {
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("opencode:hunter2-long"))
	mux := http.NewServeMux()
	mux.HandleFunc("/global/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != wantAuth {
			t.Fatalf("authorization header %q, want %q", got, wantAuth)
		}
		_, _ = io.WriteString(w, `{"healthy":true,"version":"0.4.2"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	health, err := New(testServerConfig(t, srv)).Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !health.Healthy || health.Version != "0.4.2" {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestListSessionsMapsWireShape(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"id":"s1","title":"fix auth","directory":"/work/app","version":"0.4.2",
			 "time":{"created":1700000000000,"updated":1700000090000},
			 "summary":{"additions":12,"deletions":3,"files":2}},
			{"id":"s2","title":"","parentID":"s1","time":{"created":1700000000000,"updated":0}}
		]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sessions, err := New(testServerConfig(t, srv)).ListSessions(context.Background())
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	first := sessions[0]
	if first.ID != "s1" || first.Title != "fix auth" || first.Directory != "/work/app" {
		t.Fatalf("unexpected first session: %+v", first)
	}
	if got := first.Updated; !got.Equal(time.UnixMilli(1700000090000).UTC()) {
		t.Fatalf("updated time %v not converted from millis", got)
	}
	if first.Summary.Additions != 12 || first.Summary.Files != 2 {
		t.Fatalf("summary not mapped: %+v", first.Summary)
	}
	if first.Status != model.StatusUnknown {
		t.Fatalf("status before join expected unknown, got %s", first.Status)
	}
	if !sessions[1].Updated.IsZero() {
		t.Fatalf("zero millis expected zero time, got %v", sessions[1].Updated)
	}
	if sessions[1].ParentID != "s1" {
		t.Fatalf("parentID not mapped: %+v", sessions[1])
	}
}

func TestListStatusesParsesTypeMap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/session/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"a":{"type":"busy"},"b":{"type":""},"c":{"type":"compacting"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	statuses, err := New(testServerConfig(t, srv)).ListStatuses(context.Background())
	if err != nil {
		t.Fatalf("list statuses: %v", err)
	}
	if statuses["a"] != model.StatusBusy {
		t.Fatalf("a expected busy, got %s", statuses["a"])
	}
	if statuses["b"] != model.StatusIdle {
		t.Fatalf("empty type expected idle, got %s", statuses["b"])
	}
	if statuses["c"] != model.StatusUnknown {
		t.Fatalf("unrecognized type expected unknown, got %s", statuses["c"])
	}
}

func TestCreateSessionPostsTrimmedTitle(t *testing.T) {
	var bodies []string
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Fatalf("content type %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		bodies = append(bodies, strings.TrimSpace(string(raw)))
		_, _ = io.WriteString(w, `{"id":"new","title":"fresh","time":{"created":1,"updated":1}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	client := New(testServerConfig(t, srv))

	session, err := client.CreateSession(context.Background(), "  fresh  ")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "new" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if _, err := client.CreateSession(context.Background(), ""); err != nil {
		t.Fatalf("create untitled session: %v", err)
	}
	if bodies[0] != `{"title":"fresh"}` {
		t.Fatalf("titled create body %q", bodies[0])
	}
	if bodies[1] != `{}` {
		t.Fatalf("untitled create must omit the title field, got %q", bodies[1])
	}
}

func TestRenameSessionPatchesTitle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/session/abc", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Fatalf("expected PATCH, got %s", r.Method)
		}
		raw, _ := io.ReadAll(r.Body)
		if strings.TrimSpace(string(raw)) != `{"title":"renamed"}` {
			t.Fatalf("rename body %q", raw)
		}
		_, _ = io.WriteString(w, `{"id":"abc","title":"renamed","time":{"created":1,"updated":2}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	session, err := New(testServerConfig(t, srv)).RenameSession(context.Background(), "abc", "renamed")
	if err != nil {
		t.Fatalf("rename session: %v", err)
	}
	if session.Title != "renamed" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestDeleteAndAbortDecodeBooleanBodies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/session/abc", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("expected DELETE, got %s", r.Method)
		}
		_, _ = io.WriteString(w, "true")
	})
	mux.HandleFunc("/session/abc/abort", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		_, _ = io.WriteString(w, "false")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	client := New(testServerConfig(t, srv))

	deleted, err := client.DeleteSession(context.Background(), "abc")
	if err != nil || !deleted {
		t.Fatalf("delete = %v, %v; want true, nil", deleted, err)
	}
	aborted, err := client.Abort(context.Background(), "abc")
	if err != nil || aborted {
		t.Fatalf("abort = %v, %v; want false, nil", aborted, err)
	}
}

func TestMessagesSendsLimitAndDirectory(t *testing.T) {
	var queries []url.Values
	mux := http.NewServeMux()
	mux.HandleFunc("/session/abc/message", func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query())
		_, _ = io.WriteString(w, `[
			{"info":{"id":"m1","sessionID":"abc","role":"assistant",
			         "time":{"created":1700000000000,"completed":1700000005000}},
			 "parts":[{"type":"step-start"},{"type":"text","text":"done"}]},
			{"info":{"id":"m2","sessionID":"abc","role":"user","time":{"created":1700000000000}},
			 "parts":[{"type":"text","text":"go"}]}
		]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	cfg := testServerConfig(t, srv)
	cfg.Directory = "/work/app"
	client := New(cfg)

	envelopes, err := client.Messages(context.Background(), "abc", 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if _, err := client.Messages(context.Background(), "abc", 25); err != nil {
		t.Fatalf("messages with limit: %v", err)
	}

	if got := queries[0].Get("limit"); got != "100" {
		t.Fatalf("default limit %q, want 100", got)
	}
	if got := queries[1].Get("limit"); got != "25" {
		t.Fatalf("explicit limit %q, want 25", got)
	}
	for i, q := range queries {
		if got := q.Get("directory"); got != "/work/app" {
			t.Fatalf("request %d directory %q", i, got)
		}
	}

	if len(envelopes) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(envelopes))
	}
	first := envelopes[0]
	if first.Role != model.RoleAssistant || first.Completed == nil {
		t.Fatalf("assistant envelope not mapped: %+v", first)
	}
	if first.Text() != "done" {
		t.Fatalf("envelope text %q", first.Text())
	}
	if envelopes[1].Completed != nil {
		t.Fatalf("missing completed millis must map to nil")
	}
}

func TestMessagesOmitsDirectoryWhenUnset(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/session/abc/message", func(w http.ResponseWriter, r *http.Request) {
		if _, present := r.URL.Query()["directory"]; present {
			t.Fatalf("directory param must be absent when unconfigured")
		}
		_, _ = io.WriteString(w, `[]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	if _, err := New(testServerConfig(t, srv)).Messages(context.Background(), "abc", 10); err != nil {
		t.Fatalf("messages: %v", err)
	}
}

func TestSendPromptBuildsTextPart(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/session/abc/message", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		raw, _ := io.ReadAll(r.Body)
		var req struct {
			Parts []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"parts"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			t.Fatalf("decode prompt body: %v", err)
		}
		if len(req.Parts) != 1 || req.Parts[0].Type != "text" || req.Parts[0].Text != "run the tests" {
			t.Fatalf("unexpected prompt body: %s", raw)
		}
		_, _ = io.WriteString(w, `{"info":{"id":"m9","sessionID":"abc","role":"assistant",
			"time":{"created":1,"completed":2}},"parts":[{"type":"text","text":"ok"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	reply, err := New(testServerConfig(t, srv)).SendPrompt(context.Background(), "abc", "run the tests")
	if err != nil {
		t.Fatalf("send prompt: %v", err)
	}
	if reply.Text() != "ok" {
		t.Fatalf("reply text %q", reply.Text())
	}
}

func TestSendPromptAsyncAndCommand(t *testing.T) {
	var asyncHit, commandBody string
	mux := http.NewServeMux()
	mux.HandleFunc("/session/abc/prompt_async", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		asyncHit = strings.TrimSpace(string(raw))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/session/abc/command", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		commandBody = strings.TrimSpace(string(raw))
		_, _ = io.WriteString(w, `{}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	client := New(testServerConfig(t, srv))

	if err := client.SendPromptAsync(context.Background(), "abc", "later"); err != nil {
		t.Fatalf("send prompt async: %v", err)
	}
	if !strings.Contains(asyncHit, `"later"`) {
		t.Fatalf("async prompt body %q", asyncHit)
	}
	if err := client.SendCommand(context.Background(), "abc", " /compact ", "hard"); err != nil {
		t.Fatalf("send command: %v", err)
	}
	if commandBody != `{"command":"/compact","arguments":"hard"}` {
		t.Fatalf("command body %q", commandBody)
	}
}

func TestErrorMessageResolutionOrder(t *testing.T) {
	cases := []struct {
		body    string
		status  int
		message string
	}{
		{`{"data":{"message":"nested wins"},"message":"outer","name":"Named"}`, 400, "nested wins"},
		{`{"message":"outer wins","name":"Named"}`, 404, "outer wins"},
		{`{"name":"ProviderAuthError"}`, 401, "ProviderAuthError"},
		{`not even json`, 500, "not even json"},
		{``, 503, http.StatusText(503)},
	}
	var current int
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(cases[current].status)
		_, _ = io.WriteString(w, cases[current].body)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	client := New(testServerConfig(t, srv))

	for i, tc := range cases {
		current = i
		_, err := client.ListSessions(context.Background())
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) {
			t.Fatalf("case %d: expected HTTPError, got %v", i, err)
		}
		if httpErr.Status != tc.status || httpErr.Message != tc.message {
			t.Fatalf("case %d: got status=%d message=%q, want %d %q", i, httpErr.Status, httpErr.Message, tc.status, tc.message)
		}
	}
}

func TestHTTPErrorRetryable(t *testing.T) {
	if !(&HTTPError{Status: 500}).Retryable() || !(&HTTPError{Status: 429}).Retryable() || !(&HTTPError{Status: 408}).Retryable() {
		t.Fatalf("5xx, 429 and 408 must be retryable")
	}
	if (&HTTPError{Status: 404}).Retryable() || (&HTTPError{Status: 401}).Retryable() {
		t.Fatalf("plain 4xx must not be retryable")
	}
}

func TestUnreachableServerReturnsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	cfg := testServerConfig(t, srv)
	srv.Close()

	_, err := New(cfg).ListSessions(context.Background())
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !strings.Contains(transportErr.Op, "GET /session") {
		t.Fatalf("transport error op %q", transportErr.Op)
	}
}

func TestBadPayloadReturnsDecodeError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"not":"an array"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := New(testServerConfig(t, srv)).ListSessions(context.Background())
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestUnaryTimeoutBoundsSlowCalls(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(release)

	client := New(testServerConfig(t, srv)).WithUnaryTimeout(30 * time.Millisecond)
	start := time.Now()
	_, err := client.ListSessions(context.Background())
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
}

func TestWithUnaryTimeoutLeavesOriginalUntouched(t *testing.T) {
	base := New(model.ServerConfig{Host: "h", Port: 1, Username: "u", Password: "p"})
	fast := base.WithUnaryTimeout(time.Second)
	if base.unaryTimeout == fast.unaryTimeout {
		t.Fatalf("expected distinct timeouts, both %v", base.unaryTimeout)
	}
	if base.client != fast.client {
		t.Fatalf("clone must share the transport")
	}
}

func TestSessionPathEscapesID(t *testing.T) {
	var escaped string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		escaped = r.URL.EscapedPath()
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	if _, err := New(testServerConfig(t, srv)).Todo(context.Background(), "ses/with slash"); err != nil {
		t.Fatalf("todo: %v", err)
	}
	if escaped != "/session/ses%2Fwith%20slash/todo" {
		t.Fatalf("escaped path %q", escaped)
	}
}

func TestBlankSessionIDRejectedBeforeRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected for blank session id")
	}))
	defer srv.Close()
	client := New(testServerConfig(t, srv))

	if _, err := client.Todo(context.Background(), "   "); err == nil {
		t.Fatalf("blank session id must error")
	}
	if _, err := client.DeleteSession(context.Background(), ""); err == nil {
		t.Fatalf("empty session id must error")
	}
}
