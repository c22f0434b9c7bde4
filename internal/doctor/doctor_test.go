package doctor_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/giuliastro/opencode-remote/internal/doctor"
	"github.com/giuliastro/opencode-remote/internal/model"
	"github.com/giuliastro/opencode-remote/internal/testutil"
)

func serverConfigFromURL(t *testing.T, srv *httptest.Server) model.ServerConfig {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return model.ServerConfig{Host: u.Hostname(), Port: port, Username: "opencode", Password: "secret"}
}

func findCheck(t *testing.T, result doctor.Result, name string) doctor.Check {
	t.Helper()
	for _, c := range result.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %s missing from %+v", name, result.Checks)
	return doctor.Check{}
}

func TestRunPassesAgainstHealthyServer(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("message_limit: 50\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	dbPath := filepath.Join(dir, "profiles.db")

	mux := http.NewServeMux()
	mux.HandleFunc("/global/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"healthy":true,"version":"0.4.2"}`)
	})
	mux.HandleFunc("/event", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	server := serverConfigFromURL(t, srv)

	store, ctx := testutil.OpenProfileStore(t, dbPath)
	testutil.SeedProfile(t, store, ctx, "default", server)

	result := doctor.Run(context.Background(), doctor.Options{
		ConfigPath: configPath,
		DBPath:     dbPath,
		Server:     server,
		Timeout:    2 * time.Second,
	})
	if !result.OK || len(result.Checks) != 4 {
		t.Fatalf("result %+v", result)
	}
	if c := findCheck(t, result, "config_file"); c.Status != "pass" || c.Message != "parsed" {
		t.Fatalf("config_file %+v", c)
	}
	if c := findCheck(t, result, "profile_db"); c.Status != "pass" || c.Message != "1 profile(s)" {
		t.Fatalf("profile_db %+v", c)
	}
	if c := findCheck(t, result, "server_health"); c.Status != "pass" || c.Message != "healthy, version 0.4.2" {
		t.Fatalf("server_health %+v", c)
	}
	if c := findCheck(t, result, "event_stream"); c.Status != "pass" {
		t.Fatalf("event_stream %+v", c)
	}
}

func TestRunWarnsWithoutProfile(t *testing.T) {
	dir := t.TempDir()
	result := doctor.Run(context.Background(), doctor.Options{
		ConfigPath: filepath.Join(dir, "missing.yaml"),
		DBPath:     filepath.Join(dir, "profiles.db"),
	})

	// Missing config and missing profile are setup hints, not failures.
	if !result.OK || len(result.Checks) != 3 {
		t.Fatalf("result %+v", result)
	}
	if c := findCheck(t, result, "config_file"); c.Status != "warn" || c.Message != "not found, defaults in use" {
		t.Fatalf("config_file %+v", c)
	}
	if c := findCheck(t, result, "profile_db"); c.Status != "pass" || c.Message != "0 profile(s)" {
		t.Fatalf("profile_db %+v", c)
	}
	if c := findCheck(t, result, "server_health"); c.Status != "warn" || !strings.Contains(c.Message, "run login first") {
		t.Fatalf("server_health %+v", c)
	}
}

func TestRunFailsOnUnhealthyServer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/global/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"healthy":false}`)
	})
	mux.HandleFunc("/event", func(w http.ResponseWriter, r *http.Request) {})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	result := doctor.Run(context.Background(), doctor.Options{
		ConfigPath: filepath.Join(dir, "missing.yaml"),
		DBPath:     filepath.Join(dir, "profiles.db"),
		Server:     serverConfigFromURL(t, srv),
		Timeout:    2 * time.Second,
	})
	if result.OK {
		t.Fatalf("unhealthy server must fail the result: %+v", result)
	}
	if c := findCheck(t, result, "server_health"); c.Status != "fail" || c.Message != "server reports unhealthy" {
		t.Fatalf("server_health %+v", c)
	}
}

func TestRunFailsWhenServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server := serverConfigFromURL(t, srv)
	srv.Close()

	dir := t.TempDir()
	result := doctor.Run(context.Background(), doctor.Options{
		ConfigPath: filepath.Join(dir, "missing.yaml"),
		DBPath:     filepath.Join(dir, "profiles.db"),
		Server:     server,
		Timeout:    time.Second,
	})
	if result.OK {
		t.Fatalf("unreachable server must fail the result: %+v", result)
	}
	if c := findCheck(t, result, "server_health"); c.Status != "fail" || c.Message == "" {
		t.Fatalf("server_health %+v", c)
	}
	if c := findCheck(t, result, "event_stream"); c.Status != "fail" {
		t.Fatalf("event_stream %+v", c)
	}
}
