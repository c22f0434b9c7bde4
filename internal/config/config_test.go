package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("OCREMOTE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("OCREMOTE_DB", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval != 3500*time.Millisecond {
		t.Fatalf("poll interval %v", cfg.PollInterval)
	}
	if cfg.StreamBackoff != 2*time.Second || cfg.ConnectTimeout != 5*time.Second {
		t.Fatalf("timeouts %v / %v", cfg.StreamBackoff, cfg.ConnectTimeout)
	}
	if cfg.UnaryTimeout != 30*time.Second || cfg.PromptTimeout != 5*time.Minute {
		t.Fatalf("timeouts %v / %v", cfg.UnaryTimeout, cfg.PromptTimeout)
	}
	if cfg.MessageLimit != 100 || cfg.Bell {
		t.Fatalf("limit %d bell %v", cfg.MessageLimit, cfg.Bell)
	}
}

func TestLoadAppliesFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := strings.Join([]string{
		"db_path: " + filepath.Join(dir, "from-file.db"),
		"poll_interval: 1s",
		"stream_backoff: 500ms",
		"message_limit: 25",
		"bell: true",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OCREMOTE_CONFIG", path)
	t.Setenv("OCREMOTE_DB", filepath.Join(dir, "from-env.db"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval != time.Second || cfg.StreamBackoff != 500*time.Millisecond {
		t.Fatalf("file durations not applied: %v / %v", cfg.PollInterval, cfg.StreamBackoff)
	}
	if cfg.MessageLimit != 25 || !cfg.Bell {
		t.Fatalf("file fields not applied: limit %d bell %v", cfg.MessageLimit, cfg.Bell)
	}
	// Untouched fields keep their defaults.
	if cfg.UnaryTimeout != 30*time.Second {
		t.Fatalf("unary timeout changed: %v", cfg.UnaryTimeout)
	}
	// OCREMOTE_DB wins over the file's db_path.
	if want := filepath.Join(dir, "from-env.db"); cfg.DBPath != want {
		t.Fatalf("db path %q, want %q", cfg.DBPath, want)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("poll_interval: [not a duration"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OCREMOTE_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.ConfigPath = path
	cfg.DBPath = filepath.Join(dir, "state.db")
	cfg.PollInterval = 7 * time.Second
	cfg.Bell = true
	if err := cfg.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	t.Setenv("OCREMOTE_CONFIG", path)
	t.Setenv("OCREMOTE_DB", "")
	loaded, err := Load()
	if err != nil {
		t.Fatalf("load after save: %v", err)
	}
	if loaded.PollInterval != 7*time.Second || !loaded.Bell {
		t.Fatalf("round trip lost fields: %+v", loaded)
	}
	if loaded.DBPath != cfg.DBPath {
		t.Fatalf("db path %q, want %q", loaded.DBPath, cfg.DBPath)
	}

	// Durations are written as human-readable strings.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if !strings.Contains(string(raw), "poll_interval: 7s") {
		t.Fatalf("saved file %q", raw)
	}
}

func TestCheckFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte("message_limit: 10\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := CheckFile(good); err != nil {
		t.Fatalf("check good file: %v", err)
	}

	if err := CheckFile(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file error %v", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("message_limit: ["), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := CheckFile(bad); err == nil {
		t.Fatalf("expected parse error for malformed file")
	}
}

func TestDurationYAML(t *testing.T) {
	var d Duration
	if err := yaml.Unmarshal([]byte(`"2500ms"`), &d); err != nil {
		t.Fatalf("unmarshal duration: %v", err)
	}
	if time.Duration(d) != 2500*time.Millisecond {
		t.Fatalf("duration %v", time.Duration(d))
	}
	if err := yaml.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Fatalf("expected error for unparseable duration")
	}
	out, err := yaml.Marshal(Duration(90 * time.Second))
	if err != nil {
		t.Fatalf("marshal duration: %v", err)
	}
	if strings.TrimSpace(string(out)) != "1m30s" {
		t.Fatalf("marshaled duration %q", out)
	}
}
