package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/giuliastro/opencode-remote/internal/config"
	"github.com/giuliastro/opencode-remote/internal/model"
	"github.com/giuliastro/opencode-remote/internal/opencode"
	"github.com/giuliastro/opencode-remote/internal/profile"
)

type Options struct {
	ConfigPath string
	DBPath     string
	// Server is the profile to probe; leave invalid to skip the network
	// checks.
	Server  model.ServerConfig
	Timeout time.Duration
}

type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // pass | warn | fail
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

type Result struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks"`
}

// Run inspects the local setup and, when a server profile is available, the
// connection to it. Warnings do not fail the result; fails do.
func Run(ctx context.Context, opts Options) Result {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	out := Result{OK: true}
	add := func(c Check) {
		out.Checks = append(out.Checks, c)
		if c.Status == "fail" {
			out.OK = false
		}
	}

	add(checkConfigFile(opts.ConfigPath))
	add(checkProfileDB(ctx, opts.DBPath))

	if !opts.Server.Valid() {
		add(Check{Name: "server_health", Status: "warn", Message: "no profile configured, run login first"})
		return out
	}

	client := opencode.New(opts.Server).WithUnaryTimeout(timeout)
	add(checkHealth(ctx, client, opts.Server))
	add(checkEventStream(ctx, client, timeout))
	return out
}

func checkConfigFile(path string) Check {
	err := config.CheckFile(path)
	switch {
	case err == nil:
		return Check{Name: "config_file", Status: "pass", Message: "parsed", Path: path}
	case errors.Is(err, os.ErrNotExist):
		return Check{Name: "config_file", Status: "warn", Message: "not found, defaults in use", Path: path}
	default:
		return Check{Name: "config_file", Status: "fail", Message: err.Error(), Path: path}
	}
}

func checkProfileDB(ctx context.Context, path string) Check {
	store, err := profile.Open(ctx, path)
	if err != nil {
		return Check{Name: "profile_db", Status: "fail", Message: err.Error(), Path: path}
	}
	defer store.Close() //nolint:errcheck
	if err := profile.ApplyMigrations(ctx, store.DB()); err != nil {
		return Check{Name: "profile_db", Status: "fail", Message: err.Error(), Path: path}
	}
	profiles, err := store.List(ctx)
	if err != nil {
		return Check{Name: "profile_db", Status: "fail", Message: err.Error(), Path: path}
	}
	return Check{Name: "profile_db", Status: "pass", Message: fmt.Sprintf("%d profile(s)", len(profiles)), Path: path}
}

func checkHealth(ctx context.Context, client *opencode.Client, server model.ServerConfig) Check {
	health, err := client.Health(ctx)
	if err != nil {
		return Check{Name: "server_health", Status: "fail", Message: err.Error(), Path: server.BaseURL()}
	}
	if !health.Healthy {
		return Check{Name: "server_health", Status: "fail", Message: "server reports unhealthy", Path: server.BaseURL()}
	}
	message := "healthy"
	if health.Version != "" {
		message = "healthy, version " + health.Version
	}
	return Check{Name: "server_health", Status: "pass", Message: message, Path: server.BaseURL()}
}

func checkEventStream(ctx context.Context, client *opencode.Client, timeout time.Duration) Check {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.ProbeEvents(probeCtx); err != nil {
		return Check{Name: "event_stream", Status: "fail", Message: err.Error()}
	}
	return Check{Name: "event_stream", Status: "pass", Message: "stream endpoint accepts connections"}
}
