package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/giuliastro/opencode-remote/internal/model"
	"github.com/giuliastro/opencode-remote/internal/profile"
)

// OpenProfileStore opens a migrated profile store at path and closes it when
// the test ends.
func OpenProfileStore(t *testing.T, path string) (*profile.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := profile.Open(ctx, path)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := profile.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store, ctx
}

// SeedProfile saves a default profile pointing at server.
func SeedProfile(t *testing.T, store *profile.Store, ctx context.Context, name string, server model.ServerConfig) profile.Profile {
	t.Helper()
	p := profile.Profile{
		ID:        uuid.NewString(),
		Name:      name,
		Host:      server.Host,
		Port:      server.Port,
		Username:  server.Username,
		Password:  server.Password,
		Directory: server.Directory,
		IsDefault: true,
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.Upsert(ctx, p); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	return p
}
