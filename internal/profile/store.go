package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/giuliastro/opencode-remote/internal/model"
)

var (
	ErrDuplicate = errors.New("duplicate")
	ErrNotFound  = errors.New("not found")
)

// Profile is one saved server connection. The database file is the only
// credential storage; it is created 0600.
type Profile struct {
	ID         string
	Name       string
	Host       string
	Port       int
	Username   string
	Password   string
	Directory  string
	IsDefault  bool
	LastUsedAt *time.Time
	UpdatedAt  time.Time
}

func (p Profile) ServerConfig() model.ServerConfig {
	return model.ServerConfig{
		Host:      p.Host,
		Port:      p.Port,
		Username:  p.Username,
		Password:  p.Password,
		Directory: p.Directory,
	}
}

// Notification is one logged completion signal.
type Notification struct {
	ID        string
	SessionID string
	Title     string
	CreatedAt time.Time
}

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Upsert saves the profile keyed by name. Setting IsDefault clears the flag
// on every other profile in the same transaction.
func (s *Store) Upsert(ctx context.Context, p Profile) error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return fmt.Errorf("profile name is required")
	}
	if !p.ServerConfig().Valid() {
		return fmt.Errorf("profile %s: host, port, username, and password are required", name)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if p.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE profiles SET is_default = 0 WHERE name != ?`, name); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("clear default profiles: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO profiles(profile_id, name, host, port, username, password, directory, is_default, last_used_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	host=excluded.host,
	port=excluded.port,
	username=excluded.username,
	password=excluded.password,
	directory=excluded.directory,
	is_default=excluded.is_default,
	updated_at=excluded.updated_at
`, p.ID, name, p.Host, p.Port, p.Username, p.Password, p.Directory, boolToInt(p.IsDefault), nullableTS(p.LastUsedAt), ts(p.UpdatedAt))
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("upsert profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit profile: %w", err)
	}
	return nil
}

func (s *Store) GetByName(ctx context.Context, name string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT profile_id, name, host, port, username, password, directory, is_default, last_used_at, updated_at
FROM profiles WHERE name = ?`, strings.TrimSpace(name))
	return scanProfile(row)
}

// Default returns the flagged default profile. When none is flagged but
// exactly one profile exists, that one is returned.
func (s *Store) Default(ctx context.Context) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT profile_id, name, host, port, username, password, directory, is_default, last_used_at, updated_at
FROM profiles WHERE is_default = 1`)
	p, err := scanProfile(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Profile{}, err
	}
	profiles, err := s.List(ctx)
	if err != nil {
		return Profile{}, err
	}
	if len(profiles) == 1 {
		return profiles[0], nil
	}
	return Profile{}, ErrNotFound
}

func (s *Store) List(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT profile_id, name, host, port, username, password, directory, is_default, last_used_at, updated_at
FROM profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var profiles []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan profiles: %w", err)
	}
	return profiles, nil
}

func (s *Store) SetDefault(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE profiles SET is_default = 0`); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("clear default profiles: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE profiles SET is_default = 1 WHERE name = ?`, strings.TrimSpace(name))
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("set default profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("set default profile: %w", err)
	}
	if affected == 0 {
		tx.Rollback() //nolint:errcheck
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit default profile: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE name = ?`, strings.TrimSpace(name))
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) TouchLastUsed(ctx context.Context, name string, now time.Time) error {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `UPDATE profiles SET last_used_at = ? WHERE name = ?`, ts(now), strings.TrimSpace(name))
	if err != nil {
		return fmt.Errorf("touch profile: %w", err)
	}
	return nil
}

func (s *Store) InsertNotification(ctx context.Context, n Notification) error {
	if n.ID == "" {
		return fmt.Errorf("notification id is required")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO notifications(notification_id, session_id, title, created_at)
VALUES (?, ?, ?, ?)`, n.ID, n.SessionID, n.Title, ts(n.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicate
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT notification_id, session_id, title, created_at
FROM notifications ORDER BY created_at DESC, notification_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var notifications []Notification
	for rows.Next() {
		var (
			n   Notification
			raw string
		)
		if err := rows.Scan(&n.ID, &n.SessionID, &n.Title, &raw); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.CreatedAt = parseTS(raw)
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan notifications: %w", err)
	}
	return notifications, nil
}

func (s *Store) ClearNotifications(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notifications`); err != nil {
		return fmt.Errorf("clear notifications: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var (
		p         Profile
		isDefault int
		lastUsed  sql.NullString
		updated   string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Host, &p.Port, &p.Username, &p.Password, &p.Directory, &isDefault, &lastUsed, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("scan profile: %w", err)
	}
	p.IsDefault = isDefault != 0
	if lastUsed.Valid {
		t := parseTS(lastUsed.String)
		p.LastUsedAt = &t
	}
	p.UpdatedAt = parseTS(updated)
	return p, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func parseTS(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
