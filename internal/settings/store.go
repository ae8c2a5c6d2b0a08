// Package settings persists the user's display options in SQLite.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dgnsrekt/cayt_agent/internal/protocol"
)

const (
	keyShowOriginal = "showOriginal"
	keySubtitleSize = "subtitleSize"

	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store reads and writes options in a key/value table.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the settings database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create settings dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	const schema = `CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create settings table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored options, with defaults for anything unset or
// unreadable.
func (s *Store) Load(ctx context.Context) (protocol.Options, error) {
	opts := protocol.DefaultOptions()

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return opts, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return opts, fmt.Errorf("scan setting: %w", err)
		}
		switch key {
		case keyShowOriginal:
			if v, err := strconv.ParseBool(value); err == nil {
				opts.ShowOriginal = v
			}
		case keySubtitleSize:
			if protocol.ValidSubtitleSize(value) {
				opts.SubtitleSize = value
			}
		}
	}
	if err := rows.Err(); err != nil {
		return opts, fmt.Errorf("iterate settings: %w", err)
	}
	return opts, nil
}

// Save writes every field of opts.
func (s *Store) Save(ctx context.Context, opts protocol.Options) error {
	if !protocol.ValidSubtitleSize(opts.SubtitleSize) {
		return protocol.NewError(protocol.CodeValidation, "invalid subtitle size "+strconv.Quote(opts.SubtitleSize), nil)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		const upsert = `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
		values := [][2]string{
			{keyShowOriginal, strconv.FormatBool(opts.ShowOriginal)},
			{keySubtitleSize, opts.SubtitleSize},
		}
		for _, kv := range values {
			if _, err := tx.ExecContext(ctx, upsert, kv[0], kv[1], now); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

// Update merges the option fields of msg into the stored options and
// returns the result.
func (s *Store) Update(ctx context.Context, msg protocol.Message) (protocol.Options, error) {
	current, err := s.Load(ctx)
	if err != nil {
		return current, err
	}
	next, err := current.Merge(msg)
	if err != nil {
		return current, err
	}
	if err := s.Save(ctx, next); err != nil {
		return current, err
	}
	return next, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
