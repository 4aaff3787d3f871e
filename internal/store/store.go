// Package store persists chat bindings and profiles in SQLite as an
// alternative to the JSON files.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/felii30/angel-and-mortal-bot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.BindingStore and domain.ProfileStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) LoadBindings(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, chat_id FROM chat_bindings`)
	if err != nil {
		return nil, fmt.Errorf("query bindings: %w", err)
	}
	defer rows.Close()

	bindings := make(map[string]int64)
	for rows.Next() {
		var username string
		var chatID int64
		if err := rows.Scan(&username, &chatID); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		bindings[username] = chatID
	}
	return bindings, rows.Err()
}

// SaveBindings replaces the stored bindings with the given set in one
// transaction. bound_at is kept for rows whose chat id is unchanged.
func (s *SQLiteStore) SaveBindings(ctx context.Context, bindings map[string]int64) error {
	now := time.Now().UTC()
	return s.replace(ctx, "chat_bindings", keys(bindings), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chat_bindings (username, chat_id, bound_at) VALUES (?, ?, ?)
			ON CONFLICT(username) DO UPDATE SET
				chat_id = excluded.chat_id,
				bound_at = CASE WHEN chat_bindings.chat_id = excluded.chat_id
					THEN chat_bindings.bound_at ELSE excluded.bound_at END`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for username, chatID := range bindings {
			if _, err := stmt.ExecContext(ctx, username, chatID, now); err != nil {
				return fmt.Errorf("upsert binding %s: %w", username, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) LoadProfiles(ctx context.Context) (map[string]domain.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, nickname, bio, interests FROM profiles`)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	profiles := make(map[string]domain.Profile)
	for rows.Next() {
		var username, interests string
		var p domain.Profile
		if err := rows.Scan(&username, &p.Nickname, &p.Bio, &interests); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		if err := json.Unmarshal([]byte(interests), &p.Interests); err != nil {
			s.logger.Warn("profile interests unreadable, resetting", "username", username, "err", err)
			p.Interests = nil
		}
		profiles[username] = p.Clone()
	}
	return profiles, rows.Err()
}

// SaveProfiles replaces the stored profiles with the given set in one transaction.
func (s *SQLiteStore) SaveProfiles(ctx context.Context, profiles map[string]domain.Profile) error {
	now := time.Now().UTC()
	return s.replace(ctx, "profiles", keys(profiles), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO profiles (username, nickname, bio, interests, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(username) DO UPDATE SET
				nickname = excluded.nickname,
				bio = excluded.bio,
				interests = excluded.interests,
				updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for username, p := range profiles {
			interests, err := json.Marshal(p.Clone().Interests)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, username, p.Nickname, p.Bio, string(interests), now); err != nil {
				return fmt.Errorf("upsert profile %s: %w", username, err)
			}
		}
		return nil
	})
}

// replace runs upsert inside a transaction and then removes rows of table
// whose username is not in keep.
func (s *SQLiteStore) replace(ctx context.Context, table string, keep map[string]bool, upsert func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s save: %w", table, err)
	}
	defer tx.Rollback()

	if err := upsert(tx); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, "SELECT username FROM "+table)
	if err != nil {
		return err
	}
	var stale []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			rows.Close()
			return err
		}
		if !keep[username] {
			stale = append(stale, username)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, username := range stale {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE username = ?", username); err != nil {
			return fmt.Errorf("delete %s %s: %w", table, username, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s save: %w", table, err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SchemaVersion reports the applied migration version.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	return GetSchemaVersion(s.db)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func keys[V any](m map[string]V) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}
