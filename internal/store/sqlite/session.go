// Package sqlite stores session credentials in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/walink/internal/crypto"
	"github.com/nextlevelbuilder/walink/internal/store"
)

// SQLiteSessionStore implements store.SessionStore on a single SQLite file.
type SQLiteSessionStore struct {
	db     *sql.DB
	sealer *crypto.Sealer
}

// NewSQLiteSessionStore opens (or creates) the database at dbPath and
// ensures the sessions table exists.
func NewSQLiteSessionStore(dbPath string, sealer *crypto.Sealer) (*SQLiteSessionStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	s := &SQLiteSessionStore{db: db, sealer: sealer}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("session store opened", "backend", "sqlite", "path", dbPath)
	return s, nil
}

func (s *SQLiteSessionStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		session_id       TEXT PRIMARY KEY,
		phone_number     TEXT NOT NULL DEFAULT '',
		auth_token       TEXT NOT NULL DEFAULT '',
		device_id        TEXT NOT NULL DEFAULT '',
		authenticated_at INTEGER NOT NULL DEFAULT 0
	)`)
	return err
}

func (s *SQLiteSessionStore) Load(ctx context.Context, sessionID string) (*store.SessionData, error) {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, phone_number, auth_token, device_id, authenticated_at
		 FROM sessions WHERE session_id = ?`, sessionID)

	sess, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if !sess.Valid() {
		slog.Warn("session: discarding row with missing fields", "session", sessionID)
		return nil, store.ErrSessionNotFound
	}
	return sess, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteSessionStore) scan(row scanner) (*store.SessionData, error) {
	var sess store.SessionData
	var authAt int64
	if err := row.Scan(&sess.SessionID, &sess.PhoneNumber, &sess.AuthToken, &sess.DeviceID, &authAt); err != nil {
		return nil, err
	}
	if authAt > 0 {
		sess.AuthenticatedAt = time.UnixMilli(authAt).UTC()
	}
	token, err := s.sealer.Open(sess.SessionID, sess.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("open auth token: %w", err)
	}
	sess.AuthToken = token
	return &sess, nil
}

func (s *SQLiteSessionStore) Save(ctx context.Context, data *store.SessionData) error {
	if data == nil {
		return errors.New("session: nil session data")
	}
	if err := store.ValidateSessionID(data.SessionID); err != nil {
		return err
	}

	token, err := s.sealer.Seal(data.SessionID, data.AuthToken)
	if err != nil {
		return fmt.Errorf("seal auth token: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, phone_number, auth_token, device_id, authenticated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET
		   phone_number = excluded.phone_number,
		   auth_token = excluded.auth_token,
		   device_id = excluded.device_id,
		   authenticated_at = excluded.authenticated_at`,
		data.SessionID, data.PhoneNumber, token, data.DeviceID, data.AuthenticatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SQLiteSessionStore) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteSessionStore) List(ctx context.Context) ([]store.SessionData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, phone_number, auth_token, device_id, authenticated_at
		 FROM sessions ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []store.SessionData
	for rows.Next() {
		sess, err := s.scan(rows)
		if err != nil {
			slog.Warn("session: skipping unreadable row", "error", err)
			continue
		}
		if sess.Valid() {
			result = append(result, *sess)
		}
	}
	return result, rows.Err()
}

func (s *SQLiteSessionStore) Close() error {
	return s.db.Close()
}
