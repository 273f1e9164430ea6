// Package pg stores session credentials in Postgres.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/walink/internal/crypto"
	"github.com/nextlevelbuilder/walink/internal/store"
)

const schema = `CREATE TABLE IF NOT EXISTS walink_sessions (
	session_id       VARCHAR(255) PRIMARY KEY,
	phone_number     VARCHAR(32)  NOT NULL DEFAULT '',
	auth_token       TEXT         NOT NULL DEFAULT '',
	device_id        VARCHAR(255) NOT NULL DEFAULT '',
	authenticated_at TIMESTAMPTZ,
	updated_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
)`

// PGSessionStore implements store.SessionStore backed by Postgres.
type PGSessionStore struct {
	db     *sql.DB
	sealer *crypto.Sealer
}

// NewPGSessionStore wraps an open database and ensures the table exists.
func NewPGSessionStore(ctx context.Context, db *sql.DB, sealer *crypto.Sealer) (*PGSessionStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create sessions table: %w", err)
	}
	return &PGSessionStore{db: db, sealer: sealer}, nil
}

func (s *PGSessionStore) Load(ctx context.Context, sessionID string) (*store.SessionData, error) {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, phone_number, auth_token, device_id, authenticated_at
		 FROM walink_sessions WHERE session_id = $1`, sessionID)

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

func (s *PGSessionStore) scan(row scanner) (*store.SessionData, error) {
	var sess store.SessionData
	var authAt sql.NullTime
	if err := row.Scan(&sess.SessionID, &sess.PhoneNumber, &sess.AuthToken, &sess.DeviceID, &authAt); err != nil {
		return nil, err
	}
	if authAt.Valid {
		sess.AuthenticatedAt = authAt.Time
	}
	token, err := s.sealer.Open(sess.SessionID, sess.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("open auth token: %w", err)
	}
	sess.AuthToken = token
	return &sess, nil
}

func (s *PGSessionStore) Save(ctx context.Context, data *store.SessionData) error {
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

	var authAt sql.NullTime
	if !data.AuthenticatedAt.IsZero() {
		authAt = sql.NullTime{Time: data.AuthenticatedAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO walink_sessions (session_id, phone_number, auth_token, device_id, authenticated_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (session_id) DO UPDATE SET
		   phone_number = $2, auth_token = $3, device_id = $4, authenticated_at = $5, updated_at = now()`,
		data.SessionID, data.PhoneNumber, token, data.DeviceID, authAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PGSessionStore) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM walink_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

func (s *PGSessionStore) List(ctx context.Context) ([]store.SessionData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, phone_number, auth_token, device_id, authenticated_at
		 FROM walink_sessions ORDER BY session_id`)
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

func (s *PGSessionStore) Close() error {
	return s.db.Close()
}
