package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/walink/internal/errs"
)

// ErrSessionNotFound is returned by Load when no usable record exists:
// either nothing was ever saved, or the record lacks required fields.
var ErrSessionNotFound = fmt.Errorf("session %w", errs.ErrNotFound)

// SessionData is the persisted authentication material of one session.
type SessionData struct {
	SessionID       string    `json:"session_id"`
	PhoneNumber     string    `json:"phone_number"`
	AuthToken       string    `json:"auth_token"`
	DeviceID        string    `json:"device_id"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
}

// Valid reports whether the record carries every field needed to resume
// without re-authenticating.
func (s *SessionData) Valid() bool {
	return s != nil && s.SessionID != "" && s.PhoneNumber != "" && s.AuthToken != ""
}

// SessionStore persists SessionData per session id.
// Implementations assume a single writer per session id; concurrent writers
// from different processes race with last-writer-wins.
type SessionStore interface {
	// Load returns ErrSessionNotFound for absent or invalid records.
	Load(ctx context.Context, sessionID string) (*SessionData, error)
	Save(ctx context.Context, data *SessionData) error
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]SessionData, error)
	Close() error
}

// IsNotFound reports whether err means "no usable session".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}
