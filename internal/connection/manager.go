// Package connection drives one session's lifecycle against the backend:
// resume from the session store, or publish a QR payload and poll the
// backend until the session is authenticated, fails, or times out.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/walink/internal/backend"
	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/internal/jid"
	"github.com/nextlevelbuilder/walink/internal/store"
)

// State is the lifecycle state of a Manager.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateAwaitingAuth  State = "awaiting_authentication"
	StateAuthenticated State = "authenticated"
)

// Result statuses returned by Connect.
const (
	StatusConnected  = "connected"
	StatusAuthFailed = "auth_failed"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultQRTimeout    = 30 * time.Second
	// DefaultPairingCode fills the QR payload when no code is supplied.
	DefaultPairingCode = "AAAAAAAA"
)

var (
	errDisconnected = errors.New("disconnected while waiting for authentication")
	errNoPhone      = errors.New("backend reported authentication without a phone number")
)

// Result is the outcome of Connect.
type Result struct {
	Status      string `json:"status"`
	SessionID   string `json:"session_id,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Info is a point-in-time view of the connection.
type Info struct {
	IsConnected     bool       `json:"is_connected"`
	State           State      `json:"state"`
	SessionID       string     `json:"session_id,omitempty"`
	PhoneNumber     string     `json:"phone_number,omitempty"`
	AuthenticatedAt *time.Time `json:"authenticated_at,omitempty"`
}

// Config tunes the authentication poll.
type Config struct {
	PollInterval time.Duration
	QRTimeout    time.Duration

	// OnQR receives the pairing artifact once authentication is required.
	OnQR func(qr string)
	// OnStateChange is called after every state transition, outside the lock.
	OnStateChange func(State)
}

// Manager owns the connection state of one session.
type Manager struct {
	transport backend.Transport
	sessions  store.SessionStore
	cfg       Config

	mu         sync.Mutex
	state      State
	sessionID  string
	session    *store.SessionData
	cancelPoll context.CancelCauseFunc
	attempt    uint64
}

// NewManager creates a disconnected manager.
func NewManager(transport backend.Transport, sessions store.SessionStore, cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.QRTimeout <= 0 {
		cfg.QRTimeout = DefaultQRTimeout
	}
	return &Manager{
		transport: transport,
		sessions:  sessions,
		cfg:       cfg,
		state:     StateDisconnected,
	}
}

// DefaultSessionID derives a session id from t.
func DefaultSessionID(t time.Time) string {
	return "walink_" + t.Format("20060102_150405")
}

// QRPayload builds the pairing artifact shown to the user.
func QRPayload(sessionID, pairingCode string) string {
	if pairingCode == "" {
		pairingCode = DefaultPairingCode
	}
	return fmt.Sprintf("1@%s,%s", sessionID, pairingCode)
}

// Connect resumes sessionID from the store or authenticates it through the
// backend. On failure it returns an auth_failed Result together with an
// error wrapping errs.ErrAuthFailed or errs.ErrTimeout. The poll stops early
// when ctx is done or Disconnect is called.
func (m *Manager) Connect(ctx context.Context, sessionID, pairingCode string) (*Result, error) {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	switch {
	case m.state == StateAwaitingAuth:
		m.mu.Unlock()
		return nil, fmt.Errorf("connect %s: authentication already in progress: %w", sessionID, errs.ErrInvalidState)
	case m.state == StateAuthenticated && m.sessionID == sessionID:
		res := m.connectedResultLocked()
		m.mu.Unlock()
		return res, nil
	}
	m.mu.Unlock()

	sess, err := m.sessions.Load(ctx, sessionID)
	switch {
	case err == nil:
		m.setAuthenticated(sess)
		slog.Info("connection: resumed stored session", "session", sessionID, "phone", jid.MaskPhoneNumber(sess.PhoneNumber))
		return &Result{Status: StatusConnected, SessionID: sessionID, PhoneNumber: sess.PhoneNumber}, nil
	case !store.IsNotFound(err):
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	slog.Info("connection: no stored session, authentication required", "session", sessionID)
	return m.authenticate(ctx, sessionID, pairingCode)
}

func (m *Manager) authenticate(ctx context.Context, sessionID, pairingCode string) (*Result, error) {
	cancelCtx, cancel := context.WithCancelCause(ctx)
	pollCtx, stop := context.WithTimeout(cancelCtx, m.cfg.QRTimeout)
	defer stop()
	defer cancel(nil)

	m.mu.Lock()
	if m.state == StateAwaitingAuth {
		m.mu.Unlock()
		return nil, fmt.Errorf("connect %s: authentication already in progress: %w", sessionID, errs.ErrInvalidState)
	}
	m.attempt++
	attempt := m.attempt
	m.state = StateAwaitingAuth
	m.sessionID = sessionID
	m.session = nil
	m.cancelPoll = cancel
	m.mu.Unlock()
	m.notify(StateAwaitingAuth)

	qr := QRPayload(sessionID, pairingCode)
	slog.Info("connection: qr code generated", "session", sessionID)
	if m.cfg.OnQR != nil {
		m.cfg.OnQR(qr)
	}

	slog.Info("connection: waiting for authentication", "timeout", m.cfg.QRTimeout)
	status, pollErr := m.waitForAuth(pollCtx)

	var sess *store.SessionData
	if pollErr == nil && status.Authenticated {
		if status.PhoneNumber == "" {
			// A record without a phone would never load again.
			pollErr = errNoPhone
		} else {
			sess = newSession(sessionID, status)
			if err := m.sessions.Save(ctx, sess); err != nil {
				slog.Error("connection: failed to persist session", "session", sessionID, "error", err)
			}
		}
	}

	m.mu.Lock()
	if m.attempt != attempt || m.state != StateAwaitingAuth {
		// Disconnect won the race with the final poll.
		m.mu.Unlock()
		if sess != nil {
			if err := m.sessions.Delete(context.WithoutCancel(ctx), sessionID); err != nil {
				slog.Warn("connection: failed to drop session saved during disconnect", "session", sessionID, "error", err)
			}
		}
		return m.failure(ctx, cancelCtx, status, errDisconnected)
	}
	m.cancelPoll = nil
	if sess == nil {
		m.state = StateDisconnected
		m.mu.Unlock()
		m.notify(StateDisconnected)
		return m.failure(ctx, cancelCtx, status, pollErr)
	}
	m.state = StateAuthenticated
	m.session = sess
	m.mu.Unlock()
	m.notify(StateAuthenticated)

	slog.Info("connection: authenticated", "session", sessionID, "phone", jid.MaskPhoneNumber(sess.PhoneNumber))
	return &Result{Status: StatusConnected, SessionID: sessionID, PhoneNumber: sess.PhoneNumber}, nil
}

// newSession builds the record persisted after authentication. Missing
// credentials are filled with generated placeholders.
func newSession(sessionID string, status *backend.AuthStatus) *store.SessionData {
	sess := &store.SessionData{
		SessionID:       sessionID,
		PhoneNumber:     status.PhoneNumber,
		AuthToken:       status.AuthToken,
		DeviceID:        status.DeviceID,
		AuthenticatedAt: time.Now().UTC(),
	}
	if sess.AuthToken == "" {
		sess.AuthToken = "token_" + uuid.NewString()
	}
	if sess.DeviceID == "" {
		sess.DeviceID = "device_" + uuid.NewString()
	}
	return sess
}

// failure turns a poll outcome into the auth_failed result and its error.
func (m *Manager) failure(parent, cancelCtx context.Context, status *backend.AuthStatus, pollErr error) (*Result, error) {
	res := &Result{Status: StatusAuthFailed}
	var err error
	switch {
	case errors.Is(pollErr, errNoPhone):
		res.Message = errNoPhone.Error()
		err = fmt.Errorf("%w: %v", errs.ErrAuthFailed, errNoPhone)
	case pollErr == nil && status != nil:
		res.Message = status.Error
		err = fmt.Errorf("%w: %s", errs.ErrAuthFailed, status.Error)
	case errors.Is(context.Cause(cancelCtx), errDisconnected):
		res.Message = errDisconnected.Error()
		err = fmt.Errorf("%w: %v", errs.ErrAuthFailed, errDisconnected)
	case parent.Err() != nil:
		res.Message = parent.Err().Error()
		err = fmt.Errorf("%w: %w", errs.ErrAuthFailed, parent.Err())
	default:
		res.Message = "timeout"
		err = fmt.Errorf("authentication not completed within %s: %w", m.cfg.QRTimeout, errs.ErrTimeout)
	}
	slog.Warn("connection: authentication failed", "reason", res.Message)
	return res, err
}

// waitForAuth polls the backend every PollInterval. It returns the first
// authenticated status, the first status carrying an error, or ctx's error.
// Transport errors are logged and the poll continues.
func (m *Manager) waitForAuth(ctx context.Context) (*backend.AuthStatus, error) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		status, err := m.transport.AuthStatus(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("connection: auth status check failed, retrying", "error", err)
			continue
		}
		if status.Authenticated || status.Error != "" {
			return status, nil
		}
	}
}

// Disconnect closes the transport, clears authentication state and aborts a
// pending Connect. It is safe to call repeatedly and never fails.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancelPoll != nil {
		m.cancelPoll(errDisconnected)
		m.cancelPoll = nil
	}
	prev := m.state
	m.state = StateDisconnected
	m.session = nil
	m.mu.Unlock()

	if err := m.transport.Close(); err != nil {
		slog.Warn("connection: error during disconnect", "error", err)
	}
	if prev != StateDisconnected {
		m.notify(StateDisconnected)
		slog.Info("connection: disconnected")
	}
}

// Logout disconnects and removes the stored session so the next Connect
// has to authenticate again.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	sessionID := m.sessionID
	m.mu.Unlock()

	m.Disconnect()
	if sessionID == "" {
		return nil
	}
	if err := m.sessions.Delete(ctx, sessionID); err != nil && !store.IsNotFound(err) {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// SendMessage forwards content to the backend. It fails with
// errs.ErrNotConnected unless the session is authenticated; backend errors
// are returned unchanged.
func (m *Manager) SendMessage(ctx context.Context, to string, content json.RawMessage, messageType string) (*backend.SendResult, error) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	if state != StateAuthenticated {
		return nil, fmt.Errorf("send %s to %s: %w", messageType, to, errs.ErrNotConnected)
	}
	slog.Debug("connection: sending", "type", messageType, "to", to)
	return m.transport.Send(ctx, to, content, messageType)
}

// Send implements backend.Sender with the NotConnected guard of SendMessage.
func (m *Manager) Send(ctx context.Context, to string, payload json.RawMessage, messageType string) (*backend.SendResult, error) {
	return m.SendMessage(ctx, to, payload, messageType)
}

// Status reports the current connection state.
func (m *Manager) Status() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := Info{
		IsConnected: m.state == StateAuthenticated,
		State:       m.state,
		SessionID:   m.sessionID,
	}
	if m.session != nil {
		info.PhoneNumber = m.session.PhoneNumber
		at := m.session.AuthenticatedAt
		info.AuthenticatedAt = &at
	}
	return info
}

// IsConnected reports whether the session is authenticated.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateAuthenticated
}

func (m *Manager) setAuthenticated(sess *store.SessionData) {
	m.mu.Lock()
	m.state = StateAuthenticated
	m.sessionID = sess.SessionID
	m.session = sess
	m.mu.Unlock()
	m.notify(StateAuthenticated)
}

func (m *Manager) connectedResultLocked() *Result {
	res := &Result{Status: StatusConnected, SessionID: m.sessionID}
	if m.session != nil {
		res.PhoneNumber = m.session.PhoneNumber
	}
	return res
}

func (m *Manager) notify(s State) {
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(s)
	}
}
