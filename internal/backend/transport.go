// Package backend is walink's only wire-level boundary: every operation that
// needs the messaging network goes through a Transport.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

// SendResult is the bridge's acknowledgement of a forwarded payload.
type SendResult struct {
	Status    string    `json:"status"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// AuthStatus is the bridge's view of the session's authentication.
// AuthToken and DeviceID are only set once Authenticated is true.
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	AuthToken     string `json:"auth_token,omitempty"`
	DeviceID      string `json:"device_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Sender forwards one payload to a JID.
type Sender interface {
	Send(ctx context.Context, jid string, payload json.RawMessage, messageType string) (*SendResult, error)
}

// Transport is the full backend capability used by the connection lifecycle.
type Transport interface {
	Sender
	AuthStatus(ctx context.Context) (*AuthStatus, error)
	// Close releases the underlying connection. Later calls may reconnect.
	Close() error
}

// EventHandler receives frames the bridge pushes without a request.
// Handlers run on the transport's read loop and must not block.
type EventHandler func(ev protocol.EventFrame)

// SendJSON marshals v and forwards it through s.
func SendJSON(ctx context.Context, s Sender, jid string, v interface{}, messageType string) (*SendResult, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", messageType, err)
	}
	return s.Send(ctx, jid, payload, messageType)
}

// RemoteError is an error reported by the bridge in a response frame.
// It unwraps to the matching errs sentinel.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("backend: %s: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return errs.FromCode(e.Code)
}
