// Package calls tracks voice calls placed or received through the backend.
// The cache is advisory: call state changes on each request (or backend
// event) and is never reconciled.
package calls

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/walink/internal/backend"
	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/internal/jid"
	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

// Status is the state of a call.
type Status string

const (
	StatusInitiating Status = "initiating"
	StatusIncoming   Status = "incoming"
	StatusInProgress Status = "in_progress"
	StatusRejected   Status = "rejected"
	StatusEnded      Status = "ended"
)

// Rejection reasons accepted by Reject.
const (
	ReasonBusy        = "busy"
	ReasonDeclined    = "declined"
	ReasonUnavailable = "unavailable"
)

var transitions = map[Status][]Status{
	StatusInitiating: {StatusInProgress, StatusRejected, StatusEnded},
	StatusIncoming:   {StatusInProgress, StatusRejected, StatusEnded},
	StatusInProgress: {StatusEnded},
}

func transition(c *Call, next Status) error {
	for _, s := range transitions[c.Status] {
		if s == next {
			c.Status = next
			return nil
		}
	}
	return fmt.Errorf("call %s: %s -> %s: %w", c.CallID, c.Status, next, errs.ErrInvalidState)
}

// Active reports whether the call has not finished.
func (s Status) Active() bool {
	return s == StatusInitiating || s == StatusIncoming || s == StatusInProgress
}

// Call is the cached state of one call.
type Call struct {
	CallID          string     `json:"call_id"`
	JID             string     `json:"jid"`
	Status          Status     `json:"status"`
	CallType        string     `json:"call_type"`
	Incoming        bool       `json:"is_incoming,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	AnsweredAt      *time.Time `json:"answered_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	Muted           bool       `json:"muted"`
	// Duration is in whole seconds; set when the call ends and refreshed by
	// Info while it is in progress.
	Duration int `json:"duration"`
}

// DurationAt is the talk time at t: from AnsweredAt (or StartTime when the
// call was never answered) to EndedAt, or to t while the call is running.
func (c *Call) DurationAt(t time.Time) int {
	from := c.StartTime
	if c.AnsweredAt != nil {
		from = *c.AnsweredAt
	}
	to := t
	if c.EndedAt != nil {
		to = *c.EndedAt
	}
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from) / time.Second)
}

// Manager forwards call operations and owns the call cache.
type Manager struct {
	sender backend.Sender
	now    func() time.Time

	mu    sync.Mutex
	calls map[string]*Call
}

func NewManager(sender backend.Sender) *Manager {
	return &Manager{
		sender: sender,
		now:    time.Now,
		calls:  make(map[string]*Call),
	}
}

// Offer starts a voice call to a user JID.
func (m *Manager) Offer(ctx context.Context, to string) (*Call, error) {
	if !jid.IsUserJID(to) {
		return nil, fmt.Errorf("%w: invalid JID %q", errs.ErrInvalidInput, to)
	}

	now := m.now()
	payload := map[string]interface{}{
		"type":      "offer_call",
		"jid":       to,
		"call_type": "voice",
		"timestamp": now,
	}
	if _, err := backend.SendJSON(ctx, m.sender, to, payload, protocol.TypeCall); err != nil {
		return nil, fmt.Errorf("offer call: %w", err)
	}

	c := &Call{
		CallID:    "call_" + uuid.NewString(),
		JID:       to,
		Status:    StatusInitiating,
		CallType:  "voice",
		StartTime: now,
	}
	m.mu.Lock()
	m.calls[c.CallID] = c
	m.mu.Unlock()

	slog.Info("call initiated", "call", c.CallID, "to", jid.MaskPhoneNumber(to))
	return copyCall(c), nil
}

// Accept answers a call.
func (m *Manager) Accept(ctx context.Context, callID string) (*Call, error) {
	return m.apply(ctx, callID, StatusInProgress, "accept_call", nil, func(c *Call, now time.Time) {
		c.AnsweredAt = &now
	})
}

// Reject declines a call. An empty reason means busy.
func (m *Manager) Reject(ctx context.Context, callID, reason string) (*Call, error) {
	if reason == "" {
		reason = ReasonBusy
	}
	switch reason {
	case ReasonBusy, ReasonDeclined, ReasonUnavailable:
	default:
		return nil, fmt.Errorf("%w: unknown rejection reason %q", errs.ErrInvalidInput, reason)
	}
	return m.apply(ctx, callID, StatusRejected, "reject_call", map[string]interface{}{"reason": reason}, func(c *Call, now time.Time) {
		c.RejectedAt = &now
		c.RejectionReason = reason
	})
}

// End hangs up and records the call duration.
func (m *Manager) End(ctx context.Context, callID string) (*Call, error) {
	return m.apply(ctx, callID, StatusEnded, "end_call", nil, func(c *Call, now time.Time) {
		c.EndedAt = &now
		c.Duration = c.DurationAt(now)
	})
}

// Mute toggles the microphone of an active call.
func (m *Manager) Mute(ctx context.Context, callID string, mute bool) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.calls[callID]
	if !ok {
		return nil, fmt.Errorf("call %s: %w", callID, errs.ErrNotFound)
	}
	if !c.Status.Active() {
		return nil, fmt.Errorf("call %s is %s: %w", callID, c.Status, errs.ErrInvalidState)
	}
	if err := m.forward(ctx, c, "mute_call", map[string]interface{}{"mute": mute}); err != nil {
		return nil, err
	}
	c.Muted = mute
	slog.Info("call mute changed", "call", callID, "muted", mute)
	return copyCall(c), nil
}

// Info returns a copy of the call with a live duration while in progress.
func (m *Manager) Info(callID string) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.calls[callID]
	if !ok {
		return nil, fmt.Errorf("call %s: %w", callID, errs.ErrNotFound)
	}
	cp := copyCall(c)
	if cp.Status == StatusInProgress {
		cp.Duration = cp.DurationAt(m.now())
	}
	return cp, nil
}

// Active returns calls that have not finished, oldest first.
func (m *Manager) Active() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Call
	for _, c := range m.calls {
		if c.Status.Active() {
			out = append(out, *copyCall(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// History returns up to limit calls, most recent first (limit <= 0 means all).
func (m *Manager) History(limit int) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, *copyCall(c))
	}
	key := func(c Call) time.Time {
		if c.EndedAt != nil {
			return *c.EndedAt
		}
		return c.StartTime
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]).After(key(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AnyActive reports whether some call is still running.
func (m *Manager) AnyActive() bool {
	return len(m.Active()) > 0
}

// Clear forgets every call.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]*Call)
	slog.Info("call history cleared")
}

// HandleIncoming records a call offered to us by from.
func (m *Manager) HandleIncoming(callID, from, callType string) *Call {
	if callID == "" {
		callID = "inc_" + uuid.NewString()
	}
	if callType == "" {
		callType = "voice"
	}
	c := &Call{
		CallID:    callID,
		JID:       from,
		Status:    StatusIncoming,
		CallType:  callType,
		Incoming:  true,
		StartTime: m.now(),
	}
	m.mu.Lock()
	m.calls[callID] = c
	m.mu.Unlock()

	slog.Info("incoming call", "call", callID, "from", jid.MaskPhoneNumber(from))
	return copyCall(c)
}

// HandleRemote applies a state change reported by the backend without
// forwarding anything. Unknown calls are ignored.
func (m *Manager) HandleRemote(callID string, next Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.calls[callID]
	if !ok {
		return nil
	}
	if err := transition(c, next); err != nil {
		return err
	}
	now := m.now()
	switch next {
	case StatusInProgress:
		c.AnsweredAt = &now
	case StatusRejected:
		c.RejectedAt = &now
	case StatusEnded:
		c.EndedAt = &now
		c.Duration = c.DurationAt(now)
	}
	return nil
}

// --- Internal ---

// apply forwards op and moves the call to next, running stamp on success.
// The state check happens before the backend is contacted.
func (m *Manager) apply(ctx context.Context, callID string, next Status, op string, fields map[string]interface{}, stamp func(*Call, time.Time)) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.calls[callID]
	if !ok {
		return nil, fmt.Errorf("call %s: %w", callID, errs.ErrNotFound)
	}
	trial := *c
	if err := transition(&trial, next); err != nil {
		return nil, err
	}
	if err := m.forward(ctx, c, op, fields); err != nil {
		return nil, err
	}

	transition(c, next)
	stamp(c, m.now())
	slog.Info("call state changed", "call", callID, "status", c.Status)
	return copyCall(c), nil
}

func (m *Manager) forward(ctx context.Context, c *Call, op string, fields map[string]interface{}) error {
	payload := map[string]interface{}{
		"type":    op,
		"call_id": c.CallID,
		"jid":     c.JID,
	}
	for k, v := range fields {
		payload[k] = v
	}
	if _, err := backend.SendJSON(ctx, m.sender, c.JID, payload, protocol.TypeCall); err != nil {
		return fmt.Errorf("%s %s: %w", op, c.CallID, err)
	}
	return nil
}

func copyCall(c *Call) *Call {
	cp := *c
	cp.AnsweredAt = copyTime(c.AnsweredAt)
	cp.EndedAt = copyTime(c.EndedAt)
	cp.RejectedAt = copyTime(c.RejectedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
