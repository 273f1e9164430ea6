// Package backendtest provides an in-memory backend.Transport for tests.
package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/walink/internal/backend"
)

// Call is one payload recorded by Fake.Send.
type Call struct {
	JID         string
	Payload     json.RawMessage
	MessageType string
}

// Decode unmarshals the recorded payload into v.
func (c Call) Decode(v interface{}) error {
	return json.Unmarshal(c.Payload, v)
}

// AuthStep is one scripted reply of Fake.AuthStatus.
type AuthStep struct {
	Status backend.AuthStatus
	Err    error
}

// Fake records every Send and replies to AuthStatus from a script.
// The last scripted step repeats once the script is exhausted; with no
// script, AuthStatus reports "not authenticated".
type Fake struct {
	mu        sync.Mutex
	calls     []Call
	sendErr   error
	script    []AuthStep
	polls     int
	closes    int
	sendDelay time.Duration
}

var _ backend.Transport = (*Fake)(nil)

func New() *Fake { return &Fake{} }

// SetSendError makes every later Send fail with err (nil restores success).
func (f *Fake) SetSendError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// SetSendDelay makes Send block for d (or until ctx is done).
func (f *Fake) SetSendDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendDelay = d
}

// ScriptAuth replaces the AuthStatus script.
func (f *Fake) ScriptAuth(steps ...AuthStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = steps
	f.polls = 0
}

// Authenticated is a shorthand step for a successful login.
func Authenticated(phone, token, device string) AuthStep {
	return AuthStep{Status: backend.AuthStatus{
		Authenticated: true,
		PhoneNumber:   phone,
		AuthToken:     token,
		DeviceID:      device,
	}}
}

// Pending is a shorthand step for "not yet scanned".
func Pending() AuthStep {
	return AuthStep{}
}

func (f *Fake) Send(ctx context.Context, jid string, payload json.RawMessage, messageType string) (*backend.SendResult, error) {
	f.mu.Lock()
	delay := f.sendDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return nil, f.sendErr
	}
	cp := make(json.RawMessage, len(payload))
	copy(cp, payload)
	f.calls = append(f.calls, Call{JID: jid, Payload: cp, MessageType: messageType})
	return &backend.SendResult{
		Status:    "success",
		MessageID: fmt.Sprintf("msg_%d", len(f.calls)),
		Timestamp: time.Now(),
	}, nil
}

func (f *Fake) AuthStatus(ctx context.Context) (*backend.AuthStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.polls++
	if len(f.script) == 0 {
		return &backend.AuthStatus{}, nil
	}
	i := f.polls - 1
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	step := f.script[i]
	if step.Err != nil {
		return nil, step.Err
	}
	status := step.Status
	return &status, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

// Calls returns a copy of every recorded Send.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// LastCall returns the most recent Send; ok is false when none happened.
func (f *Fake) LastCall() (Call, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return Call{}, false
	}
	return f.calls[len(f.calls)-1], true
}

// CallsOfType filters recorded sends by message type.
func (f *Fake) CallsOfType(messageType string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.MessageType == messageType {
			out = append(out, c)
		}
	}
	return out
}

// Polls is the number of AuthStatus calls so far.
func (f *Fake) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// Closes is the number of Close calls so far.
func (f *Fake) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}
