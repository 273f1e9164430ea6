// Package pairing tracks code-based device linking requests.
//
// A request moves requested -> verified -> completed. Requests in requested
// or verified expire 60 minutes after creation; expiry is applied lazily
// whenever a request is read, and CleanupExpired sweeps the rest. Revoke
// overrides every state.
//
// All mutation happens under one mutex that is also held across the backend
// round trip, so two racing Verify calls for the same request cannot both win.
package pairing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/walink/internal/backend"
	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/internal/jid"
	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

const (
	// CodeTTL is how long a pairing code remains valid.
	CodeTTL = 60 * time.Minute
	// MinNumberDigits is the shortest phone number accepted.
	MinNumberDigits = 8
)

// AuthTokens are the credentials minted when a pairing completes.
type AuthTokens struct {
	AuthToken   string `json:"auth_token"`
	DeviceID    string `json:"device_id"`
	PhoneNumber string `json:"phone_number"`
}

// Request is one outstanding code-based pairing attempt.
type Request struct {
	PairingID   string      `json:"pairing_id"`
	Number      string      `json:"number"`
	Code        string      `json:"code"`
	Status      Status      `json:"status"`
	RequestedAt time.Time   `json:"requested_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	VerifiedAt  *time.Time  `json:"verified_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	RevokedAt   *time.Time  `json:"revoked_at,omitempty"`
	AuthTokens  *AuthTokens `json:"auth_tokens,omitempty"`
}

// ActivePairing is a completed device link.
type ActivePairing struct {
	DeviceID    string    `json:"device_id"`
	PhoneNumber string    `json:"phone_number"`
	AuthToken   string    `json:"auth_token"`
	PairedAt    time.Time `json:"paired_at"`
	PairingID   string    `json:"pairing_id"`
}

// Statistics summarizes the registry.
type Statistics struct {
	Total          int  `json:"total"`
	Requested      int  `json:"requested"`
	Verified       int  `json:"verified"`
	Completed      int  `json:"completed"`
	Expired        int  `json:"expired"`
	Revoked        int  `json:"revoked"`
	ActivePairings int  `json:"active_pairings"`
	PairingActive  bool `json:"is_pairing_active"`
}

// RequestResult is returned by RequestCode.
type RequestResult struct {
	PairingID   string `json:"pairing_id"`
	PairingCode string `json:"pairing_code"`
	Number      string `json:"number"`
	Status      Status `json:"status"`
}

// snapshot is the on-disk form of the registry.
type snapshot struct {
	Requests []Request       `json:"requests"`
	Active   []ActivePairing `json:"active"`
}

// Registry owns every pairing request and active pairing.
type Registry struct {
	sender    backend.Sender
	storePath string
	ttl       time.Duration
	now       func() time.Time

	mu       sync.Mutex
	requests map[string]*Request
	active   map[string]*ActivePairing
}

// NewRegistry creates a registry that forwards pairing operations through
// sender. storePath, when non-empty, is a JSON snapshot loaded now and
// rewritten after every change (e.g. ~/.walink/data/pairing.json).
func NewRegistry(sender backend.Sender, storePath string) *Registry {
	r := &Registry{
		sender:    sender,
		storePath: storePath,
		ttl:       CodeTTL,
		now:       time.Now,
		requests:  make(map[string]*Request),
		active:    make(map[string]*ActivePairing),
	}
	r.load()
	return r
}

// SetTTL changes the expiry applied to requests created from now on.
func (r *Registry) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ttl = ttl
}

// RequestCode asks the backend for a pairing code bound to number. An empty
// code generates a fresh CodeLength code; a custom one is validated first.
func (r *Registry) RequestCode(ctx context.Context, number, code string) (*RequestResult, error) {
	clean := jid.DigitsOnly(number)
	if len(clean) < MinNumberDigits {
		return nil, fmt.Errorf("%w: phone number %q has fewer than %d digits", errs.ErrInvalidInput, number, MinNumberDigits)
	}
	if code == "" {
		code = GenerateCode(CodeLength, false)
	} else if _, err := NormalizeCode(code); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if err := r.forward(ctx, map[string]interface{}{
		"type":      "request_pairing",
		"number":    clean,
		"code":      code,
		"timestamp": now,
	}); err != nil {
		return nil, err
	}

	req := &Request{
		PairingID:   uuid.NewString(),
		Number:      clean,
		Code:        code,
		Status:      StatusRequested,
		RequestedAt: now,
		ExpiresAt:   now.Add(r.ttl),
	}
	r.requests[req.PairingID] = req
	r.save()

	slog.Info("pairing code requested", "pairing_id", req.PairingID, "number", jid.MaskPhoneNumber(clean))

	return &RequestResult{
		PairingID:   req.PairingID,
		PairingCode: code,
		Number:      clean,
		Status:      req.Status,
	}, nil
}

// Verify checks code against the request. Expiry is tested before anything
// else; a request that is no longer in requested fails with ErrInvalidState.
func (r *Registry) Verify(ctx context.Context, pairingID, code string) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, err := r.getLocked(pairingID)
	if err != nil {
		return nil, err
	}
	if req.Status == StatusExpired {
		return nil, fmt.Errorf("pairing %s: %w", pairingID, errs.ErrExpired)
	}

	provided, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	expected, _ := NormalizeCode(req.Code)
	if provided != expected {
		return nil, fmt.Errorf("pairing %s: %w", pairingID, errs.ErrMismatch)
	}
	if req.Status != StatusRequested {
		return nil, fmt.Errorf("pairing %s is %s: %w", pairingID, req.Status, errs.ErrInvalidState)
	}

	now := r.now()
	if err := r.forward(ctx, map[string]interface{}{
		"type":       "verify_pairing",
		"pairing_id": pairingID,
		"number":     req.Number,
		"code":       provided,
		"timestamp":  now,
	}); err != nil {
		return nil, err
	}

	if err := transition(req, StatusVerified); err != nil {
		return nil, err
	}
	req.VerifiedAt = &now
	r.save()

	slog.Info("pairing code verified", "pairing_id", pairingID)
	return copyRequest(req), nil
}

// Complete promotes a verified request, minting device credentials and an
// ActivePairing keyed by the new device id.
func (r *Registry) Complete(ctx context.Context, pairingID string) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, err := r.getLocked(pairingID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusVerified {
		return nil, fmt.Errorf("pairing %s must be verified before completion (is %s): %w", pairingID, req.Status, errs.ErrInvalidState)
	}

	now := r.now()
	if err := r.forward(ctx, map[string]interface{}{
		"type":       "complete_pairing",
		"pairing_id": pairingID,
		"number":     req.Number,
		"timestamp":  now,
	}); err != nil {
		return nil, err
	}

	if err := transition(req, StatusCompleted); err != nil {
		return nil, err
	}
	tokens := &AuthTokens{
		AuthToken:   "auth_" + uuid.NewString(),
		DeviceID:    "device_" + uuid.NewString(),
		PhoneNumber: req.Number,
	}
	req.CompletedAt = &now
	req.AuthTokens = tokens
	r.active[tokens.DeviceID] = &ActivePairing{
		DeviceID:    tokens.DeviceID,
		PhoneNumber: req.Number,
		AuthToken:   tokens.AuthToken,
		PairedAt:    now,
		PairingID:   pairingID,
	}
	r.save()

	slog.Info("pairing completed", "pairing_id", pairingID, "device_id", tokens.DeviceID)
	return copyRequest(req), nil
}

// Revoke moves the request to revoked from any state. Revoking twice is not an error.
func (r *Registry) Revoke(ctx context.Context, pairingID string) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[pairingID]
	if !ok {
		return nil, fmt.Errorf("pairing request %s: %w", pairingID, errs.ErrNotFound)
	}
	if req.Status == StatusRevoked {
		return copyRequest(req), nil
	}

	now := r.now()
	if err := r.forward(ctx, map[string]interface{}{
		"type":       "revoke_pairing",
		"pairing_id": pairingID,
		"number":     req.Number,
		"timestamp":  now,
	}); err != nil {
		return nil, err
	}

	if err := transition(req, StatusRevoked); err != nil {
		return nil, err
	}
	req.RevokedAt = &now
	r.save()

	slog.Info("pairing revoked", "pairing_id", pairingID)
	return copyRequest(req), nil
}

// Status returns a copy of the request after applying expiry.
func (r *Registry) Status(pairingID string) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, err := r.getLocked(pairingID)
	if err != nil {
		return nil, err
	}
	return copyRequest(req), nil
}

// List returns every request, oldest first.
func (r *Registry) List() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireDueLocked()
	out := make([]Request, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, *copyRequest(req))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// ActivePairings returns every completed device link.
func (r *Registry) ActivePairings() []ActivePairing {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ActivePairing, 0, len(r.active))
	for _, a := range r.active {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PairedAt.Before(out[j].PairedAt) })
	return out
}

// CleanupExpired flips every due requested/verified request to expired and
// returns how many changed.
func (r *Registry) CleanupExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.expireDueLocked()
	if n > 0 {
		r.save()
		slog.Info("pairing: expired stale codes", "count", n)
	}
	return n
}

// Statistics counts requests by status. It never fails.
func (r *Registry) Statistics() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireDueLocked()
	st := Statistics{Total: len(r.requests), ActivePairings: len(r.active)}
	for _, req := range r.requests {
		switch req.Status {
		case StatusRequested:
			st.Requested++
		case StatusVerified:
			st.Verified++
		case StatusCompleted:
			st.Completed++
		case StatusExpired:
			st.Expired++
		case StatusRevoked:
			st.Revoked++
		}
	}
	st.PairingActive = st.ActivePairings > 0
	return st
}

// Reset drops every request and active pairing.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests = make(map[string]*Request)
	r.active = make(map[string]*ActivePairing)
	r.save()
	slog.Info("pairing: registry reset")
}

// --- Internal ---

// getLocked returns the live request with expiry applied.
func (r *Registry) getLocked(pairingID string) (*Request, error) {
	req, ok := r.requests[pairingID]
	if !ok {
		return nil, fmt.Errorf("pairing request %s: %w", pairingID, errs.ErrNotFound)
	}
	if r.expireLocked(req) {
		r.save()
	}
	return req, nil
}

func (r *Registry) expireLocked(req *Request) bool {
	if !req.Status.pending() || r.now().Before(req.ExpiresAt) {
		return false
	}
	return transition(req, StatusExpired) == nil
}

func (r *Registry) expireDueLocked() int {
	n := 0
	for _, req := range r.requests {
		if r.expireLocked(req) {
			n++
		}
	}
	return n
}

func (r *Registry) forward(ctx context.Context, payload map[string]interface{}) error {
	if r.sender == nil {
		return nil
	}
	if _, err := backend.SendJSON(ctx, r.sender, protocol.JIDPairing, payload, protocol.TypePairing); err != nil {
		return fmt.Errorf("forward %s: %w", payload["type"], err)
	}
	return nil
}

func copyRequest(req *Request) *Request {
	cp := *req
	if req.AuthTokens != nil {
		tokens := *req.AuthTokens
		cp.AuthTokens = &tokens
	}
	return &cp
}

func (r *Registry) load() {
	if r.storePath == "" {
		return
	}
	data, err := os.ReadFile(r.storePath)
	if err != nil {
		return // file doesn't exist yet
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("pairing: ignoring corrupt store", "path", r.storePath, "error", err)
		return
	}
	for i := range snap.Requests {
		req := snap.Requests[i]
		r.requests[req.PairingID] = &req
	}
	for i := range snap.Active {
		a := snap.Active[i]
		r.active[a.DeviceID] = &a
	}
}

func (r *Registry) save() {
	if r.storePath == "" {
		return
	}
	snap := snapshot{
		Requests: make([]Request, 0, len(r.requests)),
		Active:   make([]ActivePairing, 0, len(r.active)),
	}
	for _, req := range r.requests {
		snap.Requests = append(snap.Requests, *req)
	}
	for _, a := range r.active {
		snap.Active = append(snap.Active, *a)
	}

	if err := os.MkdirAll(filepath.Dir(r.storePath), 0700); err != nil {
		slog.Error("pairing: failed to create dir", "error", err)
		return
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		slog.Error("pairing: failed to marshal store", "error", err)
		return
	}
	if err := os.WriteFile(r.storePath, data, 0600); err != nil {
		slog.Error("pairing: failed to write store", "error", err)
	}
}
