package pairing

import (
	"fmt"

	"github.com/nextlevelbuilder/walink/internal/errs"
)

// Status is the lifecycle state of a pairing request.
type Status string

const (
	StatusRequested Status = "requested"
	StatusVerified  Status = "verified"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
)

// transitions lists the legal next states. Revocation is allowed from
// every state, including revoked itself, so Revoke stays idempotent.
var transitions = map[Status][]Status{
	StatusRequested: {StatusVerified, StatusExpired, StatusRevoked},
	StatusVerified:  {StatusCompleted, StatusExpired, StatusRevoked},
	StatusCompleted: {StatusRevoked},
	StatusExpired:   {StatusRevoked},
	StatusRevoked:   {StatusRevoked},
}

// transition moves r to next or fails with errs.ErrInvalidState.
func transition(r *Request, next Status) error {
	for _, s := range transitions[r.Status] {
		if s == next {
			r.Status = next
			return nil
		}
	}
	return fmt.Errorf("pairing %s: %s -> %s: %w", r.PairingID, r.Status, next, errs.ErrInvalidState)
}

// pending reports whether the request can still expire.
func (s Status) pending() bool {
	return s == StatusRequested || s == StatusVerified
}
