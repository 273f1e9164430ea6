// Package errs holds the error taxonomy shared by every walink component.
// Components wrap these sentinels with context; callers test them with errors.Is.
package errs

import (
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

var (
	// ErrInvalidInput covers malformed JIDs, phone numbers, codes and size limit violations.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidPairingCode is a pairing code with characters outside A-F or too short.
	ErrInvalidPairingCode = fmt.Errorf("%w: invalid pairing code", ErrInvalidInput)

	// ErrMismatch is a well-formed pairing code that differs from the issued one.
	ErrMismatch = errors.New("pairing code mismatch")

	ErrNotFound     = errors.New("not found")
	ErrNotConnected = errors.New("not connected")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state transition")
	ErrAuthFailed   = errors.New("authentication failed")
	ErrTimeout      = errors.New("timeout")

	// ErrTransport wraps failures reported by (or while reaching) the backend.
	ErrTransport = errors.New("transport error")
)

// Code maps an error to its wire code. Unknown errors map to protocol.ErrInternal.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPairingCode):
		return protocol.ErrInvalidPairingCode
	case errors.Is(err, ErrInvalidInput):
		return protocol.ErrInvalidInput
	case errors.Is(err, ErrMismatch):
		return protocol.ErrMismatch
	case errors.Is(err, ErrNotFound):
		return protocol.ErrNotFound
	case errors.Is(err, ErrNotConnected):
		return protocol.ErrNotConnected
	case errors.Is(err, ErrExpired):
		return protocol.ErrExpired
	case errors.Is(err, ErrInvalidState):
		return protocol.ErrInvalidState
	case errors.Is(err, ErrTimeout):
		return protocol.ErrTimeout
	case errors.Is(err, ErrAuthFailed):
		return protocol.ErrAuthFailed
	case errors.Is(err, ErrTransport):
		return protocol.ErrUnavailable
	default:
		return protocol.ErrInternal
	}
}

// FromCode converts a wire error code back to its sentinel, so errors returned
// by the bridge can be matched with errors.Is on the walink side.
func FromCode(code string) error {
	switch code {
	case protocol.ErrInvalidPairingCode:
		return ErrInvalidPairingCode
	case protocol.ErrInvalidInput:
		return ErrInvalidInput
	case protocol.ErrMismatch:
		return ErrMismatch
	case protocol.ErrNotFound:
		return ErrNotFound
	case protocol.ErrNotConnected, protocol.ErrUnauthorized:
		return ErrNotConnected
	case protocol.ErrExpired:
		return ErrExpired
	case protocol.ErrInvalidState:
		return ErrInvalidState
	case protocol.ErrTimeout:
		return ErrTimeout
	case protocol.ErrAuthFailed:
		return ErrAuthFailed
	default:
		return ErrTransport
	}
}
