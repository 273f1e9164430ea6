package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

func TestInvalidPairingCodeIsInvalidInput(t *testing.T) {
	if !errors.Is(ErrInvalidPairingCode, ErrInvalidInput) {
		t.Error("ErrInvalidPairingCode should match ErrInvalidInput")
	}
	if errors.Is(ErrMismatch, ErrInvalidInput) {
		t.Error("ErrMismatch should not match ErrInvalidInput")
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"invalid_input", fmt.Errorf("phone: %w", ErrInvalidInput), protocol.ErrInvalidInput},
		{"pairing_code", fmt.Errorf("verify: %w", ErrInvalidPairingCode), protocol.ErrInvalidPairingCode},
		{"not_found", fmt.Errorf("pairing x: %w", ErrNotFound), protocol.ErrNotFound},
		{"timeout", ErrTimeout, protocol.ErrTimeout},
		{"transport", fmt.Errorf("dial: %w", ErrTransport), protocol.ErrUnavailable},
		{"unknown", errors.New("boom"), protocol.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestFromCodeRoundTrip(t *testing.T) {
	for _, sentinel := range []error{ErrInvalidInput, ErrInvalidPairingCode, ErrMismatch, ErrNotFound, ErrNotConnected, ErrExpired, ErrInvalidState, ErrTimeout, ErrAuthFailed} {
		if got := FromCode(Code(sentinel)); got != sentinel {
			t.Errorf("FromCode(Code(%v)) = %v", sentinel, got)
		}
	}
	if got := FromCode("SOMETHING_ELSE"); got != ErrTransport {
		t.Errorf("unknown code should map to ErrTransport, got %v", got)
	}
}
