package cmd

import (
	"errors"
	"testing"

	"github.com/nextlevelbuilder/walink/internal/errs"
)

func TestValidateBridgeURL(t *testing.T) {
	tests := []struct {
		url string
		ok  bool
	}{
		{"ws://127.0.0.1:8787/ws", true},
		{"wss://bridge.example.com/ws", true},
		{"http://127.0.0.1:8787/ws", false},
		{"ws://", false},
		{"", false},
	}
	for _, tt := range tests {
		err := validateBridgeURL(tt.url)
		if tt.ok && err != nil {
			t.Errorf("%q: unexpected error %v", tt.url, err)
		}
		if !tt.ok && !errors.Is(err, errs.ErrInvalidInput) {
			t.Errorf("%q: err = %v, want ErrInvalidInput", tt.url, err)
		}
	}
}

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		in, country, want string
	}{
		{"+1 555 123 4567", "", "15551234567@s.whatsapp.net"},
		{"5551234567", "US", "15551234567@s.whatsapp.net"},
		{"120363000000000000@g.us", "", "120363000000000000@g.us"},
		{"15551234567@s.whatsapp.net", "", "15551234567@s.whatsapp.net"},
	}
	for _, tt := range tests {
		got, err := resolveTarget(tt.in, tt.country)
		if err != nil {
			t.Errorf("%q: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("resolveTarget(%q, %q) = %q, want %q", tt.in, tt.country, got, tt.want)
		}
	}
	if _, err := resolveTarget("12", ""); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("short number: %v", err)
	}
}
