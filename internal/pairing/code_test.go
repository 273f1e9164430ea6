package pairing

import (
	"errors"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/walink/internal/errs"
)

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code := GenerateCode(CodeLength, false)
		if len(code) != CodeLength {
			t.Fatalf("len = %d", len(code))
		}
		if strings.Trim(code, CodeAlphabet) != "" {
			t.Fatalf("code %q outside alphabet", code)
		}
	}

	h := GenerateCode(8, true)
	if len(h) != 9 || h[4] != '-' {
		t.Errorf("hyphenated = %q", h)
	}
	if _, err := NormalizeCode(h); err != nil {
		t.Errorf("hyphenated code does not normalize: %v", err)
	}

	for _, n := range []int{3, 4} {
		if c := GenerateCode(n, true); len(c) != n || strings.Contains(c, "-") {
			t.Errorf("GenerateCode(%d, true) = %q, want %d chars without hyphen", n, c, n)
		}
	}
	if c := GenerateCode(5, true); len(c) != 6 || c[4] != '-' {
		t.Errorf("GenerateCode(5, true) = %q", c)
	}
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"ABCDEFAB", "ABCDEFAB", false},
		{"abcd-efab", "ABCDEFAB", false},
		{" fade ", "FADE", false},
		{"ABC", "", true},
		{"A-B-C", "", true},
		{"ZZZZZZZZ", "", true},
		{"ABCD1234", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeCode(tt.in)
		if tt.wantErr {
			if !errors.Is(err, errs.ErrInvalidPairingCode) {
				t.Errorf("NormalizeCode(%q) err = %v, want ErrInvalidPairingCode", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("NormalizeCode(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusRequested, StatusVerified, true},
		{StatusRequested, StatusCompleted, false},
		{StatusVerified, StatusCompleted, true},
		{StatusVerified, StatusVerified, false},
		{StatusCompleted, StatusExpired, false},
		{StatusCompleted, StatusRevoked, true},
		{StatusExpired, StatusVerified, false},
		{StatusRevoked, StatusRevoked, true},
		{StatusRevoked, StatusRequested, false},
	}
	for _, tt := range tests {
		r := &Request{PairingID: "p", Status: tt.from}
		err := transition(r, tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: %v", tt.from, tt.to, err)
		}
		if !tt.ok {
			if !errors.Is(err, errs.ErrInvalidState) {
				t.Errorf("%s -> %s: err = %v, want ErrInvalidState", tt.from, tt.to, err)
			}
			if r.Status != tt.from {
				t.Errorf("%s -> %s: status changed on rejected transition", tt.from, tt.to)
			}
		}
	}
}
