package cmd

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/walink/internal/crypto"
	"github.com/nextlevelbuilder/walink/internal/store"
)

func TestSessionViewHidesToken(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := sealer.Seal("default", "secret-token")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		token string
		want  string
	}{
		{"", "missing"},
		{"secret-token", "present (12 chars)"},
		{sealed, "sealed"},
	}
	for _, tt := range tests {
		v := newSessionView(&store.SessionData{
			SessionID:       "default",
			PhoneNumber:     "15551234567",
			AuthToken:       tt.token,
			AuthenticatedAt: time.Now(),
		})
		if v.Token != tt.want {
			t.Errorf("token state = %q, want %q", v.Token, tt.want)
		}
		if v.Phone != "*******4567" {
			t.Errorf("phone = %q", v.Phone)
		}
		data, _ := json.Marshal(v)
		if strings.Contains(string(data), "secret-token") {
			t.Errorf("JSON leaks token: %s", data)
		}
	}
}

func TestSinceLinked(t *testing.T) {
	if got := sinceLinked(time.Time{}); got != "-" {
		t.Errorf("zero = %q", got)
	}
	if got := sinceLinked(time.Now()); got != "just now" {
		t.Errorf("now = %q", got)
	}
	if got := sinceLinked(time.Now().Add(-3 * time.Hour)); got != "3h0m0s ago" {
		t.Errorf("3h = %q", got)
	}
	if got := sinceLinked(time.Now().Add(-72 * time.Hour)); got != "3d ago" {
		t.Errorf("3d = %q", got)
	}
}
