package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/walink/internal/crypto"
	"github.com/nextlevelbuilder/walink/internal/store"
)

func openTestStore(t *testing.T, sealer *crypto.Sealer) *SQLiteSessionStore {
	t.Helper()
	s, err := NewSQLiteSessionStore(filepath.Join(t.TempDir(), "sessions.db"), sealer)
	if err != nil {
		t.Fatalf("NewSQLiteSessionStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteSessionStore_SaveLoad(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	if _, err := s.Load(ctx, "bot"); !store.IsNotFound(err) {
		t.Fatalf("Load missing = %v", err)
	}

	authAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	err := s.Save(ctx, &store.SessionData{
		SessionID: "bot", PhoneNumber: "15551234567", AuthToken: "tok", DeviceID: "dev", AuthenticatedAt: authAt,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, "bot")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.PhoneNumber != "15551234567" || got.AuthToken != "tok" || got.DeviceID != "dev" {
		t.Errorf("Load = %+v", got)
	}
	if !got.AuthenticatedAt.Equal(authAt) {
		t.Errorf("authenticated_at = %v, want %v", got.AuthenticatedAt, authAt)
	}
}

func TestSQLiteSessionStore_UpsertAndInvalidRow(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	s.Save(ctx, &store.SessionData{SessionID: "bot", PhoneNumber: "1", AuthToken: "a"})
	s.Save(ctx, &store.SessionData{SessionID: "bot", PhoneNumber: "2", AuthToken: "b"})

	got, err := s.Load(ctx, "bot")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.PhoneNumber != "2" || got.AuthToken != "b" {
		t.Errorf("upsert lost the last write: %+v", got)
	}

	s.Save(ctx, &store.SessionData{SessionID: "partial", PhoneNumber: "1"})
	if _, err := s.Load(ctx, "partial"); !store.IsNotFound(err) {
		t.Errorf("row without token should be not found, got %v", err)
	}
}

func TestSQLiteSessionStore_SealedListDelete(t *testing.T) {
	sealer, _ := crypto.NewSealer("0123456789abcdef0123456789abcdef")
	s := openTestStore(t, sealer)
	ctx := context.Background()

	s.Save(ctx, &store.SessionData{SessionID: "a", PhoneNumber: "1", AuthToken: "ta"})
	s.Save(ctx, &store.SessionData{SessionID: "b", PhoneNumber: "2", AuthToken: "tb"})

	var raw string
	s.db.QueryRow(`SELECT auth_token FROM sessions WHERE session_id = 'a'`).Scan(&raw)
	if !crypto.IsSealed(raw) {
		t.Errorf("token stored unsealed: %q", raw)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].AuthToken != "ta" || list[1].AuthToken != "tb" {
		t.Fatalf("List = %+v", list)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "a"); !store.IsNotFound(err) {
		t.Errorf("second Delete = %v", err)
	}
}
