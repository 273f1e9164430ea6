package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/walink/internal/backend/backendtest"
	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/internal/store"
	"github.com/nextlevelbuilder/walink/internal/store/file"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *backendtest.Fake, *file.FileSessionStore) {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.QRTimeout == 0 {
		cfg.QRTimeout = 200 * time.Millisecond
	}
	fake := backendtest.New()
	sessions := file.NewFileSessionStore(t.TempDir(), nil)
	return NewManager(fake, sessions, cfg), fake, sessions
}

func TestConnect_ResumesStoredSession(t *testing.T) {
	m, fake, sessions := newTestManager(t, Config{})
	ctx := context.Background()

	err := sessions.Save(ctx, &store.SessionData{
		SessionID:       "s1",
		PhoneNumber:     "+15551234567",
		AuthToken:       "tok",
		DeviceID:        "dev",
		AuthenticatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	var qrShown bool
	m.cfg.OnQR = func(string) { qrShown = true }

	res, err := m.Connect(ctx, "s1", "")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if res.Status != StatusConnected || res.PhoneNumber != "+15551234567" {
		t.Errorf("result = %+v", res)
	}
	if qrShown || fake.Polls() != 0 {
		t.Error("stored session should not trigger authentication")
	}
	if !m.IsConnected() {
		t.Error("manager not connected")
	}
}

func TestConnect_AuthenticatesAndPersists(t *testing.T) {
	var qr string
	var states []State
	var mu sync.Mutex
	m, fake, sessions := newTestManager(t, Config{
		OnQR: func(s string) { qr = s },
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	fake.ScriptAuth(backendtest.Pending(), backendtest.Pending(), backendtest.Authenticated("+15551234567", "tok", "dev"))

	ctx := context.Background()
	res, err := m.Connect(ctx, "s2", "ABCDEFAB")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if res.Status != StatusConnected || res.PhoneNumber != "+15551234567" || res.SessionID != "s2" {
		t.Errorf("result = %+v", res)
	}
	if qr != "1@s2,ABCDEFAB" {
		t.Errorf("qr = %q", qr)
	}
	if fake.Polls() != 3 {
		t.Errorf("polls = %d, want 3", fake.Polls())
	}

	saved, err := sessions.Load(ctx, "s2")
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if saved.AuthToken != "tok" || saved.DeviceID != "dev" || saved.AuthenticatedAt.IsZero() {
		t.Errorf("saved = %+v", saved)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateAwaitingAuth, StateAuthenticated}
	if len(states) != len(want) || states[0] != want[0] || states[1] != want[1] {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestConnect_FallbackCredentials(t *testing.T) {
	m, fake, sessions := newTestManager(t, Config{})
	fake.ScriptAuth(backendtest.AuthStep{Status: backendStatus(true, "+15551234567")})

	if _, err := m.Connect(context.Background(), "s3", ""); err != nil {
		t.Fatal(err)
	}
	saved, err := sessions.Load(context.Background(), "s3")
	if err != nil {
		t.Fatal(err)
	}
	if saved.AuthToken == "" || saved.DeviceID == "" {
		t.Errorf("fallback credentials missing: %+v", saved)
	}
}

func TestConnect_AuthenticatedWithoutPhoneFails(t *testing.T) {
	m, fake, sessions := newTestManager(t, Config{})
	fake.ScriptAuth(backendtest.Authenticated("", "tok", "dev"))

	res, err := m.Connect(context.Background(), "s3b", "")
	if !errors.Is(err, errs.ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
	if res == nil || res.Status != StatusAuthFailed || res.Message != errNoPhone.Error() {
		t.Errorf("result = %+v", res)
	}
	if _, err := sessions.Load(context.Background(), "s3b"); !store.IsNotFound(err) {
		t.Errorf("load err = %v, want not found", err)
	}
	if m.Status().State != StateDisconnected {
		t.Errorf("state = %s, want disconnected", m.Status().State)
	}
}

// disconnectOnSave calls Disconnect from inside Save, landing between the
// final poll and the state check in Connect.
type disconnectOnSave struct {
	*file.FileSessionStore
	m *Manager
}

func (s *disconnectOnSave) Save(ctx context.Context, data *store.SessionData) error {
	err := s.FileSessionStore.Save(ctx, data)
	s.m.Disconnect()
	return err
}

func TestConnect_DisconnectDuringSaveDropsSession(t *testing.T) {
	fake := backendtest.New()
	fake.ScriptAuth(backendtest.Authenticated("+15551234567", "tok", "dev"))
	sessions := &disconnectOnSave{FileSessionStore: file.NewFileSessionStore(t.TempDir(), nil)}
	m := NewManager(fake, sessions, Config{PollInterval: 5 * time.Millisecond, QRTimeout: 200 * time.Millisecond})
	sessions.m = m

	res, err := m.Connect(context.Background(), "s3c", "")
	if !errors.Is(err, errs.ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
	if res == nil || res.Status != StatusAuthFailed {
		t.Errorf("result = %+v", res)
	}
	if _, err := sessions.Load(context.Background(), "s3c"); !store.IsNotFound(err) {
		t.Errorf("load err = %v, want not found", err)
	}
	if m.Status().State != StateDisconnected {
		t.Errorf("state = %s, want disconnected", m.Status().State)
	}
}

func TestConnect_Timeout(t *testing.T) {
	m, fake, _ := newTestManager(t, Config{QRTimeout: 50 * time.Millisecond})

	start := time.Now()
	res, err := m.Connect(context.Background(), "s4", "")
	if !errors.Is(err, errs.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if res == nil || res.Status != StatusAuthFailed || res.Message != "timeout" {
		t.Errorf("result = %+v", res)
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout took %s", time.Since(start))
	}
	if fake.Polls() == 0 {
		t.Error("backend never polled")
	}
	if m.Status().State != StateDisconnected {
		t.Errorf("state = %s, want disconnected", m.Status().State)
	}
}

func TestConnect_BackendReportsError(t *testing.T) {
	m, fake, _ := newTestManager(t, Config{})
	fake.ScriptAuth(backendtest.Pending(), backendtest.AuthStep{Status: backendError("device rejected")})

	res, err := m.Connect(context.Background(), "s5", "")
	if !errors.Is(err, errs.ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
	if res.Status != StatusAuthFailed || res.Message != "device rejected" {
		t.Errorf("result = %+v", res)
	}
	if m.IsConnected() {
		t.Error("should not be connected")
	}
}

func TestConnect_TransportErrorsAreRetried(t *testing.T) {
	m, fake, _ := newTestManager(t, Config{})
	fake.ScriptAuth(
		backendtest.AuthStep{Err: errs.ErrTransport},
		backendtest.AuthStep{Err: errs.ErrTransport},
		backendtest.Authenticated("+15551234567", "tok", "dev"),
	)

	res, err := m.Connect(context.Background(), "s6", "")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if res.Status != StatusConnected {
		t.Errorf("status = %s", res.Status)
	}
}

func TestConnect_DisconnectAbortsPoll(t *testing.T) {
	m, _, _ := newTestManager(t, Config{QRTimeout: 10 * time.Second})

	qrShown := make(chan struct{})
	m.cfg.OnQR = func(string) { close(qrShown) }

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := m.Connect(context.Background(), "s7", "")
		done <- outcome{res, err}
	}()

	<-qrShown
	m.Disconnect()

	select {
	case o := <-done:
		if !errors.Is(o.err, errs.ErrAuthFailed) {
			t.Errorf("err = %v, want ErrAuthFailed", o.err)
		}
		if o.res == nil || o.res.Status != StatusAuthFailed {
			t.Errorf("result = %+v", o.res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect did not abort the poll")
	}
}

func TestConnect_ContextCancelAbortsPoll(t *testing.T) {
	m, _, _ := newTestManager(t, Config{QRTimeout: 10 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := m.Connect(ctx, "s8", "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context deadline", err)
	}
	if errors.Is(err, errs.ErrTimeout) {
		t.Error("caller cancellation must not be reported as the QR timeout")
	}
}

func TestConnect_InvalidSessionID(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	for _, id := range []string{"", "../x", "a/b"} {
		if _, err := m.Connect(context.Background(), id, ""); !errors.Is(err, errs.ErrInvalidInput) {
			t.Errorf("Connect(%q) err = %v, want ErrInvalidInput", id, err)
		}
	}
}

func TestConnect_ConcurrentAttemptRejected(t *testing.T) {
	m, _, _ := newTestManager(t, Config{QRTimeout: 10 * time.Second})
	qrShown := make(chan struct{})
	m.cfg.OnQR = func(string) { close(qrShown) }

	go m.Connect(context.Background(), "s9", "")
	<-qrShown

	if _, err := m.Connect(context.Background(), "s9", ""); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
	m.Disconnect()
}

func TestDisconnect_Idempotent(t *testing.T) {
	m, fake, sessions := newTestManager(t, Config{})
	ctx := context.Background()
	sessions.Save(ctx, &store.SessionData{SessionID: "s10", PhoneNumber: "1", AuthToken: "t"})

	m.Disconnect()
	if _, err := m.Connect(ctx, "s10", ""); err != nil {
		t.Fatal(err)
	}
	m.Disconnect()
	m.Disconnect()

	if m.IsConnected() {
		t.Error("still connected")
	}
	info := m.Status()
	if info.PhoneNumber != "" || info.AuthenticatedAt != nil {
		t.Errorf("auth state not cleared: %+v", info)
	}
	if fake.Closes() != 3 {
		t.Errorf("closes = %d, want 3", fake.Closes())
	}
}

func TestSendMessage_RequiresAuthentication(t *testing.T) {
	m, fake, sessions := newTestManager(t, Config{})
	ctx := context.Background()
	payload := json.RawMessage(`{"text":"hi"}`)

	if _, err := m.SendMessage(ctx, "15551234567@s.whatsapp.net", payload, "text"); !errors.Is(err, errs.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}

	sessions.Save(ctx, &store.SessionData{SessionID: "s11", PhoneNumber: "1", AuthToken: "t"})
	if _, err := m.Connect(ctx, "s11", ""); err != nil {
		t.Fatal(err)
	}
	res, err := m.SendMessage(ctx, "15551234567@s.whatsapp.net", payload, "text")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.MessageID == "" {
		t.Error("empty message id")
	}

	boom := errors.New("bridge down")
	fake.SetSendError(boom)
	if _, err := m.SendMessage(ctx, "15551234567@s.whatsapp.net", payload, "text"); err != boom {
		t.Errorf("err = %v, want the backend error unchanged", err)
	}
}

func TestLogout_RemovesSession(t *testing.T) {
	m, _, sessions := newTestManager(t, Config{})
	ctx := context.Background()
	sessions.Save(ctx, &store.SessionData{SessionID: "s12", PhoneNumber: "1", AuthToken: "t"})

	if _, err := m.Connect(ctx, "s12", ""); err != nil {
		t.Fatal(err)
	}
	if err := m.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := sessions.Load(ctx, "s12"); !store.IsNotFound(err) {
		t.Errorf("session still stored: %v", err)
	}
}

func TestQRPayloadAndSessionID(t *testing.T) {
	if got := QRPayload("abc", ""); got != "1@abc,AAAAAAAA" {
		t.Errorf("QRPayload default = %q", got)
	}
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	if got := DefaultSessionID(ts); got != "walink_20260304_050607" {
		t.Errorf("DefaultSessionID = %q", got)
	}
}
