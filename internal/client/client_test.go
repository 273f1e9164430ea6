package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/walink/internal/backend/backendtest"
	"github.com/nextlevelbuilder/walink/internal/bus"
	"github.com/nextlevelbuilder/walink/internal/calls"
	"github.com/nextlevelbuilder/walink/internal/connection"
	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/internal/groups"
	"github.com/nextlevelbuilder/walink/internal/media"
	"github.com/nextlevelbuilder/walink/internal/messages"
	"github.com/nextlevelbuilder/walink/internal/store/file"
	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

const user = "15551234567@s.whatsapp.net"

func newTestClient(t *testing.T) (*Client, *backendtest.Fake, *bus.EventBus) {
	t.Helper()
	fake := backendtest.New()
	events := bus.New()
	c, err := New(Options{
		SessionID: "test_session",
		Transport: fake,
		Sessions:  file.NewFileSessionStore(t.TempDir(), nil),
		Events:    events,
		Connection: connection.Config{
			PollInterval: 5 * time.Millisecond,
			QRTimeout:    500 * time.Millisecond,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c, fake, events
}

func connect(t *testing.T, c *Client, fake *backendtest.Fake) {
	t.Helper()
	fake.ScriptAuth(backendtest.Authenticated("+15551234567", "tok", "dev"))
	res, err := c.Connect(context.Background(), "")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if res.Status != connection.StatusConnected {
		t.Fatalf("connect result %+v", res)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("missing transport: %v", err)
	}
	if _, err := New(Options{Transport: backendtest.New()}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("missing store: %v", err)
	}
	_, err := New(Options{
		SessionID: "../escape",
		Transport: backendtest.New(),
		Sessions:  file.NewFileSessionStore(t.TempDir(), nil),
	})
	if !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("bad session id: %v", err)
	}
}

func TestDefaultSessionID(t *testing.T) {
	c, err := New(Options{Transport: backendtest.New(), Sessions: file.NewFileSessionStore(t.TempDir(), nil)})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if len(c.SessionID()) != len("walink_20060102_150405") {
		t.Errorf("generated session id %q", c.SessionID())
	}
	if info := c.ConnectionInfo(); info.SessionID != c.SessionID() || info.IsConnected {
		t.Errorf("info %+v", info)
	}
}

func TestOperationsRequireConnection(t *testing.T) {
	c, fake, _ := newTestClient(t)
	ctx := context.Background()

	checks := map[string]error{}
	_, checks["send"] = c.SendMessage(ctx, user, "hi", messages.TextOptions{})
	_, checks["media"] = c.SendMedia(ctx, user, "/tmp/x.png", "", mediaOptions())
	_, checks["call"] = c.OfferCall(ctx, user)
	_, checks["groups"] = c.ListGroups()
	_, checks["create"] = c.CreateGroup(ctx, "team", []string{user}, groups.CreateOptions{})
	_, checks["profile"] = c.ProfileInfo(user)
	_, checks["picture"] = c.SetProfilePicture(ctx, "/tmp/x.png")
	_, checks["calls"] = c.Calls()

	for name, err := range checks {
		if !errors.Is(err, errs.ErrNotConnected) {
			t.Errorf("%s: err = %v, want ErrNotConnected", name, err)
		}
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("backend reached while disconnected: %d calls", len(fake.Calls()))
	}
	if c.Pairing() == nil {
		t.Error("pairing registry should be available while disconnected")
	}
}

func TestConnectedOperations(t *testing.T) {
	c, fake, _ := newTestClient(t)
	connect(t, c, fake)
	ctx := context.Background()

	res, err := c.SendMessage(ctx, user, "hello", messages.TextOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.MessageID == "" {
		t.Error("missing message id")
	}

	g, err := c.CreateGroup(ctx, "team", []string{user}, groups.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	list, err := c.ListGroups()
	if err != nil || len(list) != 1 || list[0].GroupID != g.GroupID {
		t.Errorf("groups %v err %v", list, err)
	}

	call, err := c.OfferCall(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	if call.Status != calls.StatusInitiating {
		t.Errorf("call status %q", call.Status)
	}

	info := c.ConnectionInfo()
	if !info.IsConnected || info.PhoneNumber != "+15551234567" || info.SessionID != "test_session" {
		t.Errorf("info %+v", info)
	}
}

func TestOnReceivesEvents(t *testing.T) {
	c, _, events := newTestClient(t)

	got := make(chan bus.Event, 1)
	unsub := c.On(protocol.EventPresence, func(e bus.Event) { got <- e })
	defer unsub()

	events.PublishFrame(*protocol.NewEvent(protocol.EventPresence, map[string]string{"jid": user, "state": "available"}))
	select {
	case e := <-got:
		var p struct{ State string }
		if err := e.Decode(&p); err != nil || p.State != "available" {
			t.Errorf("payload %s err %v", e.Payload, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestCallEventsUpdateCache(t *testing.T) {
	c, fake, events := newTestClient(t)
	connect(t, c, fake)
	m, err := c.Calls()
	if err != nil {
		t.Fatal(err)
	}

	events.PublishFrame(*protocol.NewEvent(protocol.EventCall, map[string]string{
		"call_id": "C1", "from": user, "call_type": "video", "status": "incoming",
	}))
	waitFor(t, func() bool {
		call, err := m.Info("C1")
		return err == nil && call.Status == calls.StatusIncoming
	})

	events.PublishFrame(*protocol.NewEvent(protocol.EventCall, map[string]string{"call_id": "C1", "status": "accepted"}))
	waitFor(t, func() bool {
		call, _ := m.Info("C1")
		return call != nil && call.Status == calls.StatusInProgress
	})

	events.PublishFrame(*protocol.NewEvent(protocol.EventCall, map[string]string{"call_id": "C1", "status": "ended"}))
	waitFor(t, func() bool {
		call, _ := m.Info("C1")
		return call != nil && call.Status == calls.StatusEnded
	})
}

func TestMessageEventsUpdateCaches(t *testing.T) {
	c, fake, events := newTestClient(t)
	connect(t, c, fake)
	h, err := c.Messages()
	if err != nil {
		t.Fatal(err)
	}

	res, err := h.SendText(context.Background(), user, "hi", messages.TextOptions{})
	if err != nil {
		t.Fatal(err)
	}
	events.PublishFrame(*protocol.NewEvent(protocol.EventMessageStatus, map[string]string{"message_id": res.MessageID, "status": "read"}))
	waitFor(t, func() bool {
		info, err := h.MessageInfo(res.MessageID)
		return err == nil && info.Status == "read"
	})

	events.PublishFrame(*protocol.NewEvent(protocol.EventMessage, map[string]string{"message_id": "IN1", "from": user, "push_name": "Alice"}))
	waitFor(t, func() bool {
		p, err := h.ProfileInfo(user)
		return err == nil && p.Name == "Alice"
	})
}

func TestConnectionCloseEventDisconnects(t *testing.T) {
	c, fake, events := newTestClient(t)
	connect(t, c, fake)

	events.PublishFrame(*protocol.NewEvent(protocol.EventConnection, map[string]string{"state": protocol.ConnectionClose, "reason": "logged out"}))
	waitFor(t, func() bool { return !c.IsConnected() })
	if fake.Closes() == 0 {
		t.Error("transport not closed")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c, fake, _ := newTestClient(t)
	connect(t, c, fake)
	c.Close()
	c.Close()
	if c.IsConnected() {
		t.Error("still connected after Close")
	}
}

func mediaOptions() media.Options { return media.Options{Caption: "x"} }
