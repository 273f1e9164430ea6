package messages

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/walink/internal/backend/backendtest"
	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

const (
	user  = "15551234567@s.whatsapp.net"
	group = "120363000000000000@g.us"
)

func decodeLast(t *testing.T, fake *backendtest.Fake) (backendtest.Call, map[string]interface{}) {
	t.Helper()
	call, ok := fake.LastCall()
	if !ok {
		t.Fatal("no backend call")
	}
	var body map[string]interface{}
	if err := call.Decode(&body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return call, body
}

func TestSendText(t *testing.T) {
	fake := backendtest.New()
	h := NewHandler(fake)

	res, err := h.SendText(context.Background(), user, "hello", TextOptions{MentionedJIDs: []string{user}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "sent" || res.MessageID == "" || res.Content != "hello" {
		t.Errorf("result = %+v", res)
	}

	call, body := decodeLast(t, fake)
	if call.MessageType != protocol.TypeText || call.JID != user {
		t.Errorf("call = %+v", call)
	}
	if body["content"] != "hello" || body["link_preview"] != true {
		t.Errorf("payload = %v", body)
	}
	if _, quoted := body["quoted_message_id"]; quoted {
		t.Error("quoted_message_id should be omitted")
	}

	info, err := h.MessageInfo(res.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != "sent" || info.Type != protocol.TypeText {
		t.Errorf("info = %+v", info)
	}
}

func TestSendTextValidation(t *testing.T) {
	h := NewHandler(backendtest.New())
	ctx := context.Background()

	if _, err := h.SendText(ctx, "15551234567", "hi", TextOptions{}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("bare number err = %v", err)
	}
	if _, err := h.SendText(ctx, user, "  ", TextOptions{}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("empty text err = %v", err)
	}
	if _, err := h.SendText(ctx, user, "hi", TextOptions{MentionedJIDs: []string{"x"}}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("bad mention err = %v", err)
	}
}

func TestReply(t *testing.T) {
	fake := backendtest.New()
	h := NewHandler(fake)

	if _, err := h.Reply(context.Background(), group, "ABC", "ok", TextOptions{}); err != nil {
		t.Fatal(err)
	}
	_, body := decodeLast(t, fake)
	if body["quoted_message_id"] != "ABC" {
		t.Errorf("payload = %v", body)
	}
}

func TestSendInteractive(t *testing.T) {
	fake := backendtest.New()
	h := NewHandler(fake)
	ctx := context.Background()

	buttons := []Button{NewButton("Yes", "yes"), NewButton("No", "no")}
	res, err := h.SendInteractive(ctx, user, "Continue?", buttons, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.InteractiveType != "button" {
		t.Errorf("type = %q", res.InteractiveType)
	}
	call, body := decodeLast(t, fake)
	if call.MessageType != protocol.TypeInteractive || body["interactive_type"] != "button" {
		t.Errorf("call = %+v body = %v", call, body)
	}

	items := []ListItem{NewListItem("Next Week", "", "")}
	if items[0].Value != "next_week" {
		t.Errorf("derived value = %q", items[0].Value)
	}
	res, err = h.SendInteractive(ctx, user, "Pick", nil, items, false)
	if err != nil || res.InteractiveType != "list" {
		t.Errorf("list: %+v %v", res, err)
	}

	if _, err := h.SendInteractive(ctx, user, "Both", buttons, items, false); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("both err = %v", err)
	}
}

func TestSendPoll(t *testing.T) {
	fake := backendtest.New()
	h := NewHandler(fake)
	ctx := context.Background()

	opts := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = string(rune('a' + i))
		}
		return out
	}

	tests := []struct {
		n  int
		ok bool
	}{
		{1, false}, {2, true}, {12, true}, {13, false},
	}
	for _, tt := range tests {
		_, err := h.SendPoll(ctx, group, "Lunch?", opts(tt.n), true)
		if tt.ok && err != nil {
			t.Errorf("%d options: %v", tt.n, err)
		}
		if !tt.ok && !errors.Is(err, errs.ErrInvalidInput) {
			t.Errorf("%d options err = %v", tt.n, err)
		}
	}

	call, body := decodeLast(t, fake)
	if call.MessageType != protocol.TypePoll || body["interactive_type"] != "poll" {
		t.Errorf("call = %+v body = %v", call, body)
	}
	poll := body["poll"].(map[string]interface{})
	if poll["multiple_answers"] != true || len(poll["options"].([]interface{})) != 12 {
		t.Errorf("poll = %v", poll)
	}
}

func TestSendEphemeral(t *testing.T) {
	fake := backendtest.New()
	h := NewHandler(fake)
	ctx := context.Background()

	for _, d := range []time.Duration{59 * time.Second, 25 * time.Hour} {
		if _, err := h.SendEphemeral(ctx, user, "x", d); !errors.Is(err, errs.ErrInvalidInput) {
			t.Errorf("%s err = %v", d, err)
		}
	}
	if _, err := h.SendEphemeral(ctx, user, "x", time.Hour); err != nil {
		t.Fatal(err)
	}
	_, body := decodeLast(t, fake)
	if body["ephemeral_duration"] != float64(3600) || body["ephemeral"] != true {
		t.Errorf("payload = %v", body)
	}
}

func TestReactAndDelete(t *testing.T) {
	fake := backendtest.New()
	h := NewHandler(fake)
	ctx := context.Background()

	sent, _ := h.SendText(ctx, user, "hi", TextOptions{})

	if _, err := h.React(ctx, user, sent.MessageID, "👍"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.React(ctx, user, sent.MessageID, strings.Repeat("👍", 11)); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("long reaction err = %v", err)
	}

	res, err := h.Delete(ctx, user, sent.MessageID, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "deleted" {
		t.Errorf("status = %q", res.Status)
	}
	call, body := decodeLast(t, fake)
	if call.MessageType != protocol.TypeDelete || body["for_everyone"] != true {
		t.Errorf("call = %+v body = %v", call, body)
	}
	info, _ := h.MessageInfo(sent.MessageID)
	if info.Status != "deleted" {
		t.Errorf("info status = %q", info.Status)
	}
}

func TestTyping(t *testing.T) {
	fake := backendtest.New()
	h := NewHandler(fake)
	ctx := context.Background()

	if err := h.StartTyping(ctx, user); err != nil {
		t.Fatal(err)
	}
	if err := h.StopTyping(ctx, user); err != nil {
		t.Fatal(err)
	}
	if n := len(fake.CallsOfType(protocol.TypeTyping)); n != 1 {
		t.Errorf("typing calls = %d", n)
	}
	if n := len(fake.CallsOfType(protocol.TypeStopTyping)); n != 1 {
		t.Errorf("stop typing calls = %d", n)
	}
}

func TestProfileInfo(t *testing.T) {
	fake := backendtest.New()
	h := NewHandler(fake)

	p, err := h.ProfileInfo(user)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "15551234567" {
		t.Errorf("placeholder name = %q", p.Name)
	}

	h.RememberProfile(Profile{JID: user, Name: "Alice", Verified: true})
	p, _ = h.ProfileInfo(user)
	if p.Name != "Alice" || !p.Verified {
		t.Errorf("profile = %+v", p)
	}
	if len(fake.Calls()) != 0 {
		t.Error("profile lookups should be served from cache")
	}
}

func TestMessageInfoAndStatus(t *testing.T) {
	h := NewHandler(backendtest.New())
	if _, err := h.MessageInfo("missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
	if h.UpdateStatus("missing", "read") {
		t.Error("unknown id should not be updated")
	}

	res, _ := h.SendText(context.Background(), user, "hi", TextOptions{})
	if !h.UpdateStatus(res.MessageID, "read") {
		t.Fatal("update failed")
	}
	info, _ := h.MessageInfo(res.MessageID)
	if info.Status != "read" {
		t.Errorf("status = %q", info.Status)
	}
}

func TestBackendErrorPropagates(t *testing.T) {
	fake := backendtest.New()
	fake.SetSendError(errs.ErrNotConnected)
	h := NewHandler(fake)

	if _, err := h.SendText(context.Background(), user, "hi", TextOptions{}); !errors.Is(err, errs.ErrNotConnected) {
		t.Errorf("err = %v", err)
	}
}
