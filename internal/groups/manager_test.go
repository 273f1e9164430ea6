package groups

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/walink/internal/backend/backendtest"
	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

const (
	alice = "15551234567@s.whatsapp.net"
	bob   = "15557654321@s.whatsapp.net"
	carol = "15550001111@s.whatsapp.net"
)

func newTestManager(t *testing.T) (*Manager, *backendtest.Fake) {
	t.Helper()
	fake := backendtest.New()
	return NewManager(fake), fake
}

func TestCreate(t *testing.T) {
	m, fake := newTestManager(t)
	ctx := context.Background()

	g, err := m.Create(ctx, "Team", []string{alice, bob, alice}, CreateOptions{Description: "d", Owner: "+1555"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(g.GroupID, "@g.us") {
		t.Errorf("group id = %q", g.GroupID)
	}
	if g.MemberCount != 2 || len(g.Participants) != 2 {
		t.Errorf("participants = %v (count %d)", g.Participants, g.MemberCount)
	}

	call, ok := fake.LastCall()
	if !ok || call.JID != protocol.JIDGroup || call.MessageType != protocol.TypeGroupOperation {
		t.Fatalf("backend call = %+v", call)
	}
	var body map[string]interface{}
	call.Decode(&body)
	if body["type"] != "create_group" || body["name"] != "Team" {
		t.Errorf("payload = %v", body)
	}

	if list := m.List(); len(list) != 1 || list[0].GroupID != g.GroupID {
		t.Errorf("list = %+v", list)
	}
}

func TestCreateValidation(t *testing.T) {
	m, fake := newTestManager(t)
	ctx := context.Background()

	tooMany := make([]string, MaxParticipants+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("1555%07d@s.whatsapp.net", i)
	}

	tests := []struct {
		name         string
		groupName    string
		participants []string
		opts         CreateOptions
	}{
		{"no participants", "Team", nil, CreateOptions{}},
		{"too many participants", "Team", tooMany, CreateOptions{}},
		{"bad jid", "Team", []string{"bob@example.com"}, CreateOptions{}},
		{"group jid as participant", "Team", []string{"123@g.us"}, CreateOptions{}},
		{"empty name", "   ", []string{alice}, CreateOptions{}},
		{"long name", strings.Repeat("n", MaxNameLength+1), []string{alice}, CreateOptions{}},
		{"long description", "Team", []string{alice}, CreateOptions{Description: strings.Repeat("d", MaxDescriptionLen+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Create(ctx, tt.groupName, tt.participants, tt.opts); !errors.Is(err, errs.ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
	if len(fake.Calls()) != 0 {
		t.Error("invalid create reached backend")
	}
}

func TestCreateAtParticipantLimit(t *testing.T) {
	m, _ := newTestManager(t)
	ps := make([]string, MaxParticipants)
	for i := range ps {
		ps[i] = fmt.Sprintf("1555%07d@s.whatsapp.net", i)
	}
	g, err := m.Create(context.Background(), "Big", ps, CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if g.MemberCount != MaxParticipants {
		t.Errorf("member count = %d", g.MemberCount)
	}
}

func TestAddRemoveParticipants(t *testing.T) {
	m, fake := newTestManager(t)
	ctx := context.Background()

	g, _ := m.Create(ctx, "Team", []string{alice}, CreateOptions{})

	res, err := m.AddParticipants(ctx, g.GroupID, []string{bob, alice, carol})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "added" {
		t.Errorf("status = %q", res.Status)
	}
	info, _ := m.Info(g.GroupID)
	if info.MemberCount != 3 {
		t.Errorf("after add: %v", info.Participants)
	}

	call, _ := fake.LastCall()
	if call.JID != g.GroupID {
		t.Errorf("add sent to %q, want group jid", call.JID)
	}

	if _, err := m.RemoveParticipants(ctx, g.GroupID, []string{alice, "15559999999@s.whatsapp.net"}); err != nil {
		t.Fatal(err)
	}
	info, _ = m.Info(g.GroupID)
	if info.MemberCount != 2 || info.Participants[0] != bob || info.Participants[1] != carol {
		t.Errorf("after remove: %v", info.Participants)
	}

	if _, err := m.AddParticipants(ctx, g.GroupID, nil); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("empty add err = %v", err)
	}
	if _, err := m.RemoveParticipants(ctx, "nope", []string{bob}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("bad group err = %v", err)
	}
}

func TestOperationsOnUncachedGroupStillForward(t *testing.T) {
	m, fake := newTestManager(t)
	ctx := context.Background()
	gid := "120363000000000000@g.us"

	if _, err := m.AddParticipants(ctx, gid, []string{alice}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Promote(ctx, gid, []string{alice}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Demote(ctx, gid, []string{alice}); err != nil {
		t.Fatal(err)
	}
	if len(fake.Calls()) != 3 {
		t.Errorf("calls = %d", len(fake.Calls()))
	}
	if len(m.List()) != 0 {
		t.Error("uncached group appeared in the cache")
	}

	info, err := m.Info(gid)
	if err != nil {
		t.Fatal(err)
	}
	if info.Owner != "unknown" || info.Name != "Group 120363000000000000" {
		t.Errorf("placeholder = %+v", info)
	}
}

func TestUpdateNameAndDescription(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	g, _ := m.Create(ctx, "Team", []string{alice}, CreateOptions{})

	if _, err := m.UpdateName(ctx, g.GroupID, "Renamed"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.UpdateName(ctx, g.GroupID, ""); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("empty name err = %v", err)
	}
	if _, err := m.UpdateName(ctx, g.GroupID, strings.Repeat("x", 26)); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("long name err = %v", err)
	}
	if _, err := m.UpdateDescription(ctx, g.GroupID, "about us"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.UpdateDescription(ctx, g.GroupID, strings.Repeat("x", 513)); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("long description err = %v", err)
	}

	info, _ := m.Info(g.GroupID)
	if info.Name != "Renamed" || info.Description != "about us" {
		t.Errorf("info = %+v", info)
	}
}

func TestLeaveDropsCache(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	g, _ := m.Create(ctx, "Team", []string{alice}, CreateOptions{})

	if _, err := m.Leave(ctx, g.GroupID); err != nil {
		t.Fatal(err)
	}
	if len(m.List()) != 0 {
		t.Error("group still cached after leave")
	}
}

func TestInviteLinks(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	res, err := m.InviteLink(ctx, "12345@g.us")
	if err != nil {
		t.Fatal(err)
	}
	if res.InviteLink != "https://chat.whatsapp.com/12345" {
		t.Errorf("link = %q", res.InviteLink)
	}

	rev, err := m.RevokeInviteLink(ctx, "12345@g.us")
	if err != nil {
		t.Fatal(err)
	}
	if rev.Status != "revoked" || !strings.HasPrefix(rev.InviteLink, InviteLinkPrefix) || rev.InviteLink == res.InviteLink {
		t.Errorf("revoke = %+v", rev)
	}
}

func TestJoin(t *testing.T) {
	m, fake := newTestManager(t)
	ctx := context.Background()

	g, err := m.Join(ctx, "https://chat.whatsapp.com/AbCdEf")
	if err != nil {
		t.Fatal(err)
	}
	if g.Name != "Joined Group" {
		t.Errorf("name = %q", g.Name)
	}
	if call, _ := fake.LastCall(); call.JID != protocol.JIDGroup {
		t.Errorf("join sent to %q", call.JID)
	}

	for _, link := range []string{"", "https://chat.whatsapp.com/", "https://example.com/x"} {
		if _, err := m.Join(ctx, link); !errors.Is(err, errs.ErrInvalidInput) {
			t.Errorf("Join(%q) err = %v", link, err)
		}
	}
}

func TestMute(t *testing.T) {
	m, fake := newTestManager(t)
	ctx := context.Background()

	res, err := m.Mute(ctx, "12345@g.us", -1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Duration != -1 {
		t.Errorf("indefinite duration = %d", res.Duration)
	}
	res, _ = m.Mute(ctx, "12345@g.us", 8*time.Hour)
	if res.Duration != 8*3600 {
		t.Errorf("duration = %d", res.Duration)
	}

	call, _ := fake.LastCall()
	var body map[string]interface{}
	call.Decode(&body)
	if body["type"] != "mute_group" || body["duration"] != float64(8*3600) {
		t.Errorf("payload = %v", body)
	}
}

func TestBackendErrorLeavesCache(t *testing.T) {
	m, fake := newTestManager(t)
	ctx := context.Background()
	g, _ := m.Create(ctx, "Team", []string{alice}, CreateOptions{})

	fake.SetSendError(errs.ErrNotConnected)
	if _, err := m.AddParticipants(ctx, g.GroupID, []string{bob}); !errors.Is(err, errs.ErrNotConnected) {
		t.Fatalf("err = %v", err)
	}
	if info, _ := m.Info(g.GroupID); info.MemberCount != 1 {
		t.Errorf("cache mutated despite failure: %v", info.Participants)
	}
}

func TestListReturnsCopies(t *testing.T) {
	m, _ := newTestManager(t)
	g, _ := m.Create(context.Background(), "Team", []string{alice}, CreateOptions{})

	list := m.List()
	list[0].Participants[0] = "tampered"
	if info, _ := m.Info(g.GroupID); info.Participants[0] != alice {
		t.Error("caller mutation leaked into cache")
	}
}
