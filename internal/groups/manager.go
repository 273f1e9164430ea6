// Package groups keeps an advisory cache of group state. Every operation is
// forwarded to the backend and then applied optimistically to the cache;
// nothing is ever re-read from the server.
package groups

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/walink/internal/backend"
	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/internal/jid"
	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

const (
	MaxParticipants   = 1024
	MaxNameLength     = 25
	MaxDescriptionLen = 512

	// InviteLinkPrefix is the base of every group invite link.
	InviteLinkPrefix = "https://chat.whatsapp.com/"
)

// Group is the cached view of one group.
type Group struct {
	GroupID      string    `json:"group_id"`
	Name         string    `json:"name"`
	Participants []string  `json:"participants"`
	Owner        string    `json:"owner"`
	Description  string    `json:"description,omitempty"`
	Announce     bool      `json:"announce"`
	CreatedAt    time.Time `json:"created_at"`
	MemberCount  int       `json:"member_count"`
}

// CreateOptions are the optional settings of Create.
type CreateOptions struct {
	Description string
	// Announce restricts who can edit group info.
	Announce              bool
	NoFrequentlyForwarded bool
	// Owner is recorded in the cache (usually the connected phone number).
	Owner string
}

// Result describes the outcome of one group operation.
type Result struct {
	Status       string    `json:"status"`
	GroupID      string    `json:"group_id"`
	Participants []string  `json:"participants,omitempty"`
	Name         string    `json:"name,omitempty"`
	Description  *string   `json:"description,omitempty"`
	InviteLink   string    `json:"invite_link,omitempty"`
	Duration     int       `json:"duration,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Manager forwards group operations and owns the group cache.
type Manager struct {
	sender backend.Sender
	now    func() time.Time

	mu     sync.Mutex
	groups map[string]*Group
}

func NewManager(sender backend.Sender) *Manager {
	return &Manager{
		sender: sender,
		now:    time.Now,
		groups: make(map[string]*Group),
	}
}

// Create asks the backend to create a group and caches it.
func (m *Manager) Create(ctx context.Context, name string, participants []string, opts CreateOptions) (*Group, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if len(participants) < 1 {
		return nil, fmt.Errorf("%w: group must have at least 1 participant", errs.ErrInvalidInput)
	}
	if len(participants) > MaxParticipants {
		return nil, fmt.Errorf("%w: group cannot have more than %d participants", errs.ErrInvalidInput, MaxParticipants)
	}
	if err := validateParticipants(participants); err != nil {
		return nil, err
	}
	if err := validateDescription(opts.Description); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"type":                    "create_group",
		"name":                    name,
		"participants":            participants,
		"description":             opts.Description,
		"announce":                opts.Announce,
		"no_frequently_forwarded": opts.NoFrequentlyForwarded,
	}
	if _, err := backend.SendJSON(ctx, m.sender, protocol.JIDGroup, payload, protocol.TypeGroupOperation); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	g := &Group{
		GroupID:      m.newGroupIDLocked(now),
		Name:         name,
		Participants: dedupe(participants),
		Owner:        opts.Owner,
		Description:  opts.Description,
		Announce:     opts.Announce,
		CreatedAt:    now,
	}
	g.MemberCount = len(g.Participants)
	m.groups[g.GroupID] = g

	slog.Info("group created", "group", g.GroupID, "name", name, "participants", g.MemberCount)
	return copyGroup(g), nil
}

// List returns every cached group, oldest first.
func (m *Manager) List() []Group {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Group, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, *copyGroup(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Info returns the cached group, or a placeholder when the group is unknown.
func (m *Manager) Info(groupID string) (*Group, error) {
	if err := validateGroupID(groupID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.groups[groupID]; ok {
		return copyGroup(g), nil
	}
	return &Group{
		GroupID:      groupID,
		Name:         "Group " + jid.User(groupID),
		Participants: []string{},
		Owner:        "unknown",
		Description:  "Group information unavailable",
		CreatedAt:    m.now(),
	}, nil
}

// AddParticipants adds members; the cache keeps each JID once.
func (m *Manager) AddParticipants(ctx context.Context, groupID string, participants []string) (*Result, error) {
	if err := validateMembers(groupID, participants, "add"); err != nil {
		return nil, err
	}
	if err := m.forward(ctx, groupID, "add_participants", map[string]interface{}{"participants": participants}); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if g, ok := m.groups[groupID]; ok {
		g.Participants = dedupe(append(g.Participants, participants...))
		g.MemberCount = len(g.Participants)
	}
	m.mu.Unlock()

	slog.Info("group participants added", "group", groupID, "count", len(participants))
	return m.result("added", groupID, func(r *Result) { r.Participants = participants }), nil
}

// RemoveParticipants removes members from the group.
func (m *Manager) RemoveParticipants(ctx context.Context, groupID string, participants []string) (*Result, error) {
	if err := validateMembers(groupID, participants, "remove"); err != nil {
		return nil, err
	}
	if err := m.forward(ctx, groupID, "remove_participants", map[string]interface{}{"participants": participants}); err != nil {
		return nil, err
	}

	drop := make(map[string]bool, len(participants))
	for _, p := range participants {
		drop[p] = true
	}
	m.mu.Lock()
	if g, ok := m.groups[groupID]; ok {
		kept := g.Participants[:0]
		for _, p := range g.Participants {
			if !drop[p] {
				kept = append(kept, p)
			}
		}
		g.Participants = kept
		g.MemberCount = len(kept)
	}
	m.mu.Unlock()

	slog.Info("group participants removed", "group", groupID, "count", len(participants))
	return m.result("removed", groupID, func(r *Result) { r.Participants = participants }), nil
}

// Promote makes participants admins. Admin roles are not cached.
func (m *Manager) Promote(ctx context.Context, groupID string, participants []string) (*Result, error) {
	if err := validateMembers(groupID, participants, "promote"); err != nil {
		return nil, err
	}
	if err := m.forward(ctx, groupID, "promote_participants", map[string]interface{}{"participants": participants}); err != nil {
		return nil, err
	}
	slog.Info("group participants promoted", "group", groupID, "count", len(participants))
	return m.result("promoted", groupID, func(r *Result) { r.Participants = participants }), nil
}

// Demote turns admins back into regular members.
func (m *Manager) Demote(ctx context.Context, groupID string, participants []string) (*Result, error) {
	if err := validateMembers(groupID, participants, "demote"); err != nil {
		return nil, err
	}
	if err := m.forward(ctx, groupID, "demote_participants", map[string]interface{}{"participants": participants}); err != nil {
		return nil, err
	}
	slog.Info("group participants demoted", "group", groupID, "count", len(participants))
	return m.result("demoted", groupID, func(r *Result) { r.Participants = participants }), nil
}

func (m *Manager) UpdateName(ctx context.Context, groupID, name string) (*Result, error) {
	if err := validateGroupID(groupID); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := m.forward(ctx, groupID, "update_group_name", map[string]interface{}{"new_name": name}); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if g, ok := m.groups[groupID]; ok {
		g.Name = name
	}
	m.mu.Unlock()

	slog.Info("group name updated", "group", groupID)
	return m.result("updated", groupID, func(r *Result) { r.Name = name }), nil
}

func (m *Manager) UpdateDescription(ctx context.Context, groupID, description string) (*Result, error) {
	if err := validateGroupID(groupID); err != nil {
		return nil, err
	}
	if err := validateDescription(description); err != nil {
		return nil, err
	}
	if err := m.forward(ctx, groupID, "update_group_description", map[string]interface{}{"description": description}); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if g, ok := m.groups[groupID]; ok {
		g.Description = description
	}
	m.mu.Unlock()

	slog.Info("group description updated", "group", groupID)
	return m.result("updated", groupID, func(r *Result) { r.Description = &description }), nil
}

// Leave exits the group and drops it from the cache.
func (m *Manager) Leave(ctx context.Context, groupID string) (*Result, error) {
	if err := validateGroupID(groupID); err != nil {
		return nil, err
	}
	if err := m.forward(ctx, groupID, "leave_group", nil); err != nil {
		return nil, err
	}

	m.mu.Lock()
	delete(m.groups, groupID)
	m.mu.Unlock()

	slog.Info("left group", "group", groupID)
	return m.result("left", groupID, nil), nil
}

// InviteLink returns the invite link of a group.
func (m *Manager) InviteLink(ctx context.Context, groupID string) (*Result, error) {
	if err := validateGroupID(groupID); err != nil {
		return nil, err
	}
	if err := m.forward(ctx, groupID, "get_invite_link", nil); err != nil {
		return nil, err
	}
	link := InviteLinkPrefix + jid.User(groupID)
	return m.result("generated", groupID, func(r *Result) { r.InviteLink = link }), nil
}

// RevokeInviteLink invalidates the current link; the result carries a new one.
func (m *Manager) RevokeInviteLink(ctx context.Context, groupID string) (*Result, error) {
	if err := validateGroupID(groupID); err != nil {
		return nil, err
	}
	if err := m.forward(ctx, groupID, "revoke_invite_link", nil); err != nil {
		return nil, err
	}
	link := InviteLinkPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:22]
	slog.Info("group invite link revoked", "group", groupID)
	return m.result("revoked", groupID, func(r *Result) { r.InviteLink = link }), nil
}

// Join enters a group by invite link and caches a placeholder entry for it.
func (m *Manager) Join(ctx context.Context, inviteLink string) (*Group, error) {
	inviteLink = strings.TrimSpace(inviteLink)
	if !strings.HasPrefix(inviteLink, InviteLinkPrefix) || len(inviteLink) == len(InviteLinkPrefix) {
		return nil, fmt.Errorf("%w: invite link must look like %s<code>", errs.ErrInvalidInput, InviteLinkPrefix)
	}

	payload := map[string]interface{}{
		"type":        "join_group",
		"invite_link": inviteLink,
	}
	if _, err := backend.SendJSON(ctx, m.sender, protocol.JIDGroup, payload, protocol.TypeGroupOperation); err != nil {
		return nil, fmt.Errorf("join group: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	g := &Group{
		GroupID:      m.newGroupIDLocked(now),
		Name:         "Joined Group",
		Participants: []string{},
		Owner:        "unknown",
		Description:  "Joined via invite link",
		CreatedAt:    now,
	}
	m.groups[g.GroupID] = g

	slog.Info("joined group via invite link", "group", g.GroupID)
	return copyGroup(g), nil
}

// Mute silences notifications for d; a negative d mutes indefinitely.
func (m *Manager) Mute(ctx context.Context, groupID string, d time.Duration) (*Result, error) {
	if err := validateGroupID(groupID); err != nil {
		return nil, err
	}
	seconds := -1
	if d >= 0 {
		seconds = int(d / time.Second)
	}
	if err := m.forward(ctx, groupID, "mute_group", map[string]interface{}{"duration": seconds}); err != nil {
		return nil, err
	}
	slog.Info("group muted", "group", groupID, "seconds", seconds)
	return m.result("muted", groupID, func(r *Result) { r.Duration = seconds }), nil
}

// --- Internal ---

func (m *Manager) forward(ctx context.Context, groupID, op string, fields map[string]interface{}) error {
	payload := map[string]interface{}{
		"type":     op,
		"group_id": groupID,
	}
	for k, v := range fields {
		payload[k] = v
	}
	if _, err := backend.SendJSON(ctx, m.sender, groupID, payload, protocol.TypeGroupOperation); err != nil {
		return fmt.Errorf("%s %s: %w", op, groupID, err)
	}
	return nil
}

func (m *Manager) result(status, groupID string, fill func(*Result)) *Result {
	r := &Result{Status: status, GroupID: groupID, Timestamp: m.now()}
	if fill != nil {
		fill(r)
	}
	return r
}

// newGroupIDLocked returns an unused numeric group JID.
func (m *Manager) newGroupIDLocked(now time.Time) string {
	n := now.UnixNano()
	for {
		id := strconv.FormatInt(n, 10) + "@" + jid.GroupServer
		if _, taken := m.groups[id]; !taken {
			return id
		}
		n++
	}
}

func validateGroupID(groupID string) error {
	if !jid.IsGroupJID(groupID) || jid.User(groupID) == "" {
		return fmt.Errorf("%w: %q is not a group JID", errs.ErrInvalidInput, groupID)
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: group name cannot be empty", errs.ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%w: group name cannot exceed %d characters", errs.ErrInvalidInput, MaxNameLength)
	}
	return nil
}

func validateDescription(description string) error {
	if utf8.RuneCountInString(description) > MaxDescriptionLen {
		return fmt.Errorf("%w: group description cannot exceed %d characters", errs.ErrInvalidInput, MaxDescriptionLen)
	}
	return nil
}

func validateMembers(groupID string, participants []string, op string) error {
	if err := validateGroupID(groupID); err != nil {
		return err
	}
	if len(participants) == 0 {
		return fmt.Errorf("%w: no participants provided to %s", errs.ErrInvalidInput, op)
	}
	return validateParticipants(participants)
}

func validateParticipants(participants []string) error {
	for _, p := range participants {
		if !jid.IsUserJID(p) {
			return fmt.Errorf("%w: invalid participant JID %q", errs.ErrInvalidInput, p)
		}
	}
	return nil
}

// dedupe keeps the first occurrence of each JID, in order.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func copyGroup(g *Group) *Group {
	cp := *g
	cp.Participants = append([]string(nil), g.Participants...)
	if cp.Participants == nil {
		cp.Participants = []string{}
	}
	return &cp
}
