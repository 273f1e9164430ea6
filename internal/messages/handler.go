// Package messages builds and forwards chat payloads: text, interactive
// buttons and lists, polls, ephemeral messages, reactions, deletes and
// typing indicators.
package messages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nextlevelbuilder/walink/internal/backend"
	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/internal/jid"
	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

const (
	MinPollOptions = 2
	MaxPollOptions = 12

	MinEphemeral = time.Minute
	MaxEphemeral = 24 * time.Hour

	// MaxReactionLength bounds a reaction in runes (one emoji, possibly
	// with modifiers).
	MaxReactionLength = 10

	profileCacheSize = 256
	profileCacheTTL  = 10 * time.Minute
	sentCacheSize    = 1024
	sentCacheTTL     = 24 * time.Hour
)

// Button is one reply button of an interactive message.
type Button struct {
	ButtonID     string `json:"button_id"`
	Text         string `json:"text"`
	Type         int    `json:"type"`
	URL          string `json:"url,omitempty"`
	CallToAction string `json:"call_to_action,omitempty"`
}

// ListItem is one row of an interactive list message.
type ListItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Value       string `json:"value"`
}

// NewButton returns a quick-reply button.
func NewButton(text, buttonID string) Button {
	return Button{ButtonID: buttonID, Text: text, Type: 1}
}

// NewListItem returns a list row. An empty value is derived from the title
// ("Next Week" -> "next_week").
func NewListItem(title, description, value string) ListItem {
	if value == "" {
		value = strings.ReplaceAll(strings.ToLower(title), " ", "_")
	}
	return ListItem{Title: title, Description: description, Value: value}
}

// TextOptions are the optional parts of a text message.
type TextOptions struct {
	QuotedMessageID    string
	MentionedJIDs      []string
	DisableLinkPreview bool
	ViewOnce           bool
}

// SendResult describes a forwarded message.
type SendResult struct {
	Status          string    `json:"status"`
	MessageID       string    `json:"message_id"`
	JID             string    `json:"jid"`
	Content         string    `json:"content,omitempty"`
	InteractiveType string    `json:"interactive_type,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Info is what is known locally about a sent message.
type Info struct {
	MessageID string    `json:"message_id"`
	JID       string    `json:"jid"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Profile is the cached profile of a JID.
type Profile struct {
	JID        string    `json:"jid"`
	Name       string    `json:"name"`
	About      string    `json:"about"`
	PictureURL string    `json:"picture_url,omitempty"`
	Verified   bool      `json:"verified"`
	Business   bool      `json:"business"`
	LastSeen   time.Time `json:"last_seen"`
}

// Handler sends messages through a backend.Sender.
type Handler struct {
	sender   backend.Sender
	now      func() time.Time
	profiles *expirable.LRU[string, Profile]
	sent     *expirable.LRU[string, Info]
}

func NewHandler(sender backend.Sender) *Handler {
	return &Handler{
		sender:   sender,
		now:      time.Now,
		profiles: expirable.NewLRU[string, Profile](profileCacheSize, nil, profileCacheTTL),
		sent:     expirable.NewLRU[string, Info](sentCacheSize, nil, sentCacheTTL),
	}
}

// SendText sends a plain text message.
func (h *Handler) SendText(ctx context.Context, to, text string, opts TextOptions) (*SendResult, error) {
	if err := validateTarget(to); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text is empty", errs.ErrInvalidInput)
	}
	for _, m := range opts.MentionedJIDs {
		if !jid.IsUserJID(m) {
			return nil, fmt.Errorf("%w: invalid mentioned JID %q", errs.ErrInvalidInput, m)
		}
	}

	mentioned := opts.MentionedJIDs
	if mentioned == nil {
		mentioned = []string{}
	}
	payload := map[string]interface{}{
		"type":           "text",
		"content":        text,
		"mentioned_jids": mentioned,
		"link_preview":   !opts.DisableLinkPreview,
		"view_once":      opts.ViewOnce,
	}
	if opts.QuotedMessageID != "" {
		payload["quoted_message_id"] = opts.QuotedMessageID
	}
	res, err := h.send(ctx, to, payload, protocol.TypeText)
	if err != nil {
		return nil, err
	}
	res.Content = text
	return res, nil
}

// Reply quotes messageID in a text message.
func (h *Handler) Reply(ctx context.Context, to, messageID, text string, opts TextOptions) (*SendResult, error) {
	if messageID == "" {
		return nil, fmt.Errorf("%w: reply needs the quoted message id", errs.ErrInvalidInput)
	}
	opts.QuotedMessageID = messageID
	return h.SendText(ctx, to, text, opts)
}

// SendInteractive sends text with either buttons or list items, never both.
func (h *Handler) SendInteractive(ctx context.Context, to, text string, buttons []Button, items []ListItem, viewOnce bool) (*SendResult, error) {
	if err := validateTarget(to); err != nil {
		return nil, err
	}
	if len(buttons) > 0 && len(items) > 0 {
		return nil, fmt.Errorf("%w: cannot specify both buttons and list items", errs.ErrInvalidInput)
	}

	payload := map[string]interface{}{
		"type":      "interactive",
		"content":   text,
		"view_once": viewOnce,
	}
	kind := ""
	switch {
	case len(buttons) > 0:
		kind = "button"
		payload["buttons"] = buttons
	case len(items) > 0:
		kind = "list"
		payload["list_items"] = items
	}
	if kind != "" {
		payload["interactive_type"] = kind
	}

	res, err := h.send(ctx, to, payload, protocol.TypeInteractive)
	if err != nil {
		return nil, err
	}
	res.Content = text
	res.InteractiveType = kind
	return res, nil
}

// SendPoll sends a poll with 2 to 12 options.
func (h *Handler) SendPoll(ctx context.Context, to, question string, options []string, multipleAnswers bool) (*SendResult, error) {
	if err := validateTarget(to); err != nil {
		return nil, err
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: poll question is empty", errs.ErrInvalidInput)
	}
	if len(options) < MinPollOptions {
		return nil, fmt.Errorf("%w: poll must have at least %d options", errs.ErrInvalidInput, MinPollOptions)
	}
	if len(options) > MaxPollOptions {
		return nil, fmt.Errorf("%w: poll cannot have more than %d options", errs.ErrInvalidInput, MaxPollOptions)
	}

	payload := map[string]interface{}{
		"type":             "interactive",
		"interactive_type": "poll",
		"poll": map[string]interface{}{
			"question":         question,
			"options":          options,
			"multiple_answers": multipleAnswers,
		},
	}
	res, err := h.send(ctx, to, payload, protocol.TypePoll)
	if err != nil {
		return nil, err
	}
	res.Content = question
	res.InteractiveType = "poll"
	return res, nil
}

// SendEphemeral sends text that disappears after d (1 minute to 24 hours).
func (h *Handler) SendEphemeral(ctx context.Context, to, text string, d time.Duration) (*SendResult, error) {
	if err := validateTarget(to); err != nil {
		return nil, err
	}
	if d < MinEphemeral || d > MaxEphemeral {
		return nil, fmt.Errorf("%w: ephemeral duration must be between %s and %s", errs.ErrInvalidInput, MinEphemeral, MaxEphemeral)
	}

	payload := map[string]interface{}{
		"type":               "text",
		"content":            text,
		"ephemeral":          true,
		"ephemeral_duration": int(d / time.Second),
	}
	res, err := h.send(ctx, to, payload, protocol.TypeText)
	if err != nil {
		return nil, err
	}
	res.Content = text
	return res, nil
}

// React sets emoji as our reaction to messageID. An empty emoji clears it.
func (h *Handler) React(ctx context.Context, to, messageID, emoji string) (*SendResult, error) {
	if err := validateTarget(to); err != nil {
		return nil, err
	}
	if messageID == "" {
		return nil, fmt.Errorf("%w: message id is empty", errs.ErrInvalidInput)
	}
	if utf8.RuneCountInString(emoji) > MaxReactionLength {
		return nil, fmt.Errorf("%w: reaction must be a single emoji", errs.ErrInvalidInput)
	}

	payload := map[string]interface{}{
		"type":       "reaction",
		"message_id": messageID,
		"emoji":      emoji,
		"jid":        to,
	}
	res, err := h.send(ctx, to, payload, protocol.TypeReaction)
	if err != nil {
		return nil, err
	}
	res.Status = "reacted"
	res.Content = emoji
	return res, nil
}

// Delete removes messageID, for every participant or only locally.
func (h *Handler) Delete(ctx context.Context, to, messageID string, forEveryone bool) (*SendResult, error) {
	if err := validateTarget(to); err != nil {
		return nil, err
	}
	if messageID == "" {
		return nil, fmt.Errorf("%w: message id is empty", errs.ErrInvalidInput)
	}

	payload := map[string]interface{}{
		"type":         "delete_message",
		"message_id":   messageID,
		"for_everyone": forEveryone,
		"jid":          to,
	}
	res, err := h.send(ctx, to, payload, protocol.TypeDelete)
	if err != nil {
		return nil, err
	}
	res.Status = "deleted"
	if info, ok := h.sent.Peek(messageID); ok {
		info.Status = "deleted"
		h.sent.Add(messageID, info)
	}
	return res, nil
}

// StartTyping shows the typing indicator in a chat.
func (h *Handler) StartTyping(ctx context.Context, to string) error {
	return h.presence(ctx, to, protocol.TypeTyping)
}

// StopTyping clears the typing indicator.
func (h *Handler) StopTyping(ctx context.Context, to string) error {
	return h.presence(ctx, to, protocol.TypeStopTyping)
}

func (h *Handler) presence(ctx context.Context, to, kind string) error {
	if err := validateTarget(to); err != nil {
		return err
	}
	payload := map[string]interface{}{"type": kind, "jid": to}
	if _, err := backend.SendJSON(ctx, h.sender, to, payload, kind); err != nil {
		return fmt.Errorf("%s %s: %w", kind, to, err)
	}
	return nil
}

// ProfileInfo returns the cached profile of a JID. Unknown JIDs get a
// placeholder named after their user part.
func (h *Handler) ProfileInfo(target string) (*Profile, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	if p, ok := h.profiles.Get(target); ok {
		return &p, nil
	}
	p := Profile{
		JID:      target,
		Name:     jid.User(target),
		About:    "Profile information not available",
		LastSeen: h.now(),
	}
	h.profiles.Add(target, p)
	return &p, nil
}

// RememberProfile stores a profile pushed by the backend.
func (h *Handler) RememberProfile(p Profile) {
	if p.JID == "" {
		return
	}
	h.profiles.Add(p.JID, p)
}

// MessageInfo returns what is known about a message sent in this process.
func (h *Handler) MessageInfo(messageID string) (*Info, error) {
	info, ok := h.sent.Get(messageID)
	if !ok {
		return nil, fmt.Errorf("message %s: %w", messageID, errs.ErrNotFound)
	}
	return &info, nil
}

// UpdateStatus records a delivery status reported by the backend
// (delivered, read, ...). Unknown message ids are ignored.
func (h *Handler) UpdateStatus(messageID, status string) bool {
	info, ok := h.sent.Peek(messageID)
	if !ok {
		return false
	}
	info.Status = status
	h.sent.Add(messageID, info)
	return true
}

func (h *Handler) send(ctx context.Context, to string, payload map[string]interface{}, messageType string) (*SendResult, error) {
	res, err := backend.SendJSON(ctx, h.sender, to, payload, messageType)
	if err != nil {
		return nil, fmt.Errorf("send %s to %s: %w", messageType, to, err)
	}

	ts := res.Timestamp
	if ts.IsZero() {
		ts = h.now()
	}
	if res.MessageID != "" {
		h.sent.Add(res.MessageID, Info{
			MessageID: res.MessageID,
			JID:       to,
			Type:      messageType,
			Status:    "sent",
			Timestamp: ts,
		})
	}
	slog.Debug("message sent", "type", messageType, "to", to, "id", res.MessageID)

	return &SendResult{
		Status:    "sent",
		MessageID: res.MessageID,
		JID:       to,
		Timestamp: ts,
	}, nil
}

func validateTarget(to string) error {
	if !jid.IsAddressable(to) {
		return fmt.Errorf("%w: %q is not a user or group JID", errs.ErrInvalidInput, to)
	}
	return nil
}
