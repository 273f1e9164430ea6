package client

import (
	"time"

	"github.com/nextlevelbuilder/walink/internal/bus"
	"github.com/nextlevelbuilder/walink/internal/calls"
	"github.com/nextlevelbuilder/walink/internal/messages"
	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

type callEvent struct {
	CallID   string `json:"call_id"`
	From     string `json:"from"`
	CallType string `json:"call_type"`
	Status   string `json:"status"`
}

type statusEvent struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type messageEvent struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	PushName  string `json:"push_name"`
}

type connectionEvent struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

// subscribeInternal keeps the managers' caches in step with the backend.
// User handlers registered through On run after these.
func (c *Client) subscribeInternal() {
	c.events.Subscribe(protocol.EventCall, c.onCall)
	c.events.Subscribe(protocol.EventMessageStatus, c.onMessageStatus)
	c.events.Subscribe(protocol.EventMessage, c.onMessage)
	c.events.Subscribe(protocol.EventConnection, c.onConnection)
	c.events.Subscribe(protocol.EventShutdown, func(bus.Event) {
		c.logger().Warn("client: backend shutting down")
	})
}

func (c *Client) onCall(e bus.Event) {
	var ev callEvent
	if err := e.Decode(&ev); err != nil {
		c.logger().Warn("client: bad call event", "error", err)
		return
	}
	switch calls.Status(ev.Status) {
	case calls.StatusIncoming, "offer", "":
		c.calls.HandleIncoming(ev.CallID, ev.From, ev.CallType)
	case "accepted":
		c.applyRemote(ev.CallID, calls.StatusInProgress)
	default:
		c.applyRemote(ev.CallID, calls.Status(ev.Status))
	}
}

func (c *Client) applyRemote(callID string, next calls.Status) {
	if err := c.calls.HandleRemote(callID, next); err != nil {
		c.logger().Debug("client: ignored call update", "call", callID, "status", next, "error", err)
	}
}

func (c *Client) onMessageStatus(e bus.Event) {
	var ev statusEvent
	if err := e.Decode(&ev); err != nil || ev.MessageID == "" {
		return
	}
	c.messages.UpdateStatus(ev.MessageID, ev.Status)
}

func (c *Client) onMessage(e bus.Event) {
	var ev messageEvent
	if err := e.Decode(&ev); err != nil || ev.From == "" || ev.PushName == "" {
		return
	}
	c.messages.RememberProfile(messages.Profile{
		JID:      ev.From,
		Name:     ev.PushName,
		LastSeen: time.Now(),
	})
}

func (c *Client) onConnection(e bus.Event) {
	var ev connectionEvent
	if err := e.Decode(&ev); err != nil {
		return
	}
	if ev.State == protocol.ConnectionClose && c.conn.IsConnected() {
		c.logger().Warn("client: backend closed the connection", "reason", ev.Reason)
		c.conn.Disconnect()
	}
}
