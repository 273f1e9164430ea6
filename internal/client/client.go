// Package client is the public entry point of walink: one Client per
// WhatsApp session, owning the connection lifecycle and every resource
// manager, and turning backend events into local state and user callbacks.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/walink/internal/backend"
	"github.com/nextlevelbuilder/walink/internal/bus"
	"github.com/nextlevelbuilder/walink/internal/calls"
	"github.com/nextlevelbuilder/walink/internal/connection"
	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/internal/groups"
	"github.com/nextlevelbuilder/walink/internal/media"
	"github.com/nextlevelbuilder/walink/internal/messages"
	"github.com/nextlevelbuilder/walink/internal/pairing"
	"github.com/nextlevelbuilder/walink/internal/store"
)

// Options wires a Client. Transport and Sessions are required.
type Options struct {
	SessionID string
	Transport backend.Transport
	Sessions  store.SessionStore

	// Events receives the transport's events. Pass the same bus as the
	// transport's OnEvent (bus.PublishFrame); nil creates a private bus.
	Events *bus.EventBus

	Connection connection.Config

	PairingStorePath string
	PairingTTL       time.Duration
}

// Client is a session-scoped facade over the walink managers.
type Client struct {
	sessionID string
	transport backend.Transport
	events    *bus.EventBus

	conn     *connection.Manager
	pairing  *pairing.Registry
	groups   *groups.Manager
	calls    *calls.Manager
	messages *messages.Handler
	media    *media.Handler

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds a disconnected Client and starts dispatching backend events.
func New(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("%w: transport is required", errs.ErrInvalidInput)
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("%w: session store is required", errs.ErrInvalidInput)
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = connection.DefaultSessionID(time.Now())
	}
	if err := store.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	events := opts.Events
	if events == nil {
		events = bus.New()
	}

	conn := connection.NewManager(opts.Transport, opts.Sessions, opts.Connection)
	reg := pairing.NewRegistry(opts.Transport, opts.PairingStorePath)
	if opts.PairingTTL > 0 {
		reg.SetTTL(opts.PairingTTL)
	}

	c := &Client{
		sessionID: sessionID,
		transport: opts.Transport,
		events:    events,
		conn:      conn,
		pairing:   reg,
		groups:    groups.NewManager(conn),
		calls:     calls.NewManager(conn),
		messages:  messages.NewHandler(conn),
		media:     media.NewHandler(conn),
	}
	c.subscribeInternal()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		events.Run(ctx)
	}()
	return c, nil
}

// SessionID is the session this client connects as.
func (c *Client) SessionID() string { return c.sessionID }

// Connect resumes the session or runs the QR authentication flow.
func (c *Client) Connect(ctx context.Context, pairingCode string) (*connection.Result, error) {
	return c.conn.Connect(ctx, c.sessionID, pairingCode)
}

// Disconnect closes the backend connection. It never fails.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// Logout disconnects and forgets the stored session.
func (c *Client) Logout(ctx context.Context) error {
	return c.conn.Logout(ctx)
}

// IsConnected reports whether the session is authenticated.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// ConnectionInfo is a snapshot of the connection state.
func (c *Client) ConnectionInfo() connection.Info {
	info := c.conn.Status()
	if info.SessionID == "" {
		info.SessionID = c.sessionID
	}
	return info
}

// On registers handler for a backend event name (protocol.Event* or
// bus.AllEvents) and returns a function that removes it.
func (c *Client) On(event string, handler bus.Handler) func() {
	return c.events.Subscribe(event, handler)
}

// Close disconnects and stops event dispatch. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.conn.Disconnect()
		c.cancel()
		c.events.Close()
		c.wg.Wait()
	})
}

// --- Managers ---
//
// Each accessor fails with errs.ErrNotConnected until Connect succeeds.
// Pairing is the exception: it is how an unpaired session gets linked.

func (c *Client) Groups() (*groups.Manager, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	return c.groups, nil
}

func (c *Client) Calls() (*calls.Manager, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	return c.calls, nil
}

func (c *Client) Messages() (*messages.Handler, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	return c.messages, nil
}

func (c *Client) Media() (*media.Handler, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	return c.media, nil
}

func (c *Client) Pairing() *pairing.Registry {
	return c.pairing
}

// --- Shortcuts ---

// SendMessage sends a text message.
func (c *Client) SendMessage(ctx context.Context, to, text string, opts messages.TextOptions) (*messages.SendResult, error) {
	h, err := c.Messages()
	if err != nil {
		return nil, err
	}
	return h.SendText(ctx, to, text, opts)
}

// SendMedia sends a file, detecting its type when mediaType is empty.
func (c *Client) SendMedia(ctx context.Context, to, path string, mediaType media.Type, opts media.Options) (*media.SendResult, error) {
	h, err := c.Media()
	if err != nil {
		return nil, err
	}
	return h.Send(ctx, to, path, mediaType, opts)
}

func (c *Client) OfferCall(ctx context.Context, to string) (*calls.Call, error) {
	m, err := c.Calls()
	if err != nil {
		return nil, err
	}
	return m.Offer(ctx, to)
}

func (c *Client) ListGroups() ([]groups.Group, error) {
	m, err := c.Groups()
	if err != nil {
		return nil, err
	}
	return m.List(), nil
}

func (c *Client) CreateGroup(ctx context.Context, name string, participants []string, opts groups.CreateOptions) (*groups.Group, error) {
	m, err := c.Groups()
	if err != nil {
		return nil, err
	}
	return m.Create(ctx, name, participants, opts)
}

func (c *Client) ProfileInfo(target string) (*messages.Profile, error) {
	h, err := c.Messages()
	if err != nil {
		return nil, err
	}
	return h.ProfileInfo(target)
}

func (c *Client) SetProfilePicture(ctx context.Context, path string) (*media.UpdateResult, error) {
	h, err := c.Media()
	if err != nil {
		return nil, err
	}
	return h.SetProfilePicture(ctx, path)
}

func (c *Client) ensureConnected() error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("session %s: %w", c.sessionID, errs.ErrNotConnected)
	}
	return nil
}

func (c *Client) logger() *slog.Logger {
	return slog.With("session", c.sessionID)
}
