package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

const (
	defaultDialTimeout    = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

var errConnLost = errors.New("connection to backend lost")

// Config configures a WSTransport.
type Config struct {
	URL       string // e.g. ws://127.0.0.1:8787/ws
	Token     string // bearer token presented in the connect handshake
	SessionID string

	DialTimeout    time.Duration
	RequestTimeout time.Duration

	// RateLimit caps outbound Send calls per second (0 = unlimited).
	RateLimit float64
	Burst     int

	// Retry applies to the websocket dial only; handshake rejections fail at once.
	Retry RetryConfig

	OnEvent EventHandler
}

// WSTransport speaks the protocol package's frames to a backend bridge over a
// single websocket. The connection is dialled lazily and re-dialled after
// Close or a read failure. A background read loop routes responses to the
// waiting caller by request ID and hands events to Config.OnEvent.
type WSTransport struct {
	cfg     Config
	limiter *rate.Limiter
	tracer  trace.Tracer

	dialMu  sync.Mutex
	writeMu sync.Mutex

	mu      sync.Mutex // guards conn and pending
	conn    *websocket.Conn
	pending map[string]chan *protocol.ResponseFrame
}

// NewWSTransport creates a transport; no connection is made until first use.
func NewWSTransport(cfg Config) *WSTransport {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	t := &WSTransport{
		cfg:     cfg,
		tracer:  otel.Tracer("github.com/nextlevelbuilder/walink/internal/backend"),
		pending: make(map[string]chan *protocol.ResponseFrame),
	}
	t.SetRateLimit(cfg.RateLimit, cfg.Burst)
	return t
}

// SetRateLimit replaces the outbound limit. Safe to call while in use
// (config hot reload).
func (t *WSTransport) SetRateLimit(perSecond float64, burst int) {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limiter == nil {
		t.limiter = rate.NewLimiter(limit, burst)
		return
	}
	t.limiter.SetLimit(limit)
	t.limiter.SetBurst(burst)
}

func (t *WSTransport) Send(ctx context.Context, jid string, payload json.RawMessage, messageType string) (*SendResult, error) {
	t.mu.Lock()
	limiter := t.limiter
	t.mu.Unlock()
	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", errs.ErrTransport, err)
	}

	params := map[string]interface{}{
		"jid":     jid,
		"payload": payload,
		"type":    messageType,
	}
	var result SendResult
	if err := t.call(ctx, protocol.MethodSend, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *WSTransport) AuthStatus(ctx context.Context) (*AuthStatus, error) {
	var status AuthStatus
	if err := t.call(ctx, protocol.MethodAuthStatus, map[string]string{"sessionId": t.cfg.SessionID}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Close sends a close frame and drops the connection. Pending calls fail.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.failPendingLocked()
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	t.writeMu.Unlock()

	cerr := conn.Close()
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		return werr
	}
	return cerr
}

func (t *WSTransport) call(ctx context.Context, method string, params, out interface{}) error {
	ctx, span := t.tracer.Start(ctx, "backend."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("walink.session_id", t.cfg.SessionID)),
	)
	defer span.End()

	err := t.roundTrip(ctx, method, params, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (t *WSTransport) roundTrip(ctx context.Context, method string, params, out interface{}) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}

	ch := make(chan *protocol.ResponseFrame, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.write(conn, req); err != nil {
		t.dropConn(conn)
		return fmt.Errorf("%w: send %s: %v", errs.ErrTransport, method, err)
	}

	timer := time.NewTimer(t.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%w: %s: %v", errs.ErrTransport, method, errConnLost)
		}
		if !resp.OK {
			return remoteError(resp)
		}
		if out != nil && len(resp.Payload) > 0 {
			if err := json.Unmarshal(resp.Payload, out); err != nil {
				return fmt.Errorf("%w: decode %s response: %v", errs.ErrTransport, method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: %s: no response after %s", errs.ErrTransport, method, t.cfg.RequestTimeout)
	}
}

func remoteError(resp *protocol.ResponseFrame) error {
	if resp.Error == nil {
		return &RemoteError{Code: protocol.ErrInternal, Message: "unknown error"}
	}
	return &RemoteError{Code: resp.Error.Code, Message: resp.Error.Message}
}

func (t *WSTransport) write(conn *websocket.Conn, v interface{}) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(t.cfg.RequestTimeout))
	return conn.WriteJSON(v)
}

// connect returns the live connection, dialling and handshaking if needed.
func (t *WSTransport) connect(ctx context.Context) (*websocket.Conn, error) {
	t.dialMu.Lock()
	defer t.dialMu.Unlock()

	t.mu.Lock()
	cur := t.conn
	t.mu.Unlock()
	if cur != nil {
		return cur, nil
	}

	if t.cfg.URL == "" {
		return nil, fmt.Errorf("%w: backend url is not configured", errs.ErrTransport)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.cfg.DialTimeout,
	}
	header := http.Header{}
	if t.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+t.cfg.Token)
	}

	var conn *websocket.Conn
	attempts, err := Retry(ctx, t.cfg.Retry, func() error {
		dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
		defer cancel()
		c, _, derr := dialer.DialContext(dialCtx, t.cfg.URL, header)
		if derr != nil {
			slog.Debug("backend dial failed", "url", t.cfg.URL, "error", derr)
			return derr
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect to backend at %s after %d attempt(s): %v", errs.ErrTransport, t.cfg.URL, attempts, err)
	}

	if err := t.handshake(conn); err != nil {
		conn.Close()
		return nil, err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)

	slog.Debug("backend connected", "url", t.cfg.URL, "session", t.cfg.SessionID)
	return conn, nil
}

func (t *WSTransport) handshake(conn *websocket.Conn) error {
	req, _ := protocol.NewRequest("walink-connect", protocol.MethodConnect, map[string]interface{}{
		"token":     t.cfg.Token,
		"protocol":  protocol.ProtocolVersion,
		"sessionId": t.cfg.SessionID,
	})
	if err := t.write(conn, req); err != nil {
		return fmt.Errorf("%w: send connect: %v", errs.ErrTransport, err)
	}

	conn.SetReadDeadline(time.Now().Add(t.cfg.DialTimeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: read connect response: %v", errs.ErrTransport, err)
		}
		frameType, _ := protocol.ParseFrameType(msg)
		if frameType == protocol.FrameTypeEvent {
			continue // bridge may announce state before answering
		}

		var resp protocol.ResponseFrame
		if err := json.Unmarshal(msg, &resp); err != nil {
			return fmt.Errorf("%w: parse connect response: %v", errs.ErrTransport, err)
		}
		if resp.ID != req.ID {
			continue
		}
		if !resp.OK {
			return fmt.Errorf("connect rejected: %w", remoteError(&resp))
		}
		return nil
	}
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	defer t.dropConn(conn)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				slog.Debug("backend read loop ended", "error", err)
			}
			return
		}

		frameType, err := protocol.ParseFrameType(msg)
		if err != nil {
			slog.Warn("backend: unparseable frame", "error", err)
			continue
		}

		switch frameType {
		case protocol.FrameTypeResponse:
			var resp protocol.ResponseFrame
			if err := json.Unmarshal(msg, &resp); err != nil {
				slog.Warn("backend: bad response frame", "error", err)
				continue
			}
			t.mu.Lock()
			ch := t.pending[resp.ID]
			delete(t.pending, resp.ID)
			t.mu.Unlock()
			if ch != nil {
				ch <- &resp
			}

		case protocol.FrameTypeEvent:
			var ev protocol.EventFrame
			if err := json.Unmarshal(msg, &ev); err != nil {
				slog.Warn("backend: bad event frame", "error", err)
				continue
			}
			if t.cfg.OnEvent != nil {
				t.cfg.OnEvent(ev)
			}
		}
	}
}

// dropConn forgets conn (if still current) and fails every pending call.
func (t *WSTransport) dropConn(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
		t.failPendingLocked()
	}
	t.mu.Unlock()
	conn.Close()
}

// failPendingLocked closes every waiting channel. Must be called with t.mu held.
func (t *WSTransport) failPendingLocked() {
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}
