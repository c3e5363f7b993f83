package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 32 << 20
)

// peer holds the connection state shared by both websocket ends.
type peer struct {
	id     string
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(conn *websocket.Conn, logger *zap.Logger) *peer {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	conn.SetReadLimit(maxMessageSize)
	return &peer{
		id:     id,
		conn:   conn,
		logger: logger.With(zap.String("peer", id)),
		done:   make(chan struct{}),
	}
}

func (p *peer) write(ctx context.Context, event string, payload any) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", event, err)
		}
		raw = b
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := p.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := p.conn.WriteJSON(Envelope{Event: event, Payload: raw}); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// readLoop decodes envelopes until the connection fails, handing each to fn.
func (p *peer) readLoop(fn func(Envelope) bool) {
	defer p.close()
	for {
		var env Envelope
		if err := p.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Warn("IPC connection closed unexpectedly", zap.Error(err))
			}
			return
		}
		if !fn(env) {
			return
		}
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.writeMu.Lock()
		_ = p.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		p.writeMu.Unlock()
		_ = p.conn.Close()
	})
}

// WSCaller is the caller end of a websocket channel.
type WSCaller struct {
	*peer
	responses chan InboundResponse
	ready     chan struct{}
	readyOnce sync.Once
	session   string
}

// Dial connects to the host's websocket endpoint.
func Dial(ctx context.Context, url string, header http.Header, logger *zap.Logger) (*WSCaller, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial host %s: %w", url, err)
	}
	return NewWSCaller(conn, logger), nil
}

// NewWSCaller wraps an established connection.
func NewWSCaller(conn *websocket.Conn, logger *zap.Logger) *WSCaller {
	c := &WSCaller{
		peer:      newPeer(conn, logger),
		responses: make(chan InboundResponse, 64),
		ready:     make(chan struct{}),
	}
	go c.readLoop(c.dispatch)
	return c
}

func (c *WSCaller) dispatch(env Envelope) bool {
	switch env.Event {
	case EventHostReady:
		c.readyOnce.Do(func() {
			var hr HostReady
			if len(env.Payload) > 0 {
				if err := json.Unmarshal(env.Payload, &hr); err != nil {
					c.logger.Warn("Ignoring undecodable ready payload", zap.Error(err))
				}
			}
			c.session = hr.SessionID
			close(c.ready)
		})
	case EventInboundResponse:
		var res InboundResponse
		if err := json.Unmarshal(env.Payload, &res); err != nil {
			c.logger.Warn("Dropping undecodable response", zap.Error(err))
			return true
		}
		select {
		case c.responses <- res:
		case <-c.done:
			return false
		}
	default:
		c.logger.Warn("Ignoring unknown event", zap.String("event", env.Event))
	}
	return true
}

func (c *WSCaller) Send(ctx context.Context, req OutboundRequest) error {
	return c.write(ctx, EventOutboundRequest, req)
}

func (c *WSCaller) Responses() <-chan InboundResponse { return c.responses }
func (c *WSCaller) Ready() <-chan struct{}            { return c.ready }
func (c *WSCaller) Done() <-chan struct{}             { return c.done }

// SessionID returns the host's id for this connection. It is empty until
// Ready is closed.
func (c *WSCaller) SessionID() string {
	select {
	case <-c.ready:
		return c.session
	default:
		return ""
	}
}

// Close terminates the connection.
func (c *WSCaller) Close() error {
	c.close()
	return nil
}

// WSHost is the host end of a websocket channel.
type WSHost struct {
	*peer
	requests chan OutboundRequest
}

// AcceptHost wraps an upgraded connection and announces readiness to the
// caller.
func AcceptHost(ctx context.Context, conn *websocket.Conn, logger *zap.Logger) (*WSHost, error) {
	h := NewWSHost(conn, logger)
	if err := h.Start(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// NewWSHost wraps an upgraded connection without announcing it. Callers that
// key state by SessionID register it before calling Start.
func NewWSHost(conn *websocket.Conn, logger *zap.Logger) *WSHost {
	return &WSHost{
		peer:     newPeer(conn, logger),
		requests: make(chan OutboundRequest, 64),
	}
}

// Start sends EventHostReady and begins reading requests.
func (h *WSHost) Start(ctx context.Context) error {
	if err := h.write(ctx, EventHostReady, HostReady{SessionID: h.id}); err != nil {
		h.close()
		return err
	}
	go h.readLoop(h.dispatch)
	return nil
}

func (h *WSHost) dispatch(env Envelope) bool {
	if env.Event != EventOutboundRequest {
		h.logger.Warn("Ignoring unknown event", zap.String("event", env.Event))
		return true
	}
	var req OutboundRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		h.logger.Warn("Dropping undecodable request", zap.Error(err))
		return true
	}
	select {
	case h.requests <- req:
	case <-h.done:
		return false
	}
	return true
}

func (h *WSHost) Requests() <-chan OutboundRequest { return h.requests }
func (h *WSHost) Done() <-chan struct{}            { return h.done }

// SessionID returns the id announced to the caller in EventHostReady.
func (h *WSHost) SessionID() string { return h.id }

func (h *WSHost) Reply(ctx context.Context, res InboundResponse) error {
	return h.write(ctx, EventInboundResponse, res)
}

// Close terminates the connection.
func (h *WSHost) Close() error {
	h.close()
	return nil
}
