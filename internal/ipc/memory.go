package ipc

import (
	"context"
	"sync"
)

type pipe struct {
	requests  chan OutboundRequest
	responses chan InboundResponse
	done      chan struct{}
	once      sync.Once
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.done) })
}

// MemoryCaller is the caller end of an in-memory pipe.
type MemoryCaller struct {
	p         *pipe
	ready     chan struct{}
	readyOnce sync.Once
}

// MemoryHost is the host end of an in-memory pipe.
type MemoryHost struct {
	p *pipe
}

// NewMemoryPipe returns two connected ends. The caller end is ready
// immediately.
func NewMemoryPipe(buffer int) (*MemoryCaller, *MemoryHost) {
	c, h := newMemoryPipe(buffer)
	c.MarkReady()
	return c, h
}

// NewHandshakeMemoryPipe returns two connected ends whose caller end only
// becomes ready after MarkReady is called.
func NewHandshakeMemoryPipe(buffer int) (*MemoryCaller, *MemoryHost) {
	return newMemoryPipe(buffer)
}

func newMemoryPipe(buffer int) (*MemoryCaller, *MemoryHost) {
	p := &pipe{
		requests:  make(chan OutboundRequest, buffer),
		responses: make(chan InboundResponse, buffer),
		done:      make(chan struct{}),
	}
	return &MemoryCaller{p: p, ready: make(chan struct{})}, &MemoryHost{p: p}
}

// MarkReady completes the handshake. Safe to call more than once.
func (c *MemoryCaller) MarkReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *MemoryCaller) Send(ctx context.Context, req OutboundRequest) error {
	select {
	case <-c.p.done:
		return ErrClosed
	default:
	}

	select {
	case c.p.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.p.done:
		return ErrClosed
	}
}

func (c *MemoryCaller) Responses() <-chan InboundResponse { return c.p.responses }
func (c *MemoryCaller) Ready() <-chan struct{}            { return c.ready }
func (c *MemoryCaller) Done() <-chan struct{}             { return c.p.done }

// Close shuts down both ends.
func (c *MemoryCaller) Close() error {
	c.p.close()
	return nil
}

func (h *MemoryHost) Requests() <-chan OutboundRequest { return h.p.requests }
func (h *MemoryHost) Done() <-chan struct{}            { return h.p.done }

func (h *MemoryHost) Reply(ctx context.Context, res InboundResponse) error {
	select {
	case <-h.p.done:
		return ErrClosed
	default:
	}

	select {
	case h.p.responses <- res:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.p.done:
		return ErrClosed
	}
}

// Close shuts down both ends.
func (h *MemoryHost) Close() error {
	h.p.close()
	return nil
}
