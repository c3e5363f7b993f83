package bridge

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/trackerbridge/internal/guard"
	"github.com/GriffinCanCode/trackerbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/trackerbridge/internal/ipc"
	"github.com/GriffinCanCode/trackerbridge/internal/notify"
	"github.com/GriffinCanCode/trackerbridge/internal/session"
	"github.com/GriffinCanCode/trackerbridge/internal/shared/id"
)

const (
	// DefaultTimeout is how long a dispatched request may stay pending.
	DefaultTimeout = 200 * time.Second
	// DefaultBaseURL is the tracker REST root request pathnames resolve against.
	DefaultBaseURL = "https://api.clickup.com/api/v2"

	// UnblockBannerID identifies the access-blocked banner.
	UnblockBannerID = "tracker-unblock"

	storeTimeout = 2 * time.Second
)

// Transform maps a raw response payload to the caller's result.
type Transform func(payload any, auth ipc.AuthConfig) (any, error)

// Request describes one tracker call.
type Request struct {
	// Pathname is relative to the base URL, e.g. "task/abc".
	Pathname string
	// Method defaults to GET.
	Method    string
	Query     url.Values
	Body      any
	Transform Transform
	// Force bypasses the access guard. Only credential tests should set it.
	Force bool
}

// CookiePrompt asks the user for the tracker session cookie. An error or an
// empty value means none was given.
type CookiePrompt func(ctx context.Context, host string) (string, error)

// Options configures a Bridge.
type Options struct {
	// Channel is the connection to the host. A nil channel makes every Send
	// fail with ErrExtensionNotLoaded.
	Channel ipc.Caller
	// Guard defaults to a guard backed by Store.
	Guard *guard.Guard
	// Store holds session state. Defaults to an in-memory store.
	Store    session.Store
	Notifier notify.Notifier
	// Online reports network reachability. Nil means always online.
	Online       func() bool
	Timeout      time.Duration
	BaseURL      string
	CookiePrompt CookiePrompt
	Metrics      *monitoring.Metrics
	Logger       *zap.Logger
	Clock        Clock
	IDs          *id.Generator
}

type pendingRequest struct {
	future    *Future
	transform Transform
	init      ipc.RequestInit
	url       string
	auth      ipc.AuthConfig
	timer     Timer
	started   time.Time
}

// Bridge correlates requests sent to the host with the responses it
// returns. It is safe for concurrent use.
type Bridge struct {
	channel      ipc.Caller
	guard        *guard.Guard
	store        session.Store
	notifier     notify.Notifier
	online       func() bool
	timeout      time.Duration
	baseURL      string
	cookiePrompt CookiePrompt
	metrics      *monitoring.Metrics
	logger       *zap.Logger
	clock        Clock
	ids          *id.Generator

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool // channel closed and pending entries abandoned
}

// New creates a bridge.
func New(opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Store == nil {
		opts.Store = session.NewMemoryStore()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLogNotifier(opts.Logger)
	}
	if opts.Online == nil {
		opts.Online = func() bool { return true }
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.IDs == nil {
		opts.IDs = id.Default()
	}
	if opts.Guard == nil {
		m := opts.Metrics
		opts.Guard = guard.New(guard.Options{
			Store:     opts.Store,
			Logger:    opts.Logger.Named("guard"),
			OnTrip:    func(r guard.Reason) { m.RecordGuardTrip(string(r)) },
			OnUnblock: m.RecordGuardUnblock,
		})
	}

	return &Bridge{
		channel:      opts.Channel,
		guard:        opts.Guard,
		store:        opts.Store,
		notifier:     opts.Notifier,
		online:       opts.Online,
		timeout:      opts.Timeout,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		cookiePrompt: opts.CookiePrompt,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		clock:        opts.Clock,
		ids:          opts.IDs,
		pending:      make(map[string]*pendingRequest),
	}
}

// Start consumes host responses until ctx ends or the channel closes. When
// the channel closes, responses already delivered are still handled and the
// requests left pending fail with ErrChannelClosed.
func (b *Bridge) Start(ctx context.Context) {
	if b.channel == nil {
		return
	}
	go func() {
		for {
			select {
			case res := <-b.channel.Responses():
				b.HandleResponse(res)
			case <-b.channel.Done():
				b.drain()
				b.abandon()
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Guard returns the access guard used by the bridge.
func (b *Bridge) Guard() *guard.Guard { return b.guard }

// Unblock lifts the access guard.
func (b *Bridge) Unblock() { b.guard.Unblock() }

// Pending returns the number of in-flight requests.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// HasPending reports whether requestID is in flight.
func (b *Bridge) HasPending(requestID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[requestID]
	return ok
}

// Send dispatches req to the host. Precondition failures return an already
// settled Future and never create a pending entry. Send panics if
// req.Pathname is empty.
func (b *Bridge) Send(ctx context.Context, req Request, auth ipc.AuthConfig) *Future {
	if req.Pathname == "" {
		panic("bridge: Send called without a pathname")
	}

	if b.channel != nil {
		select {
		case <-b.channel.Ready():
		case <-ctx.Done():
			return b.refuse("not_ready", fmt.Errorf("%w: %w", ErrNotReady, ctx.Err()))
		case <-b.channel.Done():
			return b.refuse("not_ready", fmt.Errorf("%w: %w", ErrNotReady, ipc.ErrClosed))
		}
	}

	if auth.CookieMode {
		cookie, err := b.acquireCookie(ctx, auth.Host)
		if err != nil {
			b.guard.Trip(guard.ReasonCookieMissing)
			b.notifier.Notify(notify.Notification{Type: notify.TypeError, Message: "Tracker: " + err.Error()})
			return b.refuse("cookie", err)
		}
		auth.Cookie = cookie
	}

	if !b.online() {
		b.notifier.Notify(notify.Notification{
			Type:    notify.TypeCustom,
			Message: "No connection to the tracker",
			Icon:    "cloud_off",
		})
		return b.refuse("offline", ErrOffline)
	}

	if b.channel == nil || auth.Credential == "" {
		err := ErrInsufficientConfig
		if b.channel == nil {
			err = ErrExtensionNotLoaded
		}
		b.notifier.Notify(notify.Notification{Type: notify.TypeError, Message: "Tracker: " + err.Error()})
		return b.refuse("config", err)
	}

	if err := b.guard.Allow(req.Force); err != nil {
		b.logger.Error("Blocked tracker access to prevent being shut out", zap.String("pathname", req.Pathname))
		b.notifier.Notify(notify.Notification{
			ID:      UnblockBannerID,
			Type:    notify.TypeBanner,
			Message: ErrAccessBlocked.Error(),
			Icon:    "tracker",
			Action:  &notify.Action{Label: "Unblock", Fn: b.Unblock},
		})
		return b.refuse("blocked", ErrAccessBlocked)
	}

	return b.dispatch(ctx, req, auth)
}

func (b *Bridge) refuse(reason string, err error) *Future {
	b.metrics.RecordRejected(reason)
	return failed(err)
}

func (b *Bridge) acquireCookie(ctx context.Context, host string) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if cookie, ok, err := b.store.Get(sctx, session.WonkyCookieKey); err != nil {
		b.logger.Warn("Failed to read cached tracker cookie", zap.Error(err))
	} else if ok && cookie != "" {
		return cookie, nil
	}

	if b.cookiePrompt == nil {
		return "", ErrCookieRequired
	}
	cookie, err := b.cookiePrompt(ctx, host)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCookieRequired, err)
	}
	if cookie == "" {
		return "", ErrCookieRequired
	}

	if err := b.store.Set(sctx, session.WonkyCookieKey, cookie); err != nil {
		b.logger.Warn("Failed to cache tracker cookie", zap.Error(err))
	}
	return cookie, nil
}

func (b *Bridge) dispatch(ctx context.Context, req Request, auth ipc.AuthConfig) *Future {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = "GET"
	}

	init := ipc.RequestInit{
		Method: method,
		Headers: map[string]string{
			"Authorization": auth.Credential,
			"Content-Type":  "application/json",
		},
	}
	if req.Body != nil {
		body, err := sonic.Marshal(req.Body)
		if err != nil {
			return b.refuse("body", fmt.Errorf("encode request body: %w", err))
		}
		init.Body = string(body)
	}

	requestID := b.ids.RequestID(req.Pathname, method)
	target := b.url(req.Pathname, req.Query)

	p := &pendingRequest{
		future:    newFuture(requestID),
		transform: req.Transform,
		init:      init,
		url:       target,
		auth:      auth,
		started:   b.clock.Now(),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.reject(p, monitoring.OutcomeChannelClosed, ErrChannelClosed)
		return p.future
	}
	b.pending[requestID] = p
	p.timer = b.clock.AfterFunc(b.timeout, func() { b.expire(requestID) })
	b.mu.Unlock()
	b.metrics.PendingAdded()

	b.logger.Debug("Dispatching tracker request",
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("url", target),
	)

	out := ipc.OutboundRequest{
		RequestID:   requestID,
		RequestInit: init,
		URL:         target,
		AuthConfig:  auth,
	}
	if err := b.channel.Send(ctx, out); err != nil {
		if b.take(requestID) != nil {
			p.timer.Stop()
			b.reject(p, monitoring.OutcomeSendFailed, fmt.Errorf("send tracker request: %w", err))
		}
	}
	return p.future
}

func (b *Bridge) url(pathname string, query url.Values) string {
	u := b.baseURL + "/" + strings.TrimLeft(pathname, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// take removes and returns the pending entry for requestID, or nil if no
// entry exists. The caller that gets the entry owns its settlement.
func (b *Bridge) take(requestID string) *pendingRequest {
	b.mu.Lock()
	p, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
	}
	b.mu.Unlock()

	if !ok {
		return nil
	}
	b.metrics.PendingRemoved()
	return p
}

// HandleResponse settles the pending request res belongs to. Responses for
// unknown ids, including late answers to timed out requests, are dropped.
func (b *Bridge) HandleResponse(res ipc.InboundResponse) {
	p := b.take(res.RequestID)
	if p == nil {
		b.metrics.RecordUnknownID()
		b.logger.Warn("Tracker response request id not pending", zap.String("request_id", res.RequestID))
		return
	}
	p.timer.Stop()

	if res.Error != nil {
		herr := &HostError{
			RequestID:  res.RequestID,
			StatusCode: res.Error.StatusCode,
			Message:    res.Error.Message,
			Auth:       IsAuthFailure(res.Error.StatusCode, res.Error.Message),
		}
		b.logger.Error("Tracker response error",
			zap.String("request_id", res.RequestID),
			zap.Int("status", herr.StatusCode),
			zap.String("message", herr.Message),
		)
		outcome := monitoring.OutcomeHostError
		if herr.Auth {
			outcome = monitoring.OutcomeAuthFailure
			b.guard.Trip(guard.ReasonAuthFailure)
		}
		b.reject(p, outcome, herr)
		return
	}

	if p.transform == nil {
		b.resolve(p, res.Response)
		return
	}

	value, err := applyTransform(p.transform, res.Response, p.auth)
	if err != nil {
		b.logger.Error("Tracker response transform failed",
			zap.String("request_id", res.RequestID),
			zap.Error(err),
		)
		b.reject(p, monitoring.OutcomeTransformFailed, &TransformError{RequestID: res.RequestID, Err: err})
		return
	}
	b.resolve(p, value)
}

func applyTransform(t Transform, payload any, auth ipc.AuthConfig) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("transform panicked: %v", r)
		}
	}()
	return t(payload, auth)
}

func (b *Bridge) expire(requestID string) {
	p := b.take(requestID)
	if p == nil {
		return
	}

	b.logger.Error("Tracker request timed out",
		zap.String("request_id", requestID),
		zap.String("method", p.init.Method),
		zap.String("url", p.url),
	)
	b.guard.Trip(guard.ReasonTimeout)
	b.reject(p, monitoring.OutcomeTimeout, ErrTimeout)
}

// drain handles responses the channel buffered before it closed.
func (b *Bridge) drain() {
	for {
		select {
		case res := <-b.channel.Responses():
			b.HandleResponse(res)
		default:
			return
		}
	}
}

// abandon rejects every request still pending on a closed channel. The guard
// is left untouched.
func (b *Bridge) abandon() {
	b.mu.Lock()
	b.closed = true
	left := make([]*pendingRequest, 0, len(b.pending))
	for requestID, p := range b.pending {
		delete(b.pending, requestID)
		left = append(left, p)
	}
	b.mu.Unlock()

	if len(left) > 0 {
		b.logger.Warn("Tracker channel closed with requests pending", zap.Int("pending", len(left)))
	}
	for _, p := range left {
		p.timer.Stop()
		b.metrics.PendingRemoved()
		b.reject(p, monitoring.OutcomeChannelClosed, ErrChannelClosed)
	}
}

func (b *Bridge) resolve(p *pendingRequest, value any) {
	p.future.settle(value, nil)
	b.metrics.RecordBridgeResult(p.init.Method, monitoring.OutcomeSuccess, b.clock.Now().Sub(p.started))
}

func (b *Bridge) reject(p *pendingRequest, outcome string, err error) {
	p.future.settle(nil, err)
	b.metrics.RecordBridgeResult(p.init.Method, outcome, b.clock.Now().Sub(p.started))
	b.notifier.Notify(notify.Notification{Type: notify.TypeError, Message: "Tracker: " + err.Error()})
}
