package host

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/trackerbridge/internal/host/inject"
	"github.com/GriffinCanCode/trackerbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/trackerbridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/trackerbridge/internal/ipc"
)

const (
	DefaultHTTPTimeout = 60 * time.Second
	userAgent          = "trackerbridge-host/1.0"

	// MaxAttachmentBytes caps proxied attachment downloads.
	MaxAttachmentBytes = 25 << 20
	errorBodySnippet   = 512
)

var (
	// ErrStatus marks non-2xx tracker responses.
	ErrStatus               = errors.New("tracker responded with an error status")
	// ErrAttachmentNotAllowed is returned for attachment URLs outside every
	// installed credential filter.
	ErrAttachmentNotAllowed = errors.New("attachment url is not covered by an installed tracker filter")
)

// StatusError is a non-2xx tracker response.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.URL, e.Status)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// TLSPolicy is the certificate policy of a single call.
type TLSPolicy struct {
	AllowSelfSigned bool
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	Registry *inject.Registry
	// RequestsPerSecond limits outbound calls. Zero or less means unlimited.
	RequestsPerSecond float64
	Timeout           time.Duration
	Breaker           *resilience.Breaker
	Metrics           *monitoring.Metrics
	Logger            *zap.Logger
}

// Executor performs tracker calls on behalf of the bridge.
type Executor struct {
	secure   *resty.Client
	insecure *resty.Client
	// attachment downloads are idempotent and retried
	secureFetch   *retryablehttp.Client
	insecureFetch *retryablehttp.Client

	registry *inject.Registry
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewExecutor builds an executor with a certificate-verifying and a
// non-verifying client sharing the same injecting transport setup.
func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.Registry == nil {
		opts.Registry = inject.NewRegistry()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultHTTPTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger
	if opts.Breaker == nil {
		opts.Breaker = resilience.New("tracker", resilience.Settings{
			MaxProbes: 1,
			Cooldown:  30 * time.Second,
			ShouldTrip: func(c resilience.Counts) bool {
				return c.ConsecutiveFailures >= 10
			},
			IsFailure: IsHostFailure,
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	secureT, insecureT := transports()
	secure := inject.NewTransport(secureT, opts.Registry)
	insecure := inject.NewTransport(insecureT, opts.Registry)

	return &Executor{
		secure:        newResty(secure, opts.Timeout),
		insecure:      newResty(insecure, opts.Timeout),
		secureFetch:   newFetcher(secure, opts.Timeout),
		insecureFetch: newFetcher(insecure, opts.Timeout),
		registry:      opts.Registry,
		limiter:       limiter,
		breaker:       opts.Breaker,
		metrics:       opts.Metrics,
		logger:        logger,
	}
}

// transports returns two pooled transports, the second one skipping
// certificate verification.
func transports() (*http.Transport, *http.Transport) {
	base, ok := retryablehttp.NewClient().HTTPClient.Transport.(*http.Transport)
	if !ok {
		base = http.DefaultTransport.(*http.Transport)
	}
	secure := base.Clone()
	insecure := base.Clone()
	insecure.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per call for self-signed trackers
	return secure, insecure
}

func newResty(rt http.RoundTripper, timeout time.Duration) *resty.Client {
	return resty.New().
		SetTransport(rt).
		SetTimeout(timeout).
		SetCookieJar(nil).
		SetHeader("User-Agent", userAgent)
}

func newFetcher(rt http.RoundTripper, timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.HTTPClient = &http.Client{Transport: rt, Timeout: timeout, CheckRedirect: checkAttachmentRedirect}
	c.RetryMax = 2
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if errors.Is(err, ErrAttachmentNotAllowed) {
			return false, err
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	c.Logger = nil
	return c
}

func checkAttachmentRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	if reg, ok := inject.RegistryFrom(req.Context()); ok {
		if _, ok := reg.Lookup(req.URL); !ok {
			return fmt.Errorf("redirect to %s: %w", req.URL.Redacted(), ErrAttachmentNotAllowed)
		}
	}
	return nil
}

// Registry returns the injector registry used by the executor's transports
// when the request context carries none.
func (e *Executor) Registry() *inject.Registry { return e.registry }

func (e *Executor) client(policy TLSPolicy) *resty.Client {
	if policy.AllowSelfSigned {
		return e.insecure
	}
	return e.secure
}

// Execute performs one tracker call. A 2xx response with an empty body
// yields an empty map; any other body must be valid JSON.
func (e *Executor) Execute(ctx context.Context, target string, init ipc.RequestInit, policy TLSPolicy) (any, error) {
	method := init.Method
	if method == "" {
		method = http.MethodGet
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req := e.client(policy).R().SetContext(ctx).SetHeaders(init.Headers)
	if init.Body != "" {
		req.SetBody(init.Body)
	}

	start := time.Now()
	resp, err := resilience.Call(e.breaker, func() (*resty.Response, error) {
		resp, err := req.Execute(method, target)
		if err != nil {
			return resp, err
		}
		if !resp.IsSuccess() {
			return resp, &StatusError{StatusCode: resp.StatusCode(), Status: resp.Status(), URL: target}
		}
		return resp, nil
	})
	e.metrics.RecordHostCall(method, statusLabel(resp, err), time.Since(start))

	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			e.logger.Error("Tracker error response",
				zap.String("method", method),
				zap.String("url", target),
				zap.Int("status", se.StatusCode),
				zap.ByteString("body", snippet(resp.Body())),
			)
			return nil, err
		}
		e.logger.Error("Tracker request failed",
			zap.String("method", method),
			zap.String("url", target),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}

	return decodeBody(resp.Body())
}

func decodeBody(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := sonic.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode tracker response: %w", err)
	}
	return v, nil
}

func statusLabel(resp *resty.Response, err error) string {
	if resp != nil && resp.RawResponse != nil {
		return strconv.Itoa(resp.StatusCode())
	}
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return "circuit_open"
	}
	return "error"
}

func snippet(b []byte) []byte {
	if len(b) > errorBodySnippet {
		return b[:errorBodySnippet]
	}
	return b
}

// IsHostFailure reports whether err says the tracker is unhealthy rather
// than that it rejected one request. Used as the breaker's classifier.
func IsHostFailure(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError
	}
	return !errors.Is(err, inject.ErrRequestCancelled) && !errors.Is(err, context.Canceled)
}

// ErrorPayload converts an Execute error into the payload sent back to the
// bridge. Status failures carry the status code and its text, so
// credential rejections read as "Unauthorized" or "Forbidden".
func ErrorPayload(err error) *ipc.ErrorPayload {
	var se *StatusError
	if errors.As(err, &se) {
		msg := http.StatusText(se.StatusCode)
		if msg == "" {
			msg = se.Status
		}
		return &ipc.ErrorPayload{StatusCode: se.StatusCode, Message: msg}
	}
	return &ipc.ErrorPayload{Message: err.Error()}
}

// Attachment is a proxied tracker file.
type Attachment struct {
	Body        []byte
	ContentType string
}

// ProxyAttachment downloads a tracker-hosted file with credentials from reg.
// Only URLs matched by a filter installed in reg are fetched; a nil reg
// falls back to the executor's registry. The content type is sniffed when
// the tracker does not send a specific one.
func (e *Executor) ProxyAttachment(ctx context.Context, reg *inject.Registry, rawURL string, policy TLSPolicy) (*Attachment, error) {
	if reg == nil {
		reg = e.registry
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse attachment url: %w", err)
	}
	if _, ok := reg.Lookup(u); !ok {
		return nil, fmt.Errorf("%s: %w", u.Redacted(), ErrAttachmentNotAllowed)
	}

	fetch := e.secureFetch
	if policy.AllowSelfSigned {
		fetch = e.insecureFetch
	}

	req, err := retryablehttp.NewRequestWithContext(inject.WithRegistry(ctx, reg), http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build attachment request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := fetch.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, URL: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if len(body) > MaxAttachmentBytes {
		return nil, fmt.Errorf("attachment exceeds %d bytes", MaxAttachmentBytes)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = mimetype.Detect(body).String()
	}
	return &Attachment{Body: body, ContentType: ct}, nil
}
