package host

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/trackerbridge/internal/host/inject"
	"github.com/GriffinCanCode/trackerbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/trackerbridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/trackerbridge/internal/ipc"
)

func newTestExecutor(t *testing.T, opts ExecutorOptions) (*Executor, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	opts.Logger = zap.New(core)
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	return NewExecutor(opts), logs
}

func TestExecuteDecodesBody(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   any
	}{
		{name: "object", status: http.StatusOK, body: `{"user":{"id":7}}`, want: map[string]any{"user": map[string]any{"id": float64(7)}}},
		{name: "array", status: http.StatusOK, body: `[1,2]`, want: []any{float64(1), float64(2)}},
		{name: "empty body", status: http.StatusOK, body: "", want: map[string]any{}},
		{name: "no content", status: http.StatusNoContent, body: "", want: map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			e, _ := newTestExecutor(t, ExecutorOptions{})
			got, err := e.Execute(context.Background(), srv.URL, ipc.RequestInit{Method: "GET"}, TLSPolicy{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecuteInvalidJSONIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>oops</html>")
	}))
	defer srv.Close()

	e, _ := newTestExecutor(t, ExecutorOptions{})
	_, err := e.Execute(context.Background(), srv.URL, ipc.RequestInit{}, TLSPolicy{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode tracker response")
}

func TestExecuteForwardsRequest(t *testing.T) {
	var (
		method, auth, ctype, body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		auth = r.Header.Get("Authorization")
		ctype = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	e, _ := newTestExecutor(t, ExecutorOptions{})
	_, err := e.Execute(context.Background(), srv.URL+"/task/1", ipc.RequestInit{
		Method:  "PUT",
		Headers: map[string]string{"Authorization": "pk_1", "Content-Type": "application/json"},
		Body:    `{"name":"x"}`,
	}, TLSPolicy{})
	require.NoError(t, err)

	assert.Equal(t, "PUT", method)
	assert.Equal(t, "pk_1", auth)
	assert.Equal(t, "application/json", ctype)
	assert.JSONEq(t, `{"name":"x"}`, body)
}

func TestExecuteNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"err":"Token invalid"}`)
	}))
	defer srv.Close()

	metrics := monitoring.NewMetrics()
	e, logs := newTestExecutor(t, ExecutorOptions{Metrics: metrics})
	_, err := e.Execute(context.Background(), srv.URL, ipc.RequestInit{}, TLSPolicy{})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, ErrStatus)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)

	entries := logs.FilterMessage("Tracker error response").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HostCalls.WithLabelValues("GET", "401")))

	assert.Equal(t, &ipc.ErrorPayload{StatusCode: 401, Message: "Unauthorized"}, ErrorPayload(err))
}

func TestExecuteSelfSignedPolicy(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	e, _ := newTestExecutor(t, ExecutorOptions{})

	_, err := e.Execute(context.Background(), srv.URL, ipc.RequestInit{}, TLSPolicy{})
	require.Error(t, err, "verifying client must reject the self-signed certificate")

	got, err := e.Execute(context.Background(), srv.URL, ipc.RequestInit{}, TLSPolicy{AllowSelfSigned: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, got)

	// the permissive call must not leak into later verifying calls
	_, err = e.Execute(context.Background(), srv.URL, ipc.RequestInit{}, TLSPolicy{})
	assert.Error(t, err)
}

func TestExecuteBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	breaker := resilience.New("test", resilience.Settings{
		ShouldTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 2 },
		IsFailure:  IsHostFailure,
	})
	e, _ := newTestExecutor(t, ExecutorOptions{Breaker: breaker})

	for i := 0; i < 2; i++ {
		_, err := e.Execute(context.Background(), srv.URL, ipc.RequestInit{}, TLSPolicy{})
		assert.ErrorIs(t, err, ErrStatus)
	}
	_, err := e.Execute(context.Background(), srv.URL, ipc.RequestInit{}, TLSPolicy{})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestIsHostFailure(t *testing.T) {
	assert.False(t, IsHostFailure(nil))
	assert.False(t, IsHostFailure(&StatusError{StatusCode: 404}))
	assert.False(t, IsHostFailure(&StatusError{StatusCode: 401}))
	assert.True(t, IsHostFailure(&StatusError{StatusCode: 503}))
	assert.False(t, IsHostFailure(inject.ErrRequestCancelled))
	assert.False(t, IsHostFailure(context.Canceled))
	assert.True(t, IsHostFailure(errors.New("connection refused")))
}

func TestErrorPayloadForTransportError(t *testing.T) {
	p := ErrorPayload(errors.New("dial tcp: connection refused"))
	assert.Zero(t, p.StatusCode)
	assert.Equal(t, "dial tcp: connection refused", p.Message)
}

func TestExecuteRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	e, _ := newTestExecutor(t, ExecutorOptions{RequestsPerSecond: 0.001})
	_, err := e.Execute(context.Background(), srv.URL, ipc.RequestInit{}, TLSPolicy{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.Execute(ctx, srv.URL, ipc.RequestInit{}, TLSPolicy{})
	assert.ErrorContains(t, err, "rate limit")
}

func TestProxyAttachment(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
			return
		case "/elsewhere":
			http.Redirect(w, r, "http://localhost:1/internal", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	e, _ := newTestExecutor(t, ExecutorOptions{})
	reg := inject.NewRegistry()
	require.NoError(t, reg.Install("http://127.0.0.1/*", inject.Credentials{Token: "pk_img"}))

	att, err := e.ProxyAttachment(context.Background(), reg, srv.URL+"/a.png", TLSPolicy{})
	require.NoError(t, err)
	assert.Equal(t, "image/png", att.ContentType)
	assert.Equal(t, png, att.Body)
	assert.Equal(t, "pk_img", auth)

	_, err = e.ProxyAttachment(context.Background(), reg, srv.URL+"/missing", TLSPolicy{})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)

	t.Run("url outside installed filters is refused", func(t *testing.T) {
		auth = ""
		_, err := e.ProxyAttachment(context.Background(), inject.NewRegistry(), srv.URL+"/a.png", TLSPolicy{})
		assert.ErrorIs(t, err, ErrAttachmentNotAllowed)
		assert.Empty(t, auth, "no request reaches the server")
	})

	t.Run("nil registry uses the executor registry", func(t *testing.T) {
		_, err := e.ProxyAttachment(context.Background(), nil, srv.URL+"/a.png", TLSPolicy{})
		assert.ErrorIs(t, err, ErrAttachmentNotAllowed)

		require.NoError(t, e.Registry().Install("http://127.0.0.1/*", inject.Credentials{Token: "pk_default"}))
		_, err = e.ProxyAttachment(context.Background(), nil, srv.URL+"/a.png", TLSPolicy{})
		require.NoError(t, err)
		assert.Equal(t, "pk_default", auth)
	})

	t.Run("redirect outside installed filters is refused", func(t *testing.T) {
		_, err := e.ProxyAttachment(context.Background(), reg, srv.URL+"/elsewhere", TLSPolicy{})
		assert.ErrorIs(t, err, ErrAttachmentNotAllowed)
	})
}
