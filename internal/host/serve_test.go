package host

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/trackerbridge/internal/ipc"
)

func startServe(t *testing.T, e *Executor) (*ipc.MemoryCaller, context.CancelFunc, <-chan error) {
	t.Helper()
	caller, host := ipc.NewMemoryPipe(16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx, host, nil) }()
	t.Cleanup(func() {
		cancel()
		_ = caller.Close()
	})
	return caller, cancel, done
}

func nextResponse(t *testing.T, c *ipc.MemoryCaller) ipc.InboundResponse {
	t.Helper()
	select {
	case res := <-c.Responses():
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("no response from host")
		return ipc.InboundResponse{}
	}
}

func TestServeRepliesWithResponse(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{"foo":1}`)
	}))
	defer srv.Close()

	e, _ := newTestExecutor(t, ExecutorOptions{})
	caller, _, _ := startServe(t, e)

	require.NoError(t, caller.Send(context.Background(), ipc.OutboundRequest{
		RequestID:   "user__GET__1",
		RequestInit: ipc.RequestInit{Method: "GET"},
		URL:         srv.URL + "/user",
		AuthConfig:  ipc.AuthConfig{Credential: "pk_serve"},
	}))

	res := nextResponse(t, caller)
	assert.Equal(t, "user__GET__1", res.RequestID)
	assert.Nil(t, res.Error)
	assert.Equal(t, map[string]any{"foo": float64(1)}, res.Response)
	assert.Equal(t, "pk_serve", auth, "credential injected for the request origin")
}

func TestServeRepliesWithError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	e, _ := newTestExecutor(t, ExecutorOptions{})
	caller, _, _ := startServe(t, e)

	require.NoError(t, caller.Send(context.Background(), ipc.OutboundRequest{
		RequestID:  "task__GET__2",
		URL:        srv.URL,
		AuthConfig: ipc.AuthConfig{Credential: "pk"},
	}))

	res := nextResponse(t, caller)
	assert.Equal(t, "task__GET__2", res.RequestID)
	require.NotNil(t, res.Error)
	assert.Equal(t, http.StatusForbidden, res.Error.StatusCode)
	assert.Equal(t, "Forbidden", res.Error.Message)
	assert.Nil(t, res.Response)
}

func TestServeCookieModeWithoutCookieCancels(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	e, _ := newTestExecutor(t, ExecutorOptions{})
	caller, _, _ := startServe(t, e)

	require.NoError(t, caller.Send(context.Background(), ipc.OutboundRequest{
		RequestID:  "user__GET__3",
		URL:        srv.URL,
		AuthConfig: ipc.AuthConfig{Credential: "pk", CookieMode: true, Host: "http://127.0.0.1"},
	}))

	res := nextResponse(t, caller)
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Message, "cookie not available")
	assert.Zero(t, hits.Load())
}

func TestServeCookieMode(t *testing.T) {
	var cookie, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie = r.Header.Get("Cookie")
		auth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	e, _ := newTestExecutor(t, ExecutorOptions{})
	caller, _, _ := startServe(t, e)

	require.NoError(t, caller.Send(context.Background(), ipc.OutboundRequest{
		RequestID:   "user__GET__4",
		RequestInit: ipc.RequestInit{Headers: map[string]string{"Authorization": "pk"}},
		URL:         srv.URL,
		AuthConfig:  ipc.AuthConfig{Credential: "pk", CookieMode: true, Cookie: "sid=abc", Host: "http://127.0.0.1"},
	}))

	res := nextResponse(t, caller)
	require.Nil(t, res.Error)
	assert.Equal(t, "sid=abc", cookie)
	assert.Empty(t, auth)
}

func TestServeConcurrentRequestsReplyOncePerID(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			<-release
		}
		_, _ = io.WriteString(w, `"`+r.URL.Path+`"`)
	}))
	defer srv.Close()
	defer close(release)

	e, _ := newTestExecutor(t, ExecutorOptions{})
	caller, _, _ := startServe(t, e)

	require.NoError(t, caller.Send(context.Background(), ipc.OutboundRequest{RequestID: "slow", URL: srv.URL + "/slow"}))
	require.NoError(t, caller.Send(context.Background(), ipc.OutboundRequest{RequestID: "fast", URL: srv.URL + "/fast"}))

	first := nextResponse(t, caller)
	assert.Equal(t, "fast", first.RequestID, "a slow call must not hold back later ones")
	assert.Equal(t, "/fast", first.Response)

	release <- struct{}{}
	second := nextResponse(t, caller)
	assert.Equal(t, "slow", second.RequestID)

	select {
	case extra := <-caller.Responses():
		t.Fatalf("unexpected extra reply %s", extra.RequestID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServeKeepsCredentialsPerConnection(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.Path] = r.Header.Get("Authorization")
		mu.Unlock()
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	// one token per second: the second call on a waits while b installs its credential
	e, _ := newTestExecutor(t, ExecutorOptions{RequestsPerSecond: 1})
	a, _, _ := startServe(t, e)
	b, _, _ := startServe(t, e)

	require.NoError(t, a.Send(context.Background(), ipc.OutboundRequest{
		RequestID: "warm", URL: srv.URL + "/warm", AuthConfig: ipc.AuthConfig{Credential: "tokenA"},
	}))
	require.Nil(t, nextResponse(t, a).Error)

	require.NoError(t, a.Send(context.Background(), ipc.OutboundRequest{
		RequestID: "a", URL: srv.URL + "/a", AuthConfig: ipc.AuthConfig{Credential: "tokenA"},
	}))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, b.Send(context.Background(), ipc.OutboundRequest{
		RequestID: "b", URL: srv.URL + "/b", AuthConfig: ipc.AuthConfig{Credential: "tokenB"},
	}))

	assert.Equal(t, "a", nextResponse(t, a).RequestID)
	assert.Equal(t, "b", nextResponse(t, b).RequestID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "tokenA", seen["/a"])
	assert.Equal(t, "tokenB", seen["/b"])
}

func TestServeStopsWhenChannelCloses(t *testing.T) {
	e, _ := newTestExecutor(t, ExecutorOptions{})
	caller, _, done := startServe(t, e)

	require.NoError(t, caller.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	e, _ := newTestExecutor(t, ExecutorOptions{})
	_, cancel, done := startServe(t, e)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
}
