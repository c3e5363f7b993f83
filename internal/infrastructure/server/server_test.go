package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/trackerbridge/internal/bridge"
	"github.com/GriffinCanCode/trackerbridge/internal/host/inject"
	"github.com/GriffinCanCode/trackerbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/trackerbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/trackerbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/trackerbridge/internal/ipc"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Development = true
	cfg.RateLimit.Enabled = false
	cfg.Executor.RequestsPerSecond = 0

	s := New(cfg, &logging.Logger{Logger: zap.NewNop()}, monitoring.NewMetrics())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.cancel()
		s.conns.Wait()
	})
	return s, srv
}

func TestHealth(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestServer(t)

	_, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "host_http_requests_total")
}

func TestBridgeEndToEnd(t *testing.T) {
	tracker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "pk_ws" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"user":{"id":1,"username":"sam"}}`)
	}))
	defer tracker.Close()

	s, srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	caller, err := ipc.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/bridge", nil, zap.NewNop())
	require.NoError(t, err)
	defer caller.Close()

	b := bridge.New(bridge.Options{Channel: caller, BaseURL: tracker.URL})
	go b.Start(ctx)

	v, err := b.Send(ctx, bridge.Request{Pathname: "user"}, ipc.AuthConfig{
		Credential: "pk_ws",
		Host:       "http://127.0.0.1",
	}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"user": map[string]any{"id": float64(1), "username": "sam"}}, v)

	assert.Eventually(t, func() bool { return s.peers.Load() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, caller.Close())
	assert.Eventually(t, func() bool { return s.peers.Load() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// connectSession dials /bridge and returns the caller once the host has
// announced its session.
func connectSession(t *testing.T, srv *httptest.Server) *ipc.WSCaller {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	caller, err := ipc.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/bridge", nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = caller.Close() })

	select {
	case <-caller.Ready():
	case <-ctx.Done():
		t.Fatal("host never announced the session")
	}
	require.NotEmpty(t, caller.SessionID())
	return caller
}

func TestAttachmentProxy(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 2048)...)
	var gotAuth string
	tracker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(png)
	}))
	defer tracker.Close()

	s, srv := newTestServer(t)
	session := connectSession(t, srv).SessionID()
	reg, ok := s.Session(session)
	require.True(t, ok)
	_, err := inject.InstallAuthInjection(reg, "http://127.0.0.1", inject.Credentials{Token: "pk_att"})
	require.NoError(t, err)

	base := srv.URL + "/attachments?session=" + session + "&url="
	req, err := http.NewRequest(http.MethodGet, base+tracker.URL+"/a.png", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")

	// a custom Accept-Encoding disables the transport's transparent decoding
	resp, err := http.DefaultTransport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "pk_att", gotAuth)

	var body []byte
	if resp.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(resp.Body)
		require.NoError(t, err)
		body, err = io.ReadAll(zr)
		require.NoError(t, err)
	} else {
		body, _ = io.ReadAll(resp.Body)
	}
	assert.Equal(t, png, body)

	resp, err = http.Get(base + tracker.URL + "/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAttachmentRefusesURLsOutsideSession(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "internal")
	}))
	defer target.Close()

	s, srv := newTestServer(t)
	session := connectSession(t, srv).SessionID()
	reg, ok := s.Session(session)
	require.True(t, ok)
	_, err := inject.InstallAuthInjection(reg, "https://tracker.invalid", inject.Credentials{Token: "pk_att"})
	require.NoError(t, err)

	other := connectSession(t, srv).SessionID()
	otherReg, ok := s.Session(other)
	require.True(t, ok)
	_, err = inject.InstallAuthInjection(otherReg, "http://127.0.0.1", inject.Credentials{Token: "pk_other"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		query string
	}{
		{name: "no session", query: "url=" + target.URL + "/a.png"},
		{name: "unknown session", query: "session=nope&url=" + target.URL + "/a.png"},
		{name: "url outside the session filters", query: "session=" + session + "&url=" + target.URL + "/a.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/attachments?" + tt.query)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
	assert.Zero(t, hits.Load(), "refused urls are never fetched")
}

func TestSessionRemovedOnDisconnect(t *testing.T) {
	s, srv := newTestServer(t)
	caller := connectSession(t, srv)

	_, ok := s.Session(caller.SessionID())
	require.True(t, ok)

	require.NoError(t, caller.Close())
	assert.Eventually(t, func() bool {
		_, ok := s.Session(caller.SessionID())
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAttachmentRejectsBadURL(t *testing.T) {
	_, srv := newTestServer(t)

	for _, raw := range []string{"", "ftp://host/file", "/relative"} {
		resp, err := http.Get(srv.URL + "/attachments?url=" + raw)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, raw)
	}
}

func TestCloseWithoutRun(t *testing.T) {
	s := New(config.Default(), &logging.Logger{Logger: zap.NewNop()}, monitoring.NewMetrics())
	assert.NoError(t, s.Close())
}
