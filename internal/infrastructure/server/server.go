package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/trackerbridge/internal/api/middleware"
	"github.com/GriffinCanCode/trackerbridge/internal/host"
	"github.com/GriffinCanCode/trackerbridge/internal/host/inject"
	"github.com/GriffinCanCode/trackerbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/trackerbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/trackerbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/trackerbridge/internal/ipc"
)

const shutdownTimeout = 10 * time.Second

// Server is the bridge host: it accepts caller connections on /bridge and
// executes their tracker requests.
type Server struct {
	router   *gin.Engine
	http     *http.Server
	executor *host.Executor
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
	peers  atomic.Int64

	// credentials installed by each connection, keyed by session id
	sessionsMu sync.RWMutex
	sessions   map[string]*inject.Registry
}

// NewServer builds the logger and metrics from cfg and creates a server.
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return New(cfg, logger, monitoring.NewMetrics()), nil
}

// New creates a server around an existing logger and metrics set.
func New(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) *Server {
	logger.Info("Initializing bridge host",
		zap.String("port", cfg.Server.Port),
		zap.Float64("executor_rps", cfg.Executor.RequestsPerSecond),
	)

	executor := host.NewExecutor(host.ExecutorOptions{
		RequestsPerSecond: cfg.Executor.RequestsPerSecond,
		Timeout:           cfg.Executor.HTTPTimeout,
		Metrics:           metrics,
		Logger:            logger.Component("executor"),
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger.Component("http")))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		rl.OnReject = func(string) {
			metrics.RecordRejected("http_rate_limit")
		}
		router.Use(middleware.RateLimit(rl))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:   router,
		executor: executor,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		// origins are vetted by the CORS middleware before the upgrade
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*inject.Registry),
	}

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/bridge", s.bridge)
	router.GET("/attachments", gin.WrapH(gzhttp.GzipHandler(http.HandlerFunc(s.attachment))))

	s.http = &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Bridge host initialized")
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Executor returns the host executor shared by all connections.
func (s *Server) Executor() *host.Executor { return s.executor }

// Session returns the credential registry of a connected bridge session.
func (s *Server) Session(id string) (*inject.Registry, bool) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	reg, ok := s.sessions[id]
	return reg, ok
}

func (s *Server) addSession(id string, reg *inject.Registry) {
	s.sessionsMu.Lock()
	s.sessions[id] = reg
	s.sessionsMu.Unlock()
}

func (s *Server) removeSession(id string) {
	s.sessionsMu.Lock()
	delete(s.sessions, id)
	s.sessionsMu.Unlock()
}

// Run serves HTTP until Close is called.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops accepting requests, ends every bridge connection and waits for
// their in-flight tracker calls.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.http.Shutdown(ctx)
	s.cancel()
	s.conns.Wait()

	_ = s.logger.Sync()
	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"peers":   s.peers.Load(),
		"version": "1.0.0",
	})
}

func (s *Server) bridge(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Bridge upgrade failed", zap.Error(err))
		return
	}

	log := s.logger.Component("bridge").With(zap.String("remote", c.ClientIP()))
	h := ipc.NewWSHost(conn, log)
	id := h.SessionID()
	reg := inject.NewRegistry()
	s.addSession(id, reg)
	if err := h.Start(c.Request.Context()); err != nil {
		s.removeSession(id)
		log.Error("Bridge handshake failed", zap.Error(err))
		return
	}

	s.conns.Add(1)
	s.peers.Add(1)
	s.metrics.PeerConnected()
	log.Info("Bridge peer connected")

	go func() {
		defer func() {
			_ = h.Close()
			s.removeSession(id)
			s.peers.Add(-1)
			s.metrics.PeerDisconnected()
			s.conns.Done()
			log.Info("Bridge peer disconnected")
		}()
		if err := s.executor.Serve(s.ctx, h, reg); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("Bridge serve loop ended", zap.Error(err))
		}
	}()
}

func (s *Server) attachment(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	u, err := url.Parse(raw)
	if raw == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		http.Error(w, "url must be an absolute http(s) URL", http.StatusBadRequest)
		return
	}
	reg, ok := s.Session(r.URL.Query().Get("session"))
	if !ok {
		http.Error(w, "unknown bridge session", http.StatusForbidden)
		return
	}
	selfSigned, _ := strconv.ParseBool(r.URL.Query().Get("allowSelfSigned"))

	att, err := s.executor.ProxyAttachment(r.Context(), reg, u.String(), host.TLSPolicy{AllowSelfSigned: selfSigned})
	if err != nil {
		if errors.Is(err, host.ErrAttachmentNotAllowed) {
			http.Error(w, "url is not a tracker url of this session", http.StatusForbidden)
			return
		}
		var se *host.StatusError
		if errors.As(err, &se) {
			http.Error(w, http.StatusText(se.StatusCode), se.StatusCode)
			return
		}
		s.logger.Warn("Attachment proxy failed", zap.String("url", u.Redacted()), zap.Error(err))
		http.Error(w, "attachment unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	_, _ = w.Write(att.Body)
}
