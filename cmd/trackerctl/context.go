package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/trackerbridge/internal/bridge"
	"github.com/GriffinCanCode/trackerbridge/internal/guard"
	"github.com/GriffinCanCode/trackerbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/trackerbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/trackerbridge/internal/ipc"
	"github.com/GriffinCanCode/trackerbridge/internal/notify"
	"github.com/GriffinCanCode/trackerbridge/internal/session"
	"github.com/GriffinCanCode/trackerbridge/internal/tracker"
)

var errNoCookie = errors.New("tracker runs in cookie mode; pass --cookie")

const dialTimeout = 10 * time.Second

type globalFlags struct {
	addr           string
	trackerFile    string
	sessionBackend string
	sessionID      string
	cookie         string
	timeout        time.Duration
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	tracker    tracker.Config
	configErr  error

	storeOnce sync.Once
	store     session.Store
	closer    func() error
	storeErr  error

	logger *logging.Logger
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, tracker.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.configErr = err
			return
		}
		tc := cfg.Tracker
		if path := strings.TrimSpace(c.flags.trackerFile); path != "" {
			if tc, err = config.LoadTrackerFile(path); err != nil {
				c.configErr = err
				return
			}
		}
		if c.flags.addr != "" {
			cfg.Bridge.Address = c.flags.addr
		}
		if c.flags.sessionBackend != "" {
			cfg.Session.Backend = c.flags.sessionBackend
		}
		if c.flags.timeout > 0 {
			cfg.Bridge.Timeout = c.flags.timeout
		}

		c.config = cfg
		c.tracker = tracker.Config{
			APIToken:                   tc.APIToken,
			Host:                       tc.Host,
			AllowSelfSignedCertificate: tc.AllowSelfSigned,
			WonkyCookieMode:            tc.CookieMode,
			StoryPointFieldID:          tc.StoryPointField,
			AutoImportQuery:            tc.AutoImportQuery,
		}
		c.logger = logging.NewDefault()
		if l, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development}); err == nil {
			c.logger = l
		}
	})
	return c.config, c.tracker, c.configErr
}

// sessionStore opens the configured store once. A redis store with a fixed
// --session-id lets the guard state outlive a single invocation.
func (c *commandContext) sessionStore(ctx context.Context) (session.Store, error) {
	c.storeOnce.Do(func() {
		cfg, _, err := c.ensureConfig()
		if err != nil {
			c.storeErr = err
			return
		}
		switch strings.ToLower(cfg.Session.Backend) {
		case "", "memory":
			c.store = session.NewMemoryStore()
		case "redis":
			rs, err := session.DialRedis(ctx, cfg.Session.RedisAddr, session.RedisOptions{
				SessionID: c.flags.sessionID,
				TTL:       cfg.Session.TTL,
			})
			if err != nil {
				c.storeErr = err
				return
			}
			c.store = rs
			c.closer = rs.Close
		default:
			c.storeErr = fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
		}
	})
	return c.store, c.storeErr
}

func (c *commandContext) guard(ctx context.Context) (*guard.Guard, error) {
	store, err := c.sessionStore(ctx)
	if err != nil {
		return nil, err
	}
	return guard.New(guard.Options{Store: store, Logger: c.logger.Component("guard")}), nil
}

// withClient dials the host, runs fn with a tracker client and hangs up.
func (c *commandContext) withClient(ctx context.Context, fn func(*tracker.Client) error) error {
	cfg, tc, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := c.sessionStore(ctx)
	if err != nil {
		return err
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	caller, err := ipc.Dial(dctx, cfg.Bridge.Address, nil, c.logger.Component("ipc"))
	cancel()
	if err != nil {
		return fmt.Errorf("connect to bridge host: %w", err)
	}
	defer caller.Close()

	b := bridge.New(bridge.Options{
		Channel:      caller,
		Store:        store,
		Notifier:     notify.NewLogNotifier(c.logger.Component("notify")),
		Timeout:      cfg.Bridge.Timeout,
		BaseURL:      cfg.Bridge.BaseURL,
		CookiePrompt: c.cookiePrompt,
		Logger:       c.logger.Component("bridge"),
	})

	rctx, stop := context.WithCancel(ctx)
	defer stop()
	go b.Start(rctx)

	return fn(tracker.NewClient(b, tc))
}

func (c *commandContext) cookiePrompt(context.Context, string) (string, error) {
	if c.flags.cookie == "" {
		return "", errNoCookie
	}
	return c.flags.cookie, nil
}

func (c *commandContext) close() error {
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	if c.closer != nil {
		return c.closer()
	}
	return nil
}
