package host

import (
	"context"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/trackerbridge/internal/host/inject"
	"github.com/GriffinCanCode/trackerbridge/internal/ipc"
)

const replyTimeout = 10 * time.Second

// Serve executes every request arriving on h and replies exactly once per
// request id. Requests run concurrently. Credentials carried by requests are
// installed into reg, which belongs to this connection only; a nil reg gets a
// fresh registry. Serve returns when the channel closes, after in-flight
// requests have replied, or when ctx ends.
func (e *Executor) Serve(ctx context.Context, h ipc.Host, reg *inject.Registry) error {
	if reg == nil {
		reg = inject.NewRegistry()
	}
	ctx = inject.WithRegistry(ctx, reg)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case req, ok := <-h.Requests():
			if !ok {
				return nil
			}
			if req.RequestID == "" {
				e.logger.Error("Dropping tracker request without id", zap.String("url", req.URL))
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				e.handle(ctx, h, reg, req)
			}()
		case <-h.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Executor) handle(ctx context.Context, h ipc.Host, reg *inject.Registry, req ipc.OutboundRequest) {
	e.installInjection(reg, req)

	res := ipc.InboundResponse{RequestID: req.RequestID}
	payload, err := e.Execute(ctx, req.URL, req.RequestInit, TLSPolicy{AllowSelfSigned: req.AuthConfig.AllowSelfSignedCert})
	if err != nil {
		res.Error = ErrorPayload(err)
	} else {
		res.Response = payload
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
	defer cancel()
	if err := h.Reply(rctx, res); err != nil {
		e.logger.Warn("Failed to deliver tracker response",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
	}
}

// installInjection scopes the request's credentials to the configured
// tracker host, or to the request's own origin when none is configured.
func (e *Executor) installInjection(reg *inject.Registry, req ipc.OutboundRequest) {
	creds := inject.Credentials{
		Token:      req.AuthConfig.Credential,
		Cookie:     req.AuthConfig.Cookie,
		CookieMode: req.AuthConfig.CookieMode,
	}

	host := req.AuthConfig.Host
	if host == "" {
		u, err := url.Parse(req.URL)
		if err != nil || u.Host == "" {
			return
		}
		host = u.Scheme + "://" + u.Hostname()
	}

	if _, err := inject.InstallAuthInjection(reg, host, creds); err != nil {
		e.logger.Warn("Failed to install auth injection", zap.String("host", host), zap.Error(err))
	}
}
