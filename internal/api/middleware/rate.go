package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines per-client rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	// IdleTTL evicts limiters of clients not seen for this long.
	IdleTTL time.Duration
	// OnReject is called with the client IP of every refused request.
	OnReject func(ip string)
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		IdleTTL:           10 * time.Minute,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type visitors struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	clients map[string]*visitor
	swept   time.Time
	now     func() time.Time
}

func (v *visitors) get(ip string) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if v.cfg.IdleTTL > 0 && now.Sub(v.swept) >= v.cfg.IdleTTL {
		for k, c := range v.clients {
			if now.Sub(c.lastSeen) >= v.cfg.IdleTTL {
				delete(v.clients, k)
			}
		}
		v.swept = now
	}

	c, ok := v.clients[ip]
	if !ok {
		c = &visitor{limiter: rate.NewLimiter(rate.Limit(v.cfg.RequestsPerSecond), v.cfg.Burst)}
		v.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

func (v *visitors) len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.clients)
}

func newVisitors(cfg RateLimitConfig, now func() time.Time) *visitors {
	return &visitors{cfg: cfg, clients: make(map[string]*visitor), now: now, swept: now()}
}

// RateLimit creates a per-IP rate limiting middleware.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	return rateLimit(newVisitors(cfg, time.Now))
}

func rateLimit(v *visitors) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !v.get(ip).Allow() {
			if v.cfg.OnReject != nil {
				v.cfg.OnReject(ip)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
