package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig defines which pages may call the bridge host.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSConfig admits browser extensions and local development pages.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{
			"chrome-extension://*",
			"moz-extension://*",
			"http://localhost:*",
			"http://127.0.0.1:*",
		},
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{
			"Authorization",
			"Accept",
			"Origin",
			"Cache-Control",
			"Sec-WebSocket-Protocol",
		},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
}

// CORS creates a CORS middleware. Origins may contain a single "*" wildcard.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:           cfg.AllowOrigins,
		AllowMethods:           cfg.AllowMethods,
		AllowHeaders:           cfg.AllowHeaders,
		AllowCredentials:       cfg.AllowCredentials,
		MaxAge:                 cfg.MaxAge,
		AllowWildcard:          true,
		AllowBrowserExtensions: true,
	})
}
