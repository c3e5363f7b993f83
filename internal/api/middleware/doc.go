// Package middleware holds the gin middleware of the bridge host: CORS for
// extension and local origins, per-IP rate limiting and request logging.
//
//	router.Use(middleware.RequestLogger(logger))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
