/*
Package monitoring provides Prometheus metrics for the bridge, the access
guard and the host executor.

# Usage

	metrics := monitoring.NewMetrics()

	// host HTTP surface
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// caller side
	b := bridge.New(bridge.Options{Metrics: metrics, ...})

Every recorder method is nil-safe, so components accept an optional
*Metrics without branching.

Metrics are registered on an explicit registry rather than the global
default so tests and multiple bridges in one process do not collide.
*/
package monitoring
