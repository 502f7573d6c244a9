/*
Package monitoring provides Prometheus metrics for the relay.

# Overview

This package tracks HTTP traffic on the relay endpoints plus the sync
workload itself: live WebSocket connections per scope, relayed frames by
type and direction, and the volume of update payload bytes moved.

# Usage

	// Create a metrics collector on the default registry
	metrics := monitoring.NewMetrics()

	// Add middleware to the Gin router
	router.Use(monitoring.Middleware(metrics))

	// Record sync activity
	metrics.IncConnections("scope-a")
	metrics.RecordFrame("update", "in")
	metrics.AddUpdateBytes(512)

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
