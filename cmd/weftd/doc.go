// Package main is the entry point for weftd, the sync relay.
//
// weftd is the server half of the collaborative workspace: browser clients
// and worker processes each hold a replica of the shared document and keep
// it converged through this relay.
//
// Architecture:
//
//	Client (browser) ⇄ weftd ⇄ Worker (notebook/chat executor)
//
// The relay provides:
//   - WebSocket sync endpoint per document scope
//   - In-memory update archive for late joiners
//   - Awareness (presence) fan-out
//   - Prometheus metrics, rate limiting, CORS
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./weftd -port 9800
//
//	# Development mode (colored logs, debug level)
//	./weftd -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
