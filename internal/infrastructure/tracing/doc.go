/*
Package tracing provides lightweight request tracing for the relay.

# Overview

This package implements minimal tracing to correlate relay log lines with
individual client requests: every HTTP request (including WebSocket
upgrades) gets a trace id that is echoed back to the client and attached to
every span logged for it. It follows OpenTelemetry concepts without the
dependency.

# Features

- Trace context propagation via HTTP headers
- Span creation with parent-child relationships
- Automatic ULID trace id generation
- Gin middleware for automatic instrumentation
- Structured logging integration
- Low overhead with buffered span collection

# Usage

	// Create tracer
	tracer := tracing.New("relay", logger)
	defer tracer.Close()

	// HTTP middleware
	router.Use(tracing.HTTPMiddleware(tracer))

	// Manual span creation
	span, ctx := tracer.StartSpan(ctx, "operation")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

	span.SetTag("scope", scope)

# Trace Format

Traces use standard HTTP headers for propagation:
- X-Trace-ID: Unique identifier for entire request flow
- X-Span-ID: Identifier for current operation
*/
package tracing
