// Package middleware provides the HTTP middleware wrapped around every proxy
// route.
//
// # Middleware Chain
//
//	handler = Chain(forwarder,
//	    Recovery(logger),      // outermost: a panic becomes a 500
//	    RequestID,             // X-Request-ID in, context and response
//	    Tracing(tracer, route),// server span, traceparent continued
//	    Logging(logger),       // one record per request
//	)
//
// The response writer wrapper used by Logging keeps Flush and Hijack
// working, so server-sent events and websocket upgrades used by dev servers
// for hot reload pass through untouched.
//
// # Request ID
//
// RequestID uses UUID v4 unless the client already sent one:
//
//	X-Request-ID: 550e8400-e29b-41d4-a716-446655440000
//
// The same header is forwarded to the upstream dev server.
package middleware
