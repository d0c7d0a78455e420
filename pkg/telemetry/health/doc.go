// Package health serves liveness and readiness endpoints on the telemetry
// listener.
//
// The server registers one check per proxy listener (a TCP dial to the
// bound port) and one for the DNS responder. /readyz answers 503 while any
// of them fails, which lets scripts wait for rpx before running browser
// tests:
//
//	until curl -sf localhost:9090/readyz; do sleep 1; done
package health
