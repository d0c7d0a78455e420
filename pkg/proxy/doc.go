// Package proxy implements the forwarding engine: one Instance per route
// that resolves a listener port, terminates TLS when asked, and relays
// requests to the upstream dev server.
//
// # Request pipeline
//
// Each request passes through panic recovery, request ID assignment,
// tracing and access logging before reaching the Forwarder, which:
//
//   - strips HTTP/2 pseudo-headers
//   - rewrites clean URLs ("/about" to "/about.html", "/docs/" to "/docs/index.html")
//   - keeps the client Host header unless ChangeOrigin is set
//   - relays the request, retrying clean-URL 404s against FallbackPaths one at a time
//   - adds HSTS and nosniff headers to the response
//
// Transport failures are answered with 502 and never retried.
//
// # Ports
//
// An Instance prefers 443 (TLS) or 80. When that port is taken it scans
// from the configured fallback (3443, or the target plus 1000) with a
// connectivity test. With TLS on and port 80 free, a second listener
// redirects plain HTTP to HTTPS.
//
// # Readiness
//
// Before serving, the Prober waits for the upstream to accept a TCP dial or
// answer an HTTP HEAD. Exhausting the retries is only a warning: the proxy
// comes up anyway because dev servers often finish booting moments later.
package proxy
