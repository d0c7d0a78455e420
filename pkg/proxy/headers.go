package proxy

import (
	"net/http"
	"strings"
)

// Security headers added to every relayed response.
const (
	HeaderHSTS              = "Strict-Transport-Security"
	HeaderContentTypeOpts   = "X-Content-Type-Options"
	hstsValue               = "max-age=31536000; includeSubDomains; preload"
	contentTypeOptionsValue = "nosniff"
)

// StripPseudoHeaders removes HTTP/2 pseudo-header fields (":method",
// ":path", ...) that leaked into a header map.
func StripPseudoHeaders(h http.Header) {
	for name := range h {
		if strings.HasPrefix(name, ":") {
			delete(h, name)
		}
	}
}

// AddSecurityHeaders sets HSTS and nosniff on a response header map.
func AddSecurityHeaders(h http.Header) {
	h.Set(HeaderHSTS, hstsValue)
	h.Set(HeaderContentTypeOpts, contentTypeOptionsValue)
}
