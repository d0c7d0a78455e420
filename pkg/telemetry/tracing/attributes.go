package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for rpx spans. HTTP attributes use the OpenTelemetry
// semantic convention names.
const (
	AttrRoute       = "rpx.route"
	AttrUpstream    = "rpx.upstream"
	AttrRequestID   = "rpx.request_id"
	AttrCleanURL    = "rpx.clean_url.path"
	AttrFallbackHit = "rpx.clean_url.fallback_hit"
	AttrDNSName     = "rpx.dns.name"
	AttrDNSType     = "rpx.dns.qtype"
	AttrDNSRcode    = "rpx.dns.rcode"

	AttrHTTPMethod = "http.request.method"
	AttrHTTPStatus = "http.response.status_code"
	AttrURLPath    = "url.path"
)

// SetRouteAttributes records the route and upstream a request is relayed to.
func SetRouteAttributes(span trace.Span, route, upstream string) {
	span.SetAttributes(
		attribute.String(AttrRoute, route),
		attribute.String(AttrUpstream, upstream),
	)
}

// SetRequestAttributes records HTTP request attributes.
func SetRequestAttributes(span trace.Span, requestID, method, path string) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrURLPath, path),
	}
	if requestID != "" {
		attrs = append(attrs, attribute.String(AttrRequestID, requestID))
	}
	span.SetAttributes(attrs...)
}

// SetStatusAttribute records the response status code.
func SetStatusAttribute(span trace.Span, status int) {
	span.SetAttributes(attribute.Int(AttrHTTPStatus, status))
}

// SetFallbackAttributes records a clean-URL fallback sequence.
func SetFallbackAttributes(span trace.Span, path string, hit bool) {
	span.SetAttributes(
		attribute.String(AttrCleanURL, path),
		attribute.Bool(AttrFallbackHit, hit),
	)
}

// SetDNSAttributes records an answered DNS question.
func SetDNSAttributes(span trace.Span, name, qtype, rcode string) {
	span.SetAttributes(
		attribute.String(AttrDNSName, name),
		attribute.String(AttrDNSType, qtype),
		attribute.String(AttrDNSRcode, rcode),
	)
}
