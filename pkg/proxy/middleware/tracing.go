package middleware

import (
	"net/http"

	"stacks-dev/rpx/pkg/telemetry/logging"
	"stacks-dev/rpx/pkg/telemetry/tracing"

	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request, continuing any trace the client
// sent. The trace ID is added to the logging context.
func Tracing(tracer *tracing.Tracer, route string) Middleware {
	return func(next http.Handler) http.Handler {
		if !tracer.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := tracing.Extract(r.Context(), r.Header)
			ctx, span := tracer.Start(ctx, "proxy.request", trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()

			tracing.SetRequestAttributes(span, GetRequestID(ctx), r.Method, r.URL.Path)
			if traceID := tracing.TraceID(ctx); traceID != "" {
				ctx = logging.WithTraceID(ctx, traceID)
			}
			ctx = logging.WithRoute(ctx, route)

			rw, status := StatusRecorder(w)
			next.ServeHTTP(rw, r.WithContext(ctx))
			tracing.SetStatusAttribute(span, status())
		})
	}
}
