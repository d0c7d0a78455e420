package proxy

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"stacks-dev/rpx/pkg/telemetry/metrics"
)

// RedirectHandler answers every request with a 301 to the HTTPS equivalent
// of the same host and path. When the HTTPS listener for route is not on 443
// the port is carried into the Location.
func RedirectHandler(route string, httpsPort func() int, m *metrics.Collector) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if host == "" {
			host = route
		}

		if port := httpsPort(); port != 0 && port != 443 && strings.EqualFold(host, route) {
			host = net.JoinHostPort(host, strconv.Itoa(port))
		}

		m.RecordRedirect(route)
		w.Header().Set("Location", "https://"+host+r.URL.RequestURI())
		w.WriteHeader(http.StatusMovedPermanently)
	})
}
