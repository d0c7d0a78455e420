package config

import (
	"net"
	"strings"
)

// Route is one from → to mapping. It is immutable once a proxy instance is
// running and drives exactly one listener.
type Route struct {
	// From is the upstream address, optionally with an http:// or https:// scheme.
	From string

	// To is the public-facing hostname.
	To string

	TLS          bool
	CleanURLs    bool
	ChangeOrigin bool

	// Start is the dev command that serves From, if rpx should supervise it.
	Start *StartConfig
}

// RouteSpec is the tagged variant of a route configuration: either a single
// Route or a RouteSet. It is decided once when the configuration is loaded.
type RouteSpec interface {
	// Routes returns the routes in declaration order.
	Routes() []Route

	routeSpec()
}

// RouteSet is a multi-route configuration.
type RouteSet []Route

// Routes returns the single route.
func (r Route) Routes() []Route { return []Route{r} }

func (Route) routeSpec() {}

// Routes returns a copy of the set.
func (s RouteSet) Routes() []Route {
	out := make([]Route, len(s))
	copy(out, s)
	return out
}

func (RouteSet) routeSpec() {}

// RouteSpec returns the route variant described by the configuration.
func (c *Config) RouteSpec() RouteSpec {
	if c.spec == nil {
		c.spec = c.buildRouteSpec()
	}
	return c.spec
}

func (c *Config) buildRouteSpec() RouteSpec {
	if len(c.Proxies) == 0 {
		return Route{
			From:         c.From,
			To:           c.To,
			TLS:          c.HTTPS.Enabled,
			CleanURLs:    c.CleanURLs,
			ChangeOrigin: c.ChangeOrigin,
			Start:        c.Start,
		}
	}

	set := make(RouteSet, 0, len(c.Proxies))
	for _, p := range c.Proxies {
		r := Route{
			From:         p.From,
			To:           p.To,
			TLS:          c.HTTPS.Enabled,
			CleanURLs:    c.CleanURLs,
			ChangeOrigin: c.ChangeOrigin,
			Start:        p.Start,
		}
		if r.From == "" {
			r.From = DefaultFrom
		}
		if r.To == "" {
			r.To = DefaultTo
		}
		if p.CleanURLs != nil {
			r.CleanURLs = *p.CleanURLs
		}
		if p.ChangeOrigin != nil {
			r.ChangeOrigin = *p.ChangeOrigin
		}
		set = append(set, r)
	}
	return set
}

// Domains returns the lower-cased target hostnames of every route, without
// duplicates, in declaration order.
func Domains(spec RouteSpec) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range spec.Routes() {
		d := strings.ToLower(strings.TrimSuffix(r.To, "."))
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// IsLoopbackDomain reports whether the domain already resolves to this
// machine without hosts entries or DNS: localhost, 127.0.0.1 and any
// subdomain of localhost.
func IsLoopbackDomain(domain string) bool {
	d := strings.ToLower(strings.TrimSuffix(domain, "."))
	if host, _, err := net.SplitHostPort(d); err == nil {
		d = host
	}
	return d == "localhost" || d == "127.0.0.1" || strings.HasSuffix(d, ".localhost")
}

// UpstreamHostPort returns the host:port part of a From value, stripping any
// scheme and path.
func UpstreamHostPort(from string) string {
	s := from
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

// UpstreamScheme returns "https" when From carries an https:// scheme and
// "http" otherwise.
func UpstreamScheme(from string) string {
	if strings.HasPrefix(strings.ToLower(from), "https://") {
		return "https"
	}
	return "http"
}
