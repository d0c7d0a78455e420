package config

import "testing"

func TestIsLoopbackDomain(t *testing.T) {
	tests := []struct {
		domain string
		want   bool
	}{
		{"localhost", true},
		{"LOCALHOST", true},
		{"127.0.0.1", true},
		{"app.localhost", true},
		{"deep.app.localhost.", true},
		{"localhost:3000", true},
		{"notlocalhost", false},
		{"app.test", false},
		{"example.com", false},
		{"localhost.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			if got := IsLoopbackDomain(tt.domain); got != tt.want {
				t.Errorf("IsLoopbackDomain(%q) = %v, want %v", tt.domain, got, tt.want)
			}
		})
	}
}

func TestUpstreamHostPort(t *testing.T) {
	tests := []struct {
		from       string
		wantHost   string
		wantScheme string
	}{
		{"localhost:5173", "localhost:5173", "http"},
		{"http://127.0.0.1:3000", "127.0.0.1:3000", "http"},
		{"https://localhost:8443/base", "localhost:8443", "https"},
	}

	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			if got := UpstreamHostPort(tt.from); got != tt.wantHost {
				t.Errorf("UpstreamHostPort(%q) = %q, want %q", tt.from, got, tt.wantHost)
			}
			if got := UpstreamScheme(tt.from); got != tt.wantScheme {
				t.Errorf("UpstreamScheme(%q) = %q, want %q", tt.from, got, tt.wantScheme)
			}
		})
	}
}

func TestRouteSpec_Variants(t *testing.T) {
	var spec RouteSpec = Route{From: "localhost:1", To: "a.localhost"}
	if n := len(spec.Routes()); n != 1 {
		t.Errorf("Route.Routes() len = %d, want 1", n)
	}

	set := RouteSet{{To: "a.localhost"}, {To: "A.localhost"}, {To: "b.test"}}
	routes := set.Routes()
	routes[0].To = "mutated"
	if set[0].To != "a.localhost" {
		t.Error("RouteSet.Routes() should return a copy")
	}

	domains := Domains(set)
	if len(domains) != 2 {
		t.Errorf("Domains() = %v, want 2 unique domains", domains)
	}
}

func TestClassifyTLD(t *testing.T) {
	tests := []struct {
		domain string
		want   TLDClass
	}{
		{"app.dev", TLDProblematic},
		{"shop.APP", TLDProblematic},
		{"site.foo", TLDProblematic},
		{"app.test", TLDReserved},
		{"app.localhost", TLDReserved},
		{"printer.local", TLDReserved},
		{"example.com", TLDOK},
		{"localhost", TLDReserved},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			if got := ClassifyTLD(tt.domain); got != tt.want {
				t.Errorf("ClassifyTLD(%q) = %q, want %q", tt.domain, got, tt.want)
			}
		})
	}
}
