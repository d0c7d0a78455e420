package certs

import (
	"path/filepath"
	"strings"
)

// Paths locates the PEM files for one certificate set.
type Paths struct {
	Key  string
	Cert string
	CA   string
}

// PathsFor returns <base>/<domain>.key, .crt and .ca.crt, with "*" in the
// domain spelled "wildcard".
func PathsFor(base, domain string) Paths {
	name := strings.ReplaceAll(strings.ToLower(domain), "*", "wildcard")
	return Paths{
		Key:  filepath.Join(base, name+".key"),
		Cert: filepath.Join(base, name+".crt"),
		CA:   filepath.Join(base, name+".ca.crt"),
	}
}

// All returns the non-empty paths.
func (p Paths) All() []string {
	var out []string
	for _, path := range []string{p.Key, p.Cert, p.CA} {
		if path != "" {
			out = append(out, path)
		}
	}
	return out
}

// WildcardPatterns returns the domain and the wildcard covering its
// siblings: "app.example.test" yields "app.example.test" and
// "*.example.test".
func WildcardPatterns(domain string) []string {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	out := []string{domain}
	if i := strings.IndexByte(domain, '.'); i > 0 && i < len(domain)-1 {
		out = append(out, "*"+domain[i:])
	}
	return out
}

// AllDomains expands route domains into the subject alternative names of
// the leaf certificate: each domain, its wildcard pattern, localhost and
// *.localhost. Order is stable and duplicates are dropped.
func AllDomains(domains []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(d string) {
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	for _, d := range domains {
		if strings.TrimSpace(d) == "" {
			continue
		}
		for _, p := range WildcardPatterns(d) {
			add(p)
		}
	}
	add("localhost")
	add("*.localhost")
	return out
}
