package config

import "strings"

// TLDClass is the advisory classification of a top-level domain.
type TLDClass string

const (
	// TLDOK needs no advice.
	TLDOK TLDClass = "ok"

	// TLDProblematic TLDs are HSTS-preloaded in browsers, so plain HTTP never
	// reaches the proxy.
	TLDProblematic TLDClass = "problematic"

	// TLDReserved TLDs are reserved for testing and local use (RFC 2606, RFC 6761, RFC 6762).
	TLDReserved TLDClass = "reserved"
)

var problematicTLDs = map[string]struct{}{
	"dev": {}, "app": {}, "page": {}, "new": {}, "day": {}, "foo": {},
}

var reservedTLDs = map[string]struct{}{
	"test": {}, "localhost": {}, "local": {}, "example": {}, "invalid": {},
}

// TLD returns the last label of a hostname, lower-cased.
func TLD(domain string) string {
	d := strings.ToLower(strings.TrimSuffix(domain, "."))
	if i := strings.LastIndexByte(d, '.'); i >= 0 {
		return d[i+1:]
	}
	return d
}

// ClassifyTLD returns advice about the domain's TLD. It never rejects a
// domain; callers log the result.
func ClassifyTLD(domain string) TLDClass {
	tld := TLD(domain)
	if _, ok := problematicTLDs[tld]; ok {
		return TLDProblematic
	}
	if _, ok := reservedTLDs[tld]; ok {
		return TLDReserved
	}
	return TLDOK
}
