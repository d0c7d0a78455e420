// Package dns implements the embedded DNS responder that makes custom route
// domains resolve to this machine.
//
// The responder binds UDP on loopback at an unprivileged port (15353 by
// default) and answers:
//
//   - A and AAAA queries for a configured domain or any of its subdomains
//     with 127.0.0.1 or ::1, TTL 300, authoritative
//   - the same for any name under a wildcard TLD (default "test")
//   - NXDOMAIN with the question echoed for everything else
//
// Messages are encoded with github.com/miekg/dns. Replies carry only the
// response and authoritative flags; datagrams that do not decode to a
// query are dropped without a reply.
//
// The operating system still has to send queries here. On macOS the
// Registrar writes /etc/resolver/<tld> files; on other platforms hosts-file
// entries are the fallback.
package dns
