package dns

import (
	"context"
	"fmt"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// LookupResult is the decoded reply to a diagnostic query.
type LookupResult struct {
	Rcode         string
	Authoritative bool
	Answers       []string
	RTT           time.Duration
}

// Lookup sends one query to server (host:port) and decodes the reply. It is
// used by `rpx dns query` to check the responder from the outside.
func Lookup(ctx context.Context, server, name string, qtype uint16) (*LookupResult, error) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(name), qtype)

	client := &mdns.Client{Net: "udp", Timeout: 3 * time.Second}
	reply, rtt, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, fmt.Errorf("query %s at %s: %w", name, server, err)
	}

	result := &LookupResult{
		Rcode:         mdns.RcodeToString[reply.Rcode],
		Authoritative: reply.Authoritative,
		RTT:           rtt,
	}
	for _, rr := range reply.Answer {
		result.Answers = append(result.Answers, strings.ReplaceAll(rr.String(), "\t", " "))
	}
	return result, nil
}

// ParseType maps a record type mnemonic such as "A" or "AAAA" to its code.
func ParseType(s string) (uint16, error) {
	t, ok := mdns.StringToType[strings.ToUpper(s)]
	if !ok {
		return 0, fmt.Errorf("unknown record type %q", s)
	}
	return t, nil
}
