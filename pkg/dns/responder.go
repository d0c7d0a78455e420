package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"stacks-dev/rpx/pkg/config"
	"stacks-dev/rpx/pkg/telemetry/metrics"
	"stacks-dev/rpx/pkg/telemetry/tracing"

	mdns "github.com/miekg/dns"
)

// ErrBindFailure is returned when the responder socket cannot be bound,
// typically because the port is privileged or already taken. Callers fall
// back to hosts-file resolution.
var ErrBindFailure = errors.New("dns responder bind failure")

var (
	errNoQuestion = errors.New("dns: query has no question")
	errNotQuery   = errors.New("dns: message is a response")
)

// AnswerTTL is the TTL of every answer, in seconds.
const AnswerTTL uint32 = 300

var (
	loopbackV4 = net.IPv4(127, 0, 0, 1)
	loopbackV6 = net.IPv6loopback
)

// domainSet is the normalized authority of a running responder. It is
// replaced wholesale on restart.
type domainSet struct {
	domains      []string
	wildcardTLDs []string
}

func newDomainSet(domains, tlds []string) *domainSet {
	ds := &domainSet{}
	seen := make(map[string]struct{})
	for _, d := range domains {
		d = normalizeName(d)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		ds.domains = append(ds.domains, d)
	}
	for _, tld := range tlds {
		if tld = normalizeName(tld); tld != "" {
			ds.wildcardTLDs = append(ds.wildcardTLDs, tld)
		}
	}
	return ds
}

// matches reports whether name equals or is a subdomain of a configured
// domain, or falls under a wildcard TLD.
func (ds *domainSet) matches(name string) bool {
	name = normalizeName(name)
	if name == "" {
		return false
	}
	for _, d := range ds.domains {
		if name == d || strings.HasSuffix(name, "."+d) {
			return true
		}
	}
	for _, tld := range ds.wildcardTLDs {
		if strings.HasSuffix(name, "."+tld) {
			return true
		}
	}
	return false
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
}

// Responder is a minimal authoritative nameserver for route domains. It
// answers A and AAAA queries with loopback addresses and everything else
// with NXDOMAIN. It serves through a miekg/dns server on a socket it binds
// itself, so bind errors surface as ErrBindFailure.
type Responder struct {
	address      string
	port         int
	wildcardTLDs []string

	mu      sync.Mutex
	conn    net.PacketConn
	server  *mdns.Server
	done    chan struct{}
	verbose atomic.Bool

	authority atomic.Pointer[domainSet]

	metrics *metrics.Collector
	tracer  *tracing.Tracer
	logger  *slog.Logger
}

// Option customizes a Responder.
type Option func(*Responder)

// WithMetrics records answered and malformed queries.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Responder) { r.metrics = c }
}

// WithTracer records a span per query.
func WithTracer(t *tracing.Tracer) Option {
	return func(r *Responder) { r.tracer = t }
}

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Responder) { r.logger = l }
}

// NewResponder creates a stopped responder. A zero port binds an ephemeral
// port, which Addr reports once started.
func NewResponder(cfg config.DNSConfig, opts ...Option) *Responder {
	r := &Responder{
		address:      cfg.Address,
		port:         cfg.Port,
		wildcardTLDs: cfg.WildcardTLDs,
		logger:       slog.Default().With("component", "dns"),
	}
	if r.address == "" {
		r.address = config.DefaultDNSAddress
	}
	for _, opt := range opts {
		opt(r)
	}
	r.authority.Store(newDomainSet(nil, r.wildcardTLDs))
	return r
}

// Start binds the responder and serves in the background. It returns false
// when the socket cannot be bound; the failure is logged, never fatal.
// Calling Start on a running responder replaces its domain set.
func (r *Responder) Start(domains []string, verbose bool) bool {
	if err := r.StartContext(context.Background(), domains, verbose); err != nil {
		r.logger.Warn("DNS responder unavailable, falling back to hosts file", "error", err)
		return false
	}
	return true
}

// StartContext is Start with the bind error returned. The error wraps
// ErrBindFailure.
func (r *Responder) StartContext(ctx context.Context, domains []string, verbose bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.authority.Store(newDomainSet(domains, r.wildcardTLDs))
	r.verbose.Store(verbose)

	if r.conn != nil {
		r.logger.Debug("DNS responder already running, domains replaced", "domains", domains)
		return nil
	}

	addr := net.JoinHostPort(r.address, strconv.Itoa(r.port))
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBindFailure, addr, err)
	}

	started := make(chan struct{})
	done := make(chan struct{})
	server := &mdns.Server{
		PacketConn:        conn,
		Handler:           r,
		NotifyStartedFunc: func() { close(started) },
		DecorateReader: func(rd mdns.Reader) mdns.Reader {
			return queryReader{Reader: rd, r: r}
		},
	}
	go func() {
		defer close(done)
		if err := server.ActivateAndServe(); err != nil {
			r.logger.Warn("DNS responder stopped unexpectedly", "error", err)
		}
	}()

	select {
	case <-started:
	case <-done:
		_ = conn.Close()
		return fmt.Errorf("%w: %s: server exited during startup", ErrBindFailure, addr)
	}

	r.conn, r.server, r.done = conn, server, done

	r.logger.Info("DNS responder listening", "address", conn.LocalAddr().String(), "domains", domains)
	return nil
}

// Stop shuts the server down and waits for it to exit. Stopping a
// stopped responder is a no-op.
func (r *Responder) Stop() {
	r.mu.Lock()
	server, done := r.server, r.done
	r.conn, r.server, r.done = nil, nil, nil
	r.mu.Unlock()

	if server == nil {
		return
	}
	if err := server.Shutdown(); err != nil {
		r.logger.Debug("DNS server shutdown", "error", err)
	}
	<-done
	r.logger.Debug("DNS responder stopped")
}

// IsRunning reports whether the socket is bound.
func (r *Responder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// Addr returns the bound address, or nil when stopped.
func (r *Responder) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Port returns the bound UDP port, or the configured one when stopped.
func (r *Responder) Port() int {
	if addr, ok := r.Addr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return r.port
}

// Matches reports whether name is inside the responder's authority.
func (r *Responder) Matches(name string) bool {
	return r.authority.Load().matches(name)
}

// queryReader drops datagrams that do not decode to a query before the
// server sees them, so malformed input never gets a reply.
type queryReader struct {
	mdns.Reader
	r *Responder
}

func (q queryReader) ReadUDP(conn *net.UDPConn, timeout time.Duration) ([]byte, *mdns.SessionUDP, error) {
	for {
		m, session, err := q.Reader.ReadUDP(conn, timeout)
		if err != nil || q.r.accept(m) {
			return m, session, err
		}
	}
}

func (q queryReader) ReadPacketConn(conn net.PacketConn, timeout time.Duration) ([]byte, net.Addr, error) {
	pc, ok := q.Reader.(mdns.PacketConnReader)
	if !ok {
		return nil, nil, errors.New("dns: reader cannot read from a packet conn")
	}
	for {
		m, addr, err := pc.ReadPacketConn(conn, timeout)
		if err != nil || q.r.accept(m) {
			return m, addr, err
		}
	}
}

func (r *Responder) accept(msg []byte) bool {
	if _, err := parseQuery(msg); err != nil {
		r.metrics.RecordDNSMalformed()
		r.logger.Debug("dropping malformed DNS query", "error", err)
		return false
	}
	return true
}

// ServeDNS implements the miekg/dns Handler interface.
func (r *Responder) ServeDNS(w mdns.ResponseWriter, req *mdns.Msg) {
	if len(req.Question) == 0 {
		return
	}
	reply := r.answer(context.Background(), req)
	if err := w.WriteMsg(reply); err != nil {
		r.logger.Debug("DNS write error", "peer", w.RemoteAddr().String(), "error", err)
	}
}

// Handle answers one query datagram. An error means the datagram could not
// be parsed and should be dropped.
func (r *Responder) Handle(ctx context.Context, msg []byte) ([]byte, error) {
	req, err := parseQuery(msg)
	if err != nil {
		return nil, err
	}
	return r.answer(ctx, req).Pack()
}

func parseQuery(msg []byte) (*mdns.Msg, error) {
	req := new(mdns.Msg)
	if err := req.Unpack(msg); err != nil {
		return nil, err
	}
	if req.Response {
		return nil, errNotQuery
	}
	if len(req.Question) == 0 {
		return nil, errNoQuestion
	}
	return req, nil
}

// answer builds the reply to req. Only the response and authoritative flags
// are set; recursion bits are never echoed.
func (r *Responder) answer(ctx context.Context, req *mdns.Msg) *mdns.Msg {
	q := req.Question[0]

	_, span := r.tracer.Start(ctx, "dns.query")
	defer span.End()

	reply := new(mdns.Msg)
	reply.SetReply(req)
	reply.Authoritative = true
	reply.RecursionDesired = false
	reply.CheckingDisabled = false

	hdr := mdns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: mdns.ClassINET, Ttl: AnswerTTL}
	switch {
	case q.Qtype == mdns.TypeA && r.Matches(q.Name):
		reply.Answer = append(reply.Answer, &mdns.A{Hdr: hdr, A: loopbackV4})
	case q.Qtype == mdns.TypeAAAA && r.Matches(q.Name):
		reply.Answer = append(reply.Answer, &mdns.AAAA{Hdr: hdr, AAAA: loopbackV6})
	default:
		reply.Rcode = mdns.RcodeNameError
	}

	name := strings.TrimSuffix(q.Name, ".")
	rcode := mdns.RcodeToString[reply.Rcode]
	qtype := typeLabel(q.Qtype)
	tracing.SetDNSAttributes(span, name, qtype, rcode)
	r.metrics.RecordDNSQuery(qtype, rcode)
	if r.verbose.Load() {
		r.logger.Debug("DNS query", "name", name, "type", qtype, "rcode", rcode)
	}
	return reply
}

// typeLabel bounds the qtype label of the query metric.
func typeLabel(t uint16) string {
	switch t {
	case mdns.TypeA, mdns.TypeAAAA, mdns.TypeCNAME, mdns.TypeMX,
		mdns.TypeTXT, mdns.TypeSRV, mdns.TypeHTTPS:
		return mdns.TypeToString[t]
	default:
		return "OTHER"
	}
}
