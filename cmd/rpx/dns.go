package main

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"stacks-dev/rpx/pkg/cli"
	"stacks-dev/rpx/pkg/config"
	"stacks-dev/rpx/pkg/dns"

	"github.com/spf13/cobra"
)

var dnsFlags struct {
	address string
	port    int
	qtype   string
	server  string
	format  string
}

var dnsCmd = &cobra.Command{
	Use:   "dns",
	Short: "Run or query the embedded DNS responder",
	Long: `Run or query the embedded DNS responder.

Subcommands:
  serve - Answer A/AAAA queries for domains with loopback addresses
  query - Send one query to a responder and print the reply

Examples:
  # Answer for app.test and its subdomains on 127.0.0.1:15353
  rpx dns serve app.test

  # Check it
  rpx dns query api.app.test --type AAAA`,
}

var dnsServeCmd = &cobra.Command{
	Use:   "serve [domains...]",
	Short: "Run the DNS responder until interrupted",
	Long: `Run the DNS responder in the foreground.

Without arguments the responder answers for the custom domains of the
configured routes. Names under the wildcard TLDs (default: test) are
always answered.`,
	RunE: runDNSServe,
}

var dnsQueryCmd = &cobra.Command{
	Use:   "query <name>",
	Short: "Query a DNS responder",
	Args:  cobra.ExactArgs(1),
	RunE:  runDNSQuery,
}

func init() {
	rootCmd.AddCommand(dnsCmd)
	dnsCmd.AddCommand(dnsServeCmd, dnsQueryCmd)

	dnsServeCmd.Flags().StringVar(&dnsFlags.address, "address", "", "address to bind (default from config)")
	dnsServeCmd.Flags().IntVar(&dnsFlags.port, "port", 0, "UDP port to bind (default from config)")

	dnsQueryCmd.Flags().StringVarP(&dnsFlags.qtype, "type", "t", "A", "record type")
	dnsQueryCmd.Flags().StringVarP(&dnsFlags.server, "server", "s", "", "responder host:port (default from config)")
	dnsQueryCmd.Flags().StringVar(&dnsFlags.format, "format", "text", "output format: text, json")
}

func runDNSServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dnsFlags.address != "" {
		cfg.DNS.Address = dnsFlags.address
	}
	if dnsFlags.port != 0 {
		cfg.DNS.Port = dnsFlags.port
	}

	domains := args
	if len(domains) == 0 {
		domains = config.Domains(cfg.RouteSpec())
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	responder := dns.NewResponder(cfg.DNS)
	if err := responder.StartContext(ctx, domains, cfg.Verbose); err != nil {
		return cli.NewCommandError("dns serve", err)
	}
	defer responder.Stop()

	out := cmd.OutOrStdout()
	cli.Success(out, "DNS responder listening on %s", responder.Addr())
	fmt.Fprintf(out, "  Domains: %s\n", strings.Join(domains, ", "))
	fmt.Fprintf(out, "  Wildcard TLDs: %s\n", strings.Join(cfg.DNS.WildcardTLDs, ", "))
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	<-ctx.Done()
	return nil
}

func runDNSQuery(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(dnsFlags.format)
	if err != nil {
		return err
	}
	qtype, err := dns.ParseType(dnsFlags.qtype)
	if err != nil {
		return cli.NewConfigError("type", err.Error())
	}

	server := dnsFlags.server
	if server == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		server = net.JoinHostPort(cfg.DNS.Address, strconv.Itoa(cfg.DNS.Port))
	}

	res, err := dns.Lookup(cmd.Context(), server, args[0], qtype)
	if err != nil {
		return cli.NewCommandError("dns query", err)
	}
	return printLookup(cmd.OutOrStdout(), format, args[0], res)
}

type lookupOutput struct {
	Name          string   `json:"name"`
	Rcode         string   `json:"rcode"`
	Authoritative bool     `json:"authoritative"`
	Answers       []string `json:"answers"`
	RTTMillis     float64  `json:"rtt_ms"`
}

func (o lookupOutput) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", o.Name, o.Rcode)
	if o.Authoritative {
		b.WriteString(" (authoritative)")
	}
	fmt.Fprintf(&b, " in %.1fms", o.RTTMillis)
	for _, a := range o.Answers {
		b.WriteString("\n  " + a)
	}
	return b.String()
}

func printLookup(w io.Writer, format cli.OutputFormat, name string, res *dns.LookupResult) error {
	out := lookupOutput{
		Name:          name,
		Rcode:         res.Rcode,
		Authoritative: res.Authoritative,
		Answers:       res.Answers,
		RTTMillis:     float64(res.RTT.Microseconds()) / 1000,
	}
	if out.Answers == nil {
		out.Answers = []string{}
	}
	return cli.NewFormatter(format).FormatTo(w, out)
}
