package main

import (
	"crypto/x509"
	"fmt"
	"io"
	"strings"
	"time"

	"stacks-dev/rpx/pkg/certs"
	"stacks-dev/rpx/pkg/cli"
	"stacks-dev/rpx/pkg/config"
	securityTLS "stacks-dev/rpx/pkg/security/tls"

	"github.com/spf13/cobra"
)

var certsFlags struct {
	basePath string
	format   string
}

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Manage local TLS certificates",
	Long: `Manage the local certificate authority and serving certificates.

Certificates live under ~/.stacks/ssl as <domain>.crt, <domain>.key and
<domain>.ca.crt. Trust the .ca.crt file in your OS or browser to remove
certificate warnings.

Subcommands:
  generate - Generate a CA and certificate for domains
  info     - Display certificate details

Examples:
  # Certificate for the configured routes
  rpx certs generate

  # Certificate for specific domains
  rpx certs generate app.test api.app.test

  # Inspect it
  rpx certs info`,
}

var certsGenerateCmd = &cobra.Command{
	Use:   "generate [domains...]",
	Short: "Generate a local CA and certificate",
	Long: `Generate a local CA and a certificate covering the given domains, their
wildcards, localhost and *.localhost. Existing files are replaced; running
proxies watching the files pick up the new certificate.`,
	RunE: runCertsGenerate,
}

var certsInfoCmd = &cobra.Command{
	Use:   "info [cert-file]",
	Short: "Display certificate details",
	Long: `Display the subject, validity and names of a certificate.

Without an argument the certificate of the first configured route is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCertsInfo,
}

func init() {
	rootCmd.AddCommand(certsCmd)
	certsCmd.AddCommand(certsGenerateCmd, certsInfoCmd)

	certsCmd.PersistentFlags().StringVar(&certsFlags.basePath, "base-path", "", "certificate directory (default from config)")
	certsInfoCmd.Flags().StringVar(&certsFlags.format, "format", "text", "output format: text, json")
}

func certsConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if certsFlags.basePath != "" {
		cfg.HTTPS.BasePath = certsFlags.basePath
	}
	return cfg, nil
}

func runCertsGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := certsConfig()
	if err != nil {
		return err
	}
	domains := args
	if len(domains) == 0 {
		domains = config.Domains(cfg.RouteSpec())
	}

	provider := certs.NewProvider(cfg.HTTPS, nil)
	material, err := provider.Generate(domains)
	if err != nil {
		return cli.NewCommandError("certs generate", err)
	}

	out := cmd.OutOrStdout()
	cli.Success(out, "Certificate generated for %s", strings.Join(material.Domains, ", "))
	fmt.Fprintf(out, "  Certificate: %s\n", material.Files.Cert)
	fmt.Fprintf(out, "  Private key: %s\n", material.Files.Key)
	fmt.Fprintf(out, "  CA:          %s\n", material.Files.CA)
	fmt.Fprintf(out, "  Expires:     %s\n", material.NotAfter.Format("2006-01-02"))
	fmt.Fprintf(out, "\nTrust %s to avoid browser warnings.\n", material.Files.CA)
	return nil
}

func runCertsInfo(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(certsFlags.format)
	if err != nil {
		return err
	}

	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := certsConfig()
		if err != nil {
			return err
		}
		domains := config.Domains(cfg.RouteSpec())
		if len(domains) == 0 {
			return cli.NewConfigError("to", "no routes configured")
		}
		path = certs.NewProvider(cfg.HTTPS, nil).Paths(domains[0]).Cert
	}

	cert, err := securityTLS.ReadCertificateFile(path)
	if err != nil {
		return cli.NewCommandError("certs info", err)
	}
	info := securityTLS.ExtractCertificateInfo(cert)
	info.Path = path

	return printCertInfo(cmd.OutOrStdout(), format, info, time.Now())
}

type certInfoOutput struct {
	*securityTLS.CertificateInfo
	DaysUntilExpiry int    `json:"days_until_expiry"`
	Warning         string `json:"warning,omitempty"`
}

func (o certInfoOutput) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Certificate: %s\n\n", o.Path)
	fmt.Fprintf(&b, "Subject:   %s\n", o.Subject)
	fmt.Fprintf(&b, "Issuer:    %s\n", o.Issuer)
	fmt.Fprintf(&b, "Serial:    %s\n", o.SerialNumber)
	fmt.Fprintf(&b, "Algorithm: %s\n", o.SignatureAlgorithm)
	fmt.Fprintf(&b, "CA:        %t\n", o.IsCA)
	fmt.Fprintf(&b, "\nValidity:\n  Not Before: %s\n  Not After:  %s (%d days)\n",
		o.NotBefore.Format(time.RFC3339), o.NotAfter.Format(time.RFC3339), o.DaysUntilExpiry)
	if len(o.DNSNames) > 0 {
		fmt.Fprintf(&b, "\nDNS Names:\n  %s\n", strings.Join(o.DNSNames, "\n  "))
	}
	if len(o.IPAddresses) > 0 {
		fmt.Fprintf(&b, "\nIP Addresses:\n  %s\n", strings.Join(o.IPAddresses, "\n  "))
	}
	if o.Warning != "" {
		fmt.Fprintf(&b, "\n⚠ %s\n", o.Warning)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func printCertInfo(w io.Writer, format cli.OutputFormat, info *securityTLS.CertificateInfo, now time.Time) error {
	out := certInfoOutput{CertificateInfo: info}
	if now.After(info.NotAfter) {
		out.Warning = "certificate expired on " + info.NotAfter.Format("2006-01-02")
	} else {
		out.DaysUntilExpiry, out.Warning = securityTLS.CheckCertificateExpiration(&x509.Certificate{NotAfter: info.NotAfter}, now)
	}
	return cli.NewFormatter(format).FormatTo(w, out)
}
