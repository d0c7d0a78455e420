package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"stacks-dev/rpx/pkg/cli"
	"stacks-dev/rpx/pkg/config"
	"stacks-dev/rpx/pkg/proxy"
	"stacks-dev/rpx/pkg/server"
	"stacks-dev/rpx/pkg/telemetry"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var startFlags struct {
	from         string
	to           string
	https        bool
	keyPath      string
	certPath     string
	caCertPath   string
	cleanURLs    bool
	changeOrigin bool
	hostsCleanup bool
	certsCleanup bool
	startCommand string
	startCwd     string
	startEnv     map[string]string
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the reverse proxy",
	Long: `Start proxying one or more routes until interrupted.

Without a config file a single route from --from to --to is served. With a
config file containing "proxies:", every listed route is served and the
route flags are ignored.

On Ctrl+C rpx stops the dev command, closes its listeners, removes the
hosts entries it added and, with --certs-cleanup, deletes the generated
certificates. A second Ctrl+C exits immediately.

Examples:
  # https://stacks.localhost -> localhost:5173
  rpx start

  # Custom domain with clean URLs
  rpx start --from localhost:3000 --to docs.test --clean-urls

  # Start the dev server too
  rpx start --from localhost:5173 --to app.test --start-command "npm run dev"

  # Plain HTTP
  rpx start --https=false`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	bindStartFlags(startCmd.Flags())
}

func bindStartFlags(f *pflag.FlagSet) {
	f.StringVar(&startFlags.from, "from", config.DefaultFrom, "upstream dev server address")
	f.StringVar(&startFlags.to, "to", config.DefaultTo, "public hostname")
	f.BoolVar(&startFlags.https, "https", true, "terminate TLS with a local certificate")
	f.StringVar(&startFlags.keyPath, "key-path", "", "TLS private key (skips generation)")
	f.StringVar(&startFlags.certPath, "cert-path", "", "TLS certificate (skips generation)")
	f.StringVar(&startFlags.caCertPath, "ca-cert-path", "", "CA certificate served with the chain")
	f.BoolVar(&startFlags.cleanURLs, "clean-urls", false, "serve /about from /about.html")
	f.BoolVar(&startFlags.changeOrigin, "change-origin", false, "rewrite Host to the upstream host:port")
	f.BoolVar(&startFlags.hostsCleanup, "hosts-cleanup", true, "remove added hosts entries on exit")
	f.BoolVar(&startFlags.certsCleanup, "certs-cleanup", false, "delete generated certificates on exit")
	f.StringVar(&startFlags.startCommand, "start-command", "", "dev server command to run")
	f.StringVar(&startFlags.startCwd, "start-cwd", "", "working directory of the dev command")
	f.StringToStringVar(&startFlags.startEnv, "start-env", nil, "environment for the dev command (KEY=VALUE,...)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyStartFlags(cfg, cmd.Flags()); err != nil {
		return err
	}

	tel, err := telemetry.New(&cfg.Telemetry, telemetry.BuildInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildDate: BuildDate,
	})
	if err != nil {
		return cli.NewConfigError("telemetry", err.Error())
	}
	defer tel.Shutdown(context.Background())

	ctx := cmd.Context()
	go func() {
		if err := tel.Serve(ctx); err != nil {
			slog.Warn("telemetry listener failed", "error", err)
		}
	}()

	out := cmd.OutOrStdout()
	printStartBanner(out, cfg)

	srv := server.New(cfg,
		server.WithLogger(tel.Logger()),
		server.WithMetrics(tel.Metrics()),
		server.WithTracer(tel.Tracer()),
		server.WithHealth(tel.Health()),
		server.WithOnReady(func(instances []*proxy.Instance) {
			printReady(out, instances)
		}),
	)

	if err := srv.Run(ctx); err != nil {
		return cli.NewCommandError("start", err)
	}
	return nil
}

// applyStartFlags overlays explicitly set flags on cfg and revalidates it.
// Route flags only apply to single-route configurations.
func applyStartFlags(cfg *config.Config, flags *pflag.FlagSet) error {
	if len(cfg.Proxies) == 0 {
		if flags.Changed("from") {
			cfg.From = startFlags.from
		}
		if flags.Changed("to") {
			cfg.To = startFlags.to
		}
		if flags.Changed("start-command") {
			if cfg.Start == nil {
				cfg.Start = &config.StartConfig{}
			}
			cfg.Start.Command = startFlags.startCommand
		}
		if cfg.Start != nil {
			if flags.Changed("start-cwd") {
				cfg.Start.Cwd = startFlags.startCwd
			}
			if flags.Changed("start-env") {
				cfg.Start.Env = startFlags.startEnv
			}
		}
	}

	if flags.Changed("https") {
		cfg.HTTPS.Enabled = startFlags.https
	}
	if flags.Changed("key-path") {
		cfg.HTTPS.KeyPath = startFlags.keyPath
	}
	if flags.Changed("cert-path") {
		cfg.HTTPS.CertPath = startFlags.certPath
	}
	if flags.Changed("ca-cert-path") {
		cfg.HTTPS.CACertPath = startFlags.caCertPath
	}
	if flags.Changed("clean-urls") {
		cfg.CleanURLs = startFlags.cleanURLs
	}
	if flags.Changed("change-origin") {
		cfg.ChangeOrigin = startFlags.changeOrigin
	}
	if flags.Changed("hosts-cleanup") {
		cfg.Cleanup.Hosts = startFlags.hostsCleanup
	}
	if flags.Changed("certs-cleanup") {
		cfg.Cleanup.Certs = startFlags.certsCleanup
	}

	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return asConfigError(err)
	}
	return nil
}

func printStartBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "rpx v%s\n", Version)
	for _, r := range cfg.RouteSpec().Routes() {
		if config.ClassifyTLD(r.To) == config.TLDProblematic {
			cli.Warning(w, "%s uses the .%s TLD, which browsers force to HTTPS", r.To, config.TLD(r.To))
		}
	}
	if cfg.Telemetry.Listen != "" {
		cli.Success(w, "Metrics endpoint: http://%s/metrics", cfg.Telemetry.Listen)
	}
}

func printReady(w io.Writer, instances []*proxy.Instance) {
	for _, inst := range instances {
		cli.Success(w, "%s -> %s", inst.URL(), inst.Route().From)
	}
	fmt.Fprintln(w, "\nPress Ctrl+C to stop")
}
