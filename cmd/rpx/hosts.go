package main

import (
	"fmt"
	"io"
	"strings"

	"stacks-dev/rpx/pkg/cli"
	"stacks-dev/rpx/pkg/config"
	"stacks-dev/rpx/pkg/hosts"

	"github.com/spf13/cobra"
)

var hostsFlags struct {
	path   string
	format string
}

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Manage loopback entries in the hosts file",
	Long: `Add, remove or check loopback entries for custom domains.

Entries written by rpx are preceded by a marker comment so they can be
removed later without touching anything else. Editing the system hosts file
usually requires elevated privileges.

Examples:
  # Map the configured custom domains
  sudo rpx hosts add

  # Check specific names
  rpx hosts check app.test api.app.test`,
}

var hostsAddCmd = &cobra.Command{
	Use:   "add [hosts...]",
	Short: "Add loopback entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, names, err := hostsTarget(args)
		if err != nil {
			return err
		}
		return addHosts(cmd.OutOrStdout(), m, names)
	},
}

var hostsRemoveCmd = &cobra.Command{
	Use:   "remove [hosts...]",
	Short: "Remove loopback entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, names, err := hostsTarget(args)
		if err != nil {
			return err
		}
		return removeHosts(cmd.OutOrStdout(), m, names)
	},
}

var hostsCheckCmd = &cobra.Command{
	Use:   "check [hosts...]",
	Short: "Report which hosts are mapped to loopback",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(hostsFlags.format)
		if err != nil {
			return err
		}
		m, names, err := hostsTarget(args)
		if err != nil {
			return err
		}
		return checkHosts(cmd.OutOrStdout(), format, m, names)
	},
}

func init() {
	rootCmd.AddCommand(hostsCmd)
	hostsCmd.AddCommand(hostsAddCmd, hostsRemoveCmd, hostsCheckCmd)

	hostsCmd.PersistentFlags().StringVar(&hostsFlags.path, "hosts-file", "", "hosts file to edit (default from config)")
	hostsCheckCmd.Flags().StringVar(&hostsFlags.format, "format", "text", "output format: text, json")
}

// hostsTarget resolves the hosts file and host names for a subcommand.
// Without arguments the custom domains of the configured routes are used.
func hostsTarget(args []string) (*hosts.Manager, []string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	path := cfg.Hosts.Path
	if hostsFlags.path != "" {
		path = hostsFlags.path
	}

	names := args
	if len(names) == 0 {
		for _, d := range config.Domains(cfg.RouteSpec()) {
			if !config.IsLoopbackDomain(d) {
				names = append(names, d)
			}
		}
	}
	if len(names) == 0 {
		return nil, nil, cli.NewConfigError("", "no custom domains configured and none given")
	}
	return hosts.NewManager(path, nil), names, nil
}

func addHosts(w io.Writer, m *hosts.Manager, names []string) error {
	if err := m.Add(names); err != nil {
		return cli.NewCommandError("hosts add", err)
	}
	cli.Success(w, "%s mapped in %s", strings.Join(names, ", "), m.Path())
	return nil
}

func removeHosts(w io.Writer, m *hosts.Manager, names []string) error {
	if err := m.Remove(names); err != nil {
		return cli.NewCommandError("hosts remove", err)
	}
	cli.Success(w, "%s removed from %s", strings.Join(names, ", "), m.Path())
	return nil
}

type hostStatus struct {
	Host   string `json:"host"`
	Mapped bool   `json:"mapped"`
}

type hostsReport struct {
	Path  string       `json:"path"`
	Hosts []hostStatus `json:"hosts"`
}

func (r hostsReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:", r.Path)
	for _, h := range r.Hosts {
		mark := "✗"
		if h.Mapped {
			mark = "✓"
		}
		fmt.Fprintf(&b, "\n  %s %s", mark, h.Host)
	}
	return b.String()
}

func checkHosts(w io.Writer, format cli.OutputFormat, m *hosts.Manager, names []string) error {
	present, err := m.Check(names)
	if err != nil {
		return cli.NewCommandError("hosts check", err)
	}
	report := hostsReport{Path: m.Path()}
	for i, name := range names {
		report.Hosts = append(report.Hosts, hostStatus{Host: name, Mapped: present[i]})
	}
	return cli.NewFormatter(format).FormatTo(w, report)
}
