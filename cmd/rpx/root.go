package main

import (
	"fmt"
	"os"

	"stacks-dev/rpx/pkg/cli"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "rpx",
	Short: "rpx - local development reverse proxy",
	Long: `rpx puts local dev servers behind friendly hostnames.

It forwards https://app.test (or https://app.localhost) to a dev server such
as localhost:5173, providing:
  - TLS termination with a generated local certificate authority
  - Clean URLs that map /about to /about.html
  - An embedded DNS responder plus hosts-file entries for custom domains
  - Supervision of the dev server command
  - Cleanup of everything it set up when it exits`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the status mapped from its
// error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "rpx.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
