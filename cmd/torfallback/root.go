// Package main provides the entry point for the torfallback CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/torfallback/internal/config"
)

// NewRootCmd creates the root command for torfallback.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "torfallback",
		Short: "Fail over to Tor when a target service blocks your address",
		Long: `torfallback runs requests against a target service through the direct
network path and switches to a Tor SOCKS5 proxy when the service answers
with a block (by default "Username and password invalid").

Tor itself is not managed: start it yourself and point torfallback at its
SocksPort (default 127.0.0.1:9050) and, optionally, its ControlPort.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	flags := cmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "Enable verbose logging")
	flags.StringP("config", "c", "",
		"Configuration file path (default: .torfallback in current or home directory)")
	flags.String("env-file", "", "Read secrets from this .env file (default: ./.env if present)")
	flags.BoolP("json", "j", false, "Output JSON (mutually exclusive with --markdown)")
	flags.BoolP("markdown", "m", false, "Output Markdown (mutually exclusive with --json)")
	flags.String("db-dir", "", "Journal directory (default: XDG data directory)")
	flags.Bool("no-journal", false, "Do not record status changes, verdicts and probes")
	flags.String("socks-host", config.DefaultSOCKSHost, "Tor SOCKS5 host")
	flags.Int("socks-port", config.DefaultSOCKSPort, "Tor SOCKS5 port")
	flags.Int("control-port", config.DefaultControlPort, "Tor control port")
	flags.String("probe-endpoint", config.DefaultProbeEndpoint, "Endpoint requested by proxy probes")
	flags.Duration("probe-timeout", config.DefaultProbeTimeout, "Timeout of one proxy probe")

	cmd.AddCommand(NewConsoleCmd())
	cmd.AddCommand(NewTestProxyCmd())
	cmd.AddCommand(NewListProxiesCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
