package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/torfallback/internal/command"
)

// NewTestProxyCmd creates the testproxy command.
func NewTestProxyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "testproxy [id]",
		Short: "Check whether a proxy can reach the probe endpoint",
		Long: `Testproxy sends one request to the probe endpoint through the proxy and
reports whether it answered and with which egress address. It changes no
proxy status.

For SOCKS5 proxies the SOCKS handshake is checked first, so "Tor is not
running" is reported separately from an upstream failure.

Examples:
  # Is Tor working?
  torfallback testproxy

  # Check the direct path
  torfallback testproxy direct`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := command.DefaultTestProxy
			if len(args) == 1 {
				id = args[0]
			}
			return runOnce(cmd.Context(), cmd, strings.Join([]string{"testproxy", id}, " "))
		},
	}
}
