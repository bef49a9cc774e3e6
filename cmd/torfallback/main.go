// Package main provides the entry point for the torfallback CLI.
//
// torfallback drives requests against a target service and fails over to
// Tor (or another SOCKS5 proxy) when the service blocks the current
// address. Chat commands are read by the console subcommand; the other
// subcommands run a single action and exit.
//
// Usage:
//
//	torfallback console
//	torfallback testproxy tor
//	torfallback listproxies --probe
//
// See --help for all available options.
package main

// main is the entry point for torfallback.
func main() {
	Execute()
}
