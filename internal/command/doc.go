// Package command maps chat command lines onto session controller
// operations.
//
// A Dispatcher owns one session.Controller per chat channel. The
// controllers share the proxy registry, so a proxy marked dead by one
// channel is skipped by every other channel, while each channel keeps its
// own session state and retry budget.
//
// # Commands
//
//	start              start a session on the first usable proxy
//	handleblock        report a block and fail over to the next proxy
//	testproxy [id]     probe a proxy without changing any state (default: tor)
//	listproxies        list registered proxies and their status
//	stop               end the session
//	status             show the session state and verdict history
//	renewcircuit [id]  ask Tor for a new circuit and re-probe the proxy
//	perform <url>      GET url through the session
//	help               list commands
//
// A leading "!" is accepted, so "!start" and "start" are the same command.
// Every command returns a Reply with human readable text and an exit code.
package command
