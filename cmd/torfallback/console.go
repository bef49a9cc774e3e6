package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nao1215/torfallback/internal/command"
)

// consolePrompt is printed before each line when stdin is a terminal.
const consolePrompt = "torfallback> "

// NewConsoleCmd creates the console command.
func NewConsoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Read chat commands from standard input",
		Long: `Console reads one chat command per line from standard input and prints the
reply. It is the bridge between a chat bot and torfallback: the bot writes
the commands it receives (start, handleblock, testproxy, listproxies, ...)
and relays the replies.

A line may start with "#channel " to address the session of another
channel; every channel has its own session over the shared proxy list.

Examples:
  # Interactive use
  torfallback console

  # Replies as Markdown for a chat that renders it
  torfallback console --markdown

  # Scripted use
  printf '!start\n!perform https://example.com/nic/update\n' | torfallback console`,
		Args: cobra.NoArgs,
		RunE: runConsoleCmd,
	}

	cmd.Flags().String("channel", "console", "Default channel of commands without a #channel prefix")

	return cmd
}

// runConsoleCmd executes the console command.
func runConsoleCmd(cmd *cobra.Command, _ []string) error {
	channel, err := cmd.Flags().GetString("channel")
	if err != nil {
		return err
	}

	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cmd.ErrOrStderr(), cfg.Verbose)

	// Set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	in := cmd.InOrStdin()
	return runConsole(ctx, a.dispatcher(), channel, in, cmd.OutOrStdout(), isTerminal(in))
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // Fd fits in int on supported platforms
}

// runConsole dispatches every line of in until EOF, "quit" or
// cancellation of ctx.
func runConsole(ctx context.Context, d *command.Dispatcher, channel string, in io.Reader, out io.Writer, prompt bool) error {
	scanner := bufio.NewScanner(in)
	for {
		if prompt {
			fmt.Fprint(out, consolePrompt)
		}
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "quit", "exit":
			return nil
		}

		target, line := splitChannel(channel, line)
		reply := d.Dispatch(ctx, target, line)
		fmt.Fprintln(out, reply.Text)

		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

// splitChannel strips a leading "#channel" from line.
func splitChannel(fallback, line string) (string, string) {
	if !strings.HasPrefix(line, "#") {
		return fallback, line
	}
	name, rest, _ := strings.Cut(line[1:], " ")
	if name == "" {
		return fallback, strings.TrimSpace(rest)
	}
	return name, strings.TrimSpace(rest)
}
