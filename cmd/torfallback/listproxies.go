package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nao1215/torfallback/internal/probe"
	"github.com/nao1215/torfallback/internal/report"
)

// NewListProxiesCmd creates the listproxies command.
func NewListProxiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listproxies",
		Short: "List the configured proxies",
		Long: `Listproxies shows the direct path, the Tor proxy and any extra proxies from
the configuration file.

With --probe every proxy is probed concurrently first and its status is
updated from the result, so the list shows which proxies work right now.

Examples:
  torfallback listproxies
  torfallback listproxies --probe --markdown`,
		Args: cobra.NoArgs,
		RunE: runListProxiesCmd,
	}

	cmd.Flags().BoolP("probe", "p", false, "Probe every proxy before listing")
	cmd.Flags().Int("concurrency", 4, "Number of proxies probed at once")

	return cmd
}

// runListProxiesCmd executes the listproxies command.
func runListProxiesCmd(cmd *cobra.Command, _ []string) error {
	doProbe, err := cmd.Flags().GetBool("probe")
	if err != nil {
		return err
	}
	if !doProbe {
		return runOnce(cmd.Context(), cmd, "listproxies")
	}

	concurrency, err := cmd.Flags().GetInt("concurrency")
	if err != nil {
		return err
	}

	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cmd.ErrOrStderr(), cfg.Verbose)

	a, err := newApp(cfg, logger, probe.WithConcurrency(concurrency))
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := report.New(cfg.ReportFormat(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return discover(cmd.Context(), a, w, cmd.OutOrStdout())
}

// discover probes all registered proxies, records each result in the
// registry and the journal, then writes the results and the list.
func discover(ctx context.Context, a *app, w report.Writer, out io.Writer) error {
	proxies := a.registry.List()
	results := a.prober.TestAll(ctx, proxies)

	for i, result := range results {
		p := proxies[i]
		var markErr error
		if result.Reachable {
			_, markErr = a.registry.MarkLive(p.ID)
		} else {
			_, markErr = a.registry.MarkDead(p.ID)
		}
		if markErr != nil {
			return markErr
		}
		if a.journal != nil {
			if err := a.journal.RecordProbe(ctx, "", result); err != nil {
				a.logger.Warn("failed to journal probe", "proxy", p.ID, "error", err)
			}
		}
		if _, err := w.WriteProbe(p, result); err != nil {
			return err
		}
	}

	fmt.Fprintln(out)
	_, err := w.WriteProxies(a.registry.List())
	return err
}
