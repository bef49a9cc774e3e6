package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/torfallback/internal/database"
	"github.com/nao1215/torfallback/internal/report"
)

// NewHistoryCmd creates the history command.
// This command shows what the journal recorded in earlier runs.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded proxy status changes, verdicts and probes",
		Long: `History reads the journal that console and listproxies --probe write to and
shows the most recent entries, newest first:
- Proxy status changes (unknown, live, dead)
- Verdicts of target-service requests (ok, blocked, transient-error)
- Probe results with egress address and latency

Examples:
  # Everything recent
  torfallback history

  # Only the tor proxy, last 50 entries
  torfallback history --proxy tor --limit 50

  # One session, as Markdown with a verdict chart
  torfallback history --session 1b4e28ba-2fa1-11d2-883f-0016d3cca427 --markdown`,
		Args: cobra.NoArgs,
		RunE: runHistoryCmd,
	}

	cmd.Flags().String("proxy", "", "Only show entries of this proxy")
	cmd.Flags().String("session", "", "Only show verdicts of this session")
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of entries per section")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	proxyID, err := cmd.Flags().GetString("proxy")
	if err != nil {
		return err
	}
	sessionID, err := cmd.Flags().GetString("session")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	journal, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer journal.Close()

	h, err := loadHistory(cmd.Context(), journal, proxyID, sessionID, limit)
	if err != nil {
		return err
	}

	w, err := report.New(cfg.ReportFormat(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	_, err = w.WriteHistory(h)
	return err
}

// loadHistory reads the three journal sections. Verdicts are filtered by
// session, then by proxy; events and probes by proxy.
func loadHistory(ctx context.Context, journal *database.Journal, proxyID, sessionID string, limit int) (report.History, error) {
	var h report.History
	var err error

	if h.Events, err = journal.RecentStatusEvents(ctx, proxyID, limit); err != nil {
		return h, err
	}
	verdicts, err := journal.RecentVerdicts(ctx, sessionID, limit)
	if err != nil {
		return h, err
	}
	for _, v := range verdicts {
		if proxyID == "" || v.ProxyID == proxyID {
			h.Verdicts = append(h.Verdicts, v)
		}
	}
	if h.Probes, err = journal.RecentProbes(ctx, proxyID, limit); err != nil {
		return h, err
	}
	return h, nil
}
