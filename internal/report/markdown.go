package report

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/torfallback/internal/model"
	"github.com/nao1215/torfallback/internal/session"
)

// MarkdownWriter outputs reports in Markdown format.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation, which gives us tables, alerts and mermaid charts without
// hand-escaping pipes and newlines.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// WriteProxies outputs the registry as a table.
func (w *MarkdownWriter) WriteProxies(proxies []model.Proxy) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H2("Proxies")
	md.PlainText("")

	if len(proxies) == 0 {
		md.Note("No proxies registered.")
		return len(md.String()), md.Build()
	}

	rows := make([][]string, len(proxies))
	dead := 0
	for i, p := range proxies {
		rows[i] = []string{
			markdown.Code(p.ID),
			string(p.Kind),
			address(p),
			statusBadge(p.Status),
			formatTime(p.LastChecked),
		}
		if p.Status == model.ProxyStatusDead {
			dead++
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"ID", "Kind", "Address", "Status", "Last Checked"},
		Rows:   rows,
	})

	if dead == len(proxies) {
		md.PlainText("")
		md.Caution("Every proxy is marked dead. Renew the Tor circuit or add proxies before starting a session.")
	}
	return len(md.String()), md.Build()
}

// statusBadge renders a proxy status with a marker.
func statusBadge(s model.ProxyStatus) string {
	switch s {
	case model.ProxyStatusLive:
		return "✅ " + title(s.String())
	case model.ProxyStatusDead:
		return "❌ " + title(s.String())
	default:
		return "❔ " + title(s.String())
	}
}

// WriteProbe outputs one probe result as a table.
func (w *MarkdownWriter) WriteProbe(p model.Proxy, result model.ProbeResult) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H2("Probe: " + p.ID)
	md.PlainText("")

	reachable := "❌ No"
	if result.Reachable {
		reachable = "✅ Yes"
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Proxy", markdown.Code(p.String())},
			{"Reachable", reachable},
			{"Egress Address", orDash(result.EgressAddress)},
			{"Latency", formatLatency(result.Latency)},
			{"Checked", formatTime(result.CheckedAt)},
		},
	})

	if !result.Reachable && result.Reason != "" {
		md.PlainText("")
		md.Warning(result.Reason)
	}
	return len(md.String()), md.Build()
}

// WriteStatus outputs the session snapshot and its verdict history.
func (w *MarkdownWriter) WriteStatus(s session.Status) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H2("Session")
	md.PlainText("")

	if s.ID == "" {
		md.Note("No session has been started.")
		return len(md.String()), md.Build()
	}

	active := "none"
	if s.Active != nil {
		active = markdown.Code(s.Active.String())
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"ID", markdown.Code(s.ID)},
			{"State", markdown.Bold(title(s.State.String()))},
			{"Active Proxy", active},
			{"Started", formatTime(s.CreatedAt)},
			{"Consecutive Blocks", strconv.Itoa(s.ConsecutiveBlocks)},
			{"Switches", strconv.Itoa(s.Switches)},
		},
	})
	md.PlainText("")

	if s.State == model.SessionExhausted {
		md.Caution("The session is exhausted. Check the verdict history: repeated blocks on every proxy can also mean the credentials are wrong.")
		md.PlainText("")
	}

	if len(s.History) > 0 {
		md.H3("Verdicts")
		md.PlainText("")
		rows := make([][]string, len(s.History))
		for i, rec := range s.History {
			rows[i] = []string{formatTime(rec.At), rec.ProxyID, truncateString(rec.Verdict.String(), 80)}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Time", "Proxy", "Verdict"},
			Rows:   rows,
		})
	}
	return len(md.String()), md.Build()
}

// WriteHistory outputs the journal with a verdict distribution chart.
func (w *MarkdownWriter) WriteHistory(h History) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("torfallback History")
	md.PlainText("")

	if h.Empty() {
		md.Note("Journal is empty.")
		return len(md.String()), md.Build()
	}

	if len(h.Verdicts) > 0 {
		md.H2("Verdicts")
		md.PlainText("")
		w.writeVerdictChart(md, h)

		rows := make([][]string, len(h.Verdicts))
		for i, v := range h.Verdicts {
			rows[i] = []string{formatTime(v.Timestamp), v.ProxyID, v.Kind, orDash(truncateString(v.Detail, 60))}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Time", "Proxy", "Verdict", "Detail"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	if len(h.Events) > 0 {
		md.H2("Status Changes")
		md.PlainText("")
		rows := make([][]string, len(h.Events))
		for i, ev := range h.Events {
			rows[i] = []string{formatTime(ev.Timestamp), ev.ProxyID, ev.Previous, ev.Status}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Time", "Proxy", "From", "To"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	if len(h.Probes) > 0 {
		md.H2("Probes")
		md.PlainText("")
		rows := make([][]string, len(h.Probes))
		for i, p := range h.Probes {
			reachable := "no"
			if p.Reachable {
				reachable = "yes"
			}
			rows[i] = []string{formatTime(p.Timestamp), p.ProxyID, reachable, orDash(p.Egress), formatLatency(p.Latency), orDash(truncateString(p.Reason, 60))}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Time", "Proxy", "Reachable", "Egress", "Latency", "Reason"},
			Rows:   rows,
		})
	}
	return len(md.String()), md.Build()
}

// writeVerdictChart writes a mermaid pie chart of verdict kinds.
func (w *MarkdownWriter) writeVerdictChart(md *markdown.Markdown, h History) {
	counts := make(map[string]uint64)
	for _, v := range h.Verdicts {
		counts[v.Kind]++
	}

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Verdict Distribution"),
		piechart.WithShowData(true),
	)
	for _, kind := range []model.VerdictKind{model.VerdictOk, model.VerdictBlocked, model.VerdictTransient} {
		if n := counts[kind.String()]; n > 0 {
			chart.LabelAndIntValue(title(kind.String()), n)
		}
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}
