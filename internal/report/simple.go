package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/torfallback/internal/model"
	"github.com/nao1215/torfallback/internal/session"
)

// SimpleWriter outputs plain text. Chat replies use it, so every section
// stays short and free of markup.
type SimpleWriter struct {
	baseWriter

	// verbose adds the verdict history to status output.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteProxies outputs one line per proxy.
func (w *SimpleWriter) WriteProxies(proxies []model.Proxy) (int, error) {
	var sb strings.Builder

	if len(proxies) == 0 {
		sb.WriteString("No proxies registered.\n")
		return io.WriteString(w.output, sb.String())
	}

	fmt.Fprintf(&sb, "%d proxies:\n", len(proxies))
	for _, p := range proxies {
		fmt.Fprintf(&sb, "  %-10s %-7s %-21s %-8s last checked %s\n",
			p.ID, p.Kind, address(p), title(p.Status.String()), formatTime(p.LastChecked))
	}
	return io.WriteString(w.output, sb.String())
}

// WriteProbe outputs a one-line probe verdict.
func (w *SimpleWriter) WriteProbe(p model.Proxy, result model.ProbeResult) (int, error) {
	var line string
	if result.Reachable {
		line = fmt.Sprintf("%s is reachable (egress %s, %s)\n",
			p, orDash(result.EgressAddress), formatLatency(result.Latency))
	} else {
		line = fmt.Sprintf("%s is unreachable: %s\n", p, orDash(result.Reason))
	}
	return io.WriteString(w.output, line)
}

// WriteStatus outputs the session snapshot.
func (w *SimpleWriter) WriteStatus(s session.Status) (int, error) {
	var sb strings.Builder

	if s.ID == "" {
		sb.WriteString("Session: none (use start)\n")
		return io.WriteString(w.output, sb.String())
	}

	fmt.Fprintf(&sb, "Session:  %s\n", s.ID)
	fmt.Fprintf(&sb, "State:    %s\n", title(s.State.String()))
	if s.Active != nil {
		fmt.Fprintf(&sb, "Proxy:    %s\n", s.Active)
	} else {
		sb.WriteString("Proxy:    none\n")
	}
	fmt.Fprintf(&sb, "Started:  %s\n", formatTime(s.CreatedAt))
	fmt.Fprintf(&sb, "Blocks:   %d consecutive, %d switches\n", s.ConsecutiveBlocks, s.Switches)
	if len(s.Tried) > 0 {
		fmt.Fprintf(&sb, "Tried:    %s\n", strings.Join(s.Tried, ", "))
	}
	if len(s.History) > 0 {
		fmt.Fprintf(&sb, "Last:     %s\n", s.LastVerdict)
	}

	if w.verbose && len(s.History) > 0 {
		sb.WriteString("History:\n")
		for _, rec := range s.History {
			fmt.Fprintf(&sb, "  %s  %-10s %s\n", rec.At.Format("15:04:05"), rec.ProxyID, rec.Verdict)
		}
	}
	return io.WriteString(w.output, sb.String())
}

// WriteHistory outputs the journal entries section by section.
func (w *SimpleWriter) WriteHistory(h History) (int, error) {
	var sb strings.Builder

	if h.Empty() {
		sb.WriteString("Journal is empty.\n")
		return io.WriteString(w.output, sb.String())
	}

	if len(h.Events) > 0 {
		sb.WriteString("Status changes:\n")
		for _, ev := range h.Events {
			fmt.Fprintf(&sb, "  %s  %-10s %s -> %s\n", formatTime(ev.Timestamp), ev.ProxyID, ev.Previous, ev.Status)
		}
	}
	if len(h.Verdicts) > 0 {
		sb.WriteString("Verdicts:\n")
		for _, v := range h.Verdicts {
			line := fmt.Sprintf("  %s  %-10s %s", formatTime(v.Timestamp), v.ProxyID, v.Kind)
			if v.Detail != "" {
				line += ": " + truncateString(v.Detail, 80)
			}
			sb.WriteString(line + "\n")
		}
	}
	if len(h.Probes) > 0 {
		sb.WriteString("Probes:\n")
		for _, p := range h.Probes {
			result := "unreachable: " + truncateString(orDash(p.Reason), 80)
			if p.Reachable {
				result = fmt.Sprintf("reachable via %s in %s", orDash(p.Egress), formatLatency(p.Latency))
			}
			fmt.Fprintf(&sb, "  %s  %-10s %s\n", formatTime(p.Timestamp), p.ProxyID, result)
		}
	}
	return io.WriteString(w.output, sb.String())
}
