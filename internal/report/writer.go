package report

import (
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/torfallback/internal/database"
	"github.com/nao1215/torfallback/internal/model"
	"github.com/nao1215/torfallback/internal/session"
)

// ErrUnknownFormat is returned by New for unsupported formats.
var ErrUnknownFormat = errors.New("unknown report format")

// Format names an output format.
type Format string

const (
	// FormatText is plain text.
	FormatText Format = "text"
	// FormatMarkdown is GitHub-flavored Markdown.
	FormatMarkdown Format = "markdown"
	// FormatJSON is indented JSON.
	FormatJSON Format = "json"
)

// Writer defines the interface for report output.
// Every method returns the number of bytes written and any error.
type Writer interface {
	// WriteProxies outputs the registry listing.
	WriteProxies(proxies []model.Proxy) (int, error)

	// WriteProbe outputs one probe result for p.
	WriteProbe(p model.Proxy, result model.ProbeResult) (int, error)

	// WriteStatus outputs a session snapshot.
	WriteStatus(status session.Status) (int, error)

	// WriteHistory outputs journal entries.
	WriteHistory(history History) (int, error)
}

// History is a slice of the journal, newest entries first.
type History struct {
	Events   []database.StatusEvent  `json:"events"`
	Verdicts []database.VerdictEntry `json:"verdicts"`
	Probes   []database.ProbeEntry   `json:"probes"`
}

// Empty reports whether the history has no entries at all.
func (h History) Empty() bool {
	return len(h.Events) == 0 && len(h.Verdicts) == 0 && len(h.Probes) == 0
}

// New returns the writer for format.
func New(format Format, output io.Writer) (Writer, error) {
	switch format {
	case FormatText, "":
		return NewSimpleWriter(output), nil
	case FormatMarkdown:
		return NewMarkdownWriter(output), nil
	case FormatJSON:
		return NewJSONWriter(output, WithPrettyPrint()), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// title turns "live" into "Live" and "transient-error" into "Transient-Error".
// A Caser is stateful, so each call gets its own.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

// timeLayout is the timestamp layout used in text and markdown output.
const timeLayout = "2006-01-02 15:04:05 MST"

// formatTime renders t, or "never" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(timeLayout)
}

// formatLatency rounds latency for display.
func formatLatency(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

// address returns the proxy address, or "-" for direct entries.
func address(p model.Proxy) string {
	if a := p.Address(); a != "" {
		return a
	}
	return "-"
}

// orDash returns s, or "-" when it is empty.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
