package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/nao1215/torfallback/internal/model"
	"github.com/nao1215/torfallback/internal/session"
)

// JSONWriter outputs reports in JSON format for tool integration.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	indent bool

	// indentPrefix is the prefix for each line in indented output.
	indentPrefix string

	// indentString is the indentation string (typically "  " or "\t").
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with default indentation.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// jsonProxy is the JSON shape of a proxy, with the status as text.
type jsonProxy struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Address     string     `json:"address,omitempty"`
	Status      string     `json:"status"`
	LastChecked *time.Time `json:"lastChecked,omitempty"`
}

func toJSONProxy(p model.Proxy) jsonProxy {
	jp := jsonProxy{
		ID:      p.ID,
		Kind:    string(p.Kind),
		Address: p.Address(),
		Status:  p.Status.String(),
	}
	if !p.LastChecked.IsZero() {
		t := p.LastChecked
		jp.LastChecked = &t
	}
	return jp
}

// jsonProbe is the JSON shape of a probe result.
type jsonProbe struct {
	Proxy         jsonProxy `json:"proxy"`
	Reachable     bool      `json:"reachable"`
	EgressAddress string    `json:"egressAddress,omitempty"`
	LatencyMillis int64     `json:"latencyMs"`
	Reason        string    `json:"reason,omitempty"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// jsonVerdict is the JSON shape of a verdict record.
type jsonVerdict struct {
	ProxyID string    `json:"proxyId"`
	Kind    string    `json:"kind"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// jsonStatus is the JSON shape of a session snapshot.
type jsonStatus struct {
	ID                string        `json:"id,omitempty"`
	State             string        `json:"state"`
	Active            *jsonProxy    `json:"active,omitempty"`
	Tried             []string      `json:"tried,omitempty"`
	ConsecutiveBlocks int           `json:"consecutiveBlocks"`
	Switches          int           `json:"switches"`
	CreatedAt         *time.Time    `json:"createdAt,omitempty"`
	History           []jsonVerdict `json:"history,omitempty"`
}

// WriteProxies outputs the proxy list.
func (w *JSONWriter) WriteProxies(proxies []model.Proxy) (int, error) {
	out := make([]jsonProxy, len(proxies))
	for i, p := range proxies {
		out[i] = toJSONProxy(p)
	}
	return w.writeJSON(out)
}

// WriteProbe outputs one probe result.
func (w *JSONWriter) WriteProbe(p model.Proxy, result model.ProbeResult) (int, error) {
	return w.writeJSON(jsonProbe{
		Proxy:         toJSONProxy(p),
		Reachable:     result.Reachable,
		EgressAddress: result.EgressAddress,
		LatencyMillis: result.Latency.Milliseconds(),
		Reason:        result.Reason,
		CheckedAt:     result.CheckedAt,
	})
}

// WriteStatus outputs the session snapshot.
func (w *JSONWriter) WriteStatus(s session.Status) (int, error) {
	out := jsonStatus{
		ID:                s.ID,
		State:             s.State.String(),
		Tried:             s.Tried,
		ConsecutiveBlocks: s.ConsecutiveBlocks,
		Switches:          s.Switches,
	}
	if s.Active != nil {
		jp := toJSONProxy(*s.Active)
		out.Active = &jp
	}
	if !s.CreatedAt.IsZero() {
		t := s.CreatedAt
		out.CreatedAt = &t
	}
	for _, rec := range s.History {
		v := jsonVerdict{ProxyID: rec.ProxyID, Kind: rec.Verdict.Kind.String(), Detail: rec.Verdict.Reason, At: rec.At}
		if rec.Verdict.Cause != nil {
			v.Detail = rec.Verdict.Cause.Error()
		}
		out.History = append(out.History, v)
	}
	return w.writeJSON(out)
}

// WriteHistory outputs the journal entries.
func (w *JSONWriter) WriteHistory(h History) (int, error) {
	return w.writeJSON(h)
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error

	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	// Add trailing newline for better terminal output
	data = append(data, '\n')

	return w.output.Write(data)
}
