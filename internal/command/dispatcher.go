package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nao1215/torfallback/internal/model"
	"github.com/nao1215/torfallback/internal/registry"
	"github.com/nao1215/torfallback/internal/report"
	"github.com/nao1215/torfallback/internal/session"
	"github.com/nao1215/torfallback/internal/target"
)

// Code is the exit code of a command.
type Code int

const (
	// CodeOK means the command succeeded.
	CodeOK Code = 0
	// CodeError means the command ran and failed.
	CodeError Code = 1
	// CodeUsage means the command line was not understood.
	CodeUsage Code = 2
)

// Prefix is the optional leading character of chat commands.
const Prefix = "!"

// DefaultTestProxy is probed by testproxy and renewcircuit without an id.
const DefaultTestProxy = "tor"

// Reply is the result of one command line.
type Reply struct {
	Text string
	Code Code
}

// OK reports whether the command succeeded.
func (r Reply) OK() bool {
	return r.Code == CodeOK
}

// ControllerFactory creates the controller for a new chat channel.
type ControllerFactory func(channel string) *session.Controller

type handler struct {
	usage   string
	summary string
	run     func(ctx context.Context, d *Dispatcher, c *session.Controller, args []string) Reply
}

type namedHandler struct {
	name string
	handler
}

// handlers is ordered for help output. It is filled in init because the
// help handler reads it.
var handlers []namedHandler

func init() {
	handlers = []namedHandler{
		{"start", handler{"start", "start a session on the first usable proxy", runStart}},
		{"handleblock", handler{"handleblock", "report a block and fail over to the next proxy", runHandleBlock}},
		{"testproxy", handler{"testproxy [id]", "probe a proxy without changing any state", runTestProxy}},
		{"listproxies", handler{"listproxies", "list registered proxies and their status", runListProxies}},
		{"stop", handler{"stop", "end the session", runStop}},
		{"status", handler{"status", "show the session state and verdict history", runStatus}},
		{"renewcircuit", handler{"renewcircuit [id]", "ask Tor for a new circuit and re-probe the proxy", runRenewCircuit}},
		{"perform", handler{"perform <url>", "GET url through the session", runPerform}},
		{"help", handler{"help", "list commands", runHelp}},
	}
}

func lookup(name string) (handler, bool) {
	for _, h := range handlers {
		if h.name == name {
			return h.handler, true
		}
	}
	return handler{}, false
}

// Dispatcher parses command lines and routes them to per-channel controllers.
type Dispatcher struct {
	mu          sync.Mutex
	controllers map[string]*session.Controller
	factory     ControllerFactory
	format      report.Format
	logger      *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithFormat sets the report format of command replies.
func WithFormat(format report.Format) Option {
	return func(d *Dispatcher) {
		d.format = format
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a Dispatcher. factory is called once per channel, on the
// channel's first command.
func New(factory ControllerFactory, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		controllers: make(map[string]*session.Controller),
		factory:     factory,
		format:      report.FormatText,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Controller returns the controller of channel, creating it if needed.
func (d *Dispatcher) Controller(channel string) *session.Controller {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.controllers[channel]
	if !ok {
		c = d.factory(channel)
		d.controllers[channel] = c
	}
	return c
}

// Channels returns the number of channels that have a controller.
func (d *Dispatcher) Channels() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.controllers)
}

// Dispatch runs one command line on behalf of channel.
func (d *Dispatcher) Dispatch(ctx context.Context, channel, line string) Reply {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Reply{Text: "empty command; try help", Code: CodeUsage}
	}

	name := strings.ToLower(strings.TrimPrefix(fields[0], Prefix))
	h, ok := lookup(name)
	if !ok {
		return Reply{Text: fmt.Sprintf("unknown command %q; try help", fields[0]), Code: CodeUsage}
	}

	d.logger.Debug("dispatching command", "channel", channel, "command", name, "args", len(fields)-1)
	reply := h.run(ctx, d, d.Controller(channel), fields[1:])
	if !reply.OK() {
		d.logger.Info("command failed", "channel", channel, "command", name, "code", int(reply.Code))
	}
	return reply
}

// render writes through the dispatcher's report writer and returns the text.
func (d *Dispatcher) render(write func(w report.Writer) (int, error)) (string, error) {
	var buf bytes.Buffer
	w, err := report.New(d.format, &buf)
	if err != nil {
		return "", err
	}
	if _, err := write(w); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// failure builds the reply for a failed operation. Session failures also
// show the session status so the operator sees which proxies were tried.
func (d *Dispatcher) failure(c *session.Controller, action string, err error) Reply {
	text := fmt.Sprintf("%s failed: %v", action, err)
	if _, ok := session.IsFailure(err); ok {
		if status, rerr := d.render(func(w report.Writer) (int, error) {
			return w.WriteStatus(c.Status())
		}); rerr == nil {
			text += "\n" + status
		}
	}
	return Reply{Text: text, Code: CodeError}
}

func usage(name string) Reply {
	h, _ := lookup(name)
	return Reply{Text: "usage: " + h.usage, Code: CodeUsage}
}

func runStart(ctx context.Context, d *Dispatcher, c *session.Controller, args []string) Reply {
	if len(args) != 0 {
		return usage("start")
	}
	p, err := c.Start(ctx)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyActive) {
			return Reply{Text: "a session is already running; use stop first", Code: CodeError}
		}
		return d.failure(c, "start", err)
	}
	return Reply{Text: fmt.Sprintf("session %s started via %s", c.Status().ID, p)}
}

func runHandleBlock(ctx context.Context, d *Dispatcher, c *session.Controller, args []string) Reply {
	if len(args) != 0 {
		return usage("handleblock")
	}
	p, err := c.HandleBlock(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNotActive) {
			return Reply{Text: "no session is running; use start first", Code: CodeError}
		}
		return d.failure(c, "handleblock", err)
	}
	return Reply{Text: fmt.Sprintf("switched to %s", p)}
}

func runTestProxy(ctx context.Context, d *Dispatcher, c *session.Controller, args []string) Reply {
	if len(args) > 1 {
		return usage("testproxy")
	}
	id := DefaultTestProxy
	if len(args) == 1 {
		id = args[0]
	}

	result, err := c.TestProxy(ctx, id)
	if err != nil {
		return proxyLookupFailure(err, id)
	}
	return d.probeReply(c, id, result)
}

func runRenewCircuit(ctx context.Context, d *Dispatcher, c *session.Controller, args []string) Reply {
	if len(args) > 1 {
		return usage("renewcircuit")
	}
	id := DefaultTestProxy
	if len(args) == 1 {
		id = args[0]
	}

	result, err := c.RenewCircuit(ctx, id)
	if err != nil {
		if errors.Is(err, registry.ErrProxyNotFound) {
			return proxyLookupFailure(err, id)
		}
		return d.failure(c, "renewcircuit", err)
	}
	return d.probeReply(c, id, result)
}

func proxyLookupFailure(err error, id string) Reply {
	if errors.Is(err, registry.ErrProxyNotFound) {
		return Reply{Text: fmt.Sprintf("no proxy named %q; use listproxies", id), Code: CodeError}
	}
	return Reply{Text: err.Error(), Code: CodeError}
}

// probeReply renders result. An unreachable proxy is a failed command.
func (d *Dispatcher) probeReply(c *session.Controller, id string, result model.ProbeResult) Reply {
	p := findProxy(c.ListProxies(), id)
	text, err := d.render(func(w report.Writer) (int, error) {
		return w.WriteProbe(p, result)
	})
	if err != nil {
		return Reply{Text: err.Error(), Code: CodeError}
	}
	code := CodeOK
	if !result.Reachable {
		code = CodeError
	}
	return Reply{Text: text, Code: code}
}

func findProxy(proxies []model.Proxy, id string) model.Proxy {
	for _, p := range proxies {
		if p.ID == id {
			return p
		}
	}
	return model.Proxy{ID: id}
}

func runListProxies(_ context.Context, d *Dispatcher, c *session.Controller, args []string) Reply {
	if len(args) != 0 {
		return usage("listproxies")
	}
	text, err := d.render(func(w report.Writer) (int, error) {
		return w.WriteProxies(c.ListProxies())
	})
	if err != nil {
		return Reply{Text: err.Error(), Code: CodeError}
	}
	return Reply{Text: text}
}

func runStop(_ context.Context, _ *Dispatcher, c *session.Controller, args []string) Reply {
	if len(args) != 0 {
		return usage("stop")
	}
	id := c.Status().ID
	if err := c.Stop(); err != nil {
		return Reply{Text: "no session is running", Code: CodeError}
	}
	return Reply{Text: fmt.Sprintf("session %s stopped", id)}
}

func runStatus(_ context.Context, d *Dispatcher, c *session.Controller, args []string) Reply {
	if len(args) != 0 {
		return usage("status")
	}
	text, err := d.render(func(w report.Writer) (int, error) {
		return w.WriteStatus(c.Status())
	})
	if err != nil {
		return Reply{Text: err.Error(), Code: CodeError}
	}
	return Reply{Text: text}
}

func runPerform(ctx context.Context, d *Dispatcher, c *session.Controller, args []string) Reply {
	if len(args) != 1 {
		return usage("perform")
	}
	req := target.Get(args[0])

	resp, err := c.Perform(ctx, req)
	if err != nil {
		if errors.Is(err, session.ErrNotActive) {
			return Reply{Text: "no session is running; use start first", Code: CodeError}
		}
		return d.failure(c, req.String(), err)
	}

	code := 0
	if resp != nil {
		code = resp.StatusCode
	}
	via := "no proxy"
	if active := c.Status().Active; active != nil {
		via = active.String()
	}
	return Reply{Text: fmt.Sprintf("%s: status %d via %s", req, code, via)}
}

func runHelp(_ context.Context, _ *Dispatcher, _ *session.Controller, _ []string) Reply {
	var b strings.Builder
	b.WriteString("Commands (a leading ! is optional):\n")
	for _, h := range handlers {
		fmt.Fprintf(&b, "  %-18s %s\n", h.usage, h.summary)
	}
	return Reply{Text: strings.TrimRight(b.String(), "\n")}
}
