package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/torfallback/internal/egress"
	"github.com/nao1215/torfallback/internal/model"
	"github.com/nao1215/torfallback/internal/registry"
	"github.com/nao1215/torfallback/internal/target"
	"github.com/nao1215/torfallback/internal/tor"
)

const (
	// DefaultTransientRetryLimit is how often a transient failure is retried
	// on the same proxy.
	DefaultTransientRetryLimit = 3

	// DefaultProxySwitchLimit is how many consecutive blocks a session
	// tolerates before it gives up.
	DefaultProxySwitchLimit = 5

	// DefaultBackoff is the first transient retry delay; it doubles per retry.
	DefaultBackoff = 500 * time.Millisecond

	// MaxBackoff caps a single transient retry delay.
	MaxBackoff = 30 * time.Second

	// DefaultRequestTimeout bounds one target-service request.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultControlPort is Tor's default ControlPort.
	DefaultControlPort = 9051

	// maxHistory caps the verdict history kept per session.
	maxHistory = 100
)

// Prober checks whether a proxy can reach the outside world.
type Prober interface {
	Test(ctx context.Context, p model.Proxy) model.ProbeResult
}

// Classifier turns one interaction into a verdict.
type Classifier interface {
	Classify(resp *target.Response, err error) model.BlockVerdict
}

// Journal persists verdicts and probe results. Failures are logged, never
// returned to the caller.
type Journal interface {
	RecordVerdict(ctx context.Context, rec model.VerdictRecord) error
	RecordProbe(ctx context.Context, sessionID string, res model.ProbeResult) error
}

// CircuitRenewer asks a Tor daemon for new circuits.
type CircuitRenewer interface {
	NewIdentity(ctx context.Context) error
}

// EgressFunc builds the egress path for a proxy.
type EgressFunc func(p model.Proxy) (target.Egress, error)

// RenewerFunc builds the circuit renewer for a socks5 proxy.
type RenewerFunc func(p model.Proxy) (CircuitRenewer, error)

// Controller runs one session at a time against a shared registry.
type Controller struct {
	mu sync.Mutex

	registry   *registry.Registry
	prober     Prober
	classifier Classifier
	journal    Journal
	logger     *slog.Logger

	newEgress  EgressFunc
	newRenewer RenewerFunc

	transientRetryLimit int
	proxySwitchLimit    int
	backoff             time.Duration
	requestTimeout      time.Duration
	controlPort         int
	controlPassword     string

	now   func() time.Time
	newID func() string

	// session state, guarded by mu
	id                string
	state             model.SessionState
	active            *model.Proxy
	path              target.Egress
	tried             map[string]bool
	retries           int
	consecutiveBlocks int
	switches          int
	lastVerdict       model.BlockVerdict
	history           []model.VerdictRecord
	createdAt         time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithJournal records verdicts and probe results.
func WithJournal(j Journal) Option {
	return func(c *Controller) {
		c.journal = j
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithTransientRetryLimit sets how many times a transient failure is
// retried on the same proxy. Zero disables retries.
func WithTransientRetryLimit(n int) Option {
	return func(c *Controller) {
		if n >= 0 {
			c.transientRetryLimit = n
		}
	}
}

// WithProxySwitchLimit sets how many consecutive blocks end the session.
func WithProxySwitchLimit(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.proxySwitchLimit = n
		}
	}
}

// WithBackoff sets the first transient retry delay.
func WithBackoff(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.backoff = d
		}
	}
}

// WithRequestTimeout sets the per-request timeout of the default egress paths.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithControlPort sets the Tor control port and password used by RenewCircuit.
func WithControlPort(port int, password string) Option {
	return func(c *Controller) {
		if port > 0 {
			c.controlPort = port
		}
		c.controlPassword = password
	}
}

// WithEgressFunc replaces how egress paths are built.
func WithEgressFunc(f EgressFunc) Option {
	return func(c *Controller) {
		c.newEgress = f
	}
}

// WithRenewerFunc replaces how circuit renewers are built.
func WithRenewerFunc(f RenewerFunc) Option {
	return func(c *Controller) {
		c.newRenewer = f
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New creates an idle Controller.
func New(reg *registry.Registry, prober Prober, classifier Classifier, opts ...Option) *Controller {
	c := &Controller{
		registry:            reg,
		prober:              prober,
		classifier:          classifier,
		transientRetryLimit: DefaultTransientRetryLimit,
		proxySwitchLimit:    DefaultProxySwitchLimit,
		backoff:             DefaultBackoff,
		requestTimeout:      DefaultRequestTimeout,
		controlPort:         DefaultControlPort,
		now:                 time.Now,
		newID:               uuid.NewString,
		state:               model.SessionIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.newEgress == nil {
		c.newEgress = c.defaultEgress
	}
	if c.newRenewer == nil {
		c.newRenewer = c.defaultRenewer
	}
	return c
}

func (c *Controller) defaultEgress(p model.Proxy) (target.Egress, error) {
	path, err := egress.New(p, c.requestTimeout)
	if err != nil {
		return nil, err
	}
	return path, nil
}

func (c *Controller) defaultRenewer(p model.Proxy) (CircuitRenewer, error) {
	addr := net.JoinHostPort(p.Host, strconv.Itoa(c.controlPort))
	return tor.NewControlClient(addr, c.controlPassword, 0)
}

// Start begins a new session on the first usable proxy, preferring a
// direct entry. It is allowed from Idle and Exhausted.
func (c *Controller) Start(ctx context.Context) (model.Proxy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Running() {
		return model.Proxy{}, fmt.Errorf("%w: session %s on %s", ErrAlreadyActive, c.id, c.active.ID)
	}
	if err := ctx.Err(); err != nil {
		return model.Proxy{}, err
	}

	c.resetLocked()

	for {
		candidate, err := c.firstCandidateLocked()
		if err != nil {
			c.state = model.SessionIdle
			return model.Proxy{}, c.failureLocked(err)
		}
		c.tried[candidate.ID] = true
		if err := c.activateLocked(candidate); err != nil {
			c.logger.Warn("cannot use proxy", "proxy", candidate.ID, "error", err)
			c.markDeadLocked(candidate.ID)
			continue
		}
		break
	}

	c.state = model.SessionActive
	c.logger.Info("session started",
		"session", c.id,
		"proxy", c.active.ID,
	)
	return *c.active, nil
}

// firstCandidateLocked prefers the first usable direct proxy, then falls
// back to the registry's normal selection.
func (c *Controller) firstCandidateLocked() (model.Proxy, error) {
	for _, p := range c.registry.List() {
		if p.Kind == model.ProxyKindDirect && p.Status.Usable() && !c.tried[p.ID] {
			return p, nil
		}
	}
	return c.registry.NextCandidate(c.tried)
}

// resetLocked clears all session state and assigns a new session id.
func (c *Controller) resetLocked() {
	c.id = c.newID()
	c.active = nil
	c.path = nil
	c.tried = make(map[string]bool)
	c.retries = 0
	c.consecutiveBlocks = 0
	c.switches = 0
	c.lastVerdict = model.Ok()
	c.history = nil
	c.createdAt = c.now()
}

// activateLocked builds the egress path for p and makes it active.
func (c *Controller) activateLocked(p model.Proxy) error {
	path, err := c.newEgress(p)
	if err != nil {
		return err
	}
	c.active = &p
	c.path = path
	return nil
}

// Stop ends the session and returns to Idle.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == model.SessionIdle {
		return ErrNotActive
	}
	c.logger.Info("session stopped", "session", c.id, "state", c.state.String())
	c.state = model.SessionIdle
	c.active = nil
	c.path = nil
	return nil
}

// Perform runs op through the active proxy and handles the verdict.
//
// Ok returns the operation's own response and error. Transient failures
// are retried on the same proxy with exponential backoff; when the limit
// runs out ErrOperationFailed is returned and the session stays Active.
// Blocked triggers failover and one retry on the new proxy, repeated until
// the proxy switch limit is reached, which ends in Exhausted and
// ErrAllProxiesBlocked.
func (c *Controller) Perform(ctx context.Context, op target.Operation) (*target.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Running() {
		return nil, c.failureLocked(fmt.Errorf("%w: state is %s", ErrNotActive, c.state))
	}
	if err := c.resumeFailoverLocked(ctx); err != nil {
		return nil, err
	}

	for {
		resp, verdict, opErr := c.attemptLocked(ctx, op)

		switch verdict.Kind {
		case model.VerdictOk:
			c.state = model.SessionActive
			c.consecutiveBlocks = 0
			c.retries = 0
			return resp, opErr

		case model.VerdictTransient:
			if ctx.Err() != nil {
				return nil, c.failureLocked(ctx.Err())
			}
			return nil, c.failureLocked(fmt.Errorf("%w: %d retries on %s: %w",
				ErrOperationFailed, c.retries, c.active.ID, verdict.Cause))

		case model.VerdictBlocked:
			c.state = model.SessionBlocked
			c.consecutiveBlocks++
			c.logger.Warn("target service blocked the egress address",
				"session", c.id,
				"proxy", c.active.ID,
				"reason", verdict.Reason,
				"consecutive", c.consecutiveBlocks,
			)

			if c.consecutiveBlocks >= c.proxySwitchLimit {
				c.markDeadLocked(c.active.ID)
				c.state = model.SessionExhausted
				return nil, c.failureLocked(fmt.Errorf("%w: %d consecutive blocks",
					ErrAllProxiesBlocked, c.consecutiveBlocks))
			}
			blockedOn := c.active.ID
			if err := c.handleBlockLocked(ctx); err != nil {
				return nil, wrapFailure(err, fmt.Sprintf("failover after block on %s", blockedOn))
			}
		}
	}
}

// attemptLocked runs op, retrying transient failures on the same proxy.
func (c *Controller) attemptLocked(ctx context.Context, op target.Operation) (*target.Response, model.BlockVerdict, error) {
	c.retries = 0
	for {
		resp, err := op.Execute(ctx, c.path)
		verdict := c.classifier.Classify(resp, err)
		c.recordLocked(ctx, verdict)

		if verdict.Kind != model.VerdictTransient || c.retries >= c.transientRetryLimit {
			return resp, verdict, err
		}

		delay := retryDelay(c.backoff, c.retries)
		c.logger.Debug("transient failure, retrying",
			"session", c.id,
			"proxy", c.active.ID,
			"attempt", c.retries+1,
			"delay", delay,
			"error", verdict.Cause,
		)
		if !sleep(ctx, delay) {
			return resp, verdict, err
		}
		c.retries++
	}
}

// retryDelay returns base doubled retry times, capped at MaxBackoff.
func retryDelay(base time.Duration, retry int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retry && delay < MaxBackoff; i++ {
		delay *= 2
	}
	return min(delay, MaxBackoff)
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// HandleBlock fails over from the current proxy as if it had been blocked.
func (c *Controller) HandleBlock(ctx context.Context) (model.Proxy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Running() {
		return model.Proxy{}, c.failureLocked(fmt.Errorf("%w: state is %s", ErrNotActive, c.state))
	}

	if c.state != model.SessionBlocked {
		c.state = model.SessionBlocked
		c.recordLocked(ctx, model.Blocked("reported by operator"))
	}
	if err := c.handleBlockLocked(ctx); err != nil {
		return model.Proxy{}, err
	}
	return *c.active, nil
}

// resumeFailoverLocked finishes a failover that was interrupted, so no
// operation runs through a proxy already marked dead.
func (c *Controller) resumeFailoverLocked(ctx context.Context) error {
	if c.state != model.SessionBlocked && c.state != model.SessionRetrying {
		return nil
	}
	c.logger.Info("resuming interrupted failover", "session", c.id, "proxy", c.active.ID)
	return c.handleBlockLocked(ctx)
}

// handleBlockLocked marks the active proxy dead and switches to the next
// reachable candidate not yet tried in this session. Unreachable candidates
// are marked dead on the way.
func (c *Controller) handleBlockLocked(ctx context.Context) error {
	previous := *c.active
	c.markDeadLocked(previous.ID)
	c.state = model.SessionRetrying

	for {
		if err := ctx.Err(); err != nil {
			c.state = model.SessionBlocked
			return c.failureLocked(err)
		}

		candidate, err := c.registry.NextCandidate(c.tried)
		if err != nil {
			c.state = model.SessionExhausted
			c.logger.Warn("no proxy left to fail over to",
				"session", c.id,
				"last", previous.ID,
			)
			return c.failureLocked(fmt.Errorf("%w: %w", ErrAllProxiesBlocked, err))
		}
		c.tried[candidate.ID] = true

		result := c.prober.Test(ctx, candidate)
		c.journalProbeLocked(ctx, result)
		if !result.Reachable {
			if ctx.Err() != nil {
				delete(c.tried, candidate.ID)
				c.state = model.SessionBlocked
				return c.failureLocked(ctx.Err())
			}
			c.logger.Info("failover candidate unreachable",
				"session", c.id,
				"proxy", candidate.ID,
				"reason", result.Reason,
			)
			c.markDeadLocked(candidate.ID)
			continue
		}

		if err := c.activateLocked(candidate); err != nil {
			c.logger.Warn("cannot use proxy", "proxy", candidate.ID, "error", err)
			c.markDeadLocked(candidate.ID)
			continue
		}
		if _, err := c.registry.MarkLive(candidate.ID); err != nil {
			c.logger.Warn("failed to mark proxy live", "proxy", candidate.ID, "error", err)
		}

		c.switches++
		c.state = model.SessionActive
		c.logger.Info("failed over",
			"session", c.id,
			"from", previous.ID,
			"to", candidate.ID,
			"egress", result.EgressAddress,
		)
		return nil
	}
}

// markDeadLocked marks a proxy dead, logging registry errors.
func (c *Controller) markDeadLocked(id string) {
	if _, err := c.registry.MarkDead(id); err != nil {
		c.logger.Warn("failed to mark proxy dead", "proxy", id, "error", err)
	}
}

// recordLocked appends a verdict to the history and the journal.
func (c *Controller) recordLocked(ctx context.Context, verdict model.BlockVerdict) {
	rec := model.VerdictRecord{
		SessionID: c.id,
		Verdict:   verdict,
		At:        c.now(),
	}
	if c.active != nil {
		rec.ProxyID = c.active.ID
	}

	c.lastVerdict = verdict
	c.history = append(c.history, rec)
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}

	if c.journal != nil {
		if err := c.journal.RecordVerdict(context.WithoutCancel(ctx), rec); err != nil {
			c.logger.Warn("failed to journal verdict", "error", err)
		}
	}
}

func (c *Controller) journalProbeLocked(ctx context.Context, result model.ProbeResult) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordProbe(context.WithoutCancel(ctx), c.id, result); err != nil {
		c.logger.Warn("failed to journal probe", "error", err)
	}
}

// failureLocked wraps err with the session context.
func (c *Controller) failureLocked(err error) error {
	fe := &FailureError{
		SessionID: c.id,
		History:   append([]model.VerdictRecord(nil), c.history...),
		Err:       err,
	}
	if c.active != nil {
		fe.LastProxy = *c.active
	}
	return fe
}

// TestProxy probes one registered proxy. It changes neither the registry
// nor the session.
func (c *Controller) TestProxy(ctx context.Context, id string) (model.ProbeResult, error) {
	p, err := c.registry.Get(id)
	if err != nil {
		return model.ProbeResult{}, err
	}
	return c.prober.Test(ctx, p), nil
}

// ListProxies returns all registered proxies in registration order.
func (c *Controller) ListProxies() []model.Proxy {
	return c.registry.List()
}

// RenewCircuit asks the Tor daemon behind a socks5 proxy for new circuits,
// probes the proxy again and marks it live when it answers. It lets a
// proxy marked dead after a block rejoin the candidate list with a fresh
// exit address.
func (c *Controller) RenewCircuit(ctx context.Context, id string) (model.ProbeResult, error) {
	p, err := c.registry.Get(id)
	if err != nil {
		return model.ProbeResult{}, err
	}
	if p.Kind != model.ProxyKindSOCKS5 {
		return model.ProbeResult{}, fmt.Errorf("%w: %s", ErrNotTorProxy, id)
	}

	renewer, err := c.newRenewer(p)
	if err != nil {
		return model.ProbeResult{}, fmt.Errorf("proxy %s: %w", id, err)
	}
	if err := renewer.NewIdentity(ctx); err != nil {
		return model.ProbeResult{}, fmt.Errorf("failed to renew circuit for %s: %w", id, err)
	}

	result := c.prober.Test(ctx, p)
	if result.Reachable {
		if _, err := c.registry.MarkLive(id); err != nil {
			return result, err
		}
	}

	c.mu.Lock()
	c.journalProbeLocked(ctx, result)
	c.mu.Unlock()
	return result, nil
}

// Status is a snapshot of the controller's session.
type Status struct {
	ID                string
	State             model.SessionState
	Active            *model.Proxy
	Tried             []string
	Retries           int
	ConsecutiveBlocks int
	Switches          int
	LastVerdict       model.BlockVerdict
	History           []model.VerdictRecord
	CreatedAt         time.Time
}

// Status returns a snapshot of the current session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		ID:                c.id,
		State:             c.state,
		Retries:           c.retries,
		ConsecutiveBlocks: c.consecutiveBlocks,
		Switches:          c.switches,
		LastVerdict:       c.lastVerdict,
		History:           append([]model.VerdictRecord(nil), c.history...),
		CreatedAt:         c.createdAt,
	}
	if c.active != nil {
		p := *c.active
		s.Active = &p
	}
	for _, p := range c.registry.List() {
		if c.tried[p.ID] {
			s.Tried = append(s.Tried, p.ID)
		}
	}
	return s
}

// IsFailure reports whether err is a session failure and returns it.
func IsFailure(err error) (*FailureError, bool) {
	var fe *FailureError
	ok := errors.As(err, &fe)
	return fe, ok
}
