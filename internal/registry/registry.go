package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/nao1215/torfallback/internal/model"
)

// StatusHook is called after a proxy's status changed.
// It receives the new snapshot and the previous status. Hooks run outside
// any registry lock, so they may call back into the registry.
type StatusHook func(p model.Proxy, previous model.ProxyStatus)

// record is the registry's mutable state for one proxy.
type record struct {
	mu    sync.Mutex
	proxy model.Proxy
}

// snapshot returns a copy of the record's proxy.
func (r *record) snapshot() model.Proxy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proxy
}

// Registry is the shared set of candidate proxies.
// The zero value is not usable; create one with New.
type Registry struct {
	// mu guards order and byID. It is never held while a record lock is
	// being waited on by a writer of membership.
	mu    sync.RWMutex
	order []*record
	byID  map[string]*record

	hook StatusHook
	now  func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithStatusHook registers a function that is notified of status changes.
func WithStatusHook(hook StatusHook) Option {
	return func(r *Registry) {
		r.hook = hook
	}
}

// WithClock overrides the time source used for last-checked timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byID: make(map[string]*record),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a proxy. The proxy keeps the status it was given, which
// lets callers seed entries already known to be live.
func (r *Registry) Register(p model.Proxy) error {
	if err := validate(p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[p.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProxy, p.ID)
	}

	rec := &record{proxy: p}
	r.order = append(r.order, rec)
	r.byID[p.ID] = rec
	return nil
}

// validate checks the fields Register relies on.
func validate(p model.Proxy) error {
	if p.ID == "" {
		return fmt.Errorf("%w: empty identifier", ErrInvalidProxy)
	}
	if !p.Kind.IsValid() {
		return fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidProxy, p.ID, p.Kind)
	}
	if p.Kind == model.ProxyKindSOCKS5 {
		if p.Host == "" {
			return fmt.Errorf("%w: %s has no host", ErrInvalidProxy, p.ID)
		}
		if p.Port < 1 || p.Port > 65535 {
			return fmt.Errorf("%w: %s has invalid port %d", ErrInvalidProxy, p.ID, p.Port)
		}
	}
	return nil
}

// records returns the current registration order.
// The slice is a copy; records themselves are shared.
func (r *Registry) records() []*record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*record, len(r.order))
	copy(out, r.order)
	return out
}

// lookup returns the record for id.
func (r *Registry) lookup(id string) (*record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProxyNotFound, id)
	}
	return rec, nil
}

// List returns snapshots of all proxies in registration order.
func (r *Registry) List() []model.Proxy {
	recs := r.records()
	out := make([]model.Proxy, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.snapshot())
	}
	return out
}

// Len returns the number of registered proxies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Get returns a snapshot of the proxy with the given identifier.
func (r *Registry) Get(id string) (model.Proxy, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return model.Proxy{}, err
	}
	return rec.snapshot(), nil
}

// NextCandidate returns the first usable proxy whose identifier is not in
// excluding. Live proxies win over unknown ones; dead proxies are never
// returned.
func (r *Registry) NextCandidate(excluding map[string]bool) (model.Proxy, error) {
	var firstUnknown *model.Proxy

	for _, rec := range r.records() {
		p := rec.snapshot()
		if excluding[p.ID] {
			continue
		}
		switch p.Status {
		case model.ProxyStatusLive:
			return p, nil
		case model.ProxyStatusUnknown:
			if firstUnknown == nil {
				firstUnknown = &p
			}
		}
	}

	if firstUnknown != nil {
		return *firstUnknown, nil
	}
	return model.Proxy{}, ErrNoProxiesAvailable
}

// MarkDead sets the proxy's status to dead.
// It reports whether the status actually changed; marking an already dead
// proxy again is a no-op apart from the last-checked timestamp.
func (r *Registry) MarkDead(id string) (bool, error) {
	return r.setStatus(id, model.ProxyStatusDead)
}

// MarkLive sets the proxy's status to live.
// It reports whether the status actually changed.
func (r *Registry) MarkLive(id string) (bool, error) {
	return r.setStatus(id, model.ProxyStatusLive)
}

// setStatus updates one record under its own lock and notifies the hook.
func (r *Registry) setStatus(id string, status model.ProxyStatus) (bool, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return false, err
	}

	rec.mu.Lock()
	previous := rec.proxy.Status
	rec.proxy.Status = status
	rec.proxy.LastChecked = r.now()
	snap := rec.proxy
	rec.mu.Unlock()

	changed := previous != status
	if changed && r.hook != nil {
		r.hook(snap, previous)
	}
	return changed, nil
}
