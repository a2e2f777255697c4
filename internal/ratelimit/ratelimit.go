// Package ratelimit implements per-key request budgeting for the gate.
//
// The primary implementation is an in-memory sliding-window store: each key
// owns an ordered set of request timestamps, and the window boundary moves
// continuously with the clock rather than resetting at fixed intervals, so a
// burst at a window boundary never earns a fresh full allowance. A
// Redis-backed limiter (redis.go) offers the same interface for
// multi-replica deployments.
//
// The store's clock and sweep cadence are injectable so tests can simulate
// time without real delays.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config holds a limiter's resolved settings. It is immutable after
// construction: defaults and overrides are merged exactly once, never
// re-merged per call.
type Config struct {
	// Limit is the maximum number of requests per key per window.
	Limit int
	// Window is the sliding window length.
	Window time.Duration
	// SweepInterval is how often the background sweep looks for idle keys.
	// Zero disables the sweep (tests drive it directly).
	SweepInterval time.Duration
}

// Info is the read view of a key's budget. Derived, never stored.
type Info struct {
	// Limit is the configured per-window maximum.
	Limit int
	// Remaining is how many requests the key may still make in the window.
	Remaining int
	// ResetAt is when the oldest surviving request exits the window.
	ResetAt time.Time
	// Limited reports whether the key is currently over budget.
	Limited bool
}

// RetryAfterSeconds returns the whole seconds until ResetAt, at least 1,
// suitable for a Retry-After header.
func (i Info) RetryAfterSeconds(now time.Time) int {
	secs := int(i.ResetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter is the admit/reject decision surface consumed by the middleware.
// The in-memory Store never returns an error; the Redis limiter surfaces
// transport faults, which callers treat as a denial (fail-closed).
type Limiter interface {
	// Check reports the key's current budget without consuming allowance.
	Check(ctx context.Context, key string) (Info, error)
	// Hit consumes one slot if the key is under its limit. The
	// read-then-write is atomic per key: two concurrent hits at the last
	// remaining slot never both succeed.
	Hit(ctx context.Context, key string) (Info, error)
	// Reset drops one key back to full allowance.
	Reset(ctx context.Context, key string) error
	// ResetAll drops every key.
	ResetAll(ctx context.Context) error
}

// prefixed scopes a Limiter's keys under a fixed prefix so independent
// budgets can share one backend keyspace (the Redis limiter stores every
// budget under the same key namespace).
type prefixed struct {
	inner  Limiter
	prefix string
}

// KeyPrefix wraps l so every key is namespaced under prefix.
func KeyPrefix(l Limiter, prefix string) Limiter {
	return &prefixed{inner: l, prefix: prefix + ":"}
}

func (p *prefixed) Check(ctx context.Context, key string) (Info, error) {
	return p.inner.Check(ctx, p.prefix+key)
}

func (p *prefixed) Hit(ctx context.Context, key string) (Info, error) {
	return p.inner.Hit(ctx, p.prefix+key)
}

func (p *prefixed) Reset(ctx context.Context, key string) error {
	return p.inner.Reset(ctx, p.prefix+key)
}

func (p *prefixed) ResetAll(ctx context.Context) error {
	return p.inner.ResetAll(ctx)
}

// record tracks one key's request timestamps. Owned exclusively by the
// store; mutated only under the store's mutex.
type record struct {
	timestamps []time.Time
	lastAccess time.Time
}

// Store is the in-memory sliding-window limiter.
type Store struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	records map[string]*record

	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ Limiter = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock injects the time source. Tests use this to simulate time.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates an in-memory limiter and, when cfg.SweepInterval > 0,
// starts the background eviction sweep. Callers must Stop the store on
// shutdown so no background work outlives the service.
func NewStore(cfg Config, opts ...StoreOption) *Store {
	s := &Store{
		cfg:     cfg,
		now:     time.Now,
		records: make(map[string]*record),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.SweepInterval > 0 {
		go s.sweepLoop()
	}

	return s
}

// Stop terminates the background sweep. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// prune drops timestamps that have aged out of the window. Caller holds mu.
func (r *record) prune(cutoff time.Time) {
	kept := r.timestamps[:0]
	for _, ts := range r.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	r.timestamps = kept
}

// snapshot computes the Info view for a pruned record. Caller holds mu.
func (s *Store) snapshot(r *record, now time.Time) Info {
	count := 0
	if r != nil {
		count = len(r.timestamps)
	}

	remaining := s.cfg.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now.Add(s.cfg.Window)
	if r != nil && len(r.timestamps) > 0 {
		resetAt = r.timestamps[0].Add(s.cfg.Window)
	}

	return Info{
		Limit:     s.cfg.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
		Limited:   count >= s.cfg.Limit,
	}
}

// Check reports the key's budget. It prunes aged-out timestamps but does not
// count the call as a hit and does not refresh the key's last access.
func (s *Store) Check(_ context.Context, key string) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r := s.records[key]
	if r != nil {
		r.prune(now.Add(-s.cfg.Window))
	}
	return s.snapshot(r, now), nil
}

// GetInfo is Check under its inspection-oriented name: no allowance is
// consumed.
func (s *Store) GetInfo(ctx context.Context, key string) (Info, error) {
	return s.Check(ctx, key)
}

// Hit consumes one slot if the key is under its limit. The whole
// read-check-append sequence runs under the store mutex, so concurrent hits
// on the last remaining slot serialize and exactly one succeeds.
func (s *Store) Hit(_ context.Context, key string) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r := s.records[key]
	if r == nil {
		r = &record{}
		s.records[key] = r
	}
	r.prune(now.Add(-s.cfg.Window))
	r.lastAccess = now

	if len(r.timestamps) >= s.cfg.Limit {
		info := s.snapshot(r, now)
		return info, nil
	}

	r.timestamps = append(r.timestamps, now)
	return s.snapshot(r, now), nil
}

// Reset drops one key back to its implicit full allowance.
func (s *Store) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// ResetAll drops every key.
func (s *Store) ResetAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*record)
	return nil
}

// sweepLoop runs the periodic idle-key eviction until Stop.
func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stopCh:
			return
		}
	}
}

// sweepOnce evicts records idle beyond twice the window. The key list is
// snapshotted first and each eviction re-acquires the lock, so no key's
// critical section is held longer than a single check and concurrent hits
// never observe a torn eviction.
func (s *Store) sweepOnce() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	threshold := 2 * s.cfg.Window
	for _, key := range keys {
		s.mu.Lock()
		if r, ok := s.records[key]; ok {
			if s.now().Sub(r.lastAccess) > threshold {
				delete(s.records, key)
			}
		}
		s.mu.Unlock()
	}
}

// KeyCount reports the number of tracked keys, for metrics sampling.
func (s *Store) KeyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
