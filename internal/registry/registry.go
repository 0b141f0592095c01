// Package registry owns the process-wide gateway registry: per-gateway
// configuration records, the adapter instances bound to them, and the health
// counters mutated by every in-flight payment attempt. All mutation goes
// through RecordSuccess/RecordFailure under a single mutex; health counters
// are the only read-modify-write state in the subsystem.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/boxcostpro/payment-gateway/internal/gateway"
)

// FailureThreshold is the consecutive-failure count at which a gateway is
// excluded from selection until a success resets the counter.
const FailureThreshold = 5

// persistTimeout bounds the detached health write so a stuck store cannot
// leak goroutines.
const persistTimeout = 5 * time.Second

// Record is the registry entity for one configured gateway.
type Record struct {
	ID                  string
	Type                gateway.Type
	IsActive            bool
	Priority            int // lower = preferred
	Environment         gateway.Environment
	Credentials         gateway.Credentials
	ConsecutiveFailures int
	LastHealthCheck     time.Time
	LastFailureAt       time.Time
}

// Healthy reports whether the record is below the exclusion threshold.
func (r Record) Healthy() bool {
	return r.ConsecutiveFailures < FailureThreshold
}

type entry struct {
	record   Record
	gw       gateway.Gateway
	position int // discovery order, tie-break for equal priorities
}

// Registry is the mutex-guarded gateway map. Adapter instances are stateless
// after Initialize, so only the records need guarding.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // instance ids in discovery order
	store   Store
	logger  *zap.Logger
}

// New creates an empty registry. Health mutations are mirrored to store;
// a nil store disables mirroring.
func New(store Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*entry),
		store:   store,
		logger:  logger,
	}
}

// Register adds a record and its bound adapter instance.
func (r *Registry) Register(rec Record, gw gateway.Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[rec.ID] = &entry{record: rec, gw: gw, position: len(r.order)}
	r.order = append(r.order, rec.ID)
}

// Gateway returns the adapter instance registered under id.
func (r *Registry) Gateway(id string) (gateway.Gateway, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.gw, true
}

// Entry pairs a record copy with its registered adapter instance.
type Entry struct {
	Record  Record
	Gateway gateway.Gateway
}

// Entries returns all registrations in discovery order.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		out = append(out, Entry{Record: e.record, Gateway: e.gw})
	}
	return out
}

// Snapshot returns copies of all records in discovery order. Credentials are
// included; callers exposing snapshots externally must redact them.
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].record)
	}
	return out
}

// RecordSuccess resets the failure counter to zero and stamps the health
// check time. The persisted mirror is written off the hot path.
func (r *Registry) RecordSuccess(ctx context.Context, id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.record.ConsecutiveFailures = 0
	e.record.LastHealthCheck = time.Now()
	rec := e.record
	r.mu.Unlock()

	r.persist(ctx, rec)
}

// RecordFailure increments the failure counter and stamps the failure time.
func (r *Registry) RecordFailure(ctx context.Context, id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.record.ConsecutiveFailures++
	e.record.LastFailureAt = time.Now()
	rec := e.record
	r.mu.Unlock()

	if rec.ConsecutiveFailures == FailureThreshold {
		r.logger.Warn("gateway demoted after consecutive failures",
			zap.String("gateway_id", rec.ID),
			zap.String("gateway_type", string(rec.Type)),
			zap.Int("consecutive_failures", rec.ConsecutiveFailures))
	}

	r.persist(ctx, rec)
}

// Failures returns the current consecutive-failure count for id.
func (r *Registry) Failures(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		return e.record.ConsecutiveFailures
	}
	return 0
}

// persist mirrors a record to the store in a detached goroutine. The write is
// fire-and-forget: failures degrade observability, never payment latency, so
// they are logged and dropped. Dashboard readers may see state lag briefly.
func (r *Registry) persist(ctx context.Context, rec Record) {
	if r.store == nil {
		return
	}
	go func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := r.store.SaveHealth(pctx, rec); err != nil {
			r.logger.Warn("health state persistence failed",
				zap.String("gateway_id", rec.ID),
				zap.Error(err))
		}
	}()
}
