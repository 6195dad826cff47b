// Package locations provides in-memory storage for per-bus location state.
package locations

import (
	"sync"
	"time"

	"github.com/campusgo/fleetrelay/internal/schema"
)

const defaultAuditCapacity = 32

// Result reports how the store handled one sample.
type Result struct {
	// Accepted is false only when the sample failed basic validation.
	Accepted bool
	// Fresh is true when the sample's timestamp is strictly newer than the
	// stored one (or no prior sample exists) and now holds the current value.
	Fresh bool
}

// entry serializes updates for one bus. Independent buses update in parallel.
type entry struct {
	mu      sync.Mutex
	current schema.LocationSample
	known   bool
	stale   []schema.LocationSample
}

// Store holds the last-known location per bus and enforces monotonic-timestamp
// acceptance. Out-of-order samples are retained in a bounded audit ring but
// never become the authoritative current value.
type Store struct {
	mu       sync.RWMutex
	buses    map[string]*entry
	auditCap int
}

// Option configures the store.
type Option func(*Store)

// WithAuditCapacity bounds the per-bus ring of suppressed stale samples.
func WithAuditCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.auditCap = n
		}
	}
}

// NewStore creates a memory-backed location store.
func NewStore(opts ...Option) *Store {
	s := new(Store)
	s.buses = make(map[string]*entry)
	s.auditCap = defaultAuditCapacity
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RecordAndCompare validates the sample, then compares it against the stored
// timestamp for its bus under that bus's lock. The freshness comparison and
// the replacement are one critical section, so two concurrent samples for the
// same bus serialize and only one wins.
func (s *Store) RecordAndCompare(sample schema.LocationSample) Result {
	if err := sample.Validate(); err != nil {
		return Result{Accepted: false, Fresh: false}
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	e := s.entryFor(sample.BusID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.known && !sample.Timestamp.After(e.current.Timestamp) {
		e.stale = append(e.stale, sample)
		if len(e.stale) > s.auditCap {
			e.stale = e.stale[len(e.stale)-s.auditCap:]
		}
		return Result{Accepted: true, Fresh: false}
	}
	e.current = sample
	e.known = true
	return Result{Accepted: true, Fresh: true}
}

// Current returns the latest fresh sample for the bus. A bus with no history
// yields the documented unknown sentinel (zero coordinates, zero timestamp,
// Known=false) rather than an error, mirroring the external API contract.
func (s *Store) Current(busID string) schema.CurrentLocation {
	s.mu.RLock()
	e := s.buses[busID]
	s.mu.RUnlock()
	if e == nil {
		return schema.CurrentLocation{BusID: busID, Known: false}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.known {
		return schema.CurrentLocation{BusID: busID, Known: false}
	}
	return schema.CurrentLocation{
		BusID:     e.current.BusID,
		Latitude:  e.current.Latitude,
		Longitude: e.current.Longitude,
		Timestamp: e.current.Timestamp,
		Address:   e.current.Address,
		Known:     true,
	}
}

// StaleSamples returns a copy of the audit ring of suppressed samples for the bus.
func (s *Store) StaleSamples(busID string) []schema.LocationSample {
	s.mu.RLock()
	e := s.buses[busID]
	s.mu.RUnlock()
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schema.LocationSample, len(e.stale))
	copy(out, e.stale)
	return out
}

func (s *Store) entryFor(busID string) *entry {
	s.mu.RLock()
	e, ok := s.buses[busID]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.buses[busID]; ok {
		return e
	}
	e = new(entry)
	s.buses[busID] = e
	return e
}
