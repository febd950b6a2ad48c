// Package store holds the in-memory map of tracked V16 events and drives
// their lifecycle: active → lost → garbage-collected. It is the single source
// of truth consulted by the serving layer while the poller mutates it once
// per cycle.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Joboufra/v16-tracker-ingestor/internal/domain"
)

// Store is the concurrent event map keyed by identity. All read-modify-write
// sequences run under one exclusive lock; a whole merge-sweep-GC cycle is a
// single critical section so readers never observe a half-updated store.
type Store struct {
	mu         sync.Mutex
	events     map[string]domain.Event
	staleAfter time.Duration
	retention  time.Duration
	logger     *slog.Logger
}

// New creates an empty store. staleAfter is the duration after which an
// unconfirmed active event becomes lost; retention is the (much longer)
// duration after which a lost event is removed.
func New(staleAfter, retention time.Duration, logger *slog.Logger) *Store {
	return &Store{
		events:     make(map[string]domain.Event),
		staleAfter: staleAfter,
		retention:  retention,
		logger:     logger,
	}
}

// BulkLoad replaces the store contents with a bootstrap snapshot. Intended
// for startup restore from the durable backend, before the poller runs.
func (s *Store) BulkLoad(events map[string]domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string]domain.Event, len(events))
	for id, evt := range events {
		s.events[id] = evt
	}
}

// Snapshot returns a copy of all tracked events, safe to sort and serialize
// outside the lock.
func (s *Store) Snapshot() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]domain.Event, 0, len(s.events))
	for _, evt := range s.events {
		events = append(events, evt)
	}
	return events
}

// Get looks up a single event by identity.
func (s *Store) Get(id string) (domain.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt, ok := s.events[id]
	return evt, ok
}

// Len returns the number of tracked events in any state.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Counts returns the number of active and lost events.
func (s *Store) Counts() (active, lost int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range s.events {
		if evt.Status == domain.StatusActive {
			active++
		} else {
			lost++
		}
	}
	return active, lost
}

// MergeResult reports what one poll cycle changed.
type MergeResult struct {
	// Active holds every event upserted this cycle, in post-merge form.
	Active []domain.Event
	// Lost holds events that transitioned active → lost this cycle.
	Lost []domain.Event
	// Removed counts lost events garbage-collected this cycle.
	Removed int
}

// Merge runs the three per-cycle phases as one atomic unit:
//
//   - upsert every candidate: an existing entry refreshes last_seen, replaces
//     raw and is forced back to active (re-observation always reactivates, and
//     never touches first_seen); an unknown identity is inserted as-is.
//   - staleness sweep: active entries with last_seen older than the staleness
//     threshold become lost. Entries upserted above were just refreshed, so
//     they are naturally protected.
//   - garbage collection: lost entries with last_seen older than the
//     retention threshold are removed permanently.
//
// now is the cycle timestamp chosen by the caller.
func (s *Store) Merge(candidates []domain.Event, now time.Time) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result MergeResult
	for _, candidate := range candidates {
		if existing, ok := s.events[candidate.ID]; ok {
			existing.LastSeen = now
			existing.Raw = candidate.Raw
			existing.Status = domain.StatusActive
			s.events[candidate.ID] = existing
			result.Active = append(result.Active, existing)
			continue
		}
		s.events[candidate.ID] = candidate
		result.Active = append(result.Active, candidate)
	}

	staleCutoff := now.Add(-s.staleAfter)
	for id, evt := range s.events {
		if evt.Status == domain.StatusActive && evt.LastSeen.Before(staleCutoff) {
			evt.Status = domain.StatusLost
			s.events[id] = evt
			result.Lost = append(result.Lost, evt)
			s.logger.Info("event lost", "id", id, "last_seen", evt.LastSeen)
		}
	}

	gcCutoff := now.Add(-s.retention)
	for id, evt := range s.events {
		if evt.Status == domain.StatusLost && evt.LastSeen.Before(gcCutoff) {
			delete(s.events, id)
			result.Removed++
		}
	}
	if result.Removed > 0 {
		s.logger.Info("lost events removed from cache", "count", result.Removed)
	}
	return result
}
