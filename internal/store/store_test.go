package store

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joboufra/v16-tracker-ingestor/internal/domain"
)

const (
	testStaleAfter = 2 * time.Minute
	testRetention  = time.Hour
)

func newTestStore() *Store {
	return New(testStaleAfter, testRetention, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newEvent(id string, seen time.Time) domain.Event {
	return domain.Event{
		ID:        id,
		Latitude:  40.4,
		Longitude: -3.7,
		Cause:     "Vehículo detenido",
		Kind:      "Advertencia",
		Source:    "DGT3.0",
		FirstSeen: seen,
		LastSeen:  seen,
		Status:    domain.StatusActive,
		Raw:       domain.RawRecord{"cycle": "first"},
	}
}

func TestMerge_InsertAndRefresh(t *testing.T) {
	s := newTestStore()
	t0 := time.Date(2024, 11, 20, 8, 0, 0, 0, time.UTC)

	result := s.Merge([]domain.Event{newEvent("evt-1", t0)}, t0)
	require.Len(t, result.Active, 1)
	assert.Empty(t, result.Lost)
	assert.Zero(t, result.Removed)
	assert.Equal(t, 1, s.Len())

	// Re-observation refreshes last_seen and raw, keeps first_seen.
	t1 := t0.Add(30 * time.Second)
	update := newEvent("evt-1", t1)
	update.Raw = domain.RawRecord{"cycle": "second"}
	result = s.Merge([]domain.Event{update}, t1)

	require.Len(t, result.Active, 1)
	merged, ok := s.Get("evt-1")
	require.True(t, ok)
	assert.Equal(t, t0, merged.FirstSeen)
	assert.Equal(t, t1, merged.LastSeen)
	assert.Equal(t, "second", merged.Raw["cycle"])
	assert.Equal(t, domain.StatusActive, merged.Status)
}

func TestMerge_StalenessSweep(t *testing.T) {
	s := newTestStore()
	t0 := time.Date(2024, 11, 20, 8, 0, 0, 0, time.UTC)
	s.Merge([]domain.Event{newEvent("evt-1", t0), newEvent("evt-2", t0)}, t0)

	// evt-1 keeps reporting, evt-2 goes silent past the threshold.
	t1 := t0.Add(testStaleAfter + time.Second)
	result := s.Merge([]domain.Event{newEvent("evt-1", t1)}, t1)

	require.Len(t, result.Lost, 1)
	assert.Equal(t, "evt-2", result.Lost[0].ID)
	assert.Equal(t, domain.StatusLost, result.Lost[0].Status)

	survivor, ok := s.Get("evt-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusActive, survivor.Status)

	active, lost := s.Counts()
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, lost)
}

func TestMerge_FreshlyUpsertedNeverSwept(t *testing.T) {
	s := newTestStore()
	t0 := time.Date(2024, 11, 20, 8, 0, 0, 0, time.UTC)
	s.Merge([]domain.Event{newEvent("evt-1", t0)}, t0)

	// An upsert in the same cycle as the sweep refreshes last_seen first, so
	// even a long gap between cycles cannot mark a re-observed event lost.
	t1 := t0.Add(10 * testStaleAfter)
	result := s.Merge([]domain.Event{newEvent("evt-1", t1)}, t1)

	assert.Empty(t, result.Lost)
	evt, _ := s.Get("evt-1")
	assert.Equal(t, domain.StatusActive, evt.Status)
}

func TestMerge_Reactivation(t *testing.T) {
	s := newTestStore()
	t0 := time.Date(2024, 11, 20, 8, 0, 0, 0, time.UTC)
	s.Merge([]domain.Event{newEvent("evt-1", t0)}, t0)

	// Goes lost.
	t1 := t0.Add(testStaleAfter + time.Second)
	s.Merge(nil, t1)
	evt, _ := s.Get("evt-1")
	require.Equal(t, domain.StatusLost, evt.Status)

	// Reappears before GC: back to active, original first_seen preserved.
	t2 := t1.Add(time.Minute)
	result := s.Merge([]domain.Event{newEvent("evt-1", t2)}, t2)

	require.Len(t, result.Active, 1)
	evt, _ = s.Get("evt-1")
	assert.Equal(t, domain.StatusActive, evt.Status)
	assert.Equal(t, t0, evt.FirstSeen)
	assert.Equal(t, t2, evt.LastSeen)
}

func TestMerge_GarbageCollection(t *testing.T) {
	s := newTestStore()
	t0 := time.Date(2024, 11, 20, 8, 0, 0, 0, time.UTC)
	s.Merge([]domain.Event{newEvent("evt-1", t0)}, t0)

	t1 := t0.Add(testStaleAfter + time.Second)
	s.Merge(nil, t1)

	// Lost but still within retention: kept.
	t2 := t0.Add(testRetention)
	result := s.Merge(nil, t2)
	assert.Zero(t, result.Removed)
	assert.Equal(t, 1, s.Len())

	// Past retention measured from last_seen: removed for good.
	t3 := t0.Add(testRetention + time.Second)
	result = s.Merge(nil, t3)
	assert.Equal(t, 1, result.Removed)
	assert.Zero(t, s.Len())
	_, ok := s.Get("evt-1")
	assert.False(t, ok)
}

func TestMerge_LongSilentEventCollectedInOneCycle(t *testing.T) {
	s := newTestStore()
	t0 := time.Date(2024, 11, 20, 8, 0, 0, 0, time.UTC)
	s.Merge([]domain.Event{newEvent("evt-1", t0)}, t0)

	// Far past retention in a single silent stretch: the sweep marks the
	// event lost and the GC phase of the same cycle removes it, because both
	// thresholds key on last_seen.
	t1 := t0.Add(2 * testRetention)
	result := s.Merge(nil, t1)

	assert.Len(t, result.Lost, 1)
	assert.Equal(t, 1, result.Removed)
	assert.Zero(t, s.Len())
}

func TestBulkLoad(t *testing.T) {
	s := newTestStore()
	t0 := time.Date(2024, 11, 20, 8, 0, 0, 0, time.UTC)
	s.Merge([]domain.Event{newEvent("old", t0)}, t0)

	restored := newEvent("restored", t0)
	restored.Status = domain.StatusLost
	s.BulkLoad(map[string]domain.Event{"restored": restored})

	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("old")
	assert.False(t, ok)
	evt, ok := s.Get("restored")
	require.True(t, ok)
	assert.Equal(t, domain.StatusLost, evt.Status)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := newTestStore()
	t0 := time.Date(2024, 11, 20, 8, 0, 0, 0, time.UTC)
	s.Merge([]domain.Event{newEvent("evt-1", t0)}, t0)

	snapshot := s.Snapshot()
	require.Len(t, snapshot, 1)
	snapshot[0].Status = domain.StatusLost

	evt, _ := s.Get("evt-1")
	assert.Equal(t, domain.StatusActive, evt.Status)
}
