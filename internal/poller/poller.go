// Package poller runs the background ingestion loop: fetch the upstream
// payload, decode and filter it, merge candidates into the event store, and
// hand the resulting batches to the persistence sinks.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Joboufra/v16-tracker-ingestor/internal/domain"
	"github.com/Joboufra/v16-tracker-ingestor/internal/observability"
	"github.com/Joboufra/v16-tracker-ingestor/internal/store"
)

// Fetcher retrieves one raw upstream payload with its declared content type.
type Fetcher interface {
	Fetch(ctx context.Context) (body []byte, contentType string, err error)
}

// Syncer receives the cycle's active and newly-lost event batches for
// best-effort durable write-through.
type Syncer interface {
	Name() string
	Persist(ctx context.Context, active, lost []domain.Event, lostAt time.Time) error
}

// Config holds the loop's tunables, taken from the service configuration.
type Config struct {
	Interval    time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
	XORKey      string
	Targets     domain.Targets
	Timezone    *time.Location
}

// Poller is the single long-lived polling worker.
type Poller struct {
	fetcher Fetcher
	store   *store.Store
	syncers []Syncer
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	ready   atomic.Bool
}

// New creates a Poller. clock is swappable for tests; pass
// clockwork.NewRealClock() in production.
func New(fetcher Fetcher, st *store.Store, syncers []Syncer, cfg Config, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) *Poller {
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	return &Poller{
		fetcher: fetcher,
		store:   st,
		syncers: syncers,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		clock:   clock,
	}
}

// CheckReadiness returns nil once at least one poll cycle has completed.
func (p *Poller) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("poller has not completed a cycle yet")
	}
	return nil
}

// Run executes the polling loop until the context is cancelled. Transient
// failures never terminate the loop; they double the backoff delay up to the
// configured maximum. Every sleep carries a sub-second uniform jitter so
// replicas do not synchronize against the upstream.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", "interval", p.cfg.Interval, "source", p.cfg.Targets.Source)
	p.metrics.IngestorRunning.Set(1)
	defer p.metrics.IngestorRunning.Set(0)

	// Brief start delay so the HTTP server binds first.
	if !p.sleep(ctx, time.Second) {
		return nil
	}

	backoff := p.cfg.BackoffBase
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping", "reason", ctx.Err())
			return nil
		default:
		}

		delay := p.cfg.Interval
		if err := p.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				p.logger.Info("poller stopping", "reason", ctx.Err())
				return nil
			}
			backoff = nextBackoff(backoff, p.cfg.BackoffMax)
			delay = backoff
			p.logger.Error("poll cycle failed, backing off", "error", err, "delay", delay)
		} else {
			backoff = p.cfg.BackoffBase
		}

		if !p.sleep(ctx, delay+p.jitter()) {
			p.logger.Info("poller stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// runCycle performs one fetch-decode-extract-filter-normalize-merge-sync
// pass. Only the fetch can fail the cycle; decode and record-level problems
// degrade to an empty or smaller batch.
func (p *Poller) runCycle(ctx context.Context) error {
	start := p.clock.Now()
	now := start.UTC()

	body, contentType, err := p.fetcher.Fetch(ctx)
	if err != nil {
		p.metrics.PollCycles.WithLabelValues("fetch_error").Inc()
		return fmt.Errorf("fetch payload: %w", err)
	}

	var records []domain.RawRecord
	payload, decoded := domain.Decode(body, contentType, p.cfg.XORKey)
	if decoded {
		records = domain.ExtractRecords(payload)
		p.metrics.PollCycles.WithLabelValues("success").Inc()
	} else {
		// Not a cycle failure: the upstream answered, just not with
		// anything parseable. Treat as zero records.
		p.logger.Warn("no value decoded from upstream payload", "content_type", contentType)
		p.metrics.PollCycles.WithLabelValues("decode_empty").Inc()
	}
	p.metrics.RecordsExtracted.Add(float64(len(records)))

	candidates := make([]domain.Event, 0, len(records))
	dropped := 0
	for _, raw := range domain.FilterCandidates(records, p.cfg.Targets) {
		event, ok := domain.Normalize(raw, now, p.cfg.Timezone)
		if !ok {
			dropped++
			continue
		}
		candidates = append(candidates, event)
	}
	if dropped > 0 {
		p.metrics.RecordsDropped.Add(float64(dropped))
		p.logger.Warn("candidate records dropped without usable coordinates", "count", dropped)
	}
	p.metrics.CandidatesMatched.Add(float64(len(candidates)))

	result := p.store.Merge(candidates, now)

	active, lost := p.store.Counts()
	p.metrics.EventsTracked.WithLabelValues(string(domain.StatusActive)).Set(float64(active))
	p.metrics.EventsTracked.WithLabelValues(string(domain.StatusLost)).Set(float64(lost))
	p.metrics.EventsRemoved.Add(float64(result.Removed))

	for _, syncer := range p.syncers {
		if err := syncer.Persist(ctx, result.Active, result.Lost, now); err != nil {
			p.metrics.SyncErrors.WithLabelValues(syncer.Name()).Inc()
			p.logger.Warn("persistence sync failed", "sink", syncer.Name(), "error", err)
		}
	}

	if len(candidates) > 0 {
		p.logger.Info("poll cycle merged events",
			"candidates", len(candidates),
			"newly_lost", len(result.Lost),
			"tracked", p.store.Len(),
		)
	}
	p.metrics.CycleDuration.Observe(p.clock.Since(start).Seconds())
	p.ready.Store(true)
	return nil
}

// jitter returns a uniform duration in [0, 1s).
func (p *Poller) jitter() time.Duration {
	return time.Duration(rand.Int63n(int64(time.Second)))
}

// sleep waits for d or until cancellation; returns false when cancelled.
func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(d):
		return true
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
