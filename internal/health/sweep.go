package health

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soundtime-fm/p2p/internal/catalog"
	"github.com/soundtime-fm/p2p/internal/telemetry"
	"github.com/soundtime-fm/p2p/internal/wire"
)

// Defaults from spec.md §4.5.
const (
	DefaultSweepInterval = 10 * time.Minute
	DefaultSweepBatch    = 500
	DefaultProbeTimeout  = 5 * time.Second

	maxConsecutiveFailures = 3
	sweepConcurrency       = 8
)

// Prober probes whether peer can currently serve at least the first
// byte of hash — has_local(hash) OR a short remote fetch, per spec.md
// §4.5. Satisfied by internal/blobstore.Adapter without adaptation: its
// HasLocal/FetchRemote method set matches this shape exactly.
type Prober interface {
	HasLocal(hash wire.ContentHash) bool
	FetchRemote(ctx context.Context, peer wire.NodeId, hash wire.ContentHash) ([]byte, error)
}

// Sweeper is the Track Health Manager's background task: it walks
// remote-track references in batches, probes each, and persists state
// transitions through catalog.CatalogStore.
type Sweeper struct {
	store   catalog.CatalogStore
	prober  Prober
	metrics *telemetry.Registry
	log     *slog.Logger

	interval     time.Duration
	batchSize    int
	probeTimeout time.Duration
}

// NewSweeper builds a Sweeper with spec.md's default interval, batch
// size, and per-probe timeout. Use the With* options to override any of
// them (tests shrink the interval; a very large catalog may shrink the
// batch size).
func NewSweeper(store catalog.CatalogStore, prober Prober, metrics *telemetry.Registry, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:        store,
		prober:       prober,
		metrics:      metrics,
		log:          log,
		interval:     DefaultSweepInterval,
		batchSize:    DefaultSweepBatch,
		probeTimeout: DefaultProbeTimeout,
	}
}

// WithInterval overrides the sweep tick interval.
func (s *Sweeper) WithInterval(d time.Duration) *Sweeper { s.interval = d; return s }

// WithBatchSize overrides the per-tick reference batch size.
func (s *Sweeper) WithBatchSize(n int) *Sweeper { s.batchSize = n; return s }

// WithProbeTimeout overrides the per-probe timeout.
func (s *Sweeper) WithProbeTimeout(d time.Duration) *Sweeper { s.probeTimeout = d; return s }

// Run blocks, sweeping every interval until ctx is cancelled. Cancellation
// is honoured between batches; a batch already in flight is allowed to
// finish, bounded by probeTimeout per reference.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep pass: select up to batchSize references ordered by
// oldest LastCheckedAt, probe each with bounded concurrency, persist the
// resulting transition. Returns the number of references swept.
func (s *Sweeper) Tick(ctx context.Context) int {
	start := time.Now()
	swept := 0

	// One batch per tick, starting fresh from the oldest last_checked_at
	// each time: probing a reference advances its last_checked_at to
	// now, which sorts it to the back of the next tick's scan — so no
	// cursor needs to persist across ticks for the sweep to make
	// progress across the whole catalog over time.
	if ctx.Err() == nil {
		refs, _, err := s.store.ScanRemoteRefs(ctx, s.batchSize, "")
		if err != nil {
			s.log.Warn("sweep: scan failed", "error", err)
		} else if len(refs) > 0 {
			s.sweepBatch(ctx, refs)
			swept = len(refs)
		}
	}

	if s.metrics != nil {
		s.metrics.SweepDurationSeconds.Observe(time.Since(start).Seconds())
		s.metrics.SweepBatchSize.Observe(float64(swept))
	}
	return swept
}

func (s *Sweeper) sweepBatch(ctx context.Context, refs []catalog.RemoteReference) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)

	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			s.probeOne(gctx, ref)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Sweeper) probeOne(ctx context.Context, ref catalog.RemoteReference) {
	pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	ok := s.probe(pctx, ref.PeerNodeID, ref.ContentHash)
	now := time.Now()

	status, failures, available := Transition(ref.HealthStatus, ref.ConsecutiveFailures, ok)
	if s.metrics != nil {
		if status != ref.HealthStatus {
			s.metrics.HealthTransitionsTotal.WithLabelValues(string(ref.HealthStatus), string(status)).Inc()
		}
	}

	if err := s.store.UpdateRemoteHealth(ctx, ref.ID, status, failures, available, now); err != nil {
		s.log.Warn("sweep: persist health failed", "ref", ref.ID, "error", err)
	}
}

func (s *Sweeper) probe(ctx context.Context, peer wire.NodeId, hash wire.ContentHash) bool {
	if s.prober.HasLocal(hash) {
		return true
	}
	_, err := s.prober.FetchRemote(ctx, peer, hash)
	return err == nil
}

// Transition applies spec.md §4.5's state table for one probe outcome.
func Transition(current catalog.HealthStatus, consecutiveFailures int, probeSucceeded bool) (next catalog.HealthStatus, failures int, available bool) {
	switch current {
	case catalog.Healthy:
		if probeSucceeded {
			return catalog.Healthy, 0, true
		}
		return catalog.Degraded, consecutiveFailures + 1, false

	case catalog.Degraded:
		if probeSucceeded {
			return catalog.Healthy, 0, true
		}
		failures = consecutiveFailures + 1
		if failures >= maxConsecutiveFailures {
			return catalog.Dereferenced, failures, false
		}
		return catalog.Degraded, failures, false

	case catalog.Dereferenced:
		if probeSucceeded {
			return catalog.Recovered, 0, true
		}
		return catalog.Dereferenced, consecutiveFailures, false

	case catalog.Recovered:
		if probeSucceeded {
			return catalog.Healthy, 0, true
		}
		return catalog.Degraded, 1, false

	default:
		if probeSucceeded {
			return catalog.Healthy, 0, true
		}
		return catalog.Degraded, consecutiveFailures + 1, false
	}
}
