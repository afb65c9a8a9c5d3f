package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/soundtime-fm/p2p/internal/wire"
)

// reconnectInterval is how often the reconnect loop sweeps the registry
// for offline peers due for another dial attempt.
const reconnectInterval = 30 * time.Second

// backoffBase and backoffMax bound the exponential backoff applied to a
// peer that keeps failing handshakes.
const (
	backoffBase = 30 * time.Second
	backoffMax  = 15 * time.Minute
)

// maxConcurrentDials caps how many reconnect attempts run at once, so a
// large offline set doesn't open a dial storm.
const maxConcurrentDials = 3

// Reconnector periodically retries handshakes against known-offline
// peers with exponential backoff per NodeId.
type Reconnector struct {
	registry   *Registry
	handshaker *Handshaker
	log        *slog.Logger

	mu       sync.Mutex
	attempts map[wire.NodeId]int
	nextTry  map[wire.NodeId]time.Time
}

// NewReconnector builds a Reconnector over reg, dialing via hs.
func NewReconnector(reg *Registry, hs *Handshaker, log *slog.Logger) *Reconnector {
	if log == nil {
		log = slog.Default()
	}
	return &Reconnector{
		registry:   reg,
		handshaker: hs,
		log:        log,
		attempts:   make(map[wire.NodeId]int),
		nextTry:    make(map[wire.NodeId]time.Time),
	}
}

// Run blocks, sweeping for reconnect candidates every reconnectInterval
// until ctx is cancelled.
func (r *Reconnector) Run(ctx context.Context) {
	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconnector) sweep(ctx context.Context) {
	offline := false
	candidates := r.registry.List(Filter{Online: &offline})

	sem := make(chan struct{}, maxConcurrentDials)
	var wg sync.WaitGroup
	now := time.Now()

	for _, rec := range candidates {
		if r.registry.IsBlocked(rec.NodeID) {
			continue
		}
		if !r.due(rec.NodeID, now) {
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(id wire.NodeId) {
			defer wg.Done()
			defer func() { <-sem }()
			r.attemptReconnect(ctx, id)
		}(rec.NodeID)
	}
	wg.Wait()
}

func (r *Reconnector) due(id wire.NodeId, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, ok := r.nextTry[id]
	return !ok || !now.Before(next)
}

func (r *Reconnector) attemptReconnect(ctx context.Context, id wire.NodeId) {
	_, err := r.handshaker.Handshake(ctx, id)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		n := r.attempts[id] + 1
		r.attempts[id] = n
		r.nextTry[id] = time.Now().Add(backoff(n))
		r.log.Debug("reconnect attempt failed", "peer", id, "attempt", n, "error", err)
		return
	}
	delete(r.attempts, id)
	delete(r.nextTry, id)
}

// backoff returns backoffBase doubled per attempt, capped at backoffMax.
func backoff(attempt int) time.Duration {
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	return d
}
