// Package telemetry holds the P2P substrate's Prometheus collectors.
// Adapted from the transport layer's own metrics registry: one isolated
// prometheus.Registry per node so these collectors never collide with a
// host process's default registry.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter/gauge/histogram the P2P substrate emits.
type Registry struct {
	Registry *prometheus.Registry

	PeersKnown    *prometheus.GaugeVec
	PeersOnline   prometheus.Gauge
	HandshakeTotal *prometheus.CounterVec
	PEXRoundsTotal prometheus.Counter

	HealthTransitionsTotal *prometheus.CounterVec
	SweepDurationSeconds   prometheus.Histogram
	SweepBatchSize         prometheus.Histogram

	CacheHitsTotal    prometheus.Counter
	CacheMissesTotal  prometheus.Counter
	CacheEvictedTotal prometheus.Counter
	CacheBytesInUse   prometheus.Gauge

	CatalogIngestTotal     *prometheus.CounterVec
	CatalogBroadcastDrops  prometheus.Counter

	SearchQueriesTotal    prometheus.Counter
	SearchFanoutDuration  prometheus.Histogram
	SearchPeersQueried    prometheus.Histogram

	FrameCodecErrorsTotal *prometheus.CounterVec

	BuildInfo *prometheus.GaugeVec
}

// New creates a Registry with all collectors registered on a private
// prometheus.Registry, and records build info.
func New(version, goVersion string) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		PeersKnown: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "soundtime_p2p_peers_known",
			Help: "Number of peers known to the registry, by online status.",
		}, []string{"online"}),

		PeersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soundtime_p2p_peers_online",
			Help: "Number of peers currently considered online (seen within the liveness window).",
		}),

		HandshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soundtime_p2p_handshake_total",
			Help: "Total handshake attempts, by outcome.",
		}, []string{"outcome"}),

		PEXRoundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundtime_p2p_pex_rounds_total",
			Help: "Total peer-exchange rounds completed.",
		}),

		HealthTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soundtime_p2p_health_transitions_total",
			Help: "Remote-track reference health state transitions.",
		}, []string{"from", "to"}),

		SweepDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "soundtime_p2p_sweep_duration_seconds",
			Help:    "Duration of one health-sweep tick.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),

		SweepBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "soundtime_p2p_sweep_batch_size",
			Help:    "Number of references probed per sweep tick.",
			Buckets: prometheus.LinearBuckets(0, 50, 11),
		}),

		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundtime_p2p_cache_hits_total",
			Help: "Blob cache hits.",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundtime_p2p_cache_misses_total",
			Help: "Blob cache misses requiring a remote fetch.",
		}),
		CacheEvictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundtime_p2p_cache_evicted_total",
			Help: "Blobs evicted from the on-demand cache.",
		}),
		CacheBytesInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soundtime_p2p_cache_bytes_in_use",
			Help: "Current total size of cached blobs in bytes.",
		}),

		CatalogIngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soundtime_p2p_catalog_ingest_total",
			Help: "Announcements ingested, by outcome.",
		}, []string{"outcome"}),
		CatalogBroadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundtime_p2p_catalog_broadcast_drops_total",
			Help: "Outbound announcements dropped due to a full per-peer queue.",
		}),

		SearchQueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundtime_p2p_search_queries_total",
			Help: "Local search requests handled.",
		}),
		SearchFanoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "soundtime_p2p_search_fanout_duration_seconds",
			Help:    "Wall time spent waiting on remote search fan-out.",
			Buckets: prometheus.DefBuckets,
		}),
		SearchPeersQueried: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "soundtime_p2p_search_peers_queried",
			Help:    "Number of peers a query was routed to.",
			Buckets: prometheus.LinearBuckets(0, 4, 10),
		}),

		FrameCodecErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soundtime_p2p_frame_codec_errors_total",
			Help: "Malformed or oversized frames rejected by the codec.",
		}, []string{"reason"}),

		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "soundtime_p2p_build_info",
			Help: "Build information for the running node.",
		}, []string{"version", "go_version"}),
	}

	reg.MustRegister(
		r.PeersKnown, r.PeersOnline, r.HandshakeTotal, r.PEXRoundsTotal,
		r.HealthTransitionsTotal, r.SweepDurationSeconds, r.SweepBatchSize,
		r.CacheHitsTotal, r.CacheMissesTotal, r.CacheEvictedTotal, r.CacheBytesInUse,
		r.CatalogIngestTotal, r.CatalogBroadcastDrops,
		r.SearchQueriesTotal, r.SearchFanoutDuration, r.SearchPeersQueried,
		r.FrameCodecErrorsTotal, r.BuildInfo,
	)
	r.BuildInfo.WithLabelValues(version, goVersion).Set(1)

	return r
}

// Handler exposes the registry over HTTP for a host's /metrics route.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{})
}
