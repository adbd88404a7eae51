package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all rulefinder metrics.
type Registry struct {
	// Management API
	APIRequests *prometheus.CounterVec

	// Sync
	SyncRuns     *prometheus.CounterVec
	RulesSynced  *prometheus.GaugeVec
	RulesSkipped *prometheus.CounterVec

	// Search
	Searches           *prometheus.CounterVec
	SearchLatency      prometheus.Histogram
	ResolutionFailures *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rulefinder_api_requests_total",
		Help: "Management API requests by call and outcome",
	}, []string{"call", "outcome"})

	r.SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rulefinder_sync_runs_total",
		Help: "Device group sync passes by outcome",
	}, []string{"device_group", "outcome"})

	r.RulesSynced = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rulefinder_rules_synced",
		Help: "Rules written by the last sync of each device group",
	}, []string{"device_group"})

	r.RulesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rulefinder_rules_skipped_total",
		Help: "Rule entries skipped because required fields were missing",
	}, []string{"device_group"})

	r.Searches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rulefinder_searches_total",
		Help: "Searches by outcome",
	}, []string{"outcome"})

	r.SearchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rulefinder_search_duration_seconds",
		Help:    "End to end search latency including the address object fetch",
		Buckets: prometheus.DefBuckets,
	})

	r.ResolutionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rulefinder_resolution_failures_total",
		Help: "Forward or reverse lookups that produced no complementary value",
	}, []string{"direction"})

	return r
}
