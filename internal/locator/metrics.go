package locator

import "github.com/prometheus/client_golang/prometheus"

var (
	negativeCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "synapse_locator_negative_cache_hits_total",
		Help: "Lookups answered as a miss from the negative cache.",
	})

	negativeCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "synapse_locator_negative_cache_misses_total",
		Help: "Lookups that missed after a refresh and were added to the negative cache.",
	})

	lookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synapse_locator_lookups_total",
			Help: "Locator lookups by result.",
		},
		[]string{"result"},
	)

	syncRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synapse_locator_sync_requests_total",
			Help: "Control plane requests made by the sync engine.",
		},
		[]string{"kind", "result"},
	)

	backupOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synapse_locator_backup_operations_total",
			Help: "Backup route store operations.",
		},
		[]string{"operation", "result"},
	)

	syncState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "synapse_locator_sync_state",
			Help: "1 for the current sync engine state, 0 otherwise.",
		},
		[]string{"mode", "state"},
	)

	mappingsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "synapse_locator_mappings",
			Help: "Identifiers currently held in the mapping store.",
		},
		[]string{"mode"},
	)

	watermarkSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "synapse_locator_watermark_seconds",
			Help: "updated_at of the newest mapping folded into the store.",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(
		negativeCacheHits,
		negativeCacheMisses,
		lookupsTotal,
		syncRequestsTotal,
		backupOperationsTotal,
		syncState,
		mappingsTotal,
		watermarkSeconds,
	)
}

func recordState(mode Mode, s State) {
	for _, st := range []State{StateBootstrapping, StateSynced, StateDegraded} {
		v := 0.0
		if st == s {
			v = 1
		}
		syncState.WithLabelValues(string(mode), st.String()).Set(v)
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
