package proxy

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synapse_proxy_requests_total",
			Help: "Requests handled by the proxy, by X-Synapse outcome.",
		},
		[]string{"outcome"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "synapse_proxy_request_duration_seconds",
			Help:    "Time to route and answer a request. Streams are measured until they end.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synapse_proxy_resolutions_total",
			Help: "Resolver invocations by resolver and result.",
		},
		[]string{"resolver", "result"},
	)

	upstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synapse_proxy_upstream_errors_total",
			Help: "Failed upstream requests by upstream and kind.",
		},
		[]string{"upstream", "kind"},
	)

	streamedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "synapse_proxy_streamed_bytes_total",
		Help: "Bytes relayed through streaming responses.",
	})
)

func init() {
	prometheus.MustRegister(
		requestsTotal,
		requestDuration,
		resolutionsTotal,
		upstreamErrorsTotal,
		streamedBytesTotal,
	)
}
