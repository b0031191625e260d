package kvstore

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the store's Prometheus collectors. Attach it with
// WithMetricsOption; a store without metrics skips all collection.
type Metrics struct {
	queriesCounter     prometheus.Counter
	queryErrorsCounter prometheus.Counter
	timeoutsCounter    prometheus.Counter
	reconnectsCounter  prometheus.Counter
	keepAlivesCounter  prometheus.Counter
	connectedGauge     prometheus.Gauge
}

// RegisterMetrics creates the store collectors and registers them with the
// given registerer.
func RegisterMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queriesCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvstore_queries_total",
			Help: "Total number of statements sent to the backing store",
		}),
		queryErrorsCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvstore_query_errors_total",
			Help: "Total number of statements that returned an error",
		}),
		timeoutsCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvstore_query_timeouts_total",
			Help: "Total number of statements aborted by their deadline",
		}),
		reconnectsCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvstore_reconnects_total",
			Help: "Total number of connection replacements after fatal errors",
		}),
		keepAlivesCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvstore_keepalives_total",
			Help: "Total number of keep-alive probes fired",
		}),
		connectedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvstore_connected",
			Help: "Whether a backing connection is currently established",
		}),
	}
	reg.MustRegister(
		m.queriesCounter,
		m.queryErrorsCounter,
		m.timeoutsCounter,
		m.reconnectsCounter,
		m.keepAlivesCounter,
		m.connectedGauge,
	)
	return m
}

// The increment helpers are nil-safe so the store can call them without
// checking whether metrics were attached.

func (m *Metrics) incQueries() {
	if m == nil {
		return
	}
	m.queriesCounter.Inc()
}

func (m *Metrics) incFailure(qe *QueryError) {
	if m == nil {
		return
	}
	m.queryErrorsCounter.Inc()
	if qe.Timeout {
		m.timeoutsCounter.Inc()
	}
}

func (m *Metrics) incReconnects() {
	if m == nil {
		return
	}
	m.reconnectsCounter.Inc()
}

func (m *Metrics) incKeepAlives() {
	if m == nil {
		return
	}
	m.keepAlivesCounter.Inc()
}

func (m *Metrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connectedGauge.Set(1)
	} else {
		m.connectedGauge.Set(0)
	}
}
