package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "musicow_feed_polls_total", Help: "Feed polls by result"},
		[]string{"result"},
	)
	OrdersIngested = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "musicow_orders_ingested_total", Help: "Orders accepted by validation"},
	)
	OrdersRejected = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "musicow_orders_rejected_total", Help: "Orders dropped by validation"},
	)
	DailyOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "musicow_daily_orders", Help: "Distinct orders collected today"},
	)
	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "musicow_batch_duration_seconds", Help: "Metrics engine batch latency", Buckets: prometheus.DefBuckets},
	)
	EnrichmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "musicow_enrichments_total", Help: "Enriched orders by outcome"},
		[]string{"outcome"},
	)
	Signals = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "musicow_signals", Help: "Orders per signal in the latest snapshot"},
		[]string{"signal"},
	)
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "musicow_alerts_total", Help: "Alerts raised"},
		[]string{"kind", "severity"},
	)
	NotifyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "musicow_notify_failures_total", Help: "Failed alert deliveries"},
		[]string{"channel"},
	)
)

func init() {
	prometheus.MustRegister(PollsTotal, OrdersIngested, OrdersRejected, DailyOrders, BatchDuration, EnrichmentsTotal, Signals, AlertsTotal, NotifyFailures)
}

// Handler exposes the default registry for mounting on another router.
func Handler() http.Handler { return promhttp.Handler() }

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
