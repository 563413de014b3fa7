package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "compensation"

var (
	// Registry holds the engine's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	eventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "processed_total",
			Help:      "Events handled, by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	eventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "duration_seconds",
			Help:      "Time to process one event including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.002, 2, 12), // 2ms to ~8s
		},
		[]string{"type"},
	)

	eventRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "retries_total",
			Help:      "Attempts retried after lock or version contention.",
		},
	)

	eventsParked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "parked_total",
			Help:      "Events parked for manual review, by error kind.",
		},
		[]string{"kind"},
	)

	incomesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incomes",
			Name:      "created_total",
			Help:      "Income rows written, by type and status.",
		},
		[]string{"income_type", "status"},
	)

	rankChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ranks",
			Name:      "changes_total",
			Help:      "Rank changes, automatic or manual.",
		},
		[]string{"manual"},
	)

	rewardRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "rows_total",
			Help:      "Monthly reward rows by batch stage.",
		},
		[]string{"stage"},
	)

	walletDrift = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "drifted_wallets",
			Help:      "Wallets whose projection differs from the ledger in the last run.",
		},
	)

	reconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Reconciliation runs by result.",
		},
		[]string{"result"},
	)

	consumerMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "messages_total",
			Help:      "Broker deliveries by acknowledgement.",
		},
		[]string{"ack"},
	)
)

func init() {
	Registry.MustRegister(
		eventsProcessed,
		eventDuration,
		eventRetries,
		eventsParked,
		incomesCreated,
		rankChanges,
		rewardRows,
		walletDrift,
		reconcileRuns,
		consumerMessages,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

func RecordEvent(eventType, outcome string, started time.Time) {
	eventsProcessed.WithLabelValues(eventType, outcome).Inc()
	eventDuration.WithLabelValues(eventType).Observe(time.Since(started).Seconds())
}

func RecordRetry() {
	eventRetries.Inc()
}

func RecordParked(kind string) {
	eventsParked.WithLabelValues(kind).Inc()
}

func RecordIncome(incomeType, status string) {
	incomesCreated.WithLabelValues(incomeType, status).Inc()
}

func RecordRankChange(manual bool) {
	label := "false"
	if manual {
		label = "true"
	}
	rankChanges.WithLabelValues(label).Inc()
}

func RecordRewards(stage string, n int) {
	rewardRows.WithLabelValues(stage).Add(float64(n))
}

func RecordReconcile(result string, drifted int) {
	reconcileRuns.WithLabelValues(result).Inc()
	walletDrift.Set(float64(drifted))
}

func RecordDelivery(ack string) {
	consumerMessages.WithLabelValues(ack).Inc()
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Router serves /metrics and /healthz. ready is consulted by /healthz.
func Router(ready func() error) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
