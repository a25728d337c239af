package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var (
	// Registry holds the classbank collectors.
	Registry = prometheus.NewRegistry()

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classbank",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations by outcome.",
		},
		[]string{"op", "outcome"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "classbank",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	moneyMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classbank",
			Subsystem: "ledger",
			Name:      "money_moved_total",
			Help:      "Currency moved between accounts.",
		},
		[]string{"kind"},
	)

	rollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classbank",
			Subsystem: "engine",
			Name:      "rollbacks_total",
			Help:      "Unit-of-work rollbacks by result.",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classbank",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	Registry.MustRegister(
		operations,
		operationDuration,
		moneyMoved,
		rollbacks,
		httpRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordOperation records the outcome label ("ok" or an error kind) of one op.
func RecordOperation(op, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "ok"
	}
	operations.WithLabelValues(op, outcome).Inc()
	operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordMoneyMoved(kind string, amount decimal.Decimal) {
	moneyMoved.WithLabelValues(kind).Add(amount.InexactFloat64())
}

// RecordRollback counts a rollback; restored is false when a restore write failed.
func RecordRollback(restored bool) {
	result := "restored"
	if !restored {
		result = "failed"
	}
	rollbacks.WithLabelValues(result).Inc()
}

func RecordHTTPRequest(method, route string, status int) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
