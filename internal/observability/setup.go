package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	// Logger is the structured logger for metrics-adjacent events. It starts
	// as a nop so packages may log before Init swaps in the real one.
	Logger = zap.NewNop()

	spamVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spam_verdicts_total",
			Help: "Total number of spam verdicts by kind",
		},
		[]string{"kind"},
	)

	gatewayRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Total number of delivery gateway retries by reason",
		},
		[]string{"reason"},
	)

	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_calls_total",
			Help: "Total number of delivery gateway dispatches by method",
		},
		[]string{"method"},
	)

	verificationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_outcomes_total",
			Help: "Total number of resolved verification sessions by outcome",
		},
		[]string{"outcome"},
	)
)

func Init() error {
	var err error
	Logger, err = zap.NewProduction()
	if err != nil {
		return err
	}

	prometheus.MustRegister(spamVerdictsTotal)
	prometheus.MustRegister(gatewayRetriesTotal)
	prometheus.MustRegister(gatewayCallsTotal)
	prometheus.MustRegister(verificationOutcomesTotal)

	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	return nil
}

// MetricsHandler exposes the Prometheus scrape endpoint; the caller owns the
// server lifecycle.
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func RecordVerdict(kind string) {
	spamVerdictsTotal.WithLabelValues(kind).Inc()
}

func RecordGatewayRetry(reason string) {
	gatewayRetriesTotal.WithLabelValues(reason).Inc()
}

func RecordGatewayCall(method string) {
	gatewayCallsTotal.WithLabelValues(method).Inc()
}

func RecordVerificationOutcome(outcome string) {
	verificationOutcomesTotal.WithLabelValues(outcome).Inc()
}
