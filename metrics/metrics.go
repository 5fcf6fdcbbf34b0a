package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type MetricsGenerator interface {
	IncIntent(operation, state string)
	IncBundlerCall(method, outcome string)
	IncSigningScheme(scheme string)
	IncFallback(strategy string)
	ObserveReceiptWait(outcome string, d time.Duration)
}

// StakingMetrics holds the counters of the intent pipeline.
type StakingMetrics struct {
	intents        *prometheus.CounterVec
	bundlerCalls   *prometheus.CounterVec
	signingSchemes *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	receiptWait    *prometheus.HistogramVec
}

const (
	apNamespace = "ap"
	apSubsystem = "staking"
)

func NewStakingMetrics(reg prometheus.Registerer) *StakingMetrics {
	return &StakingMetrics{
		intents: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: apNamespace,
				Subsystem: apSubsystem,
				Name:      "intents_total",
				Help:      "Staking intents by operation and the state they ended in",
			}, []string{"operation", "state"}),

		bundlerCalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: apNamespace,
				Subsystem: apSubsystem,
				Name:      "bundler_calls_total",
				Help:      "Bundler JSON-RPC calls by method and outcome",
			}, []string{"method", "outcome"}),

		signingSchemes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: apNamespace,
				Subsystem: apSubsystem,
				Name:      "signatures_total",
				Help:      "UserOp signatures produced, by scheme",
			}, []string{"scheme"}),

		fallbacks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: apNamespace,
				Subsystem: apSubsystem,
				Name:      "fallbacks_total",
				Help:      "Times a strategy fell back to its secondary source. A steady rise usually means the bundler or entry point is unhealthy",
			}, []string{"strategy"}),

		receiptWait: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: apNamespace,
				Subsystem: apSubsystem,
				Name:      "receipt_wait_seconds",
				Help:      "Time spent polling for a UserOp receipt",
				Buckets:   []float64{1, 2, 4, 8, 12, 16, 20, 30},
			}, []string{"outcome"}),
	}
}

func (m *StakingMetrics) IncIntent(operation, state string) {
	m.intents.WithLabelValues(operation, state).Inc()
}

func (m *StakingMetrics) IncBundlerCall(method, outcome string) {
	m.bundlerCalls.WithLabelValues(method, outcome).Inc()
}

func (m *StakingMetrics) IncSigningScheme(scheme string) {
	m.signingSchemes.WithLabelValues(scheme).Inc()
}

func (m *StakingMetrics) IncFallback(strategy string) {
	m.fallbacks.WithLabelValues(strategy).Inc()
}

func (m *StakingMetrics) ObserveReceiptWait(outcome string, d time.Duration) {
	m.receiptWait.WithLabelValues(outcome).Observe(d.Seconds())
}

// NoopMetrics is used by tests and by the CLI, which has nothing to scrape it.
type NoopMetrics struct{}

func (NoopMetrics) IncIntent(operation, state string)                  {}
func (NoopMetrics) IncBundlerCall(method, outcome string)              {}
func (NoopMetrics) IncSigningScheme(scheme string)                     {}
func (NoopMetrics) IncFallback(strategy string)                        {}
func (NoopMetrics) ObserveReceiptWait(outcome string, d time.Duration) {}

// Ensure returns m, or NoopMetrics when m is nil.
func Ensure(m MetricsGenerator) MetricsGenerator {
	if m == nil {
		return NoopMetrics{}
	}
	return m
}
