package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aura-net/mcast-acceptor/types"
)

const (
	MetricsNamespace = "mcast"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	// Registry holds every metric of this package. It is served by the
	// metrics server when metrics are enabled.
	Registry = opmetrics.NewRegistry()
	factory  = promauto.With(Registry)

	errorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	runsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of completed runs by status",
	}, []string{
		"topology",
		"status",
	})

	runDuration = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the last run",
	}, []string{
		"topology",
		"run_id",
	})

	phaseTransitionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "phase_transitions_total",
		Help:      "Count of run controller phase transitions",
	}, []string{
		"phase",
	})

	serviceTransitionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "service_transitions_total",
		Help:      "Count of service state changes requested through the remote executor",
	}, []string{
		"node",
		"service",
		"desired",
		"result",
	})

	serviceTransitionDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "service_transition_duration_seconds",
		Help:      "Time for a service to reach its desired state",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{
		"service",
		"desired",
	})

	fetchBytesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "fetch_bytes_total",
		Help:      "Bytes of logs retrieved from nodes",
	}, []string{
		"node",
	})

	fetchesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "fetches_total",
		Help:      "Count of log retrievals by result",
	}, []string{
		"node",
		"result",
	})

	comparisonLossRate = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "comparison_loss_rate",
		Help:      "Packet loss rate of the last comparison per client",
	}, []string{
		"client",
	})

	comparisonP999Latency = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "comparison_p999_latency_ms",
		Help:      "p99.9 transmit to receive latency of the last comparison per client",
	}, []string{
		"client",
	})

	comparisonsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "comparisons_total",
		Help:      "Count of log comparisons by result",
	}, []string{
		"client",
		"result",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordErrorKind counts an error by its class rather than its message, which
// keeps label cardinality bounded.
func RecordErrorKind(label string, err error) {
	if err == nil {
		return
	}
	RecordError(fmt.Sprintf("%s.%s", label, types.ClassifyError(err)))
}

func RecordRun(topology string, runID string, status types.RunStatus, duration time.Duration) {
	if Debug {
		log.Debug("metric inc",
			"m", "runs_total",
			"topology", topology,
			"run_id", runID,
			"status", status)
	}
	runsTotal.WithLabelValues(topology, string(status)).Inc()
	runDuration.WithLabelValues(topology, runID).Set(duration.Seconds())
}

func RecordPhase(phase types.Phase) {
	phaseTransitionsTotal.WithLabelValues(string(phase)).Inc()
}

func RecordServiceTransition(node string, service string, desired types.ServiceState, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = string(types.ClassifyError(err))
	}
	serviceTransitionsTotal.WithLabelValues(node, service, string(desired), result).Inc()
	if err == nil {
		serviceTransitionDuration.WithLabelValues(service, string(desired)).Observe(elapsed.Seconds())
	}
}

func RecordFetch(node string, bytes int64, err error) {
	if err != nil {
		fetchesTotal.WithLabelValues(node, string(types.ClassifyError(err))).Inc()
		return
	}
	fetchesTotal.WithLabelValues(node, "ok").Inc()
	fetchBytesTotal.WithLabelValues(node).Add(float64(bytes))
}

func RecordComparison(result *types.ComparisonResult) {
	if result == nil {
		return
	}
	comparisonLossRate.WithLabelValues(result.Client).Set(result.LossRate)
	comparisonP999Latency.WithLabelValues(result.Client).Set(result.Latency.P999Ms)
	comparisonsTotal.WithLabelValues(result.Client, string(result.Status())).Inc()
}
