package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "harness"
)

var (
	Debug                bool = true
	validResults              = []types.TestStatus{types.TestStatusPass, types.TestStatusFail, types.TestStatusSkip, types.TestStatusError}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	unitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "units_total",
		Help:      "Count of executed units by result",
	}, []string{
		"environment",
		"unit",
		"result",
	})

	unitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "unit_duration_seconds",
		Help:      "Duration of executed units",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{
		"environment",
		"result",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of harness runs",
	}, []string{
		"environment",
		"run_id",
		"result",
	})

	runUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_units_total",
		Help:      "Number of units per run, by result",
	}, []string{
		"environment",
		"result",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Wall clock duration of the last run",
	}, []string{
		"environment",
	})

	invocationTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "invocation_timeouts_total",
		Help:      "Count of bounded invocations abandoned after their deadline",
	})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "retries_total",
		Help:      "Count of retry decisions",
	}, []string{
		"outcome",
	})

	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "polls_total",
		Help:      "Count of completed polls by outcome",
	}, []string{
		"outcome",
	})

	registryConstructions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "registry_constructions_total",
		Help:      "Count of component constructions by key and result",
	}, []string{
		"key",
		"result",
	})

	poolInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "pool_in_flight",
		Help:      "Number of tasks currently running on a worker pool",
	}, []string{
		"pool",
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

// RecordUnit records the outcome of a single unit.
func RecordUnit(environment string, unit string, result types.TestStatus, duration time.Duration) {
	if !isValidResult(result) {
		log.Error("RecordUnit - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "units_total",
			"environment", environment,
			"unit", unit,
			"result", result)
	}
	unitsTotal.WithLabelValues(environment, unit, string(result)).Inc()
	unitDuration.WithLabelValues(environment, string(result)).Observe(duration.Seconds())
}

// RecordRun records the summary of a completed run.
func RecordRun(environment string, runID string, result types.TestStatus, stats types.ResultStats, duration time.Duration) {
	runResults.WithLabelValues(environment, runID, string(result)).Set(1)
	runUnits.WithLabelValues(environment, string(types.TestStatusPass)).Add(float64(stats.Passed))
	runUnits.WithLabelValues(environment, string(types.TestStatusFail)).Add(float64(stats.Failed))
	runUnits.WithLabelValues(environment, string(types.TestStatusSkip)).Add(float64(stats.Skipped))
	runUnits.WithLabelValues(environment, string(types.TestStatusError)).Add(float64(stats.Errored))
	runDuration.WithLabelValues(environment).Set(duration.Seconds())
}

func RecordInvocationTimeout() {
	invocationTimeouts.Inc()
}

// RecordRetry records a retry decision: "retried" or "exhausted".
func RecordRetry(outcome string) {
	retriesTotal.WithLabelValues(outcome).Inc()
}

// RecordPoll records how a poll finished: "ready", "fallback" or "error".
func RecordPoll(outcome string) {
	pollsTotal.WithLabelValues(outcome).Inc()
}

func RecordConstruction(key string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	registryConstructions.WithLabelValues(key, result).Inc()
}

func RecordPoolInFlight(pool string, n int) {
	poolInFlight.WithLabelValues(pool).Set(float64(n))
}

func isValidResult(result types.TestStatus) bool {
	return slices.Contains(validResults, result)
}
