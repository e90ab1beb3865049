// Package metrics provides Prometheus metrics for the capture/ISP pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "isppipe",
		Subsystem: "pipeline",
		Name:      "ticks_total",
		Help:      "Total pipeline ticks",
	})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "isppipe",
		Subsystem: "pipeline",
		Name:      "tick_duration_seconds",
		Help:      "Time spent in one pipeline tick",
		Buckets:   []float64{.001, .0025, .005, .01, .02, .04, .08, .16},
	})

	stepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "isppipe",
		Subsystem: "pipeline",
		Name:      "step_failures_total",
		Help:      "Failed pipeline steps by stage and operation",
	}, []string{"stage", "op"})

	releases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "isppipe",
		Subsystem: "pipeline",
		Name:      "releases_total",
		Help:      "Deferred slot releases by stage",
	}, []string{"stage"})

	readySlot = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "isppipe",
		Subsystem: "pipeline",
		Name:      "ready_slot",
		Help:      "Index of the most recent ISP output slot ready for display",
	})

	pipelineState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "isppipe",
		Subsystem: "pipeline",
		Name:      "state",
		Help:      "Pipeline state (0=uninitialized, 1=configured, 2=streaming, 3=stopped)",
	})

	setupDegradedSteps = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "isppipe",
		Subsystem: "pipeline",
		Name:      "setup_degraded_steps",
		Help:      "Non-fatal setup step failures of the last configuration",
	})

	signalFPS = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "isppipe",
		Subsystem: "capture",
		Name:      "signal_fps",
		Help:      "Frame rate derived from the detected capture timings",
	})
)

// IncTicks counts one pipeline tick.
func IncTicks() {
	pipelineTicks.Inc()
}

// ObserveTickDuration records how long a tick took.
func ObserveTickDuration(d time.Duration) {
	tickDuration.Observe(d.Seconds())
}

// IncStepFailure counts a failed operation on a stage.
func IncStepFailure(stage, op string) {
	stepFailures.WithLabelValues(stage, op).Inc()
}

// IncRelease counts a deferred release on a stage.
func IncRelease(stage string) {
	releases.WithLabelValues(stage).Inc()
}

// SetReadySlot sets the latest ready ISP output slot.
func SetReadySlot(slot int) {
	readySlot.Set(float64(slot))
}

// SetPipelineState sets the numeric pipeline state.
func SetPipelineState(state int) {
	pipelineState.Set(float64(state))
}

// SetSetupDegradedSteps sets the degraded step count of the last setup.
func SetSetupDegradedSteps(n int) {
	setupDegradedSteps.Set(float64(n))
}

// SetSignalFPS sets the detected capture frame rate.
func SetSignalFPS(fps float64) {
	signalFPS.Set(fps)
}
