// Package metrics keeps prometheus collectors for one pysbuild process and
// writes them as a node-exporter textfile next to the build artifacts.
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pys60/pysbuild/internal/toolchain"
)

// TextfileName is the file written into the work area test directory.
const TextfileName = "pysbuild.prom"

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	toolInvocations *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	phaseDuration   *prometheus.HistogramVec
	phaseTotal      *prometheus.CounterVec
	runsTotal       *prometheus.CounterVec
	artifactBytes   *prometheus.CounterVec
	lastRunSuccess  prometheus.Gauge
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all collectors.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Registry returns the current registry.
func Registry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return reg
}

// ObserveTool records one external tool invocation. It has the signature of
// a toolchain observer.
func ObserveTool(o toolchain.Observation) {
	tool := sanitizeLabel(o.Tool, "unknown")
	outcome := "ok"
	switch {
	case o.Ignored:
		outcome = "ignored"
	case o.Failed:
		outcome = "failed"
	}

	mu.RLock()
	defer mu.RUnlock()
	toolInvocations.WithLabelValues(tool, outcome).Inc()
	toolDuration.WithLabelValues(tool).Observe(durationSeconds(o.Duration))
}

// ObservePhase records a finished pipeline phase.
func ObservePhase(phase string, d time.Duration, err error) {
	label := sanitizeLabel(phase, "unknown")
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}

	mu.RLock()
	defer mu.RUnlock()
	phaseTotal.WithLabelValues(label, outcome).Inc()
	phaseDuration.WithLabelValues(label).Observe(durationSeconds(d))
}

// ObserveRun records the outcome of a whole run.
func ObserveRun(mode string, err error) {
	status := "succeeded"
	success := 1.0
	if err != nil {
		status = "failed"
		success = 0
	}

	mu.RLock()
	defer mu.RUnlock()
	runsTotal.WithLabelValues(sanitizeLabel(mode, "default"), status).Inc()
	lastRunSuccess.Set(success)
}

// ObserveArtifact adds the size of a finalized artifact.
func ObserveArtifact(kind string, size int64) {
	if size < 0 {
		size = 0
	}
	mu.RLock()
	defer mu.RUnlock()
	artifactBytes.WithLabelValues(sanitizeLabel(kind, "unknown")).Add(float64(size))
}

// WriteTextfile writes every collector to path in the text exposition format.
func WriteTextfile(path string) error {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	invocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pysbuild",
		Subsystem: "tool",
		Name:      "invocations_total",
		Help:      "External tool invocations grouped by tool and outcome.",
	}, []string{"tool", "outcome"})

	toolHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pysbuild",
		Subsystem: "tool",
		Name:      "duration_seconds",
		Help:      "Duration of external tool invocations.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 2400},
	}, []string{"tool"})

	phaseHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pysbuild",
		Subsystem: "pipeline",
		Name:      "phase_duration_seconds",
		Help:      "Duration of pipeline phases.",
		Buckets:   []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200},
	}, []string{"phase"})

	phases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pysbuild",
		Subsystem: "pipeline",
		Name:      "phases_total",
		Help:      "Pipeline phases grouped by phase and outcome.",
	}, []string{"phase", "outcome"})

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pysbuild",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline runs grouped by mode and status.",
	}, []string{"mode", "status"})

	bytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pysbuild",
		Subsystem: "artifact",
		Name:      "bytes_total",
		Help:      "Bytes of finalized artifacts grouped by kind.",
	}, []string{"kind"})

	last := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pysbuild",
		Subsystem: "pipeline",
		Name:      "last_run_success",
		Help:      "1 when the last run of this process succeeded.",
	})

	registry.MustRegister(invocations, toolHist, phaseHist, phases, runs, bytes, last)

	reg = registry
	toolInvocations = invocations
	toolDuration = toolHist
	phaseDuration = phaseHist
	phaseTotal = phases
	runsTotal = runs
	artifactBytes = bytes
	lastRunSuccess = last
}

func sanitizeLabel(v string, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range v {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func durationSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}
