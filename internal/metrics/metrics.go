package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	changeEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentryd",
			Subsystem: "engine",
			Name:      "change_events_total",
			Help:      "Number of filtered source-tree change events observed.",
		},
	)
	rebuilds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentryd",
			Subsystem: "engine",
			Name:      "rebuilds_total",
			Help:      "Number of change-threshold rebuilds.",
		},
	)
	respawns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentryd",
			Subsystem: "engine",
			Name:      "respawns_total",
			Help:      "Number of crash-triggered respawns.",
		},
	)
	reloads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentryd",
			Subsystem: "engine",
			Name:      "reloads_total",
			Help:      "Number of operator-requested reloads.",
		},
	)
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryd",
			Subsystem: "engine",
			Name:      "errors_total",
			Help:      "Errors appended to the bounded error ring, by kind.",
		}, []string{"kind"},
	)
	currentPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sentryd",
			Subsystem: "engine",
			Name:      "phase",
			Help:      "Current lifecycle phase (1 = active phase, 0 = inactive).",
		}, []string{"phase"},
	)
	childUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentryd",
			Subsystem: "workload",
			Name:      "up",
			Help:      "Whether the supervised workload is running.",
		},
	)
	childMemoryMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentryd",
			Subsystem: "workload",
			Name:      "memory_mb",
			Help:      "Resident memory of the supervised workload in MB.",
		},
	)
	childCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentryd",
			Subsystem: "workload",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the supervised workload.",
		},
	)
)

var phases = []string{"starting", "building", "running", "warning", "stopping"}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		changeEvents, rebuilds, respawns, reloads, errorsTotal,
		currentPhase, childUp, childMemoryMB, childCPUPercent,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns the standard promhttp handler for the default registry.
func Handler() http.Handler { return promhttp.Handler() }

func IncChangeEvent() { changeEvents.Inc() }

func IncRebuild() { rebuilds.Inc() }

func IncRespawn() { respawns.Inc() }

func IncReload() { reloads.Inc() }

func IncError(kind string) { errorsTotal.WithLabelValues(kind).Inc() }

func SetChildMemoryMB(v float64) { childMemoryMB.Set(v) }

func SetChildCPUPercent(v float64) { childCPUPercent.Set(v) }

// SetChildUp flips the workload liveness gauge.
func SetChildUp(up bool) {
	if up {
		childUp.Set(1)
	} else {
		childUp.Set(0)
	}
}

// SetPhase marks one phase active and all others inactive.
func SetPhase(phase string) {
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		currentPhase.WithLabelValues(p).Set(v)
	}
}
