// Package metrics exposes gatewayctl state as Prometheus metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ssalihsrz/openclaw/src/internal/portmanager"
	"github.com/ssalihsrz/openclaw/src/internal/service"
)

var gatewayStates = []service.State{
	service.StateStopped,
	service.StateStarting,
	service.StateRunning,
	service.StateRestarting,
	service.StateFailed,
}

// Metrics holds the gatewayctl collectors.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	m.ObserveStatus(supervisor.Status())
type Metrics struct {
	// GatewayState is 1 for the current state and 0 for the others.
	// Labels: state
	GatewayState *prometheus.GaugeVec

	// GatewayRestarts mirrors the supervisor's restart count.
	GatewayRestarts prometheus.Gauge

	// GatewayLogBytes is the size of the retained gateway log.
	GatewayLogBytes prometheus.Gauge

	// PortCheckDuration measures a full CheckPorts pass in seconds.
	PortCheckDuration prometheus.Histogram

	// PortListeners counts listeners found by the last check.
	// Labels: port, expected (true|false)
	PortListeners *prometheus.GaugeVec

	// Kills counts kill requests by outcome.
	// Labels: outcome (terminated|failed|pending|cancelled|superseded)
	Kills *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GatewayState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gatewayctl_gateway_state",
				Help: "Current gateway lifecycle state (1 for the active state)",
			},
			[]string{"state"},
		),
		GatewayRestarts: f.NewGauge(prometheus.GaugeOpts{
			Name: "gatewayctl_gateway_restarts",
			Help: "Gateway restarts since gatewayctl started",
		}),
		GatewayLogBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "gatewayctl_gateway_log_bytes",
			Help: "Bytes of gateway output currently retained",
		}),
		PortCheckDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatewayctl_port_check_duration_seconds",
			Help:    "Duration of a full port check in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		PortListeners: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gatewayctl_port_listeners",
				Help: "Listeners found on each configured port by the last check",
			},
			[]string{"port", "expected"},
		),
		Kills: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatewayctl_kills_total",
				Help: "Kill requests by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveStatus records a supervisor status snapshot.
func (m *Metrics) ObserveStatus(st service.Status) {
	for _, s := range gatewayStates {
		v := 0.0
		if s == st.State {
			v = 1
		}
		m.GatewayState.WithLabelValues(string(s)).Set(v)
	}
	m.GatewayRestarts.Set(float64(st.RestartCount))
}

// ObserveLogSize records the retained log size.
func (m *Metrics) ObserveLogSize(bytes int) {
	m.GatewayLogBytes.Set(float64(bytes))
}

// ObservePortCheck records a completed port check.
func (m *Metrics) ObservePortCheck(d time.Duration, reports []portmanager.PortReport) {
	m.PortCheckDuration.Observe(d.Seconds())
	m.PortListeners.Reset()
	for _, r := range reports {
		expected, unexpected := 0, 0
		for _, l := range r.Listeners {
			if l.Expected {
				expected++
			} else {
				unexpected++
			}
		}
		port := strconv.Itoa(r.Port)
		m.PortListeners.WithLabelValues(port, "true").Set(float64(expected))
		m.PortListeners.WithLabelValues(port, "false").Set(float64(unexpected))
	}
}

// RecordKill counts a kill request outcome.
func (m *Metrics) RecordKill(outcome string, _ portmanager.Listener) {
	m.Kills.WithLabelValues(outcome).Inc()
}
