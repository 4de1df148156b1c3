// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics exposes pipeline counters and the latest filter state to
// Prometheus.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goanna247/diagnostic/internal/calibration"
	"github.com/goanna247/diagnostic/internal/session"
	"github.com/goanna247/diagnostic/internal/telemetry"
)

type Metrics struct {
	reg *prometheus.Registry

	notifications prometheus.Counter
	records       *prometheus.CounterVec
	decodeErrors  *prometheus.CounterVec
	degenerate    prometheus.Counter
	solves        *prometheus.CounterVec

	theta prometheus.Gauge
	omega prometheus.Gauge
	alpha prometheus.Gauge
	rpm   prometheus.Gauge
}

// New builds the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crank_notifications_total",
			Help: "Raw-data notifications received.",
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_records_total",
			Help: "Decoded telemetry records by opcode.",
		}, []string{"opcode"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_decode_errors_total",
			Help: "Notifications that failed to decode completely.",
		}, []string{"kind"}),
		degenerate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crank_filter_degenerate_total",
			Help: "Filter steps rejected because the innovation covariance was singular.",
		}),
		solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_calibration_solves_total",
			Help: "Calibration solves by sensor and result.",
		}, []string{"sensor", "result"}),
		theta: prometheus.NewGauge(prometheus.GaugeOpts{Name: "crank_theta_radians", Help: "Estimated crank angle, wrapped."}),
		omega: prometheus.NewGauge(prometheus.GaugeOpts{Name: "crank_omega_radians_per_second", Help: "Estimated angular velocity."}),
		alpha: prometheus.NewGauge(prometheus.GaugeOpts{Name: "crank_alpha_radians_per_second2", Help: "Estimated angular acceleration."}),
		rpm:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "crank_cadence_rpm", Help: "Estimated cadence."}),
	}
	m.reg.MustRegister(m.notifications, m.records, m.decodeErrors, m.degenerate, m.solves,
		m.theta, m.omega, m.alpha, m.rpm)
	return m
}

// Observe accounts for one processed notification.
func (m *Metrics) Observe(upd session.Update, err error) {
	m.notifications.Inc()
	for _, r := range upd.Records {
		m.records.WithLabelValues(r.Opcode().String()).Inc()
	}
	m.degenerate.Add(float64(upd.Degenerate))
	switch {
	case errors.Is(err, telemetry.ErrUnknownOpcode):
		m.decodeErrors.WithLabelValues("unknown_opcode").Inc()
	case errors.Is(err, telemetry.ErrTruncatedRecord):
		m.decodeErrors.WithLabelValues("truncated").Inc()
	}
	if n := len(upd.States); n > 0 {
		st := upd.States[n-1]
		m.theta.Set(st.WrappedTheta())
		m.omega.Set(st.Omega)
		m.alpha.Set(st.Alpha)
		m.rpm.Set(st.RPM())
	}
}

// Solve accounts for one calibration attempt.
func (m *Metrics) Solve(sensor session.Sensor, err error) {
	result := "ok"
	switch {
	case errors.Is(err, calibration.ErrSingularCalibrationMatrix):
		result = "singular"
	case err != nil:
		result = "error"
	}
	m.solves.WithLabelValues(sensor.String(), result).Inc()
}

// Registry exposes the collectors, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
