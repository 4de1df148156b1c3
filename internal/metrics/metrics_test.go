// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package metrics

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/goanna247/diagnostic/internal/calibration"
	"github.com/goanna247/diagnostic/internal/kinematics"
	"github.com/goanna247/diagnostic/internal/session"
	"github.com/goanna247/diagnostic/internal/telemetry"
)

func TestObserve(t *testing.T) {
	m := New()
	upd := session.Update{
		Records: []telemetry.Record{
			telemetry.Strain{}, telemetry.Strain{}, telemetry.Acceleration{},
		},
		States:     []kinematics.State{{Omega: 1}, {Omega: 2 * 3.141592653589793}},
		Degenerate: 1,
	}
	m.Observe(upd, fmt.Errorf("wrapped: %w", telemetry.ErrTruncatedRecord))
	m.Observe(session.Update{}, nil)

	if v := testutil.ToFloat64(m.notifications); v != 2 {
		t.Errorf("notifications %v", v)
	}
	if v := testutil.ToFloat64(m.records.WithLabelValues(telemetry.OpStrain.String())); v != 2 {
		t.Errorf("strain records %v", v)
	}
	if v := testutil.ToFloat64(m.decodeErrors.WithLabelValues("truncated")); v != 1 {
		t.Errorf("truncated errors %v", v)
	}
	if v := testutil.ToFloat64(m.degenerate); v != 1 {
		t.Errorf("degenerate %v", v)
	}
	if v := testutil.ToFloat64(m.rpm); v < 59.99 || v > 60.01 {
		t.Errorf("rpm gauge %v", v)
	}
}

func TestSolveAndHandler(t *testing.T) {
	m := New()
	m.Solve(session.Accel1, nil)
	m.Solve(session.Accel2, fmt.Errorf("accel2: %w", calibration.ErrSingularCalibrationMatrix))

	if v := testutil.ToFloat64(m.solves.WithLabelValues("accel2", "singular")); v != 1 {
		t.Errorf("singular solves %v", v)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"crank_calibration_solves_total", "crank_cadence_rpm"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output lacks %s", name)
		}
	}
}
