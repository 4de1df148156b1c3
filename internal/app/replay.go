// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"fmt"
	"io"
	"log"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/goanna247/diagnostic/internal/datalog"
	"github.com/goanna247/diagnostic/internal/kinematics"
	"github.com/goanna247/diagnostic/internal/session"
	"github.com/goanna247/diagnostic/internal/telemetry"
)

// ReplaySummary counts what an offline replay processed.
type ReplaySummary struct {
	Frames       int
	Records      int
	States       int
	DecodeErrors int
	Degenerate   int
	Final        kinematics.State
}

// RunReplay runs a raw log through a fresh session, writing one
// "t theta omega alpha" line per filter step to out. When plotPath is set the
// trajectory is also rendered to an image.
func RunReplay(path string, c kinematics.Constants, out io.Writer, plotPath string) (ReplaySummary, error) {
	var sum ReplaySummary
	r, err := datalog.OpenRaw(path)
	if err != nil {
		return sum, err
	}
	defer r.Close()

	sess := session.New(c)
	var theta, omega, alpha plotter.XYs
	for {
		frame, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Printf("replay: %v after %s", err, r.Summary())
			break
		}
		sum.Frames++

		upd, err := sess.HandleBuffer(frame)
		if errors.Is(err, telemetry.ErrUnknownOpcode) || errors.Is(err, telemetry.ErrTruncatedRecord) {
			sum.DecodeErrors++
		}
		sum.Records += len(upd.Records)
		sum.Degenerate += upd.Degenerate
		for _, st := range upd.States {
			sum.States++
			fmt.Fprintf(out, "%.6f %.6f %.6f %.6f\n", st.T, st.Theta, st.Omega, st.Alpha)
			if plotPath != "" {
				theta = append(theta, plotter.XY{X: st.T, Y: st.WrappedTheta()})
				omega = append(omega, plotter.XY{X: st.T, Y: st.Omega})
				alpha = append(alpha, plotter.XY{X: st.T, Y: st.Alpha})
			}
			sum.Final = st
		}
	}
	log.Printf("replay: %s: %s, %d states, %d decode errors", path, r.Summary(), sum.States, sum.DecodeErrors)

	if plotPath != "" {
		if err := plotTrajectory(plotPath, theta, omega, alpha); err != nil {
			return sum, fmt.Errorf("replay: plot: %w", err)
		}
		log.Printf("replay: wrote %s", plotPath)
	}
	return sum, nil
}

func plotTrajectory(path string, theta, omega, alpha plotter.XYs) error {
	if len(theta) == 0 {
		return errors.New("no filter states to plot")
	}
	p := plot.New()
	p.Title.Text = "Crank state"
	p.X.Label.Text = "t (s)"
	p.Y.Label.Text = "rad, rad/s, rad/s²"
	if err := plotutil.AddLines(p, "theta", theta, "omega", omega, "alpha", alpha); err != nil {
		return err
	}
	return p.Save(10*vg.Inch, 6*vg.Inch, path)
}
