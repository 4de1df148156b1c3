// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"math"

	"github.com/goanna247/diagnostic/internal/kinematics"
	"github.com/goanna247/diagnostic/internal/session"
	"github.com/goanna247/diagnostic/internal/transport"
)

// RunMockConsole drives a session from the simulated crank in real time and
// prints the estimate next to the simulated truth.
func RunMockConsole(ctx context.Context, c kinematics.Constants, rpm, noise float64) error {
	src := transport.NewSim(c, rpm, noise, true)
	defer src.Close()
	sess := session.New(c)

	for {
		buf, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		upd, _ := sess.HandleBuffer(buf)
		if n := len(upd.States); n > 0 {
			st := upd.States[n-1]
			truth := src.Crank().Truth()
			fmt.Printf("%s  | truth THETA=%7.2f° OMEGA=%7.3f\n",
				formatState(newStateMessage(sess.ID().String(), st, upd.Degenerate)),
				math.Mod(truth.Theta, 2*math.Pi)*180/math.Pi, truth.Omega)
		}
	}
}
