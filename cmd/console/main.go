// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/goanna247/diagnostic/internal/app"
	"github.com/goanna247/diagnostic/internal/config"
	"github.com/goanna247/diagnostic/internal/kinematics"
)

func main() {
	configPath := flag.String("config", "", "configuration file for the model constants (defaults if empty)")
	rpm := flag.Float64("rpm", 90, "simulated cadence")
	noise := flag.Float64("noise", 0.05, "accelerometer noise, m/s^2")
	flag.Parse()

	log.Println("starting crank diagnostic (mock console)")

	c := kinematics.DefaultConstants()
	if *configPath != "" {
		if err := config.InitGlobal(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		c = config.Get().ModelConstants()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := app.RunMockConsole(ctx, c, *rpm, *noise); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
