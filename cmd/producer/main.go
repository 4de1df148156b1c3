// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/goanna247/diagnostic/internal/app"
	"github.com/goanna247/diagnostic/internal/config"
)

func main() {
	configPath := flag.String("config", "diagnostic_config.txt", "Path to configuration file")
	flag.Parse()

	log.Println("starting crank diagnostic producer")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunProducer(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
