// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"bufio"
	"flag"
	"log"
	"os"

	"github.com/goanna247/diagnostic/internal/app"
	"github.com/goanna247/diagnostic/internal/config"
	"github.com/goanna247/diagnostic/internal/kinematics"
)

func main() {
	configPath := flag.String("config", "", "configuration file for the model constants (defaults if empty)")
	plotPath := flag.String("plot", "", "write a PNG plot of the trajectory")
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatalf("usage: replay [-config file] [-plot out.png] raw.bin")
	}

	c := kinematics.DefaultConstants()
	if *configPath != "" {
		if err := config.InitGlobal(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		c = config.Get().ModelConstants()
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	sum, err := app.RunReplay(flag.Arg(0), c, out, *plotPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	log.Printf("replay: %d frames, %d records, %d states, %d degenerate steps, final %.1f rpm",
		sum.Frames, sum.Records, sum.States, sum.Degenerate, sum.Final.RPM())
}
