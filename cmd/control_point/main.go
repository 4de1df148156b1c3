// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Command control_point sends one request to the crank's control point via
// the producer and prints the parsed response, e.g.
//
//	control_point request_accel1_transform
//	control_point set_partner_address C0:FF:EE:00:00:01
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/goanna247/diagnostic/internal/app"
	"github.com/goanna247/diagnostic/internal/config"
	"github.com/goanna247/diagnostic/internal/controlpoint"
)

func main() {
	configPath := flag.String("config", "diagnostic_config.txt", "Path to configuration file")
	timeout := flag.Duration("timeout", 5*time.Second, "how long to wait for the response")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] command [args...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cmd := controlpoint.Command{Name: flag.Arg(0), Args: flag.Args()[1:]}
	resp, err := app.RunControlPoint(cmd, *timeout)
	if err != nil {
		log.Fatalf("%s: %v", cmd.Name, err)
	}
	b, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(b))
	if !resp.OK {
		os.Exit(1)
	}
}
