// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/goanna247/diagnostic/internal/app"
	"github.com/goanna247/diagnostic/internal/config"
	"github.com/goanna247/diagnostic/internal/session"
)

func main() {
	configPath := flag.String("config", "diagnostic_config.txt", "Path to configuration file")
	sensorName := flag.String("sensor", "1", "accelerometer to calibrate: 1 or 2")
	capture := flag.Duration("capture", 3*time.Second, "capture time per orientation")
	upload := flag.Bool("upload", false, "write the coefficients to the crank through the producer")
	outDir := flag.String("out", ".", "directory for the calibration report")
	flag.Parse()

	fmt.Println("=== Guided accelerometer calibration (6 orientations) ===")
	fmt.Println("The producer must be running and streaming from the crank.")
	fmt.Println()

	if err := config.InitGlobal(*configPath); err != nil {
		fatal(fmt.Errorf("failed to load config from %s: %w", *configPath, err))
	}
	sensor, err := session.ParseSensor(*sensorName)
	if err != nil {
		fatal(err)
	}

	report, err := app.RunCalibration(app.CalibrationOptions{
		Sensor:     sensor,
		CaptureFor: *capture,
		Upload:     *upload,
		OutputDir:  *outDir,
		In:         os.Stdin,
		Out:        os.Stdout,
	})
	if err != nil {
		fatal(err)
	}

	fmt.Println("\nCalibration complete.")
	fmt.Printf("Overall confidence: %.2f\n", report.Confidence)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
