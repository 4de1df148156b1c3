// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/goanna247/diagnostic/internal/config"
	"github.com/goanna247/diagnostic/internal/stats"
)

// RunConsoleMQTT prints the producer's state, statistics, calibration and
// control point topics until interrupted.
func RunConsoleMQTT() error {
	cfg := config.Get()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{cfg.TopicState, func(_ mqtt.Client, msg mqtt.Message) {
			var s StateMessage
			if err := json.Unmarshal(msg.Payload(), &s); err != nil {
				log.Printf("console: state unmarshal error: %v", err)
				return
			}
			fmt.Println(formatState(s))
		}},
		{cfg.TopicStats, func(_ mqtt.Client, msg mqtt.Message) {
			var s stats.Snapshot
			if err := json.Unmarshal(msg.Payload(), &s); err != nil {
				log.Printf("console: stats unmarshal error: %v", err)
				return
			}
			fmt.Println(formatStats(s))
		}},
		{cfg.TopicCalibration, func(_ mqtt.Client, msg mqtt.Message) {
			var r CommandResult
			if err := json.Unmarshal(msg.Payload(), &r); err != nil {
				log.Printf("console: calibration unmarshal error: %v", err)
				return
			}
			fmt.Printf("[CAL ]  %s sensor=%s ok=%v %s\n", r.Action, r.Sensor, r.OK, r.Error)
			if r.Coefficients != nil {
				fmt.Printf("[CAL ]  coefficients=%v\n", *r.Coefficients)
			}
		}},
		{cfg.TopicControlResponse, func(_ mqtt.Client, msg mqtt.Message) {
			var r ControlResponse
			if err := json.Unmarshal(msg.Payload(), &r); err != nil {
				log.Printf("console: control response unmarshal error: %v", err)
				return
			}
			fmt.Printf("[CTRL]  %s result=%s payload=%v %s\n", r.Request, r.Result, r.Payload, r.Error)
		}},
	}
	for _, s := range subs {
		if err := subscribe(client, s.topic, s.handler); err != nil {
			return err
		}
		log.Printf("console: subscribed to %s", s.topic)
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

func formatState(s StateMessage) string {
	return fmt.Sprintf("[STATE] t=%8.3f  THETA=%7.2f°  OMEGA=%7.3f rad/s (%6.1f rpm)  ALPHA=%8.3f rad/s²",
		s.T, s.ThetaDeg, s.Omega, s.RPM, s.Alpha)
}

func formatStats(s stats.Snapshot) string {
	return fmt.Sprintf("[STATS] ACC1 mean=(%7.1f %7.1f %7.1f) sd=(%5.1f %5.1f %5.1f)  ACC2 mean=(%7.1f %7.1f %7.1f)  T=%.2f°C  V=%.3f",
		s.Accel1[0].Mean, s.Accel1[1].Mean, s.Accel1[2].Mean,
		s.Accel1[0].StdDev, s.Accel1[1].StdDev, s.Accel1[2].StdDev,
		s.Accel2[0].Mean, s.Accel2[1].Mean, s.Accel2[2].Mean,
		s.Temperature.Mean, s.Battery.Mean)
}
