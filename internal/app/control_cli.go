// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"time"

	"github.com/goanna247/diagnostic/internal/config"
	"github.com/goanna247/diagnostic/internal/controlpoint"
)

// RunControlPoint sends one control point request through the producer and
// returns the crank's response.
func RunControlPoint(cmd controlpoint.Command, timeout time.Duration) (*ControlResponse, error) {
	req, err := cmd.Build()
	if err != nil {
		return nil, err
	}
	cfg := config.Get()
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDControl)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect(250)
	return requestControl(client, cfg, req, timeout)
}
