// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/goanna247/diagnostic/internal/calibration"
	"github.com/goanna247/diagnostic/internal/config"
	"github.com/goanna247/diagnostic/internal/controlpoint"
	"github.com/goanna247/diagnostic/internal/session"
	"github.com/goanna247/diagnostic/internal/stats"
)

const (
	stillStdGood = 4.0  // counts; a resting accelerometer
	stillStdBad  = 40.0 // counts; someone is holding the crank
	confFloor    = 0.05

	uploadTimeout = 5 * time.Second
)

// PoseCapture is one captured orientation of a calibration report.
type PoseCapture struct {
	Orientation string     `json:"orientation"`
	Mean        [3]float64 `json:"mean"`
	StdDev      [3]float64 `json:"stddev"`
	Samples     float64    `json:"samples"`
	Confidence  float64    `json:"confidence"`
}

// CalibrationReport is written to disk at the end of a guided calibration.
type CalibrationReport struct {
	Version      int                       `json:"version"`
	Sensor       string                    `json:"sensor"`
	Session      string                    `json:"session"`
	Timestamp    time.Time                 `json:"timestamp"`
	Poses        []PoseCapture             `json:"poses"`
	Transform    calibration.Transform     `json:"transform"`
	Coefficients *calibration.Coefficients `json:"coefficients,omitempty"`
	Confidence   float64                   `json:"confidence"`
	Upload       *ControlResponse          `json:"upload,omitempty"`
}

// CalibrationOptions configures RunCalibration.
type CalibrationOptions struct {
	Sensor     session.Sensor
	CaptureFor time.Duration
	Upload     bool
	OutputDir  string
	In         io.Reader
	Out        io.Writer
}

// RunCalibration guides the user through the six resting orientations of one
// accelerometer while the producer streams, solves the transform, writes a
// report and optionally uploads the coefficients to the crank.
func RunCalibration(o CalibrationOptions) (*CalibrationReport, error) {
	cfg := config.Get()
	in := bufio.NewReader(o.In)

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDCalibration)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect(250)

	p := NewPipeline(cfg)
	if err := subscribe(client, cfg.TopicRaw, func(_ mqtt.Client, msg mqtt.Message) {
		p.Handle(msg.Payload())
	}); err != nil {
		return nil, err
	}

	fmt.Fprintf(o.Out, "=== Guided calibration of %s ===\n", o.Sensor)
	fmt.Fprintln(o.Out, "Rest the crank so the named axis of the accelerometer points up, keep it still, and press ENTER.")
	fmt.Fprintln(o.Out)

	report := &CalibrationReport{
		Version:   1,
		Sensor:    o.Sensor.String(),
		Session:   p.Session().ID().String(),
		Timestamp: time.Now(),
	}
	for i := 0; i < calibration.NumOrientations; i++ {
		or := calibration.Orientation(i)
		fmt.Fprintf(o.Out, "Step %d/%d: %s axis up. Press ENTER to capture (%s)...", i+1, calibration.NumOrientations, or, o.CaptureFor)
		if _, err := in.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		pc, err := capturePose(p, o.Sensor, or, o.CaptureFor)
		if err != nil {
			return nil, err
		}
		report.Poses = append(report.Poses, pc)
		fmt.Fprintf(o.Out, "  mean=(%.1f, %.1f, %.1f) sd=(%.1f, %.1f, %.1f) confidence=%.2f\n",
			pc.Mean[0], pc.Mean[1], pc.Mean[2], pc.StdDev[0], pc.StdDev[1], pc.StdDev[2], pc.Confidence)
	}

	res, err := p.Execute(Command{Action: "process", Sensor: o.Sensor.String()})
	if res.Transform == nil {
		return nil, err
	}
	report.Transform = *res.Transform
	report.Coefficients = res.Coefficients
	report.Confidence = overallConfidence(report.Poses)
	if err != nil {
		fmt.Fprintf(o.Out, "WARNING: %v\n", err)
	}
	printTransform(o.Out, report)

	if o.Upload && report.Coefficients != nil {
		resp, err := uploadTransform(client, cfg, o.Sensor, *report.Coefficients)
		if err != nil {
			fmt.Fprintf(o.Out, "Upload failed: %v\n", err)
		} else {
			report.Upload = resp
			fmt.Fprintf(o.Out, "Upload: %s\n", resp.Result)
		}
	}

	if _, err := writeReport(o.OutputDir, report); err != nil {
		return report, err
	}
	return report, nil
}

// capturePose resets the sensor's statistics, lets them accumulate, and
// stores the mean as the table row for or.
func capturePose(p *Pipeline, sensor session.Sensor, or calibration.Orientation, d time.Duration) (PoseCapture, error) {
	group := stats.GroupAccel1
	if sensor == session.Accel2 {
		group = stats.GroupAccel2
	}
	p.Session().ResetStats(group)
	time.Sleep(d)

	snap := p.Session().Snapshot().Stats
	tri := snap.Accel1
	if sensor == session.Accel2 {
		tri = snap.Accel2
	}
	if tri[0].Count < 1 {
		return PoseCapture{}, fmt.Errorf("no samples received in %s; is the producer running?", d)
	}

	mean, err := p.Session().Capture(sensor, or)
	if err != nil {
		return PoseCapture{}, err
	}
	pc := PoseCapture{Orientation: or.String(), Mean: mean, Samples: tri[0].Count}
	for i := range tri {
		pc.StdDev[i] = tri[i].StdDev
	}
	pc.Confidence = stillnessConfidence(pc.StdDev)
	return pc, nil
}

func stillnessConfidence(std [3]float64) float64 {
	s := (std[0] + std[1] + std[2]) / 3
	switch {
	case s <= stillStdGood:
		return 1.0
	case s >= stillStdBad:
		return confFloor
	default:
		t := (s - stillStdGood) / (stillStdBad - stillStdGood)
		return clamp01(1.0 - 0.95*t)
	}
}

// overallConfidence is the weakest pose.
func overallConfidence(poses []PoseCapture) float64 {
	if len(poses) == 0 {
		return 0
	}
	c := 1.0
	for _, p := range poses {
		if p.Confidence < c {
			c = p.Confidence
		}
	}
	return c
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func printTransform(w io.Writer, r *CalibrationReport) {
	fmt.Fprintln(w, "\nTransform (physical = A*raw + b):")
	for i := 0; i < 3; i++ {
		fmt.Fprintf(w, "  [%12.8f %12.8f %12.8f]  b=%9.5f\n",
			r.Transform.A[i][0], r.Transform.A[i][1], r.Transform.A[i][2], r.Transform.B[i])
	}
	if r.Coefficients != nil {
		fmt.Fprintf(w, "Wire coefficients: %v\n", *r.Coefficients)
	}
	fmt.Fprintf(w, "Confidence: %.2f\n", r.Confidence)
}

func writeReport(dir string, r *CalibrationReport) (string, error) {
	ts := r.Timestamp.Format("2006-01-02T15-04-05Z07-00")
	name := fmt.Sprintf("%s_%s_crank_calibration.json", r.Sensor, ts)
	name = filepath.Join(dir, name)
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(name, b, 0o644); err != nil {
		return "", err
	}
	log.Printf("calibration: wrote %s", name)
	return name, nil
}

// uploadTransform sends the coefficients through the producer and waits for
// the crank's answer.
func uploadTransform(client mqtt.Client, cfg *config.Config, sensor session.Sensor, co calibration.Coefficients) (*ControlResponse, error) {
	req, err := controlpoint.EncodeTransform(int(sensor), co)
	if err != nil {
		return nil, err
	}
	return requestControl(client, cfg, req, uploadTimeout)
}

// requestControl publishes a request on the control topic and returns the
// first response for the same opcode.
func requestControl(client mqtt.Client, cfg *config.Config, req []byte, timeout time.Duration) (*ControlResponse, error) {
	want := controlpoint.Opcode(req[0]).String()
	got := make(chan ControlResponse, 1)
	if err := subscribe(client, cfg.TopicControlResponse, func(_ mqtt.Client, msg mqtt.Message) {
		var r ControlResponse
		if err := json.Unmarshal(msg.Payload(), &r); err != nil || r.Request != want {
			return
		}
		select {
		case got <- r:
		default:
		}
	}); err != nil {
		return nil, err
	}
	defer client.Unsubscribe(cfg.TopicControlResponse)

	if err := (rawPublisher{client}).Publish(cfg.TopicControl, req); err != nil {
		return nil, err
	}
	select {
	case r := <-got:
		return &r, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no response to %s within %s", want, timeout)
	}
}
