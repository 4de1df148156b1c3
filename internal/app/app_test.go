// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/goanna247/diagnostic/internal/calibration"
	"github.com/goanna247/diagnostic/internal/config"
	"github.com/goanna247/diagnostic/internal/controlpoint"
	"github.com/goanna247/diagnostic/internal/datalog"
	"github.com/goanna247/diagnostic/internal/metrics"
	"github.com/goanna247/diagnostic/internal/sim"
	"github.com/goanna247/diagnostic/internal/telemetry"
)

type recorder struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func (r *recorder) Publish(topic string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.msgs == nil {
		r.msgs = make(map[string][][]byte)
	}
	r.msgs[topic] = append(r.msgs[topic], payload)
	return nil
}

func (r *recorder) last(topic string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.msgs[topic]
	if len(m) == 0 {
		return nil
	}
	return m[len(m)-1]
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.MQTTBroker = "tcp://localhost:1883"
	return cfg
}

// spin feeds n notifications of a simulated crank through p.
func spin(t *testing.T, p *Pipeline, crank *sim.Crank, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := p.Handle(crank.Notification(8)); err != nil {
			t.Fatalf("notification %d: %v", i, err)
		}
	}
}

func TestPipelinePublishes(t *testing.T) {
	cfg := testConfig()
	p := NewPipeline(cfg)
	rec := &recorder{}
	p.Pub = rec
	p.Metrics = metrics.New()

	crank := sim.New(cfg.ModelConstants(), 100, 1, 0, 1)
	spin(t, p, crank, 64) // 4 s

	var st StateMessage
	if err := json.Unmarshal(rec.last(cfg.TopicState), &st); err != nil {
		t.Fatal(err)
	}
	if math.Abs(st.RPM-100) > 2 {
		t.Errorf("published rpm %.2f, want ~100", st.RPM)
	}
	if st.Session != p.Session().ID().String() {
		t.Errorf("session id %q", st.Session)
	}

	var samples []json.RawMessage
	if err := json.Unmarshal(rec.last(cfg.TopicSamples), &samples); err != nil || len(samples) < 16 {
		t.Errorf("samples message: %d entries, %v", len(samples), err)
	}
	if rec.last(cfg.TopicStats) == nil {
		t.Error("no stats published")
	}
}

func TestPipelineDecodeErrorLogged(t *testing.T) {
	cfg := testConfig()
	p := NewPipeline(cfg)
	path := filepath.Join(t.TempDir(), "d.db")
	dl, err := datalog.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	p.Log = dl

	buf := append(telemetry.Encode(telemetry.Strain{Value: 3}), 0x55)
	upd, err := p.Handle(buf)
	if err == nil || len(upd.Records) != 1 {
		t.Fatalf("update %+v err %v", upd, err)
	}
	if err := dl.Close(); err != nil {
		t.Fatal(err)
	}

	dl, err = datalog.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer dl.Close()
	n, err := dl.DecodeErrorCount(p.Session().ID().String())
	if err != nil || n != 1 {
		t.Errorf("decode errors logged: %d %v", n, err)
	}
}

// calibrate captures all six poses of accelerometer 1 from a crank whose
// counts follow the given transform, then processes the table.
func calibrate(t *testing.T, p *Pipeline, truth calibration.Transform) CommandResult {
	t.Helper()
	inv, err := truth.Inverse()
	if err != nil {
		t.Fatal(err)
	}
	g := p.Session().Constants().Gravity
	for i := 0; i < calibration.NumOrientations; i++ {
		o := calibration.Orientation(i)
		var phys [3]float64
		phys[o.Axis()] = o.Sign() * g
		raw := inv.Apply(phys)
		var a telemetry.Acceleration
		for k := range raw {
			a.A1[k] = int16(math.Round(raw[k]))
		}
		if _, err := p.Execute(Command{Action: "reset_stats", Group: "accel1"}); err != nil {
			t.Fatal(err)
		}
		p.Session().HandleRecords([]telemetry.Record{a, a, a})
		if _, err := p.Execute(Command{Action: "capture", Sensor: "1", Orientation: o.String()}); err != nil {
			t.Fatal(err)
		}
	}
	res, err := p.Execute(Command{Action: "process", Sensor: "accel1"})
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestExecuteCalibration(t *testing.T) {
	cfg := testConfig()
	p := NewPipeline(cfg)
	rec := &recorder{}
	p.Pub = rec
	var sent []byte
	p.Control = func(req []byte) error { sent = req; return nil }

	truth := calibration.DefaultTransform(cfg.Gravity)
	res := calibrate(t, p, truth)
	if !res.OK || res.Transform == nil || res.Coefficients == nil || len(res.Missing) != 0 {
		t.Fatalf("process result %+v", res)
	}
	for i := 0; i < 3; i++ {
		if math.Abs(res.Transform.A[i][i]-truth.A[i][i]) > 1e-4 {
			t.Errorf("A[%d][%d] = %g, want %g", i, i, res.Transform.A[i][i], truth.A[i][i])
		}
	}
	if rec.last(cfg.TopicCalibration) == nil {
		t.Error("calibration result not published")
	}

	if _, err := p.Execute(Command{Action: "upload", Sensor: "1"}); err != nil {
		t.Fatal(err)
	}
	if len(sent) != 25 || controlpoint.Opcode(sent[0]) != controlpoint.SetAccel1Transform {
		t.Errorf("upload request % X", sent)
	}
}

func TestExecuteErrors(t *testing.T) {
	p := NewPipeline(testConfig())
	for _, c := range []Command{
		{Action: "capture", Sensor: "3", Orientation: "+X"},
		{Action: "capture", Sensor: "1", Orientation: "up"},
		{Action: "reset_stats", Group: "gyro"},
		{Action: "upload", Sensor: "1"},
		{Action: "explode", Sensor: "1"},
	} {
		res, err := p.Execute(c)
		if err == nil || res.OK || res.Error == "" {
			t.Errorf("%+v: expected failure, got %+v", c, res)
		}
	}

	// A table of identical rows cannot be solved; the default transform stays.
	before, _ := p.Session().Transform(1)
	for i := 0; i < calibration.NumOrientations; i++ {
		p.Session().Capture(1, calibration.Orientation(i))
	}
	if _, err := p.Execute(Command{Action: "process", Sensor: "1"}); err == nil {
		t.Error("singular table processed")
	}
	after, _ := p.Session().Transform(1)
	if after != before {
		t.Error("transform changed after failed solve")
	}
}

func TestHandleControlMessage(t *testing.T) {
	dev := &controlpoint.Emulator{}
	var resp []byte
	write := func(req []byte) error { resp = dev.Handle(req); return nil }
	rec := &recorder{}

	handleControlMessage([]byte(`{"name":"set_cpv_parameters","args":["8","2"]}`), write, rec, "resp")
	if dev.CPVSize != 8 || dev.CPVDownsamp != 2 {
		t.Errorf("emulator cpv %d %d", dev.CPVSize, dev.CPVDownsamp)
	}
	r := describeResponse(resp)
	if !r.OK || r.Request != "set_cpv_parameters" {
		t.Errorf("response %+v", r)
	}

	handleControlMessage([]byte{byte(controlpoint.RequestCPVParameters)}, write, rec, "resp")
	r = describeResponse(resp)
	if !r.OK || r.Payload == nil {
		t.Errorf("raw request response %+v", r)
	}

	handleControlMessage([]byte(`{"name":"set_cpv_parameters"}`), write, rec, "resp")
	var bad ControlResponse
	if err := json.Unmarshal(rec.last("resp"), &bad); err != nil || bad.Error == "" {
		t.Errorf("invalid request answer %+v %v", bad, err)
	}

	r = describeResponse([]byte{0x20, byte(controlpoint.RequestPartnerAddress), byte(controlpoint.OperationFailed)})
	if r.OK || r.Result != "operation failed" {
		t.Errorf("failure response %+v", r)
	}
}

func TestWebAPI(t *testing.T) {
	cfg := testConfig()
	p := NewPipeline(cfg)
	p.Metrics = metrics.New()
	srv := httptest.NewServer(newWebMux(p, newControlHub(), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("state before data: %d", resp.StatusCode)
	}

	spin(t, p, sim.New(cfg.ModelConstants(), 60, 1, 0, 2), 4)

	for _, path := range []string{"/api/state", "/api/stats", "/api/calibration", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		var body bytes.Buffer
		body.ReadFrom(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || body.Len() == 0 {
			t.Errorf("%s: status %d, %d bytes", path, resp.StatusCode, body.Len())
		}
		if path == "/api/calibration" && !strings.Contains(body.String(), "coefficients") {
			t.Errorf("calibration view lacks coefficients: %s", body.String())
		}
	}
}

func TestCalibrationWebsocket(t *testing.T) {
	p := NewPipeline(testConfig())
	srv := httptest.NewServer(newWebMux(p, newControlHub(), nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/calibration", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	p.Session().HandleRecords([]telemetry.Record{telemetry.Acceleration{A1: [3]int16{4096, 0, 0}}})
	if err := conn.WriteJSON(Command{Action: "capture", Sensor: "1", Orientation: "+X"}); err != nil {
		t.Fatal(err)
	}
	var resp WSResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Type != "result" || resp.Result == nil || resp.Result.Mean == nil || resp.Result.Mean[0] < 4000 {
		t.Errorf("capture response %+v", resp)
	}
	if len(resp.Result.Missing) != 5 {
		t.Errorf("missing %v", resp.Result.Missing)
	}

	conn.WriteJSON(Command{Action: "stats"})
	resp = WSResponse{}
	if err := conn.ReadJSON(&resp); err != nil || resp.Type != "stats" || resp.Stats == nil {
		t.Errorf("stats response %+v %v", resp, err)
	}

	conn.WriteJSON(Command{Action: "capture", Sensor: "9"})
	resp = WSResponse{}
	if err := conn.ReadJSON(&resp); err != nil || resp.Type != "error" || resp.Message == "" {
		t.Errorf("error response %+v %v", resp, err)
	}
}

func TestControlWebsocket(t *testing.T) {
	p := NewPipeline(testConfig())
	hub := newControlHub()
	dev := &controlpoint.Emulator{}
	// Loop requests straight back through the hub, as producer and broker would.
	p.Control = func(req []byte) error {
		b, _ := json.Marshal(describeResponse(dev.Handle(req)))
		go hub.broadcast(b)
		return nil
	}
	srv := httptest.NewServer(newWebMux(p, hub, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/control", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.WriteJSON(controlpoint.Command{Name: "set_serial_number", Args: []string{"IC-7"}})
	var r ControlResponse
	if err := conn.ReadJSON(&r); err != nil {
		t.Fatal(err)
	}
	if !r.OK || r.Request != "set_serial_number" || dev.Serial != "IC-7" {
		t.Errorf("response %+v serial %q", r, dev.Serial)
	}

	conn.WriteJSON(controlpoint.Command{Name: "bogus"})
	r = ControlResponse{}
	if err := conn.ReadJSON(&r); err != nil || r.Error == "" {
		t.Errorf("bogus command answer %+v %v", r, err)
	}
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	rawPath := filepath.Join(dir, "raw.bin")
	w, err := datalog.CreateRaw(rawPath)
	if err != nil {
		t.Fatal(err)
	}
	c := testConfig().ModelConstants()
	crank := sim.New(c, 100, 1, 0, 3)
	for i := 0; i < 48; i++ {
		w.WriteFrame(crank.Notification(8))
	}
	w.WriteFrame([]byte{0x0F})
	w.Close()

	var out bytes.Buffer
	plotPath := filepath.Join(dir, "replay.png")
	sum, err := RunReplay(rawPath, c, &out, plotPath)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Frames != 49 || sum.States != 48*8 || sum.DecodeErrors != 1 {
		t.Errorf("summary %+v", sum)
	}
	if math.Abs(sum.Final.RPM()-100) > 2 {
		t.Errorf("final rpm %.2f", sum.Final.RPM())
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != sum.States || len(strings.Fields(lines[0])) != 4 {
		t.Errorf("%d output lines, first %q", len(lines), lines[0])
	}
	if fi, err := os.Stat(plotPath); err != nil || fi.Size() == 0 {
		t.Errorf("plot not written: %v", err)
	}
}

func TestStillnessConfidence(t *testing.T) {
	tests := []struct {
		sd   [3]float64
		want float64
	}{
		{[3]float64{1, 2, 3}, 1},
		{[3]float64{100, 100, 100}, confFloor},
		{[3]float64{22, 22, 22}, 1 - 0.95*0.5},
	}
	for _, tt := range tests {
		if got := stillnessConfidence(tt.sd); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("stillnessConfidence(%v) = %g, want %g", tt.sd, got, tt.want)
		}
	}
	poses := []PoseCapture{{Confidence: 0.9}, {Confidence: 0.4}, {Confidence: 1}}
	if overallConfidence(poses) != 0.4 {
		t.Errorf("overall %g", overallConfidence(poses))
	}
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	co := calibration.Coefficients{1, 2, 3}
	r := &CalibrationReport{Version: 1, Sensor: "accel2", Transform: calibration.Identity(), Coefficients: &co}
	name, err := writeReport(dir, r)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(name)
	if err != nil {
		t.Fatal(err)
	}
	var back CalibrationReport
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.Sensor != "accel2" || back.Coefficients == nil || *back.Coefficients != co {
		t.Errorf("report %+v", back)
	}
	if !strings.HasPrefix(filepath.Base(name), "accel2_") {
		t.Errorf("report name %s", name)
	}
}

func TestSampleMessagePhysical(t *testing.T) {
	m := newSampleMessage(telemetry.Temperature{Integral: 21, Fractional: 500000})
	if m.Type != telemetry.OpTemperature.String() || !strings.HasSuffix(m.Physical, "°C") {
		t.Errorf("temperature sample %+v", m)
	}
	if m := newSampleMessage(telemetry.Battery{Raw: 3400}); !strings.HasSuffix(m.Physical, "V") {
		t.Errorf("battery sample %+v", m)
	}
	if m := newSampleMessage(telemetry.Strain{Value: 1}); m.Physical != "" {
		t.Errorf("strain sample has unit %q", m.Physical)
	}
}

func TestWebHistory(t *testing.T) {
	cfg := testConfig()
	p := NewPipeline(cfg)
	path := filepath.Join(t.TempDir(), "h.db")
	dl, err := datalog.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	id := p.Session().ID().String()
	if err := dl.StartSession(id, p.Session().Started(), p.Session().Constants()); err != nil {
		t.Fatal(err)
	}
	p.Log = dl

	spin(t, p, sim.New(cfg.ModelConstants(), 60, 1, 0, 3), 2)
	p.Handle([]byte{0x0F})
	calibrate(t, p, calibration.DefaultTransform(cfg.Gravity))
	if err := dl.Close(); err != nil {
		t.Fatal(err)
	}

	hist, err := datalog.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer hist.Close()
	srv := httptest.NewServer(newWebMux(NewPipeline(cfg), newControlHub(), hist))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/history?session=" + id + "&limit=5")
	if err != nil {
		t.Fatal(err)
	}
	var h sessionHistory
	err = json.NewDecoder(resp.Body).Decode(&h)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(h.States) != 5 || h.States[0].Session != id {
		t.Errorf("history states: %d", len(h.States))
	}
	if len(h.Calibrations) != 1 || !h.Calibrations[0].OK || h.Calibrations[0].Sensor != 1 {
		t.Errorf("history calibrations: %+v", h.Calibrations)
	}
	if h.DecodeErrors != 1 {
		t.Errorf("history decode errors: %d", h.DecodeErrors)
	}

	for _, q := range []string{"", "?session=" + id + "&limit=x"} {
		resp, err := http.Get(srv.URL + "/api/history" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("history%s: status %d", q, resp.StatusCode)
		}
	}
}
