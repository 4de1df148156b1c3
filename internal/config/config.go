// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goanna247/diagnostic/internal/kinematics"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker              string
	MQTTClientIDProducer    string
	MQTTClientIDConsole     string
	MQTTClientIDWeb         string
	MQTTClientIDCalibration string
	MQTTClientIDControl     string

	// Topics
	TopicRaw             string // raw notifications, binary
	TopicSamples         string // decoded records, JSON
	TopicState           string // filter state, JSON
	TopicStats           string
	TopicCalibration     string
	TopicCommand         string // producer commands (reset, capture, process)
	TopicControl         string // control point requests
	TopicControlResponse string

	// Transport
	Transport           string // ble, serial, replay, sim
	BLEDeviceName       string
	BLEDeviceAddress    string
	BLEServiceUUID      string
	BLERawDataUUID      string
	BLEControlPointUUID string
	SerialPort          string
	SerialBaudRate      uint
	ReplayFile          string
	ReplayInterval      int // milliseconds
	SimRPM              float64
	SimNoise            float64 // m/s^2

	// Model
	KFDT          float64
	KFSigma2Alpha float64
	KFSigma2Accel float64
	KFR1          float64
	KFR2          float64
	KFRatio       float64
	Gravity       float64

	// Timing
	StatsPublishInterval int // milliseconds

	// Services
	WebServerPort  int
	DatalogPath    string // sqlite, empty disables
	RawlogPath     string // raw notification log, empty disables
	MetricsEnabled bool
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns a configuration with every optional key set.
func Defaults() *Config {
	m := kinematics.DefaultConstants()
	return &Config{
		MQTTClientIDProducer:    "crank-producer",
		MQTTClientIDConsole:     "crank-console",
		MQTTClientIDWeb:         "crank-web",
		MQTTClientIDCalibration: "crank-calibration",
		MQTTClientIDControl:     "crank-control",

		TopicRaw:             "crank/raw",
		TopicSamples:         "crank/samples",
		TopicState:           "crank/state",
		TopicStats:           "crank/stats",
		TopicCalibration:     "crank/calibration",
		TopicCommand:         "crank/command",
		TopicControl:         "crank/control",
		TopicControlResponse: "crank/control/response",

		Transport:      "sim",
		SerialBaudRate: 115200,
		ReplayInterval: 62,
		SimRPM:         90,
		SimNoise:       0.05,

		KFDT:          m.DT,
		KFSigma2Alpha: m.Sigma2Alpha,
		KFSigma2Accel: m.Sigma2Accel,
		KFR1:          m.R1,
		KFR2:          m.R2,
		KFRatio:       m.Ratio,
		Gravity:       m.Gravity,

		StatsPublishInterval: 1000,
		WebServerPort:        8080,
	}
}

// Load reads a KEY=VALUE configuration file on top of Defaults.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines from r. Blank lines and lines starting with #
// are ignored.
func Parse(r io.Reader) (*Config, error) {
	cfg := Defaults()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseFloat(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return f, nil
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_CALIBRATION":
		c.MQTTClientIDCalibration = value
	case "MQTT_CLIENT_ID_CONTROL":
		c.MQTTClientIDControl = value

	// Topics
	case "TOPIC_RAW":
		c.TopicRaw = value
	case "TOPIC_SAMPLES":
		c.TopicSamples = value
	case "TOPIC_STATE":
		c.TopicState = value
	case "TOPIC_STATS":
		c.TopicStats = value
	case "TOPIC_CALIBRATION":
		c.TopicCalibration = value
	case "TOPIC_COMMAND":
		c.TopicCommand = value
	case "TOPIC_CONTROL":
		c.TopicControl = value
	case "TOPIC_CONTROL_RESPONSE":
		c.TopicControlResponse = value

	// Transport
	case "TRANSPORT":
		switch value {
		case "ble", "serial", "replay", "sim":
			c.Transport = value
		default:
			return fmt.Errorf("TRANSPORT must be ble, serial, replay or sim, got %q", value)
		}
	case "BLE_DEVICE_NAME":
		c.BLEDeviceName = value
	case "BLE_DEVICE_ADDRESS":
		c.BLEDeviceAddress = value
	case "BLE_SERVICE_UUID":
		c.BLEServiceUUID = value
	case "BLE_RAW_DATA_UUID":
		c.BLERawDataUUID = value
	case "BLE_CONTROL_POINT_UUID":
		c.BLEControlPointUUID = value
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		baud, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid SERIAL_BAUD_RATE %q: %w", value, err)
		}
		c.SerialBaudRate = uint(baud)
	case "REPLAY_FILE":
		c.ReplayFile = value
	case "REPLAY_INTERVAL":
		c.ReplayInterval, err = parseInt(key, value)
	case "SIM_RPM":
		c.SimRPM, err = parseFloat(key, value)
	case "SIM_NOISE":
		c.SimNoise, err = parseFloat(key, value)

	// Model
	case "KF_DT":
		c.KFDT, err = parseFloat(key, value)
	case "KF_SIGMA2_ALPHA":
		c.KFSigma2Alpha, err = parseFloat(key, value)
	case "KF_SIGMA2_ACCEL":
		c.KFSigma2Accel, err = parseFloat(key, value)
	case "KF_R1":
		c.KFR1, err = parseFloat(key, value)
	case "KF_R2":
		c.KFR2, err = parseFloat(key, value)
	case "KF_RATIO":
		c.KFRatio, err = parseFloat(key, value)
	case "GRAVITY":
		c.Gravity, err = parseFloat(key, value)

	// Timing
	case "STATS_PUBLISH_INTERVAL":
		c.StatsPublishInterval, err = parseInt(key, value)

	// Services
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)
	case "DATALOG_PATH":
		c.DatalogPath = value
	case "RAWLOG_PATH":
		c.RawlogPath = value
	case "METRICS_ENABLED":
		c.MetricsEnabled, err = strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid METRICS_ENABLED %q: %w", value, err)
		}

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return err
}

// validate checks required fields and the combinations that depend on the
// selected transport.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	switch c.Transport {
	case "ble":
		if c.BLEDeviceName == "" && c.BLEDeviceAddress == "" {
			return fmt.Errorf("BLE_DEVICE_NAME or BLE_DEVICE_ADDRESS is required for TRANSPORT=ble")
		}
		if c.BLEServiceUUID == "" || c.BLERawDataUUID == "" {
			return fmt.Errorf("BLE_SERVICE_UUID and BLE_RAW_DATA_UUID are required for TRANSPORT=ble")
		}
	case "serial":
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required for TRANSPORT=serial")
		}
	case "replay":
		if c.ReplayFile == "" {
			return fmt.Errorf("REPLAY_FILE is required for TRANSPORT=replay")
		}
	}
	if c.StatsPublishInterval <= 0 {
		return fmt.Errorf("STATS_PUBLISH_INTERVAL must be positive, got %d", c.StatsPublishInterval)
	}
	if c.ReplayInterval < 0 {
		return fmt.Errorf("REPLAY_INTERVAL must not be negative, got %d", c.ReplayInterval)
	}
	if err := c.ModelConstants().Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	return nil
}

// ModelConstants returns the estimator constants from the KF_* keys.
func (c *Config) ModelConstants() kinematics.Constants {
	return kinematics.Constants{
		DT:          c.KFDT,
		Sigma2Alpha: c.KFSigma2Alpha,
		Sigma2Accel: c.KFSigma2Accel,
		R1:          c.KFR1,
		R2:          c.KFR2,
		Ratio:       c.KFRatio,
		Gravity:     c.Gravity,
	}
}

func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsPublishInterval) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
