// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceSerial = "serial"
	SourceReplay = "replay"
	SourceMock   = "mock"
	SourceSPI    = "spi"
)

// Config holds all application configuration values.
// The yaml tags are the lower-case KEY=VALUE names.
type Config struct {
	// Frame source
	Source              string `yaml:"source"` // serial, replay, mock or spi
	SerialPort          string `yaml:"serial_port"`
	SerialBaudRate      int    `yaml:"serial_baud_rate"`
	SerialReadTimeoutMS int    `yaml:"serial_read_timeout_ms"`
	ReplayFile          string `yaml:"replay_file"`
	MockMalformedEvery  int    `yaml:"mock_malformed_every"`

	// Directly wired MPU9250 (SOURCE=spi)
	IMUSPIDevice string `yaml:"imu_spi_device"`
	IMUCSPin     string `yaml:"imu_cs_pin"`
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte `yaml:"imu_accel_range"`
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte `yaml:"imu_gyro_range"`

	// Timing
	IMUSampleInterval  int `yaml:"imu_sample_interval"`  // milliseconds, also the filter time step
	ConsoleLogInterval int `yaml:"console_log_interval"` // milliseconds, 0 disables console output

	// Export
	ExportPath string `yaml:"export_path"`

	// MQTT
	MQTTBroker           string `yaml:"mqtt_broker"` // empty disables publishing
	MQTTClientIDProducer string `yaml:"mqtt_client_id_producer"`
	MQTTClientIDConsole  string `yaml:"mqtt_client_id_console"`
	MQTTPublishInterval  int    `yaml:"mqtt_publish_interval"` // milliseconds

	// Topics
	TopicPose string `yaml:"topic_pose"`
	TopicIMU  string `yaml:"topic_imu"`

	// Web Server
	WebServerPort int    `yaml:"web_server_port"`
	WebStaticDir  string `yaml:"web_static_dir"`

	// Display
	DisplayEnabled        bool   `yaml:"display_enabled"`
	DisplayI2CBus         string `yaml:"display_i2c_bus"`
	DisplayUpdateInterval int    `yaml:"display_update_interval"` // milliseconds
}

// Package-level singleton. InitGlobal sets it once, Get reads it under
// the read lock.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Source:                SourceSerial,
		SerialPort:            "/dev/ttyACM0",
		SerialBaudRate:        115200,
		SerialReadTimeoutMS:   100,
		IMUSPIDevice:          "/dev/spidev0.0",
		IMUCSPin:              "GPIO8",
		IMUSampleInterval:     5,
		ExportPath:            "./data/imu_log.csv",
		MQTTClientIDProducer:  "imu-logger-producer",
		MQTTClientIDConsole:   "imu-logger-console",
		MQTTPublishInterval:   100,
		TopicPose:             "inertial/pose",
		TopicIMU:              "inertial/imu",
		WebServerPort:         8080,
		DisplayUpdateInterval: 200,
	}
}

// Load reads the configuration file and returns a Config struct.
// Files ending in .yaml or .yml are YAML; anything else is KEY=VALUE.
// Keys missing from the file keep their defaults. An empty path returns
// the defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	if configPath == "" {
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		err = cfg.readYAML(file)
	default:
		err = cfg.readKeyValue(file)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readKeyValue(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := c.setValue(key, value); err != nil {
			return fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func (c *Config) readYAML(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("error reading yaml config: %w", err)
	}
	return nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Frame source
	case "SOURCE":
		c.Source = strings.ToLower(value)
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = atoi(key, value)
	case "SERIAL_READ_TIMEOUT_MS":
		c.SerialReadTimeoutMS, err = atoi(key, value)
	case "REPLAY_FILE":
		c.ReplayFile = value
	case "MOCK_MALFORMED_EVERY":
		c.MockMalformedEvery, err = atoi(key, value)

	// Directly wired MPU9250
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		c.IMUAccelRange, err = rangeIndex(key, value, "0=±2g, 1=±4g, 2=±8g, 3=±16g")
	case "IMU_GYRO_RANGE":
		c.IMUGyroRange, err = rangeIndex(key, value, "0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s")

	// Timing
	case "IMU_SAMPLE_INTERVAL":
		c.IMUSampleInterval, err = atoi(key, value)
	case "CONSOLE_LOG_INTERVAL":
		c.ConsoleLogInterval, err = atoi(key, value)

	// Export
	case "EXPORT_PATH":
		c.ExportPath = value

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_PUBLISH_INTERVAL":
		c.MQTTPublishInterval, err = atoi(key, value)

	// Topics
	case "TOPIC_POSE":
		c.TopicPose = value
	case "TOPIC_IMU":
		c.TopicIMU = value

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = atoi(key, value)
	case "WEB_STATIC_DIR":
		c.WebStaticDir = value

	// Display
	case "DISPLAY_ENABLED":
		enabled, perr := strconv.ParseBool(value)
		if perr != nil {
			return fmt.Errorf("invalid DISPLAY_ENABLED %q: %w", value, perr)
		}
		c.DisplayEnabled = enabled
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = atoi(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func atoi(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func rangeIndex(key, value, legend string) (byte, error) {
	n, err := atoi(key, value)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 3 {
		return 0, fmt.Errorf("%s must be 0-3 (%s), got %d", key, legend, n)
	}
	return byte(n), nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	switch c.Source {
	case SourceSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required")
		}
		if c.SerialBaudRate <= 0 {
			return fmt.Errorf("SERIAL_BAUD_RATE must be positive, got %d", c.SerialBaudRate)
		}
		if c.SerialReadTimeoutMS < 0 {
			return fmt.Errorf("SERIAL_READ_TIMEOUT_MS must not be negative, got %d", c.SerialReadTimeoutMS)
		}
	case SourceReplay:
		if c.ReplayFile == "" {
			return fmt.Errorf("REPLAY_FILE is required when SOURCE=replay")
		}
	case SourceMock:
		if c.MockMalformedEvery < 0 {
			return fmt.Errorf("MOCK_MALFORMED_EVERY must not be negative, got %d", c.MockMalformedEvery)
		}
	case SourceSPI:
		if c.IMUSPIDevice == "" || c.IMUCSPin == "" {
			return fmt.Errorf("IMU_SPI_DEVICE and IMU_CS_PIN are required when SOURCE=spi")
		}
		if c.IMUAccelRange > 3 || c.IMUGyroRange > 3 {
			return fmt.Errorf("IMU_ACCEL_RANGE and IMU_GYRO_RANGE must be 0-3")
		}
	default:
		return fmt.Errorf("SOURCE must be serial, replay, mock or spi, got %q", c.Source)
	}

	if c.IMUSampleInterval <= 0 {
		return fmt.Errorf("IMU_SAMPLE_INTERVAL must be positive, got %d", c.IMUSampleInterval)
	}
	if c.ConsoleLogInterval < 0 {
		return fmt.Errorf("CONSOLE_LOG_INTERVAL must not be negative, got %d", c.ConsoleLogInterval)
	}
	if c.ExportPath == "" {
		return fmt.Errorf("EXPORT_PATH is required")
	}
	if c.MQTTBroker != "" {
		if c.TopicPose == "" || c.TopicIMU == "" {
			return fmt.Errorf("TOPIC_POSE and TOPIC_IMU are required when MQTT_BROKER is set")
		}
		if c.MQTTPublishInterval < 0 {
			return fmt.Errorf("MQTT_PUBLISH_INTERVAL must not be negative, got %d", c.MQTTPublishInterval)
		}
	}
	if c.WebServerPort <= 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", c.WebServerPort)
	}
	if c.DisplayEnabled && c.DisplayUpdateInterval <= 0 {
		return fmt.Errorf("DISPLAY_UPDATE_INTERVAL must be positive, got %d", c.DisplayUpdateInterval)
	}
	return nil
}

// SampleInterval is the tick period and filter time step.
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.IMUSampleInterval) * time.Millisecond
}

func (c *Config) SerialReadTimeout() time.Duration {
	return time.Duration(c.SerialReadTimeoutMS) * time.Millisecond
}

func (c *Config) ConsoleInterval() time.Duration {
	return time.Duration(c.ConsoleLogInterval) * time.Millisecond
}

func (c *Config) PublishInterval() time.Duration {
	return time.Duration(c.MQTTPublishInterval) * time.Millisecond
}

func (c *Config) DisplayInterval() time.Duration {
	return time.Duration(c.DisplayUpdateInterval) * time.Millisecond
}

// WebAddr is the listen address for the web server.
func (c *Config) WebAddr() string {
	return fmt.Sprintf(":%d", c.WebServerPort)
}

// InitGlobal initializes the global configuration from file.
// Only the first call has any effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before
// InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
