// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package app wires configuration, transport, sinks and the acquisition
// controller into the runnable modes of the CLI.
package app

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/relabs-tech/imu_logger/internal/acquisition"
	"github.com/relabs-tech/imu_logger/internal/config"
	"github.com/relabs-tech/imu_logger/internal/sink"
	"github.com/relabs-tech/imu_logger/internal/transport"
)

// consoleOut is where the console sink prints.
var consoleOut io.Writer = os.Stdout

// NewConnector returns the frame source selected by cfg.Source.
func NewConnector(cfg *config.Config) (transport.Connector, error) {
	switch cfg.Source {
	case config.SourceSerial:
		return transport.SerialConnector{
			Port:        cfg.SerialPort,
			BaudRate:    uint(cfg.SerialBaudRate),
			ReadTimeout: cfg.SerialReadTimeout(),
		}, nil
	case config.SourceReplay:
		return transport.ReplayConnector{Path: cfg.ReplayFile}, nil
	case config.SourceMock:
		return transport.MockConnector{
			Step:           cfg.SampleInterval(),
			MalformedEvery: cfg.MockMalformedEvery,
		}, nil
	case config.SourceSPI:
		return transport.MPU9250Connector{
			SPIDevice:  cfg.IMUSPIDevice,
			CSPin:      cfg.IMUCSPin,
			AccelRange: cfg.IMUAccelRange,
			GyroRange:  cfg.IMUGyroRange,
		}, nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

// Pipeline is a controller with its configured sinks. Close releases
// the sinks' resources; the controller must be stopped first.
type Pipeline struct {
	Controller *acquisition.Controller

	closers []func()
}

// NewPipeline builds the controller for cfg. extra sinks receive every
// sample ahead of the configured console, MQTT and display sinks.
func NewPipeline(cfg *config.Config, extra ...acquisition.Sink) (*Pipeline, error) {
	conn, err := NewConnector(cfg)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{}
	sinks := append(acquisition.MultiSink{}, extra...)

	if cfg.ConsoleLogInterval > 0 {
		sinks = append(sinks, sink.Throttle(sink.NewConsole(consoleOut), cfg.ConsoleInterval()))
	}

	if cfg.MQTTBroker != "" {
		client, err := sink.Connect(cfg.MQTTBroker, cfg.MQTTClientIDProducer)
		if err != nil {
			p.Close()
			return nil, err
		}
		m := sink.NewMQTT(client, cfg.TopicPose, cfg.TopicIMU, sink.DefaultQueueSize)
		p.closers = append(p.closers, func() {
			m.Close()
			client.Disconnect(250)
			log.Printf("mqtt: published %d samples, dropped %d", m.Published(), m.Dropped())
		})
		sinks = append(sinks, sink.Throttle(m, cfg.PublishInterval()))
	}

	if cfg.DisplayEnabled {
		oled, err := sink.OpenOLED(cfg.DisplayI2CBus, cfg.DisplayInterval())
		if err != nil {
			// The logger keeps running headless.
			log.Printf("display: %v, continuing without display", err)
		} else {
			p.closers = append(p.closers, func() {
				if err := oled.Close(); err != nil {
					log.Printf("display: close: %v", err)
				}
			})
			sinks = append(sinks, oled)
		}
	}

	ctrl, err := acquisition.New(acquisition.Options{
		Connector:  conn,
		Sink:       sinks,
		Interval:   cfg.SampleInterval(),
		ExportPath: cfg.ExportPath,
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Controller = ctrl
	return p, nil
}

// Close releases sink resources in reverse order of creation.
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}
