// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"fmt"
	"log"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/imu_logger/internal/imu"
)

// MPU9250Connector polls an MPU9250 wired to SPI instead of reading a
// microcontroller's serial output. Every ReadLine samples the sensor and
// renders the result in the same six-field wire format.
type MPU9250Connector struct {
	SPIDevice string // e.g. /dev/spidev0.0
	CSPin     string // GPIO name of the chip select
	// Full-scale ranges, 0-3: accel ±2/4/8/16 g, gyro ±250/500/1000/2000 °/s.
	AccelRange byte
	GyroRange  byte
}

// Name implements Connector.
func (c MPU9250Connector) Name() string { return "mpu9250:" + c.SPIDevice }

// Connect implements Connector.
func (c MPU9250Connector) Connect() (LineSource, error) {
	if c.AccelRange > 3 || c.GyroRange > 3 {
		return nil, fmt.Errorf("mpu9250: range out of bounds (accel %d, gyro %d)", c.AccelRange, c.GyroRange)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	cs := gpioreg.ByName(c.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("mpu9250: CS pin %q not found", c.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(c.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: SPI transport (%s): %w", c.SPIDevice, err)
	}

	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: device creation: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: initialization: %w", err)
	}
	if err := dev.SetAccelRange(c.AccelRange); err != nil {
		return nil, fmt.Errorf("mpu9250: set accel range: %w", err)
	}
	if err := dev.SetGyroRange(c.GyroRange); err != nil {
		return nil, fmt.Errorf("mpu9250: set gyro range: %w", err)
	}
	log.Printf("mpu9250: ready on %s (accel range ±%dg, gyro range ±%d°/s)",
		c.SPIDevice, []int{2, 4, 8, 16}[c.AccelRange], []int{250, 500, 1000, 2000}[c.GyroRange])

	return newSensorSource(dev), nil
}

// axisReader is the part of *mpu9250.MPU9250 that sampling needs.
type axisReader interface {
	GetAccelerationX() (int16, error)
	GetAccelerationY() (int16, error)
	GetAccelerationZ() (int16, error)
	GetRotationX() (int16, error)
	GetRotationY() (int16, error)
	GetRotationZ() (int16, error)
}

type sensorSource struct {
	dev    axisReader
	closed atomic.Bool
}

func newSensorSource(dev axisReader) *sensorSource {
	return &sensorSource{dev: dev}
}

// HasData implements LineSource. A polled sensor always has a reading.
func (s *sensorSource) HasData() bool { return true }

// ReadLine implements LineSource. A failed register read is reported as
// a malformed line so a single bus glitch costs one tick, not the session.
func (s *sensorSource) ReadLine() (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	f, err := s.sample()
	if err != nil {
		log.Printf("mpu9250: %v", err)
		return "read error", nil
	}
	return f.String(), nil
}

func (s *sensorSource) sample() (imu.Frame, error) {
	var f imu.Frame
	reads := []struct {
		axis string
		get  func() (int16, error)
		dst  *int
	}{
		{"accel X", s.dev.GetAccelerationX, &f.Ax},
		{"accel Y", s.dev.GetAccelerationY, &f.Ay},
		{"accel Z", s.dev.GetAccelerationZ, &f.Az},
		{"gyro X", s.dev.GetRotationX, &f.Gx},
		{"gyro Y", s.dev.GetRotationY, &f.Gy},
		{"gyro Z", s.dev.GetRotationZ, &f.Gz},
	}

	for _, r := range reads {
		v, err := r.get()
		if err != nil {
			return imu.Frame{}, fmt.Errorf("%s: %w", r.axis, err)
		}
		*r.dst = int(v)
	}
	return f, nil
}

// Close implements LineSource.
func (s *sensorSource) Close() error {
	s.closed.Store(true)
	return nil
}
