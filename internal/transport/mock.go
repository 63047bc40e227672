// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/imu_logger/internal/imu"
)

// oneG is the accelerometer reading for 1 g at the ±2 g range.
const oneG = 16384

// MockConnector creates synthetic IMUs that always have a frame ready.
// Motion is smooth: roll and pitch oscillate and the device turns at a
// steady 30 deg/s about z.
type MockConnector struct {
	// Step is the simulated time between frames.
	Step time.Duration
	// MalformedEvery, when > 0, replaces every Nth line with garbage.
	MalformedEvery int
}

// Name implements Connector.
func (c MockConnector) Name() string { return "mock" }

// Connect implements Connector.
func (c MockConnector) Connect() (LineSource, error) {
	step := c.Step
	if step <= 0 {
		step = 5 * time.Millisecond
	}
	return &mockSource{step: step, malformedEvery: c.MalformedEvery}, nil
}

type mockSource struct {
	step           time.Duration
	malformedEvery int
	n              int
	closed         atomic.Bool
}

func (m *mockSource) HasData() bool { return true }

func (m *mockSource) ReadLine() (string, error) {
	if m.closed.Load() {
		return "", ErrClosed
	}
	m.n++
	if m.malformedEvery > 0 && m.n%m.malformedEvery == 0 {
		return "garbage,,line", nil
	}
	return MockFrame(time.Duration(m.n) * m.step).String(), nil
}

func (m *mockSource) Close() error {
	m.closed.Store(true)
	return nil
}

// MockFrame returns the synthetic frame at elapsed time t.
func MockFrame(t time.Duration) imu.Frame {
	elapsed := t.Seconds()

	roll := 20 * math.Sin(elapsed) * math.Pi / 180
	pitch := 15 * math.Cos(elapsed*0.7) * math.Pi / 180

	return imu.Frame{
		Ax: int(math.Round(oneG * math.Sin(pitch))),
		Ay: int(math.Round(oneG * math.Sin(roll))),
		Az: int(math.Round(oneG * math.Cos(pitch) * math.Cos(roll))),
		Gx: int(math.Round(20 * math.Cos(elapsed))),
		Gy: int(math.Round(-10.5 * math.Sin(elapsed*0.7))),
		Gz: 30,
	}
}
