// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package acquisition

import (
	"log"
	"time"

	"github.com/relabs-tech/imu_logger/internal/imu"
	"github.com/relabs-tech/imu_logger/internal/orientation"
)

// Sample is the update emitted for every successfully processed frame.
type Sample struct {
	SessionID string           `json:"session_id"`
	Seq       uint64           `json:"seq"`
	Time      time.Time        `json:"time"`
	Pose      orientation.Pose `json:"pose"`
	Raw       imu.Frame        `json:"raw"`
}

// Sink consumes samples. OnSample is called from the trigger goroutine
// outside the controller lock, never concurrently with itself, and never
// for a session that Stop or Start has already ended. Implementations
// must return quickly and may read controller status, but must not call
// Start or Stop.
type Sink interface {
	OnSample(Sample)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Sample)

// OnSample implements Sink.
func (f SinkFunc) OnSample(s Sample) { f(s) }

// MultiSink fans a sample out to every sink in order. A panicking sink
// does not keep the others from receiving the sample.
type MultiSink []Sink

// OnSample implements Sink.
func (m MultiSink) OnSample(s Sample) {
	for _, sink := range m {
		deliver(sink, s)
	}
}

// deliver calls sink.OnSample and contains any panic.
func deliver(sink Sink, s Sample) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("controller: sink %T panicked: %v", sink, r)
		}
	}()
	sink.OnSample(s)
}
