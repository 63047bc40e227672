// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sink holds the display sinks fed by the acquisition controller.
package sink

import (
	"fmt"
	"io"
	"sync"

	"github.com/relabs-tech/imu_logger/internal/acquisition"
)

// Console prints every sample as one text line.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// OnSample implements acquisition.Sink.
func (c *Console) OnSample(s acquisition.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.w,
		"ROLL=%6.2f  PITCH=%6.2f  YAW=%6.2f  | ax=%6d ay=%6d az=%6d  gx=%6d gy=%6d gz=%6d\n",
		s.Pose.Roll, s.Pose.Pitch, s.Pose.Yaw,
		s.Raw.Ax, s.Raw.Ay, s.Raw.Az,
		s.Raw.Gx, s.Raw.Gy, s.Raw.Gz,
	)
}
