// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sink

import (
	"sync"
	"time"

	"github.com/relabs-tech/imu_logger/internal/acquisition"
)

// Throttle forwards at most one sample per every, measured on sample
// time. The first sample of each session always passes. A non-positive
// every returns next unchanged.
func Throttle(next acquisition.Sink, every time.Duration) acquisition.Sink {
	if every <= 0 {
		return next
	}
	return &throttle{next: next, every: every}
}

type throttle struct {
	next  acquisition.Sink
	every time.Duration

	mu      sync.Mutex
	session string
	last    time.Time
}

func (t *throttle) OnSample(s acquisition.Sample) {
	t.mu.Lock()
	if s.SessionID == t.session && s.Time.Sub(t.last) < t.every {
		t.mu.Unlock()
		return
	}
	t.session = s.SessionID
	t.last = s.Time
	t.mu.Unlock()

	t.next.OnSample(s)
}
