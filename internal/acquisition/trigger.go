// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package acquisition

import "time"

// Trigger fires a callback periodically while armed.
//
// fire is called sequentially from a single goroutine. Disarm must not
// wait for an in-flight fire to return.
type Trigger interface {
	Arm(period time.Duration, fire func())
	Disarm()
}

// TickerTrigger is a Trigger backed by time.Ticker.
type TickerTrigger struct {
	stop chan struct{}
}

// NewTickerTrigger returns an unarmed TickerTrigger.
func NewTickerTrigger() *TickerTrigger { return &TickerTrigger{} }

// Arm implements Trigger. Arming an armed trigger replaces its schedule.
func (t *TickerTrigger) Arm(period time.Duration, fire func()) {
	t.Disarm()

	stop := make(chan struct{})
	t.stop = stop
	ticker := time.NewTicker(period)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fire()
			}
		}
	}()
}

// Disarm implements Trigger.
func (t *TickerTrigger) Disarm() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}
