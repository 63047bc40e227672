// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session buffers the samples of one acquisition session and
// exports them as CSV.
package session

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/imu_logger/internal/imu"
	"github.com/relabs-tech/imu_logger/internal/orientation"
)

// Row is one logged sample: elapsed time since Start plus the raw frame
// and the pose computed from it.
type Row struct {
	TimestampMS int64 `json:"timestamp"`
	imu.Frame
	orientation.Pose
}

// Log is the in-memory row buffer of the current session.
// It is not safe for concurrent use.
type Log struct {
	now func() time.Time

	id        string
	startedAt time.Time
	active    bool
	rows      []Row
}

// Option configures a Log.
type Option func(*Log)

// WithClock replaces time.Now as the source of row timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog returns an idle log with no session.
func NewLog(opts ...Option) *Log {
	l := &Log{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start discards any previous rows, opens a new session and returns its id.
func (l *Log) Start() string {
	l.rows = nil
	l.id = uuid.NewString()
	l.startedAt = l.now()
	l.active = true
	return l.id
}

// Record appends a row if the session is active and reports whether it did.
func (l *Log) Record(frame imu.Frame, pose orientation.Pose) bool {
	if !l.active {
		return false
	}
	elapsed := l.now().Sub(l.startedAt)
	l.rows = append(l.rows, Row{
		TimestampMS: int64(math.Round(float64(elapsed) / float64(time.Millisecond))),
		Frame:       frame,
		Pose:        pose,
	})
	return true
}

// Stop ends recording. Buffered rows are kept for export.
func (l *Log) Stop() { l.active = false }

// Active reports whether Record currently appends rows.
func (l *Log) Active() bool { return l.active }

// Started reports whether a session has ever been started.
func (l *Log) Started() bool { return l.id != "" }

// ID returns the current session id, or "" before the first Start.
func (l *Log) ID() string { return l.id }

// StartedAt returns when the current session started.
func (l *Log) StartedAt() time.Time { return l.startedAt }

// Len returns the number of buffered rows.
func (l *Log) Len() int { return len(l.rows) }

// Rows returns a copy of the buffered rows in insertion order.
func (l *Log) Rows() []Row {
	out := make([]Row, len(l.rows))
	copy(out, l.rows)
	return out
}
