// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"errors"
	"math"
)

// ErrDegenerateTilt is returned by Tilt and Filter.Update when the
// accelerometer vector carries no direction (all axes zero).
var ErrDegenerateTilt = errors.New("degenerate accelerometer vector")

// Pose is the canonical representation of orientation for the app.
// All angles are in degrees.
type Pose struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`
}

// Wrap360 folds an angle in degrees into [0, 360).
func Wrap360(deg float64) float64 {
	r := math.Mod(deg, 360)
	if r < 0 {
		r += 360
	}
	// r+360 can round up to exactly 360 for tiny negative r; -0 folds here too.
	if r >= 360 || r == 0 {
		return 0
	}
	return r
}

// Tilt computes pitch and roll from accelerometer data only, in any unit.
//
//	pitch = atan2(ax, sqrt(ay² + az²))
//	roll  = atan2(ay, sqrt(ax² + az²))
//
// A zero vector (or non-finite input) yields 0, 0 and ErrDegenerateTilt.
func Tilt(ax, ay, az float64) (pitch, roll float64, err error) {
	if ax == 0 && ay == 0 && az == 0 {
		return 0, 0, ErrDegenerateTilt
	}

	pitchRad := math.Atan2(ax, math.Sqrt(ay*ay+az*az))
	rollRad := math.Atan2(ay, math.Sqrt(ax*ax+az*az))
	if math.IsNaN(pitchRad) || math.IsNaN(rollRad) {
		return 0, 0, ErrDegenerateTilt
	}

	return pitchRad * 180.0 / math.Pi, rollRad * 180.0 / math.Pi, nil
}

// Filter estimates orientation from a stream of frames.
//
// Pitch and roll are recomputed from scratch on every update. Yaw is a
// running integral of the z gyro rate over the fixed time step; the raw
// gz value is taken to be deg/s as-is, and no drift correction is done.
//
// A Filter is not safe for concurrent use.
type Filter struct {
	timeStep float64 // seconds
	yaw      float64
}

// NewFilter returns a filter integrating yaw over timeStep seconds per
// update. Callers must drive Update at that same period.
func NewFilter(timeStep float64) *Filter {
	return &Filter{timeStep: timeStep}
}

// Update advances the filter by one sample. The returned Pose is always
// usable: if tilt cannot be computed, pitch and roll are 0, yaw is still
// integrated, and ErrDegenerateTilt is returned alongside.
func (f *Filter) Update(ax, ay, az, gz float64) (Pose, error) {
	f.yaw = Wrap360(f.yaw + gz*f.timeStep)

	pitch, roll, err := Tilt(ax, ay, az)
	return Pose{
		Pitch: pitch,
		Roll:  roll,
		Yaw:   f.yaw,
	}, err
}

// Reset zeroes the yaw accumulator.
func (f *Filter) Reset() { f.yaw = 0 }

// Yaw returns the current heading estimate in degrees.
func (f *Filter) Yaw() float64 { return f.yaw }

// TimeStep returns the fixed integration interval in seconds.
func (f *Filter) TimeStep() float64 { return f.timeStep }
