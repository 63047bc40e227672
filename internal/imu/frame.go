// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FieldCount is the number of comma-separated integers in one frame line.
const FieldCount = 6

// ErrMalformedFrame is matched by every *ParseError.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame represents a single raw 6-axis sample in sensor counts.
type Frame struct {
	Ax int `json:"ax"` // accel
	Ay int `json:"ay"`
	Az int `json:"az"`

	Gx int `json:"gx"` // gyro
	Gy int `json:"gy"`
	Gz int `json:"gz"`
}

// String renders the frame in its wire form: ax,ay,az,gx,gy,gz.
func (f Frame) String() string {
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", f.Ax, f.Ay, f.Az, f.Gx, f.Gy, f.Gz)
}

// ParseError reports a line that could not be turned into a Frame.
type ParseError struct {
	Line   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse frame %q: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse frame %q: %s", e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrMalformedFrame) match any ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrMalformedFrame }

// ParseFrame parses one line of the form "ax,ay,az,gx,gy,gz".
// Parsing is all-or-nothing: on error the zero Frame is returned.
func ParseFrame(line string) (Frame, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Frame{}, &ParseError{Line: line, Reason: "empty line"}
	}

	parts := strings.Split(line, ",")
	if len(parts) != FieldCount {
		return Frame{}, &ParseError{
			Line:   line,
			Reason: fmt.Sprintf("expected %d fields, got %d", FieldCount, len(parts)),
		}
	}

	var vals [FieldCount]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Frame{}, &ParseError{
				Line:   line,
				Reason: fmt.Sprintf("field %d is not an integer", i+1),
				Err:    err,
			}
		}
		vals[i] = v
	}

	return Frame{
		Ax: vals[0],
		Ay: vals[1],
		Az: vals[2],
		Gx: vals[3],
		Gy: vals[4],
		Gz: vals[5],
	}, nil
}
