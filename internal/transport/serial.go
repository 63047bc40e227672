// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"fmt"
	"log"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

// SerialConnector opens an 8N1 serial port streaming one frame per line.
type SerialConnector struct {
	Port     string
	BaudRate uint
	// ReadTimeout bounds each driver read. It is rounded up to the
	// 100 ms resolution of the termios inter-character timer.
	ReadTimeout time.Duration
}

// Name implements Connector.
func (c SerialConnector) Name() string { return c.Port }

// Connect implements Connector.
func (c SerialConnector) Connect() (LineSource, error) {
	opts := c.options()
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", opts.PortName, err)
	}
	log.Printf("serial: port opened on %s at %d baud", opts.PortName, opts.BaudRate)

	// A timed-out read of a serial fd comes back as io.EOF.
	return NewLineStream(port, true), nil
}

func (c SerialConnector) options() serial.OpenOptions {
	return serial.OpenOptions{
		PortName:              c.Port,
		BaudRate:              c.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: interCharTimeoutMS(c.ReadTimeout),
	}
}

// interCharTimeoutMS converts d to whole deciseconds expressed in ms,
// with a floor of 100 ms (a zero VTIME with VMIN 0 would busy-poll).
func interCharTimeoutMS(d time.Duration) uint {
	ms := d.Milliseconds()
	if ms < 100 {
		return 100
	}
	return uint((ms + 99) / 100 * 100)
}
