// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport provides the line-oriented byte-stream sources the
// acquisition controller reads frames from.
package transport

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrNoData is returned by ReadLine when no complete line is buffered.
var ErrNoData = errors.New("no data available")

// ErrClosed is returned by ReadLine after Close.
var ErrClosed = errors.New("line source closed")

// Connector opens a LineSource. It is called once per acquisition session.
type Connector interface {
	Connect() (LineSource, error)
	Name() string
}

// LineSource is an open, non-blocking line reader.
//
// HasData reports whether ReadLine would return without blocking: either a
// line is buffered or the stream has ended. Once the stream has ended,
// ReadLine returns the terminating error (io.EOF for a clean end).
type LineSource interface {
	HasData() bool
	ReadLine() (string, error)
	Close() error
}

// lineBuffer is the default capacity of a LineStream.
const lineBuffer = 256

// MaxLineLength bounds a single line. A six-field frame is well under
// 80 bytes; anything longer is noise (wrong baud rate, binary data) and
// is replaced by OverflowLine, which no frame parser accepts.
const MaxLineLength = 256

// OverflowLine stands in for a discarded over-long line.
const OverflowLine = "<line too long>"

// LineStream adapts a blocking io.ReadCloser into a LineSource by reading
// lines on a background goroutine.
type LineStream struct {
	rc      io.ReadCloser
	idleEOF bool

	lines chan string
	done  chan struct{} // closed after lines is closed
	quit  chan struct{}
	err   error // set before done is closed

	closeOnce sync.Once
	closeErr  error
}

// NewLineStream starts reading rc. With idleEOF set, io.EOF from rc is
// treated as "nothing to read yet" (serial read timeouts surface as EOF)
// instead of the end of the stream.
func NewLineStream(rc io.ReadCloser, idleEOF bool) *LineStream {
	s := &LineStream{
		rc:      rc,
		idleEOF: idleEOF,
		lines:   make(chan string, lineBuffer),
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *LineStream) run() {
	defer close(s.done)
	defer close(s.lines)

	br := bufio.NewReaderSize(s.rc, MaxLineLength)
	var partial strings.Builder
	overflow := false

	for {
		chunk, err := br.ReadSlice('\n')
		if !overflow {
			partial.Write(chunk)
			if partial.Len() > MaxLineLength {
				overflow = true
				partial.Reset()
			}
		}

		if err == nil {
			line := strings.TrimRight(partial.String(), "\r\n")
			if overflow {
				line = OverflowLine
			}
			partial.Reset()
			overflow = false
			if !s.send(line) {
				s.err = ErrClosed
				return
			}
			continue
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if s.stopped() {
			s.err = ErrClosed
			return
		}
		if s.idleEOF && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrNoProgress)) {
			continue
		}

		// Flush an unterminated last line before reporting the end.
		if errors.Is(err, io.EOF) && (partial.Len() > 0 || overflow) {
			line := strings.TrimRight(partial.String(), "\r")
			if overflow {
				line = OverflowLine
			}
			if !s.send(line) {
				s.err = ErrClosed
				return
			}
		}
		s.err = err
		return
	}
}

func (s *LineStream) send(line string) bool {
	select {
	case s.lines <- line:
		return true
	case <-s.quit:
		return false
	}
}

func (s *LineStream) stopped() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// HasData implements LineSource.
func (s *LineStream) HasData() bool {
	if len(s.lines) > 0 {
		return true
	}
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ReadLine implements LineSource. It never blocks.
func (s *LineStream) ReadLine() (string, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			<-s.done
			return "", s.err
		}
		return line, nil
	default:
		return "", ErrNoData
	}
}

// Close stops the reader and closes the underlying stream. It does not
// wait for a read already blocked in the driver to return.
func (s *LineStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.closeErr = s.rc.Close()
	})
	return s.closeErr
}
