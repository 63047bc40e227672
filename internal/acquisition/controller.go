// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package acquisition ties a line source, a periodic trigger, the
// orientation filter and the session log together.
package acquisition

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/imu_logger/internal/imu"
	"github.com/relabs-tech/imu_logger/internal/orientation"
	"github.com/relabs-tech/imu_logger/internal/session"
	"github.com/relabs-tech/imu_logger/internal/transport"
)

// DefaultExportPath is used when Options.ExportPath is empty.
const DefaultExportPath = "./data/imu_log.csv"

// ErrNoSession is returned by the export methods before the first Start.
var ErrNoSession = errors.New("no session has been started")

// State is the acquisition state.
type State int

const (
	Idle State = iota
	Acquiring
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Acquiring:
		return "acquiring"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state as its name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "acquiring":
		*s = Acquiring
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// ConnectionError reports that the line source could not be opened.
type ConnectionError struct {
	Source string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Source, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Stats counts what happened to the ticks of the current session.
type Stats struct {
	Ticks           uint64 `json:"ticks"`
	IdleTicks       uint64 `json:"idle_ticks"`
	Frames          uint64 `json:"frames"`
	ParseErrors     uint64 `json:"parse_errors"`
	DegenerateTilts uint64 `json:"degenerate_tilts"`
}

// Status is a snapshot of the controller for display.
type Status struct {
	State      State     `json:"state"`
	Source     string    `json:"source"`
	SessionID  string    `json:"session_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	Logging    bool      `json:"logging"`
	Rows       int       `json:"rows"`
	LastExport string    `json:"last_export,omitempty"`
	EndReason  string    `json:"end_reason,omitempty"`
	Stats      Stats     `json:"stats"`
}

// Options configures a Controller.
type Options struct {
	Connector  transport.Connector // required
	Sink       Sink                // optional
	Interval   time.Duration       // tick period and filter time step, required
	Trigger    Trigger             // defaults to a TickerTrigger
	ExportPath string              // defaults to DefaultExportPath
	Clock      func() time.Time    // defaults to time.Now
}

// Controller is the acquisition state machine: Idle -> Acquiring -> Idle.
//
// All mutation happens under mu, either from a command (Start, Stop,
// export) or from a tick of the single armed trigger. Ticks from an
// earlier arming are recognised by their generation and ignored.
//
// A tick holds deliverMu for its whole run, including sink delivery, so
// samples reach the sink one at a time. Lock order is deliverMu, then mu.
// Start and Stop wait on deliverMu after releasing mu; a sink must not
// call them from OnSample.
type Controller struct {
	connector  transport.Connector
	sink       Sink
	trigger    Trigger
	interval   time.Duration
	exportPath string
	now        func() time.Time

	deliverMu sync.Mutex

	mu         sync.Mutex
	state      State
	src        transport.LineSource
	filter     *orientation.Filter
	log        *session.Log
	gen        uint64
	seq        uint64
	done       chan struct{}
	stats      Stats
	lastExport string
	endReason  error
}

// New validates opts and returns an idle controller.
func New(opts Options) (*Controller, error) {
	if opts.Connector == nil {
		return nil, errors.New("acquisition: connector is required")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("acquisition: interval must be positive, got %v", opts.Interval)
	}
	if opts.Trigger == nil {
		opts.Trigger = NewTickerTrigger()
	}
	if opts.ExportPath == "" {
		opts.ExportPath = DefaultExportPath
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Controller{
		connector:  opts.Connector,
		sink:       opts.Sink,
		trigger:    opts.Trigger,
		interval:   opts.Interval,
		exportPath: opts.ExportPath,
		now:        opts.Clock,
		filter:     orientation.NewFilter(opts.Interval.Seconds()),
		log:        session.NewLog(session.WithClock(opts.Clock)),
	}, nil
}

// Start opens the source and begins a new session, stopping the current
// one first if needed. On a connection failure the controller is left
// Idle and the previous session's rows remain exportable.
func (c *Controller) Start() error {
	defer c.waitDelivery()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Acquiring {
		log.Printf("controller: restart requested, stopping session %s", c.log.ID())
		if err := c.stopLocked(); err != nil {
			log.Printf("controller: %v", err)
		}
	}

	src, err := c.connector.Connect()
	if err != nil {
		return &ConnectionError{Source: c.connector.Name(), Err: err}
	}

	c.src = src
	id := c.log.Start()
	c.filter.Reset()
	c.stats = Stats{}
	c.seq = 0
	c.endReason = nil
	c.done = make(chan struct{})
	c.state = Acquiring

	c.gen++
	gen := c.gen
	c.trigger.Arm(c.interval, func() { c.tick(gen) })

	log.Printf("controller: session %s started on %s (interval %v)", id, c.connector.Name(), c.interval)
	return nil
}

// Stop ends the current session. It is a no-op when Idle. The transition
// to Idle happens even if closing the source fails; that error is returned.
func (c *Controller) Stop() error {
	defer c.waitDelivery()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

// waitDelivery returns once no tick is delivering a sample. Ticks that
// start later see the new generation and deliver nothing from the old
// session.
func (c *Controller) waitDelivery() {
	c.deliverMu.Lock()
	c.deliverMu.Unlock()
}

func (c *Controller) stopLocked() error {
	if c.state != Acquiring {
		return nil
	}

	c.trigger.Disarm()
	err := c.src.Close()
	c.src = nil
	c.log.Stop()
	c.state = Idle
	close(c.done)

	log.Printf("controller: session %s stopped (rows=%d frames=%d parse_errors=%d degenerate_tilts=%d idle_ticks=%d)",
		c.log.ID(), c.log.Len(), c.stats.Frames, c.stats.ParseErrors, c.stats.DegenerateTilts, c.stats.IdleTicks)

	if err != nil {
		return fmt.Errorf("close %s: %w", c.connector.Name(), err)
	}
	return nil
}

// tick processes at most one line. It either completes the whole
// parse/filter/log/notify sequence or leaves filter and log untouched.
func (c *Controller) tick(gen uint64) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.state != Acquiring || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.stats.Ticks++

	if !c.src.HasData() {
		c.stats.IdleTicks++
		c.mu.Unlock()
		return
	}

	line, err := c.src.ReadLine()
	if err != nil {
		if errors.Is(err, transport.ErrNoData) {
			c.stats.IdleTicks++
		} else {
			log.Printf("controller: source %s ended: %v", c.connector.Name(), err)
			c.endReason = err
			if cerr := c.stopLocked(); cerr != nil {
				log.Printf("controller: %v", cerr)
			}
		}
		c.mu.Unlock()
		return
	}

	frame, err := imu.ParseFrame(line)
	if err != nil {
		c.stats.ParseErrors++
		c.mu.Unlock()
		return
	}

	pose, err := c.filter.Update(float64(frame.Ax), float64(frame.Ay), float64(frame.Az), float64(frame.Gz))
	if errors.Is(err, orientation.ErrDegenerateTilt) {
		c.stats.DegenerateTilts++
	}

	c.log.Record(frame, pose)
	c.stats.Frames++
	c.seq++

	sample := Sample{
		SessionID: c.log.ID(),
		Seq:       c.seq,
		Time:      c.now(),
		Pose:      pose,
		Raw:       frame,
	}
	sink := c.sink
	c.mu.Unlock()

	if sink != nil {
		deliver(sink, sample)
	}
}

// Export writes the current session to the configured export path and
// returns that path.
func (c *Controller) Export() (string, error) {
	return c.exportPath, c.ExportFile(c.exportPath)
}

// ExportFile writes the current session to path.
func (c *Controller) ExportFile(path string) error {
	rows, err := c.snapshot()
	if err != nil {
		return err
	}
	if err := session.WriteFile(path, rows); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastExport = path
	c.mu.Unlock()

	log.Printf("controller: exported %d rows to %s", len(rows), path)
	return nil
}

// ExportTo writes the current session as CSV to w.
func (c *Controller) ExportTo(w io.Writer) error {
	rows, err := c.snapshot()
	if err != nil {
		return err
	}
	return session.WriteCSV(w, rows)
}

func (c *Controller) snapshot() ([]session.Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.log.Started() {
		return nil, ErrNoSession
	}
	return c.log.Rows(), nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot for display.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:      c.state,
		Source:     c.connector.Name(),
		SessionID:  c.log.ID(),
		Logging:    c.log.Active(),
		Rows:       c.log.Len(),
		LastExport: c.lastExport,
		Stats:      c.stats,
	}
	if c.log.Started() {
		st.StartedAt = c.log.StartedAt()
	}
	if c.endReason != nil {
		st.EndReason = c.endReason.Error()
	}
	return st
}

// ExportPath returns the configured export destination.
func (c *Controller) ExportPath() string { return c.exportPath }

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done returns a channel closed when the current session ends, whether
// by Stop, restart, or the source ending. It is already closed when Idle.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Acquiring {
		return closedDone
	}
	return c.done
}
