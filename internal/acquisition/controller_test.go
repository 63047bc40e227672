// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package acquisition

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/relabs-tech/imu_logger/internal/orientation"
	"github.com/relabs-tech/imu_logger/internal/session"
	"github.com/relabs-tech/imu_logger/internal/transport"
)

// --- fakes ---

// manualTrigger records the armed callback so tests fire ticks by hand.
type manualTrigger struct {
	mu     sync.Mutex
	fire   func()
	period time.Duration
	arms   int
	armed  int // currently armed schedules, must never exceed 1
	maxArm int
}

func (m *manualTrigger) Arm(period time.Duration, fire func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fire = fire
	m.period = period
	m.arms++
	m.armed++
	if m.armed > m.maxArm {
		m.maxArm = m.armed
	}
}

func (m *manualTrigger) Disarm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.armed > 0 {
		m.armed--
	}
}

func (m *manualTrigger) Fire() {
	m.mu.Lock()
	fire := m.fire
	m.mu.Unlock()
	if fire != nil {
		fire()
	}
}

// fakeSource serves queued lines; nil entries mean "no data this tick".
type fakeSource struct {
	mu     sync.Mutex
	lines  []*string
	endErr error
	closed bool
}

func (s *fakeSource) HasData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return s.endErr != nil
	}
	return s.lines[0] != nil
}

func (s *fakeSource) ReadLine() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		if s.endErr != nil {
			return "", s.endErr
		}
		return "", transport.ErrNoData
	}
	next := s.lines[0]
	s.lines = s.lines[1:]
	if next == nil {
		return "", transport.ErrNoData
	}
	return *next, nil
}

// skipIdle drops a leading "no data" marker, as a tick would observe it.
func (s *fakeSource) skipIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) > 0 && s.lines[0] == nil {
		s.lines = s.lines[1:]
	}
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeConnector struct {
	err     error
	next    func() *fakeSource
	sources []*fakeSource
}

func (c *fakeConnector) Name() string { return "fake" }

func (c *fakeConnector) Connect() (transport.LineSource, error) {
	if c.err != nil {
		return nil, c.err
	}
	src := &fakeSource{}
	if c.next != nil {
		src = c.next()
	}
	c.sources = append(c.sources, src)
	return src, nil
}

func lines(ss ...string) []*string {
	out := make([]*string, len(ss))
	for i := range ss {
		out[i] = &ss[i]
	}
	return out
}

type recordingSink struct {
	mu      sync.Mutex
	samples []Sample
}

func (r *recordingSink) OnSample(s Sample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func (r *recordingSink) all() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}

type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

func newTestController(t *testing.T, conn *fakeConnector, sink Sink) (*Controller, *manualTrigger) {
	t.Helper()
	trig := &manualTrigger{}
	clock := &stepClock{t: time.Unix(1700000000, 0), step: time.Millisecond}
	c, err := New(Options{
		Connector:  conn,
		Sink:       sink,
		Interval:   5 * time.Millisecond,
		Trigger:    trig,
		ExportPath: filepath.Join(t.TempDir(), "data", "imu_log.csv"),
		Clock:      clock.now,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return c, trig
}

func mustStart(t *testing.T, c *Controller) {
	t.Helper()
	if err := c.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
}

func exportRecords(t *testing.T, c *Controller) [][]string {
	t.Helper()
	var buf bytes.Buffer
	if err := c.ExportTo(&buf); err != nil {
		t.Fatalf("ExportTo error: %v", err)
	}
	recs, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse export: %v", err)
	}
	return recs
}

// --- tests ---

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{Interval: time.Millisecond}); err == nil {
		t.Error("expected error without connector")
	}
	if _, err := New(Options{Connector: &fakeConnector{}}); err == nil {
		t.Error("expected error without interval")
	}
	c, err := New(Options{Connector: &fakeConnector{}, Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if c.ExportPath() != DefaultExportPath {
		t.Errorf("ExportPath = %q, want default", c.ExportPath())
	}
	if c.State() != Idle {
		t.Errorf("initial state = %v, want idle", c.State())
	}
}

func TestStartArmsTriggerAndProcessesFrame(t *testing.T) {
	conn := &fakeConnector{next: func() *fakeSource {
		return &fakeSource{lines: lines("100,200,50,0,0,10")}
	}}
	sink := &recordingSink{}
	c, trig := newTestController(t, conn, sink)

	if err := c.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if c.State() != Acquiring {
		t.Fatalf("state = %v, want acquiring", c.State())
	}
	if trig.period != 5*time.Millisecond {
		t.Errorf("trigger period = %v, want 5ms", trig.period)
	}

	trig.Fire()

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("sink got %d samples, want 1", len(got))
	}
	s := got[0]
	wantPitch := math.Atan2(100, math.Sqrt(200*200+50*50)) * 180 / math.Pi
	wantRoll := math.Atan2(200, math.Sqrt(100*100+50*50)) * 180 / math.Pi
	if math.Abs(s.Pose.Pitch-wantPitch) > 1e-9 || math.Abs(s.Pose.Roll-wantRoll) > 1e-9 {
		t.Errorf("pose = %+v, want pitch %v roll %v", s.Pose, wantPitch, wantRoll)
	}
	if math.Abs(s.Pose.Yaw-0.05) > 1e-9 {
		t.Errorf("yaw = %v, want 0.05", s.Pose.Yaw)
	}
	if s.Raw.Ax != 100 || s.Raw.Gz != 10 {
		t.Errorf("raw = %+v", s.Raw)
	}
	if s.Seq != 1 || s.SessionID == "" {
		t.Errorf("seq=%d session=%q", s.Seq, s.SessionID)
	}

	recs := exportRecords(t, c)
	if len(recs) != 2 {
		t.Fatalf("export has %d records, want 2", len(recs))
	}
}

func TestConnectionFailureLeavesIdle(t *testing.T) {
	boom := errors.New("no such device")
	conn := &fakeConnector{err: boom}
	c, trig := newTestController(t, conn, nil)

	err := c.Start()
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConnectionError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("ConnectionError does not wrap cause: %v", err)
	}
	if c.State() != Idle {
		t.Errorf("state = %v, want idle", c.State())
	}
	if trig.arms != 0 {
		t.Errorf("trigger armed %d times after failed start", trig.arms)
	}
	if _, err := c.Export(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Export before any session: got %v, want ErrNoSession", err)
	}
}

func TestNoDataAndMalformedTicksAreNoOps(t *testing.T) {
	src := &fakeSource{lines: append(append(lines("1,2,3,4,5,6"), nil), lines("bad line", "1,2,3", "", "7,8,9,10,11,12")...)}
	conn := &fakeConnector{next: func() *fakeSource { return src }}
	sink := &recordingSink{}
	c, trig := newTestController(t, conn, sink)

	if err := c.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	trig.Fire() // frame
	trig.Fire() // no data
	src.skipIdle()
	trig.Fire() // bad line
	trig.Fire() // 3 fields
	trig.Fire() // empty
	trig.Fire() // frame

	if c.State() != Acquiring {
		t.Fatalf("malformed input stopped acquisition: state %v", c.State())
	}
	if n := len(sink.all()); n != 2 {
		t.Errorf("sink got %d samples, want 2", n)
	}

	st := c.Status()
	if st.Stats.Frames != 2 || st.Stats.ParseErrors != 3 || st.Stats.IdleTicks != 1 || st.Stats.Ticks != 6 {
		t.Errorf("stats = %+v", st.Stats)
	}
	if st.Rows != 2 {
		t.Errorf("rows = %d, want 2", st.Rows)
	}

	// Yaw only integrated for the two good frames: (6 + 12) * 0.005.
	samples := sink.all()
	if math.Abs(samples[1].Pose.Yaw-orientation.Wrap360(18*0.005)) > 1e-9 {
		t.Errorf("yaw = %v, want %v", samples[1].Pose.Yaw, 18*0.005)
	}
}

func TestDegenerateFrameIsLogged(t *testing.T) {
	conn := &fakeConnector{next: func() *fakeSource {
		return &fakeSource{lines: lines("0,0,0,0,0,5")}
	}}
	sink := &recordingSink{}
	c, trig := newTestController(t, conn, sink)
	mustStart(t, c)
	trig.Fire()

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("sink got %d samples, want 1", len(got))
	}
	if got[0].Pose.Pitch != 0 || got[0].Pose.Roll != 0 {
		t.Errorf("pose = %+v, want zero tilt", got[0].Pose)
	}
	if math.Abs(got[0].Pose.Yaw-0.025) > 1e-9 {
		t.Errorf("yaw = %v, want 0.025", got[0].Pose.Yaw)
	}
	if st := c.Status(); st.Stats.DegenerateTilts != 1 || st.Rows != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestStopIsIdempotentAndKeepsRows(t *testing.T) {
	conn := &fakeConnector{next: func() *fakeSource {
		return &fakeSource{lines: lines("1,2,3,4,5,6", "1,2,3,4,5,6")}
	}}
	c, trig := newTestController(t, conn, nil)

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop while idle: %v", err)
	}

	mustStart(t, c)
	trig.Fire()
	done := c.Done()

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop error: %v", err)
	}

	select {
	case <-done:
	default:
		t.Error("Done channel not closed by Stop")
	}
	if !conn.sources[0].closed {
		t.Error("source not closed on Stop")
	}
	if trig.armed != 0 {
		t.Errorf("trigger still armed after Stop (%d)", trig.armed)
	}

	// A stale tick after Stop changes nothing.
	trig.Fire()
	if recs := exportRecords(t, c); len(recs) != 2 {
		t.Errorf("export has %d records after stop, want header + 1", len(recs))
	}
	if c.Status().Logging {
		t.Error("still logging after Stop")
	}
}

func TestRestartWithoutStop(t *testing.T) {
	n := 0
	conn := &fakeConnector{next: func() *fakeSource {
		n++
		if n == 1 {
			return &fakeSource{lines: lines("1,1,1,0,0,100", "2,2,2,0,0,100")}
		}
		return &fakeSource{lines: lines("9,9,9,0,0,1")}
	}}
	sink := &recordingSink{}
	c, trig := newTestController(t, conn, sink)

	mustStart(t, c)
	firstFire := trig.fire
	trig.Fire()
	trig.Fire()

	if err := c.Start(); err != nil {
		t.Fatalf("restart error: %v", err)
	}
	if !conn.sources[0].closed {
		t.Error("first source leaked on restart")
	}
	if trig.maxArm != 1 {
		t.Errorf("trigger armed %d schedules at once, want 1", trig.maxArm)
	}

	// A late tick from the first arming is ignored.
	firstFire()

	trig.Fire()

	recs := exportRecords(t, c)
	if len(recs) != 2 {
		t.Fatalf("export has %d records, want header + 1", len(recs))
	}
	if recs[1][1] != "9" {
		t.Errorf("exported row from wrong session: %v", recs[1])
	}

	// Yaw restarted from zero.
	samples := sink.all()
	last := samples[len(samples)-1]
	if math.Abs(last.Pose.Yaw-0.005) > 1e-9 {
		t.Errorf("yaw after restart = %v, want 0.005", last.Pose.Yaw)
	}
	if last.SessionID == samples[0].SessionID {
		t.Error("restart kept the same session id")
	}
	if last.Seq != 1 {
		t.Errorf("seq after restart = %d, want 1", last.Seq)
	}
}

func TestRestartConnectFailureKeepsPreviousRows(t *testing.T) {
	conn := &fakeConnector{next: func() *fakeSource {
		return &fakeSource{lines: lines("1,2,3,4,5,6")}
	}}
	c, trig := newTestController(t, conn, nil)
	mustStart(t, c)
	trig.Fire()

	conn.err = errors.New("unplugged")
	if err := c.Start(); err == nil {
		t.Fatal("expected connection error")
	}
	if c.State() != Idle {
		t.Errorf("state = %v, want idle", c.State())
	}
	if recs := exportRecords(t, c); len(recs) != 2 {
		t.Errorf("previous session rows lost: %d records", len(recs))
	}
}

func TestSourceEndStopsSession(t *testing.T) {
	conn := &fakeConnector{next: func() *fakeSource {
		return &fakeSource{lines: lines("1,2,3,4,5,6"), endErr: io.EOF}
	}}
	c, trig := newTestController(t, conn, nil)
	mustStart(t, c)
	done := c.Done()

	trig.Fire()
	trig.Fire()

	if c.State() != Idle {
		t.Fatalf("state = %v after source end, want idle", c.State())
	}
	select {
	case <-done:
	default:
		t.Error("Done not closed after source end")
	}
	st := c.Status()
	if st.EndReason == "" || st.Rows != 1 {
		t.Errorf("status = %+v", st)
	}
	if !conn.sources[0].closed {
		t.Error("source not closed after it ended")
	}
}

func TestSinkPanicIsContained(t *testing.T) {
	conn := &fakeConnector{next: func() *fakeSource {
		return &fakeSource{lines: lines("1,2,3,4,5,6", "1,2,3,4,5,6")}
	}}
	after := &recordingSink{}
	sink := MultiSink{
		SinkFunc(func(Sample) { panic("display gone") }),
		after,
	}
	c, trig := newTestController(t, conn, sink)
	mustStart(t, c)

	trig.Fire()
	trig.Fire()

	if c.State() != Acquiring {
		t.Errorf("state = %v, want acquiring", c.State())
	}
	if n := len(after.all()); n != 2 {
		t.Errorf("second sink got %d samples, want 2", n)
	}
	if st := c.Status(); st.Rows != 2 {
		t.Errorf("rows = %d, want 2", st.Rows)
	}
}

func TestSinkMayCallController(t *testing.T) {
	conn := &fakeConnector{next: func() *fakeSource {
		return &fakeSource{lines: lines("1,2,3,4,5,6")}
	}}
	var c *Controller
	var seen Status
	sink := SinkFunc(func(Sample) { seen = c.Status() })
	c, trig := newTestController(t, conn, sink)
	mustStart(t, c)
	trig.Fire()

	if seen.Rows != 1 {
		t.Errorf("status from sink = %+v", seen)
	}
}

func TestExportFileAndLastExport(t *testing.T) {
	conn := &fakeConnector{next: func() *fakeSource {
		return &fakeSource{lines: lines("1,2,3,4,5,6", "6,5,4,3,2,1")}
	}}
	c, trig := newTestController(t, conn, nil)
	mustStart(t, c)
	trig.Fire()
	trig.Fire()
	c.Stop()

	path, err := c.Export()
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	recs, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil || len(recs) != 3 {
		t.Fatalf("export records = %d, err %v", len(recs), err)
	}
	if c.Status().LastExport != path {
		t.Errorf("LastExport = %q, want %q", c.Status().LastExport, path)
	}

	// Unwritable destination surfaces ExportError and keeps the data.
	blocker := filepath.Join(t.TempDir(), "file")
	os.WriteFile(blocker, nil, 0644)
	err = c.ExportFile(filepath.Join(blocker, "x.csv"))
	var ee *session.ExportError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *session.ExportError, got %v", err)
	}
	if recs := exportRecords(t, c); len(recs) != 3 {
		t.Errorf("rows lost after failed export: %d", len(recs))
	}
}

func TestTimestampsNonDecreasing(t *testing.T) {
	src := &fakeSource{}
	for i := 0; i < 50; i++ {
		src.lines = append(src.lines, lines("1,2,3,4,5,6")...)
	}
	conn := &fakeConnector{next: func() *fakeSource { return src }}
	c, trig := newTestController(t, conn, nil)
	mustStart(t, c)
	for i := 0; i < 50; i++ {
		trig.Fire()
	}

	recs := exportRecords(t, c)
	if len(recs) != 51 {
		t.Fatalf("records = %d, want 51", len(recs))
	}
	var prev int64
	for _, r := range recs[1:] {
		ts, err := strconv.ParseInt(r[0], 10, 64)
		if err != nil {
			t.Fatalf("bad timestamp %q: %v", r[0], err)
		}
		if ts < prev {
			t.Fatalf("timestamp %d after %d", ts, prev)
		}
		prev = ts
	}
}

func TestTickerTriggerFiresAndStops(t *testing.T) {
	trig := NewTickerTrigger()
	var mu sync.Mutex
	count := 0
	trig.Arm(time.Millisecond, func() {
		mu.Lock()
		count++
		mu.Unlock()
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := count
		mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ticker trigger did not fire")
		}
		time.Sleep(time.Millisecond)
	}

	trig.Disarm()
	trig.Disarm()
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	stopped := count
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != stopped {
		t.Errorf("trigger fired %d times after Disarm", count-stopped)
	}
}

func TestStateString(t *testing.T) {
	if Idle.String() != "idle" || Acquiring.String() != "acquiring" {
		t.Errorf("unexpected names %q %q", Idle, Acquiring)
	}
	b, _ := Acquiring.MarshalText()
	if string(b) != "acquiring" {
		t.Errorf("MarshalText = %q", b)
	}
}

func TestStateTextRoundTrip(t *testing.T) {
	var s State
	if err := s.UnmarshalText([]byte("acquiring")); err != nil || s != Acquiring {
		t.Errorf("UnmarshalText(acquiring) = %v, %v", s, err)
	}
	if err := s.UnmarshalText([]byte("paused")); err == nil {
		t.Error("expected error for unknown state")
	}
}

// blockingSink holds the first sample until release is closed.
type blockingSink struct {
	entered chan struct{}
	release chan struct{}

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	samples     []Sample
}

func (b *blockingSink) OnSample(s Sample) {
	b.mu.Lock()
	b.inFlight++
	if b.inFlight > b.maxInFlight {
		b.maxInFlight = b.inFlight
	}
	first := len(b.samples) == 0
	b.samples = append(b.samples, s)
	b.mu.Unlock()

	if first {
		close(b.entered)
		<-b.release
	}

	b.mu.Lock()
	b.inFlight--
	b.mu.Unlock()
}

func TestStopWaitsForInFlightDelivery(t *testing.T) {
	conn := &fakeConnector{next: func() *fakeSource {
		return &fakeSource{lines: lines("1,2,3,4,5,6")}
	}}
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	c, trig := newTestController(t, conn, sink)

	mustStart(t, c)
	go trig.Fire()
	select {
	case <-sink.entered:
	case <-time.After(time.Second):
		t.Fatal("first sample never reached the sink")
	}

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a sample was still being delivered")
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after delivery finished")
	}

	mustStart(t, c)
	trig.Fire()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.maxInFlight != 1 {
		t.Errorf("max concurrent OnSample calls = %d, want 1", sink.maxInFlight)
	}
	if len(sink.samples) != 2 {
		t.Fatalf("sink got %d samples, want 2", len(sink.samples))
	}
	if sink.samples[0].SessionID == sink.samples[1].SessionID {
		t.Error("second sample should belong to the new session")
	}
}

func TestRestartWaitsForInFlightDelivery(t *testing.T) {
	conn := &fakeConnector{next: func() *fakeSource {
		return &fakeSource{lines: lines("1,2,3,4,5,6", "1,2,3,4,5,6")}
	}}
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	c, trig := newTestController(t, conn, sink)

	mustStart(t, c)
	go trig.Fire()
	<-sink.entered

	restarted := make(chan error, 1)
	go func() { restarted <- c.Start() }()
	select {
	case <-restarted:
		t.Fatal("Start returned while the previous session was still delivering")
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.release)
	select {
	case err := <-restarted:
		if err != nil {
			t.Fatalf("restart error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("restart did not return after delivery finished")
	}
	trig.Fire()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.maxInFlight != 1 || len(sink.samples) != 2 {
		t.Errorf("maxInFlight=%d samples=%d, want 1 and 2", sink.maxInFlight, len(sink.samples))
	}
}
