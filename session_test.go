package jackclient

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/openaudio/jackclient/internal/servertest"
	"github.com/openaudio/jackclient/server"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// passthrough copies input to output, the simplest valid process routine.
func passthrough(c *Cycle) int {
	copy(c.Out(), c.In())
	return 0
}

func newTestSession(t *testing.T, stub *servertest.Stub, cfg Config) *Session {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "test-client"
	}
	if cfg.Process == nil {
		cfg.Process = passthrough
	}
	cfg.Backend = stub
	cfg.Logger = quietLogger()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestSessionCreation(t *testing.T) {
	stub := &servertest.Stub{}
	s := newTestSession(t, stub, Config{})

	if s.State() != StateCreated {
		t.Errorf("new session state = %v, want %v", s.State(), StateCreated)
	}
	if s.Renamed() {
		t.Error("new session should not be renamed")
	}
	if s.SampleRate() != 0 || s.BufferSize() != 0 {
		t.Error("engine parameters should be zero before Open")
	}
}

func TestSessionCreationInvalidConfig(t *testing.T) {
	stub := &servertest.Stub{}
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing name", Config{Process: passthrough, Backend: stub}},
		{"missing process", Config{Name: "x", Backend: stub}},
		{"missing backend", Config{Name: "x", Process: passthrough}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Error("New should fail")
			}
		})
	}
}

func TestOpenFixesEngineParameters(t *testing.T) {
	stub := &servertest.Stub{SampleRate: 48000, BufferSize: 256}
	s := newTestSession(t, stub, Config{})

	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if s.State() != StateOpen {
		t.Errorf("state = %v, want %v", s.State(), StateOpen)
	}

	// Repeated reads yield the same values for the session's lifetime.
	for i := 0; i < 3; i++ {
		if got := s.SampleRate(); got != 48000 {
			t.Errorf("SampleRate() = %d, want 48000", got)
		}
		if got := s.BufferSize(); got != 256 {
			t.Errorf("BufferSize() = %d, want 256", got)
		}
	}

	if got := s.InputPort(); got != "test-client:input" {
		t.Errorf("InputPort() = %q, want %q", got, "test-client:input")
	}
	if got := s.OutputPort(); got != "test-client:output" {
		t.Errorf("OutputPort() = %q, want %q", got, "test-client:output")
	}
	if got := s.MidiInPort(); got != "" {
		t.Errorf("MidiInPort() = %q, want empty (no MIDI requested)", got)
	}
}

func TestOpenServerUnavailable(t *testing.T) {
	stub := &servertest.Stub{Absent: true}
	s := newTestSession(t, stub, Config{NoStartServer: true})

	err := s.Open()
	if err == nil {
		t.Fatal("Open should fail when the server is unreachable")
	}
	if !errors.Is(err, ErrServerUnavailable) {
		t.Errorf("error = %v, want ErrServerUnavailable", err)
	}
	if !errors.Is(err, ErrServerFailedToStart) {
		t.Errorf("error = %v, want the ErrServerFailedToStart sub-case", err)
	}
	if s.State() != StateClosed {
		t.Errorf("state after failed open = %v, want %v", s.State(), StateClosed)
	}
}

func TestOpenStartsServer(t *testing.T) {
	// Without NoStartServer an absent server is launched as a side effect.
	stub := &servertest.Stub{Absent: true}
	s := newTestSession(t, stub, Config{})

	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	if s.State() != StateOpen {
		t.Errorf("state = %v, want %v", s.State(), StateOpen)
	}
}

func TestNameCollision(t *testing.T) {
	stub := &servertest.Stub{TakenNames: []string{"test-client"}}
	s := newTestSession(t, stub, Config{})

	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if !s.Renamed() {
		t.Error("Renamed() should report the collision")
	}
	if s.Name() == "test-client" {
		t.Error("negotiated name should differ from the requested name")
	}
	if got := s.Name(); got != "test-client-01" {
		t.Errorf("Name() = %q, want %q", got, "test-client-01")
	}
}

func TestPortExhaustion(t *testing.T) {
	// Room for the input port only; registering the output must fail.
	stub := &servertest.Stub{MaxPorts: 1}
	s := newTestSession(t, stub, Config{})

	err := s.Open()
	if err == nil {
		t.Fatal("Open should fail when the server is out of ports")
	}
	if !errors.Is(err, ErrPortExhausted) {
		t.Errorf("error = %v, want ErrPortExhausted", err)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v, want %v", s.State(), StateClosed)
	}
	if !stub.Last().Closed() {
		t.Error("connection should be released after a failed open")
	}
	if err := s.Run(); !errors.Is(err, ErrClosed) {
		t.Errorf("Run after failed open = %v, want ErrClosed", err)
	}
}

func TestRunAutoConnect(t *testing.T) {
	stub := &servertest.Stub{
		SampleRate:       48000,
		PhysicalCapture:  []string{"system:capture_1", "system:capture_2"},
		PhysicalPlayback: []string{"system:playback_1", "system:playback_2"},
	}
	s := newTestSession(t, stub, Config{})

	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	if got := s.SampleRate(); got != 48000 {
		t.Fatalf("SampleRate() = %d, want 48000", got)
	}

	if err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if s.State() != StateRunning {
		t.Errorf("state = %v, want %v", s.State(), StateRunning)
	}

	conns := stub.Last().Connections()
	if len(conns) != 2 {
		t.Fatalf("got %d connections, want 2: %v", len(conns), conns)
	}
	if conns[0] != [2]string{"system:capture_1", "test-client:input"} {
		t.Errorf("input connected to %v, want first capture port", conns[0])
	}
	if conns[1] != [2]string{"test-client:output", "system:playback_1"} {
		t.Errorf("output connected to %v, want first playback port", conns[1])
	}
}

func TestRunNoPhysicalCapturePorts(t *testing.T) {
	stub := &servertest.Stub{
		PhysicalPlayback: []string{"system:playback_1"},
	}
	s := newTestSession(t, stub, Config{})

	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	err := s.Run()
	if !errors.Is(err, ErrNoPhysicalCapturePorts) {
		t.Fatalf("Run = %v, want ErrNoPhysicalCapturePorts", err)
	}
	if errors.Is(err, ErrNoPhysicalPlaybackPorts) {
		t.Error("playback side should have connected")
	}

	// The session keeps running and the input port stays available for
	// manual connection.
	if s.State() != StateRunning {
		t.Errorf("state = %v, want %v", s.State(), StateRunning)
	}
	if err := s.Connect("someapp:out_1", s.InputPort()); err != nil {
		t.Errorf("manual connect failed: %v", err)
	}
}

func TestRunNoPhysicalPortsAtAll(t *testing.T) {
	stub := &servertest.Stub{}
	s := newTestSession(t, stub, Config{})

	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	err := s.Run()
	if !errors.Is(err, ErrNoPhysicalCapturePorts) || !errors.Is(err, ErrNoPhysicalPlaybackPorts) {
		t.Errorf("Run = %v, want both missing-hardware kinds", err)
	}
	if s.State() != StateRunning {
		t.Errorf("state = %v, want %v", s.State(), StateRunning)
	}
}

func TestRunActivationFailed(t *testing.T) {
	stub := &servertest.Stub{FailActivate: true}
	s := newTestSession(t, stub, Config{})

	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	err := s.Run()
	if !errors.Is(err, ErrActivationFailed) {
		t.Fatalf("Run = %v, want ErrActivationFailed", err)
	}
	if s.State() != StateOpen {
		t.Errorf("state = %v, want %v (not running)", s.State(), StateOpen)
	}
}

func TestRunRefusedConnectionIsNonFatal(t *testing.T) {
	stub := &servertest.Stub{
		PhysicalCapture:  []string{"system:capture_1"},
		PhysicalPlayback: []string{"system:playback_1"},
		RefuseConnect:    []string{"system:playback_1"},
	}
	var reported []error
	s := newTestSession(t, stub, Config{
		ErrorHandler: FuncErrorHandler(func(err error) { reported = append(reported, err) }),
	})

	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if err := s.Run(); err != nil {
		t.Fatalf("Run = %v, refused connection should be non-fatal", err)
	}
	if len(reported) != 1 {
		t.Fatalf("got %d reported errors, want 1: %v", len(reported), reported)
	}
	if !errors.Is(reported[0], ErrPortConnect) {
		t.Errorf("reported error = %v, want ErrPortConnect", reported[0])
	}

	conns := stub.Last().Connections()
	if len(conns) != 1 || conns[0][0] != "system:capture_1" {
		t.Errorf("connections = %v, want the capture side only", conns)
	}
}

func TestRunWithoutAutoConnect(t *testing.T) {
	stub := &servertest.Stub{
		PhysicalCapture: []string{"system:capture_1"},
	}
	s := newTestSession(t, stub, Config{NoAutoConnect: true})

	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	if err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := stub.Last().Connections(); len(got) != 0 {
		t.Errorf("connections = %v, want none", got)
	}
}

func TestLifecycleOrderingErrors(t *testing.T) {
	stub := &servertest.Stub{}
	s := newTestSession(t, stub, Config{})

	if err := s.Run(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Run before Open = %v, want ErrNotOpen", err)
	}
	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Open(); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second Open = %v, want ErrAlreadyOpen", err)
	}
	if err := s.Run(); err != nil && !errors.Is(err, ErrNoPhysicalCapturePorts) && !errors.Is(err, ErrNoPhysicalPlaybackPorts) {
		t.Fatalf("Run failed: %v", err)
	}
	if err := s.Run(); !errors.Is(err, ErrRunning) {
		t.Errorf("second Run = %v, want ErrRunning", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Open(); !errors.Is(err, ErrClosed) {
		t.Errorf("Open after Close = %v, want ErrClosed", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	stub := &servertest.Stub{}
	s := newTestSession(t, stub, Config{})

	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v, want %v", s.State(), StateClosed)
	}
	if !stub.Last().Closed() {
		t.Error("server handle should be released")
	}
}

func TestProcessCycleCopiesExactlyNFrames(t *testing.T) {
	stub := &servertest.Stub{
		BufferSize:       8,
		PhysicalCapture:  []string{"system:capture_1"},
		PhysicalPlayback: []string{"system:playback_1"},
	}
	var seenFrames uint32
	s := newTestSession(t, stub, Config{
		Process: func(c *Cycle) int {
			seenFrames = c.NFrames()
			in, out := c.In(), c.Out()
			if len(in) != int(c.NFrames()) || len(out) != int(c.NFrames()) {
				return 1
			}
			copy(out, in)
			return 0
		},
	})

	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	if err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	conn := stub.Last()
	in, ok := conn.LookupPort(InputPortName)
	if !ok {
		t.Fatal("input port not registered")
	}
	out, _ := conn.LookupPort(OutputPortName)

	in.Seed([]float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8})
	if rc := conn.RunCycle(8); rc != 0 {
		t.Fatalf("process returned %d, want 0", rc)
	}
	if seenFrames != 8 {
		t.Errorf("callback saw %d frames, want 8", seenFrames)
	}
	got := out.Samples(8)
	want := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("output[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestShutdownMidSession(t *testing.T) {
	stub := &servertest.Stub{
		PhysicalCapture:  []string{"system:capture_1"},
		PhysicalPlayback: []string{"system:playback_1"},
	}
	var invocations int
	s := newTestSession(t, stub, Config{
		Process: func(c *Cycle) int {
			invocations++
			return 0
		},
	})

	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	conn := stub.Last()
	conn.RunCycle(64)
	if invocations != 1 {
		t.Fatalf("invocations = %d, want 1", invocations)
	}

	conn.FireShutdown()

	select {
	case <-s.ShutdownC():
	case <-time.After(time.Second):
		t.Fatal("ShutdownC not closed after shutdown notification")
	}
	if !s.ShutdownReceived() {
		t.Error("ShutdownReceived() = false after notification")
	}

	// A straggling cycle must not reach the user routine.
	conn.RunCycle(64)
	if invocations != 1 {
		t.Errorf("invocations = %d after shutdown, want 1", invocations)
	}

	// Run/Connect are refused, Close skips the dead handle, and no call of
	// any kind reaches the server after the notification.
	if err := s.Connect("a", "b"); !errors.Is(err, ErrServerShutdown) {
		t.Errorf("Connect after shutdown = %v, want ErrServerShutdown", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close after shutdown = %v, want nil", err)
	}
	if n := conn.CallsAfterShutdown(); n != 0 {
		t.Errorf("%d calls into the server handle after shutdown, want 0", n)
	}
}

func TestBlockPeriod(t *testing.T) {
	stub := &servertest.Stub{SampleRate: 48000, BufferSize: 480}
	s := newTestSession(t, stub, Config{})
	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if got, want := s.BlockPeriod(), 10*time.Millisecond; got != want {
		t.Errorf("BlockPeriod() = %v, want %v", got, want)
	}
}

var _ server.Backend = (*servertest.Stub)(nil)
