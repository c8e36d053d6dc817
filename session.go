package jackclient

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/openaudio/jackclient/server"
)

// SessionState tracks the session lifecycle.
type SessionState int

const (
	StateCreated SessionState = iota // session constructed, not yet connected
	StateOpen                        // handshake done, ports registered, parameters fixed
	StateRunning                     // activated, process callback may fire
	StateClosed                      // handle released, ports invalid
)

// String returns the state name for logs and errors.
func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOpen:
		return "open"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Session is a client of an external real-time audio server. It owns the
// server handle and a fixed set of ports, binds exactly one processing
// callback and one shutdown callback, and releases everything
// deterministically on Close.
//
// Open, Run and Close are meant to be called sequentially from a single
// controlling thread. The process callback runs on the server's real-time
// thread; everything it reads from the session is written before Run and
// immutable afterwards. The shutdown notification may arrive on yet another
// thread and is exposed through ShutdownC.
type Session struct {
	id  uuid.UUID
	cfg Config

	logger  *slog.Logger
	handler ErrorHandler

	state SessionState
	conn  server.Conn

	// Fixed once Open succeeds, read-only from the real-time thread. Port
	// names are cached at registration so accessors never go back to the
	// handle (which may be invalid after a shutdown notification).
	name       string
	renamed    bool
	sampleRate uint32
	bufferSize uint32
	inPort     server.Port
	outPort    server.Port
	midiPort   server.Port
	inName     string
	outName    string
	midiName   string

	// cycle is reused across process invocations so the hot path does not
	// allocate.
	cycle Cycle

	// down flips when the server's shutdown notification arrives. Once set,
	// no further calls are made into the server handle.
	down      atomic.Bool
	shutdownC chan struct{}
}

// New creates a session in the created state. Nothing touches the server
// until Open.
func New(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	handler := cfg.ErrorHandler
	if handler == nil {
		handler = &DefaultErrorHandler{Logger: logger}
	}
	s := &Session{
		id:        uuid.New(),
		cfg:       cfg,
		logger:    logger,
		handler:   handler,
		state:     StateCreated,
		name:      cfg.Name,
		shutdownC: make(chan struct{}),
	}
	s.cycle.session = s
	return s, nil
}

// Open establishes the connection with the audio server: handshake and name
// negotiation, callback binding, parameter query, and port registration.
//
// Handshake and registration failures are fatal for this session: the
// connection is released and the session ends up closed. Retrying means
// constructing a fresh session.
func (s *Session) Open() error {
	switch s.state {
	case StateOpen, StateRunning:
		return ErrAlreadyOpen
	case StateClosed:
		return ErrClosed
	}

	conn, status, err := s.cfg.Backend.Open(s.cfg.Name, server.Options{
		NoStartServer: s.cfg.NoStartServer,
		ServerName:    s.cfg.ServerName,
	})
	if err != nil {
		s.state = StateClosed
		kind := ErrServerUnavailable
		if status.ServerFailed {
			kind = ErrServerFailedToStart
		}
		return fmt.Errorf("open client %q: %w: %v", s.cfg.Name, kind, err)
	}
	s.conn = conn

	if status.ServerStarted {
		s.logger.Info("audio server started", "client", conn.Name())
	}
	s.name = conn.Name()
	if status.NameNotUnique {
		s.renamed = true
		s.logger.Warn("client name taken, unique name assigned",
			"requested", s.cfg.Name, "assigned", s.name)
	}

	if err := conn.SetProcessCallback(s.process); err != nil {
		s.abortOpen()
		return fmt.Errorf("bind process callback: %w", err)
	}
	if err := conn.SetShutdownCallback(s.onShutdown); err != nil {
		s.abortOpen()
		return fmt.Errorf("bind shutdown callback: %w", err)
	}

	s.sampleRate = conn.SampleRate()
	s.bufferSize = conn.BufferSize()

	if s.inPort, err = conn.RegisterPort(InputPortName, server.AudioType, server.IsInput); err != nil {
		s.abortOpen()
		return fmt.Errorf("register port %q: %w: %v", InputPortName, ErrPortExhausted, err)
	}
	if s.outPort, err = conn.RegisterPort(OutputPortName, server.AudioType, server.IsOutput); err != nil {
		s.abortOpen()
		return fmt.Errorf("register port %q: %w: %v", OutputPortName, ErrPortExhausted, err)
	}
	if s.cfg.WithMIDI {
		if s.midiPort, err = conn.RegisterPort(MidiInPortName, server.MidiType, server.IsInput); err != nil {
			s.abortOpen()
			return fmt.Errorf("register port %q: %w: %v", MidiInPortName, ErrPortExhausted, err)
		}
		s.midiName = s.midiPort.Name()
	}
	s.inName = s.inPort.Name()
	s.outName = s.outPort.Name()

	s.state = StateOpen
	s.logger.Info("session open",
		"client", s.name,
		"sample_rate", s.sampleRate,
		"buffer_size", s.bufferSize,
		"midi", s.cfg.WithMIDI)
	return nil
}

// abortOpen releases a half-initialized connection so a failed Open leaves
// the session closed rather than half-open.
func (s *Session) abortOpen() {
	if err := s.conn.Close(); err != nil {
		s.handler.HandleError(fmt.Errorf("close after failed open: %w", err))
	}
	s.conn = nil
	s.state = StateClosed
}

// Run activates the client so its process callback begins firing, then
// auto-connects the session's ports to the first physical capture and
// playback ports (unless Config.NoAutoConnect).
//
// Activation failure is fatal and leaves the session open but not running.
// Missing physical ports are returned as ErrNoPhysicalCapturePorts /
// ErrNoPhysicalPlaybackPorts, but the session keeps running and the port
// stays available for manual connection. An individually refused connection
// is reported through the ErrorHandler and does not abort the sequence.
func (s *Session) Run() error {
	switch s.state {
	case StateCreated:
		return ErrNotOpen
	case StateRunning:
		return ErrRunning
	case StateClosed:
		return ErrClosed
	}
	if s.down.Load() {
		return ErrServerShutdown
	}

	if err := s.conn.Activate(); err != nil {
		return fmt.Errorf("activate client %q: %w: %v", s.name, ErrActivationFailed, err)
	}
	s.state = StateRunning
	s.logger.Info("session running", "client", s.name)

	if s.cfg.NoAutoConnect {
		return nil
	}
	return s.autoConnect()
}

func (s *Session) autoConnect() error {
	var errs []error

	capture := s.conn.Ports("", "", server.IsPhysical|server.IsOutput)
	if src, ok := capture.First(); !ok {
		errs = append(errs, ErrNoPhysicalCapturePorts)
	} else if err := s.conn.ConnectPorts(src, s.inName); err != nil {
		s.handler.HandleError(fmt.Errorf("connect %q -> %q: %w: %v",
			src, s.inName, ErrPortConnect, err))
	} else {
		s.logger.Info("connected capture port", "source", src, "destination", s.inName)
	}

	playback := s.conn.Ports("", "", server.IsPhysical|server.IsInput)
	if dst, ok := playback.First(); !ok {
		errs = append(errs, ErrNoPhysicalPlaybackPorts)
	} else if err := s.conn.ConnectPorts(s.outName, dst); err != nil {
		s.handler.HandleError(fmt.Errorf("connect %q -> %q: %w: %v",
			s.outName, dst, ErrPortConnect, err))
	} else {
		s.logger.Info("connected playback port", "source", s.outName, "destination", dst)
	}

	return errors.Join(errs...)
}

// Connect patches two ports by full server name. Intended for manual routing
// on a running session, e.g. after auto-connect found no hardware ports.
func (s *Session) Connect(source, destination string) error {
	if s.state != StateRunning {
		return ErrNotOpen
	}
	if s.down.Load() {
		return ErrServerShutdown
	}
	if err := s.conn.ConnectPorts(source, destination); err != nil {
		return fmt.Errorf("connect %q -> %q: %w: %v", source, destination, ErrPortConnect, err)
	}
	return nil
}

// Close releases the server handle and invalidates the ports. It is
// idempotent: closing an already-closed session is a no-op.
//
// When the server is still reachable, the underlying close blocks until any
// in-flight process callback invocation has returned, so no callback fires
// after Close returns. When a shutdown notification was received the handle
// is already invalid and is not touched.
func (s *Session) Close() error {
	if s.state == StateClosed || s.conn == nil {
		return nil
	}
	var err error
	if !s.down.Load() {
		err = s.conn.Close()
	}
	s.conn = nil
	s.state = StateClosed
	s.logger.Info("session closed", "client", s.name)
	if err != nil {
		return fmt.Errorf("close client %q: %w", s.name, err)
	}
	return nil
}

// process is the trampoline the server's real-time thread invokes once per
// block. The session was bound at registration time; no global state is
// involved. The body performs no heap allocation.
func (s *Session) process(nframes uint32) int {
	if s.down.Load() {
		return 0
	}
	c := &s.cycle
	c.nframes = nframes
	if s.midiPort != nil {
		c.midi = s.midiPort.MidiEvents(nframes)
	} else {
		c.midi = nil
	}
	return s.cfg.Process(c)
}

// onShutdown handles the server's asynchronous disconnect notification. It
// arrives on an unspecified thread, so it only flips a flag and closes the
// notification channel; it makes no server calls and takes no locks. The
// controlling thread observes ShutdownC and tears down.
func (s *Session) onShutdown() {
	if s.down.CompareAndSwap(false, true) {
		close(s.shutdownC)
	}
}

// ShutdownC is closed when the server notifies the client it has been
// disconnected (server crash, client kicked). The handle is invalid from
// that point on; the session makes no further calls into it, and the caller
// is expected to observe the channel and terminate or rebuild.
func (s *Session) ShutdownC() <-chan struct{} { return s.shutdownC }

// ShutdownReceived reports whether the server shutdown notification has
// arrived.
func (s *Session) ShutdownReceived() bool { return s.down.Load() }

// ID returns the session's internal UUID.
func (s *Session) ID() uuid.UUID { return s.id }

// Name returns the client name as negotiated with the server. It may differ
// from the requested name when that name was already taken; see Renamed.
func (s *Session) Name() string { return s.name }

// Renamed reports whether the server assigned a unique name because the
// requested one collided with an existing client.
func (s *Session) Renamed() bool { return s.renamed }

// State returns the session's lifecycle state.
func (s *Session) State() SessionState { return s.state }

// SampleRate returns the engine sample rate in Hz, fixed for the lifetime of
// an open session. Zero before Open.
func (s *Session) SampleRate() uint32 { return s.sampleRate }

// BufferSize returns the engine block size in frames, fixed for the lifetime
// of an open session. Zero before Open.
func (s *Session) BufferSize() uint32 { return s.bufferSize }

// BlockPeriod returns the wall-clock duration of one block (buffer size over
// sample rate), the implicit deadline for each process invocation.
func (s *Session) BlockPeriod() time.Duration {
	if s.sampleRate == 0 {
		return 0
	}
	return time.Duration(float64(s.bufferSize) / float64(s.sampleRate) * float64(time.Second))
}

// InputPort returns the full server name of the session's audio input port.
// Empty before Open.
func (s *Session) InputPort() string { return s.inName }

// OutputPort returns the full server name of the session's audio output
// port. Empty before Open.
func (s *Session) OutputPort() string { return s.outName }

// MidiInPort returns the full server name of the session's MIDI input port,
// or empty when the session was configured without MIDI.
func (s *Session) MidiInPort() string { return s.midiName }
