// Package servertest provides an in-memory stand-in for a JACK server so the
// session lifecycle can be tested without audio hardware or a running jackd.
// The stub is scriptable: physical port inventory, port capacity, name
// collisions, activation failures and asynchronous shutdown are all
// injectable per test.
package servertest

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/openaudio/jackclient/server"
)

// Stub implements server.Backend. The zero value behaves like an idle server
// at 48000 Hz with 1024-frame blocks and no physical ports.
type Stub struct {
	// SampleRate and BufferSize are the engine parameters reported to
	// clients. Zero values default to 48000 and 1024.
	SampleRate uint32
	BufferSize uint32

	// MaxPorts caps the number of ports a client may register. Zero means
	// unlimited.
	MaxPorts int

	// PhysicalCapture and PhysicalPlayback are the hardware port names the
	// stub reports for physical enumerations, in order.
	PhysicalCapture  []string
	PhysicalPlayback []string

	// TakenNames simulates already-connected clients: opening with one of
	// these names yields a renegotiated unique name.
	TakenNames []string

	// Absent simulates no server process: Open fails with the ServerFailed
	// status flag set.
	Absent bool

	// StartsServer simulates the server process being launched as a side
	// effect of Open.
	StartsServer bool

	// FailActivate makes Activate fail.
	FailActivate bool

	// RefuseConnect lists destination port names whose connection attempts
	// fail (e.g. exclusively connected elsewhere).
	RefuseConnect []string

	mu    sync.Mutex
	conns []*Conn
}

// Last returns the most recently opened connection, so tests can drive
// cycles and inspect what the client did. Nil before the first Open.
func (s *Stub) Last() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

// Open implements server.Backend.
func (s *Stub) Open(name string, opts server.Options) (server.Conn, server.Status, error) {
	var status server.Status
	if s.Absent && opts.NoStartServer {
		status.ServerFailed = true
		return nil, status, errors.New("servertest: unable to contact server")
	}
	if s.Absent {
		// A start attempt succeeds unless scripted otherwise.
		status.ServerStarted = true
	}
	if s.StartsServer {
		status.ServerStarted = true
	}

	assigned := name
	for _, taken := range s.TakenNames {
		if taken == name {
			if opts.UseExactName {
				return nil, status, fmt.Errorf("servertest: client name %q already in use", name)
			}
			assigned = name + "-01"
			status.NameNotUnique = true
			break
		}
	}

	sr, bs := s.SampleRate, s.BufferSize
	if sr == 0 {
		sr = 48000
	}
	if bs == 0 {
		bs = 1024
	}

	c := &Conn{
		stub:       s,
		name:       assigned,
		sampleRate: sr,
		bufferSize: bs,
		ports:      make(map[string]*Port),
	}
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
	return c, status, nil
}

// Conn is the stub's server.Conn. Beyond the interface it exposes test
// helpers to drive process cycles, inject shutdown, and inspect what the
// client did.
type Conn struct {
	stub       *Stub
	name       string
	sampleRate uint32
	bufferSize uint32

	mu          sync.Mutex
	ports       map[string]*Port
	portOrder   []string
	connections [][2]string
	process     func(nframes uint32) int
	shutdown    func()
	activated   bool
	closed      bool

	// cycleMu serializes process invocations and makes Close block until an
	// in-flight cycle returns, mirroring jack_client_close.
	cycleMu sync.Mutex

	shutdownFired atomic.Bool
	afterShutdown atomic.Int64
}

// touch records a call into the handle; calls made after the shutdown
// notification are counted so tests can assert there were none.
func (c *Conn) touch() {
	if c.shutdownFired.Load() {
		c.afterShutdown.Add(1)
	}
}

// Name implements server.Conn.
func (c *Conn) Name() string {
	c.touch()
	return c.name
}

// SetProcessCallback implements server.Conn.
func (c *Conn) SetProcessCallback(cb func(nframes uint32) int) error {
	c.touch()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.process != nil {
		return errors.New("servertest: process callback already bound")
	}
	if c.activated {
		return errors.New("servertest: cannot bind process callback after activation")
	}
	c.process = cb
	return nil
}

// SetShutdownCallback implements server.Conn.
func (c *Conn) SetShutdownCallback(cb func()) error {
	c.touch()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown != nil {
		return errors.New("servertest: shutdown callback already bound")
	}
	if c.activated {
		return errors.New("servertest: cannot bind shutdown callback after activation")
	}
	c.shutdown = cb
	return nil
}

// Activate implements server.Conn.
func (c *Conn) Activate() error {
	c.touch()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("servertest: activate on closed client")
	}
	if c.activated {
		return errors.New("servertest: already activated")
	}
	if c.stub.FailActivate {
		return errors.New("servertest: activation refused")
	}
	c.activated = true
	return nil
}

// SampleRate implements server.Conn.
func (c *Conn) SampleRate() uint32 {
	c.touch()
	return c.sampleRate
}

// BufferSize implements server.Conn.
func (c *Conn) BufferSize() uint32 {
	c.touch()
	return c.bufferSize
}

// RegisterPort implements server.Conn.
func (c *Conn) RegisterPort(name, portType string, flags server.PortFlags) (server.Port, error) {
	c.touch()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("servertest: register on closed client")
	}
	if c.stub.MaxPorts > 0 && len(c.ports) >= c.stub.MaxPorts {
		return nil, errors.New("servertest: no more ports available")
	}
	full := c.name + ":" + name
	if _, exists := c.ports[full]; exists {
		return nil, fmt.Errorf("servertest: port %q already registered", full)
	}
	p := &Port{
		name:     full,
		portType: portType,
		flags:    flags,
		buf:      make([]float32, c.bufferSize),
	}
	c.ports[full] = p
	c.portOrder = append(c.portOrder, full)
	return p, nil
}

// Ports implements server.Conn.
func (c *Conn) Ports(namePattern, typePattern string, flags server.PortFlags) server.PortList {
	c.touch()
	c.mu.Lock()
	defer c.mu.Unlock()

	if flags&server.IsPhysical != 0 {
		switch {
		case flags&server.IsOutput != 0:
			return append(server.PortList(nil), c.stub.PhysicalCapture...)
		case flags&server.IsInput != 0:
			return append(server.PortList(nil), c.stub.PhysicalPlayback...)
		}
		return nil
	}

	var out server.PortList
	for _, name := range c.portOrder {
		p := c.ports[name]
		if flags == 0 || p.flags&flags == flags {
			out = append(out, name)
		}
	}
	return out
}

// ConnectPorts implements server.Conn.
func (c *Conn) ConnectPorts(source, destination string) error {
	c.touch()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activated {
		return errors.New("servertest: connect before activation")
	}
	for _, refused := range c.stub.RefuseConnect {
		if destination == refused || source == refused {
			return fmt.Errorf("servertest: connection to %q refused", refused)
		}
	}
	c.connections = append(c.connections, [2]string{source, destination})
	return nil
}

// Close implements server.Conn. It blocks until any in-flight process cycle
// has returned and never invokes callbacks afterwards.
func (c *Conn) Close() error {
	c.touch()
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("servertest: double close")
	}
	c.closed = true
	c.activated = false
	return nil
}

// --- test-side controls, not part of server.Conn ---

// RunCycle invokes the bound process callback for one block of nframes, the
// way the server's real-time thread would. It returns the callback's status
// code. It panics if the client is not activated, which is a test bug.
func (c *Conn) RunCycle(nframes uint32) int {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	c.mu.Lock()
	process, ok := c.process, c.activated && !c.closed
	c.mu.Unlock()
	if !ok || process == nil {
		panic("servertest: RunCycle on a client that is not running")
	}
	return process(nframes)
}

// FireShutdown delivers the asynchronous shutdown notification, as if the
// server died or kicked the client. Calls into the Conn made after this
// point are counted (see CallsAfterShutdown).
func (c *Conn) FireShutdown() {
	c.mu.Lock()
	cb := c.shutdown
	c.mu.Unlock()
	c.shutdownFired.Store(true)
	if cb != nil {
		cb()
	}
}

// CallsAfterShutdown reports how many times the client called into the
// handle after the shutdown notification fired.
func (c *Conn) CallsAfterShutdown() int64 {
	return c.afterShutdown.Load()
}

// Connections returns the (source, destination) pairs connected so far.
func (c *Conn) Connections() [][2]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][2]string(nil), c.connections...)
}

// Activated reports whether the client is currently activated.
func (c *Conn) Activated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activated
}

// Closed reports whether the handle has been released.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LookupPort returns the registered stub port with the given short name, for
// seeding input samples or queueing MIDI from a test.
func (c *Conn) LookupPort(shortName string) (*Port, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.ports[c.name+":"+shortName]
	return p, ok
}

// Port is the stub's server.Port. Each port owns one block-sized buffer that
// tests can pre-fill (for inputs) or inspect (for outputs).
type Port struct {
	name     string
	portType string
	flags    server.PortFlags
	buf      []float32
	midi     []server.MidiEvent
}

// Name implements server.Port.
func (p *Port) Name() string { return p.name }

// AudioBuffer implements server.Port.
func (p *Port) AudioBuffer(nframes uint32) []float32 {
	return p.buf[:nframes]
}

// MidiEvents implements server.Port.
func (p *Port) MidiEvents(nframes uint32) []server.MidiEvent {
	return p.midi
}

// Seed copies samples into the port's buffer, as hardware capture would.
func (p *Port) Seed(samples []float32) {
	copy(p.buf, samples)
}

// Samples returns the port's buffer contents for the last cycle.
func (p *Port) Samples(nframes uint32) []float32 {
	return p.buf[:nframes]
}

// QueueMidi sets the MIDI events the port reports for the next cycle.
func (p *Port) QueueMidi(events ...server.MidiEvent) {
	p.midi = events
}
