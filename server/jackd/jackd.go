//go:build cgo

package jackd

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/xthexder/go-jack"

	"github.com/openaudio/jackclient/server"
)

// Backend connects to a running JACK server through the go-jack binding.
// The zero value is ready to use.
type Backend struct{}

// Open implements server.Backend.
func (Backend) Open(name string, opts server.Options) (server.Conn, server.Status, error) {
	var status server.Status

	if opts.ServerName != "" {
		return nil, status, errors.New("jackd: named server instances are not supported by the go-jack binding")
	}

	options := jack.NullOption
	if opts.NoStartServer {
		options |= jack.NoStartServer
	}
	if opts.UseExactName {
		options |= jack.UseExactName
	}

	client, code := jack.ClientOpen(name, options)
	status.ServerStarted = code&jack.ServerStarted != 0
	status.NameNotUnique = code&jack.NameNotUnique != 0
	status.ServerFailed = code&jack.ServerFailed != 0

	if client == nil {
		return nil, status, fmt.Errorf("jackd: client open failed, status 0x%x", code)
	}
	return &conn{client: client}, status, nil
}

type conn struct {
	client       *jack.Client
	processBound bool
	shutdownSet  bool
	activated    bool
}

func (c *conn) Name() string { return c.client.GetName() }

func (c *conn) SetProcessCallback(cb func(nframes uint32) int) error {
	if c.processBound {
		return errors.New("jackd: process callback already bound")
	}
	if c.activated {
		return errors.New("jackd: cannot bind process callback after activation")
	}
	if code := c.client.SetProcessCallback(jack.ProcessCallback(cb)); code != 0 {
		return fmt.Errorf("jackd: set process callback failed, status 0x%x", code)
	}
	c.processBound = true
	return nil
}

func (c *conn) SetShutdownCallback(cb func()) error {
	if c.shutdownSet {
		return errors.New("jackd: shutdown callback already bound")
	}
	if c.activated {
		return errors.New("jackd: cannot bind shutdown callback after activation")
	}
	c.client.OnShutdown(jack.ShutdownCallback(cb))
	c.shutdownSet = true
	return nil
}

func (c *conn) Activate() error {
	if code := c.client.Activate(); code != 0 {
		return fmt.Errorf("jackd: activate failed, status 0x%x", code)
	}
	c.activated = true
	return nil
}

func (c *conn) SampleRate() uint32 { return c.client.GetSampleRate() }
func (c *conn) BufferSize() uint32 { return c.client.GetBufferSize() }

func (c *conn) RegisterPort(name, portType string, flags server.PortFlags) (server.Port, error) {
	p := c.client.PortRegister(name, portType, portFlags(flags), 0)
	if p == nil {
		return nil, fmt.Errorf("jackd: port register %q failed", name)
	}
	return &port{p: p}, nil
}

// Ports wraps jack_get_ports. The binding copies the names and frees the
// server-owned array before returning, so the release-exactly-once contract
// holds on every path.
func (c *conn) Ports(namePattern, typePattern string, flags server.PortFlags) server.PortList {
	return server.PortList(c.client.GetPorts(namePattern, typePattern, portFlags(flags)))
}

func (c *conn) ConnectPorts(source, destination string) error {
	if code := c.client.Connect(source, destination); code != 0 {
		return fmt.Errorf("jackd: connect %q -> %q failed, status 0x%x", source, destination, code)
	}
	return nil
}

// Close releases the client handle. jack_client_close deactivates first and
// does not return while a process callback is in flight.
func (c *conn) Close() error {
	if code := c.client.Close(); code != 0 {
		return fmt.Errorf("jackd: close failed, status 0x%x", code)
	}
	return nil
}

type port struct {
	p *jack.Port
}

func (p *port) Name() string { return p.p.GetName() }

// AudioBuffer reinterprets the binding's []jack.AudioSample as []float32
// without copying; jack.AudioSample is a float32 alias.
func (p *port) AudioBuffer(nframes uint32) []float32 {
	buf := p.p.GetBuffer(nframes)
	if len(buf) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&buf[0])), len(buf))
}

func (p *port) MidiEvents(nframes uint32) []server.MidiEvent {
	raw := p.p.GetMidiEvents(nframes)
	if len(raw) == 0 {
		return nil
	}
	events := make([]server.MidiEvent, len(raw))
	for i, ev := range raw {
		events[i] = server.MidiEvent{Time: ev.Time, Data: ev.Buffer}
	}
	return events
}

func portFlags(flags server.PortFlags) uint64 {
	var out uint64
	if flags&server.IsInput != 0 {
		out |= jack.PortIsInput
	}
	if flags&server.IsOutput != 0 {
		out |= jack.PortIsOutput
	}
	if flags&server.IsPhysical != 0 {
		out |= jack.PortIsPhysical
	}
	if flags&server.CanMonitor != 0 {
		out |= jack.PortCanMonitor
	}
	if flags&server.IsTerminal != 0 {
		out |= jack.PortIsTerminal
	}
	return out
}
