package server

// PortFlags describe a port's direction and placement, matching the flag
// semantics of the underlying audio server. Directions are from the server's
// point of view: a hardware microphone is a physical *output* port (it
// produces samples), a speaker is a physical *input* port (it consumes them).
type PortFlags uint64

const (
	IsInput PortFlags = 1 << iota
	IsOutput
	IsPhysical
	CanMonitor
	IsTerminal
)

// Well-known port payload types.
const (
	AudioType = "32 bit float mono audio"
	MidiType  = "8 bit raw midi"
)

// Options control how a connection to the audio server is established.
type Options struct {
	// NoStartServer refuses to spawn a server process when none is running.
	NoStartServer bool
	// ServerName selects a specific named server instance. Empty means the
	// default instance.
	ServerName string
	// UseExactName makes Open fail instead of renegotiating when the
	// requested client name is already taken.
	UseExactName bool
}

// Status reports side effects of a successful Open.
type Status struct {
	// ServerStarted is set when the server process was launched as a side
	// effect of this connection.
	ServerStarted bool
	// NameNotUnique is set when the requested client name collided with an
	// existing client and the server assigned a unique one. Conn.Name
	// returns the assigned name.
	NameNotUnique bool
	// ServerFailed is set on open errors caused by the server process being
	// absent or failing to start, as opposed to other protocol failures.
	ServerFailed bool
}

// Backend opens connections to an audio server. The production backend lives
// in server/jackd; tests substitute a stub.
type Backend interface {
	Open(name string, opts Options) (Conn, Status, error)
}

// Conn is an open client handle on the audio server.
//
// SetProcessCallback and SetShutdownCallback may each be called at most once,
// and only before Activate. The process callback is invoked by the server's
// real-time thread, never concurrently with itself. The shutdown callback may
// be invoked from an arbitrary thread; implementations of it must not call
// back into the Conn.
//
// Close must not return while a process callback invocation is in flight, and
// no callback fires after Close returns.
type Conn interface {
	// Name returns the client name as negotiated with the server.
	Name() string

	SetProcessCallback(cb func(nframes uint32) int) error
	SetShutdownCallback(cb func()) error

	// Activate tells the server the client is ready; the process callback
	// may begin firing once Activate returns successfully.
	Activate() error

	// SampleRate and BufferSize report the engine parameters. Both are
	// fixed for the lifetime of the connection.
	SampleRate() uint32
	BufferSize() uint32

	// RegisterPort creates a new port owned by this client. The returned
	// handle is opaque and belongs to the connection; it is invalidated by
	// Close.
	RegisterPort(name, portType string, flags PortFlags) (Port, error)

	// Ports enumerates server ports matching the patterns and flags. Empty
	// patterns match everything. The returned list is a snapshot owned by
	// the caller; the implementation releases any underlying server
	// resources before returning, on every path.
	Ports(namePattern, typePattern string, flags PortFlags) PortList

	// ConnectPorts patches source into destination, both given by full
	// server name.
	ConnectPorts(source, destination string) error

	Close() error
}

// Port is an opaque handle to a port registered through RegisterPort.
//
// The buffer accessors are valid only from inside a process callback
// invocation, for exactly that invocation's frame count. The returned slices
// alias server-owned memory and must not be retained past the callback's
// return.
type Port interface {
	// Name returns the port's full server name (client:port).
	Name() string

	// AudioBuffer exposes the port's sample buffer for the current cycle.
	AudioBuffer(nframes uint32) []float32

	// MidiEvents exposes the MIDI events queued on this port for the
	// current cycle, ordered by time within the block.
	MidiEvents(nframes uint32) []MidiEvent
}

// MidiEvent is one raw MIDI event within a cycle. Data aliases server-owned
// memory and is only valid within the invocation that produced it.
type MidiEvent struct {
	// Time is the event's frame offset within the current block.
	Time uint32
	// Data is the raw MIDI byte payload.
	Data []byte
}

// PortList is an ordered snapshot of full port names returned by Conn.Ports.
type PortList []string

// First returns the first port name in the list, if any.
func (l PortList) First() (string, bool) {
	if len(l) == 0 {
		return "", false
	}
	return l[0], true
}

// Contains reports whether name appears in the list.
func (l PortList) Contains(name string) bool {
	for _, n := range l {
		if n == name {
			return true
		}
	}
	return false
}
