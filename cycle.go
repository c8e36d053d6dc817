package jackclient

import (
	"gitlab.com/gomidi/midi/v2"

	"github.com/openaudio/jackclient/server"
)

// ProcessFunc is the per-block processing routine, invoked by the server's
// real-time thread once per audio block. Invocations are serialized by the
// server and happen only between a successful Run and Close.
//
// The routine runs on the hot path and must be real-time safe: no blocking
// I/O, no heap allocation, no unbounded-latency locks, no logging to
// unbounded buffers. Violations cause audible dropouts, not crashes, so they
// do not show up as errors; review the body and measure under load.
//
// Return 0 to continue processing. Non-zero return values are reserved by
// the server and are treated as "continue" until documented otherwise.
type ProcessFunc func(c *Cycle) int

// Cycle gives a ProcessFunc typed access to the session's port buffers for
// one block. A Cycle and every slice obtained through it are valid only for
// the duration of the invocation that delivered it; retaining either past
// the callback's return is a contract violation.
//
// The session reuses a single Cycle value across invocations, so accessors
// perform no heap allocation.
type Cycle struct {
	session *Session
	nframes uint32
	midi    []server.MidiEvent
}

// NFrames returns the block length in frames, identical across all ports for
// this invocation.
func (c *Cycle) NFrames() uint32 { return c.nframes }

// In returns the input port's samples for this block. The slice aliases
// server-owned memory; it holds exactly NFrames samples.
func (c *Cycle) In() []float32 {
	return c.session.inPort.AudioBuffer(c.nframes)
}

// Out returns the output port's sample buffer for this block. The routine
// must write exactly NFrames samples.
func (c *Cycle) Out() []float32 {
	return c.session.outPort.AudioBuffer(c.nframes)
}

// MidiEventCount returns the number of MIDI events queued on the session's
// MIDI input port for this block. Zero when the session has no MIDI port.
func (c *Cycle) MidiEventCount() int {
	return len(c.midi)
}

// MidiEvent returns the i-th MIDI event of this block, ordered by frame
// offset. Events are ephemeral and must be consumed within this invocation.
func (c *Cycle) MidiEvent(i int) MidiEvent {
	ev := c.midi[i]
	return MidiEvent{Time: ev.Time, Data: ev.Data}
}

// MidiEvent is one MIDI event within the current block.
type MidiEvent struct {
	// Time is the event's frame offset within the block.
	Time uint32
	// Data is the raw MIDI byte payload, aliasing server-owned memory.
	Data []byte
}

// Message interprets the raw payload as a typed MIDI message. The returned
// message shares the event's backing bytes and is subject to the same
// lifetime: decode what you need within the invocation.
func (e MidiEvent) Message() midi.Message {
	return midi.Message(e.Data)
}
