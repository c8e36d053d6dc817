// Package record provides a real-time-safe capture sink: a process callback
// feeds samples in, a background writer drains them to a mono 16-bit PCM WAV
// file. The producer side never blocks; when the writer falls behind,
// samples are dropped and counted instead of stalling the audio thread.
package record

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// queueSize is the producer/consumer buffer in samples, roughly 1.4 s
	// of headroom at 48 kHz.
	queueSize = 1 << 16
	// writeChunk is how many samples the writer batches per encoder write.
	writeChunk = 4096
)

// Recorder drains captured samples to a WAV file on disk.
type Recorder struct {
	ch      chan float32
	dropped atomic.Uint64

	f   *os.File
	enc *wav.Encoder

	done     chan struct{}
	stop     sync.Once
	finish   sync.Once
	closeErr error
	writeErr error
}

// New creates the file at path and starts the background writer.
func New(path string, sampleRate int) (*Recorder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("record: invalid sample rate %d", sampleRate)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("record: create %s: %w", path, err)
	}
	r := &Recorder{
		ch:   make(chan float32, queueSize),
		f:    f,
		enc:  wav.NewEncoder(f, sampleRate, 16, 1, 1),
		done: make(chan struct{}),
	}
	go r.drain()
	return r, nil
}

// Capture queues one block of samples. It is safe to call from a real-time
// process callback: it performs no allocation and never blocks. Samples that
// do not fit in the queue are dropped and counted.
func (r *Recorder) Capture(samples []float32) {
	for _, s := range samples {
		select {
		case r.ch <- s:
		default:
			r.dropped.Add(1)
		}
	}
}

// Dropped reports how many samples were discarded because the writer fell
// behind.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops the writer, flushes remaining samples, finalizes the WAV
// header and closes the file. The caller must stop feeding Capture first
// (stop or close the session). Close is idempotent.
func (r *Recorder) Close() error {
	r.stop.Do(func() { close(r.ch) })
	<-r.done
	r.finish.Do(func() {
		if r.writeErr != nil {
			r.enc.Close()
			r.f.Close()
			r.closeErr = r.writeErr
			return
		}
		if err := r.enc.Close(); err != nil {
			r.f.Close()
			r.closeErr = fmt.Errorf("record: finalize wav: %w", err)
			return
		}
		if err := r.f.Close(); err != nil {
			r.closeErr = fmt.Errorf("record: close file: %w", err)
		}
	})
	return r.closeErr
}

// drain batches samples from the queue into encoder writes until the queue
// is closed. On a write error it keeps consuming (so producers keep their
// non-blocking guarantee) but stops writing; the error surfaces from Close.
func (r *Recorder) drain() {
	defer close(r.done)

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: r.enc.SampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, 0, writeChunk),
	}
	flush := func() {
		if len(buf.Data) == 0 || r.writeErr != nil {
			return
		}
		if err := r.enc.Write(buf); err != nil {
			r.writeErr = fmt.Errorf("record: write wav: %w", err)
		}
		buf.Data = buf.Data[:0]
	}

	for s := range r.ch {
		buf.Data = append(buf.Data, pcm16(s))
		if len(buf.Data) == writeChunk {
			flush()
			if r.writeErr != nil {
				buf.Data = buf.Data[:0]
			}
		}
	}
	flush()
}

// pcm16 converts a normalized float sample to 16-bit PCM with clipping.
func pcm16(s float32) int {
	switch {
	case s >= 1.0:
		return 32767
	case s <= -1.0:
		return -32768
	default:
		return int(s * 32767)
	}
}
