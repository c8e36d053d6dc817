package jackclient

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/joeshaw/envdecode"

	"github.com/openaudio/jackclient/server"
)

// Deterministic short names for the session's ports.
const (
	InputPortName  = "input"
	OutputPortName = "output"
	MidiInPortName = "midi_in"
)

// Config holds configuration for session creation. Name, Process and Backend
// are required; everything else has working defaults.
type Config struct {
	// Name is the client name requested from the server. If it collides
	// with an existing client the server assigns a unique one; see
	// Session.Name and Session.Renamed. ENV: JACKCLIENT_NAME
	Name string `env:"JACKCLIENT_NAME"`

	// ServerName selects a named server instance. Empty means the default
	// instance. ENV: JACKCLIENT_SERVER_NAME
	ServerName string `env:"JACKCLIENT_SERVER_NAME"`

	// NoStartServer refuses to spawn a server process when none is running.
	// ENV: JACKCLIENT_NO_START_SERVER
	NoStartServer bool `env:"JACKCLIENT_NO_START_SERVER,default=false"`

	// WithMIDI additionally registers a MIDI input port named "midi_in".
	// ENV: JACKCLIENT_WITH_MIDI
	WithMIDI bool `env:"JACKCLIENT_WITH_MIDI,default=false"`

	// NoAutoConnect skips the Run-time auto-connection to the first
	// physical capture/playback ports. ENV: JACKCLIENT_NO_AUTO_CONNECT
	NoAutoConnect bool `env:"JACKCLIENT_NO_AUTO_CONNECT,default=false"`

	// Process is invoked by the server's real-time thread once per block.
	// It must be real-time safe: no blocking I/O, no heap allocation, no
	// unbounded locks, no logging. Return 0 to continue processing.
	Process ProcessFunc

	// Backend opens the server connection. Production code passes
	// jackd.Backend{}; tests pass a stub.
	Backend server.Backend

	// ErrorHandler receives non-fatal errors (refused auto-connections).
	// Optional: defaults to DefaultErrorHandler.
	ErrorHandler ErrorHandler

	// Logger receives informational lifecycle events. Optional: defaults to
	// slog.Default().
	Logger *slog.Logger
}

// ConfigFromEnv populates a Config from JACKCLIENT_* environment variables.
// Process, Backend, ErrorHandler and Logger must still be set by the caller.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Name == "" {
		return errors.New("client name is required")
	}
	if cfg.Process == nil {
		return errors.New("process callback is required")
	}
	if cfg.Backend == nil {
		return errors.New("server backend is required")
	}
	return nil
}
