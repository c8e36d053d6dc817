package jackclient

import (
	"errors"
	"fmt"
	"log/slog"
)

// Error kinds surfaced by the session lifecycle. Fatal kinds abort the
// Open/Run sequence for the current session; retrying is a caller concern
// around a fresh session.
var (
	// ErrServerUnavailable: the connection handshake failed.
	ErrServerUnavailable = errors.New("audio server unavailable")
	// ErrServerFailedToStart is the handshake sub-case where the server
	// process was absent or could not be launched. It wraps
	// ErrServerUnavailable, so errors.Is checks against either work.
	ErrServerFailedToStart = fmt.Errorf("%w: server process absent or failed to start", ErrServerUnavailable)
	// ErrPortExhausted: the server refused to register a required port.
	ErrPortExhausted = errors.New("no more server ports available")
	// ErrActivationFailed: the server refused to activate the client.
	ErrActivationFailed = errors.New("client activation failed")
	// ErrNoPhysicalCapturePorts: auto-connect found no hardware inputs. The
	// session keeps running; the input port stays available for manual
	// connection.
	ErrNoPhysicalCapturePorts = errors.New("no physical capture ports")
	// ErrNoPhysicalPlaybackPorts: auto-connect found no hardware outputs.
	ErrNoPhysicalPlaybackPorts = errors.New("no physical playback ports")
	// ErrPortConnect: an individual port connection was refused. Non-fatal,
	// reported through the session's ErrorHandler.
	ErrPortConnect = errors.New("port connection failed")
	// ErrServerShutdown: the server disconnected the client asynchronously.
	// The handle is invalid and no further server calls are made on it.
	ErrServerShutdown = errors.New("server shut down")
)

// Lifecycle misuse errors.
var (
	ErrNotOpen     = errors.New("session is not open")
	ErrAlreadyOpen = errors.New("session already open")
	ErrRunning     = errors.New("session already running")
	ErrClosed      = errors.New("session is closed")
)

// ErrorHandler defines the interface for handling non-fatal session errors,
// such as refused auto-connections.
type ErrorHandler interface {
	HandleError(error)
}

// DefaultErrorHandler reports errors through a structured logger.
type DefaultErrorHandler struct {
	Logger *slog.Logger
}

// HandleError implements ErrorHandler interface with structured logging.
func (h *DefaultErrorHandler) HandleError(err error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("session error", "err", err)
}

// FuncErrorHandler adapts a plain function to the ErrorHandler interface.
type FuncErrorHandler func(error)

// HandleError implements ErrorHandler interface by delegating to the function.
func (h FuncErrorHandler) HandleError(err error) { h(err) }

// PanicErrorHandler panics on any error (useful for development)
type PanicErrorHandler struct{}

// HandleError implements ErrorHandler interface by panicking
func (h *PanicErrorHandler) HandleError(err error) {
	panic(fmt.Sprintf("Session error: %v", err))
}
