package localnet

import (
	"io"

	"github.com/bft-labs/localnet/internal/ports"
	"github.com/bft-labs/localnet/pkg/log"
)

// Logger is the structured logging interface used by localnet.
type Logger = log.Logger

// ProcessBackend launches the supervised processes. Replace it to run the
// group somewhere other than local OS processes.
type ProcessBackend = ports.ProcessBackend

// Option configures optional behavior of Localnet.
type Option func(*options)

type options struct {
	logger       Logger
	out          io.Writer
	color        bool
	eventHandler EventHandler
	backend      ProcessBackend
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithOutput sets where merged process logs are written while running.
// If not provided, process output is not merged.
func WithOutput(w io.Writer, color bool) Option {
	return func(o *options) {
		o.out = w
		o.color = color
	}
}

// WithEventHandler sets a handler for supervisor events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithProcessBackend replaces the OS process backend.
func WithProcessBackend(b ProcessBackend) Option {
	return func(o *options) {
		o.backend = b
	}
}
