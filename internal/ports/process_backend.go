package ports

import (
	"context"
	"os"

	"github.com/bft-labs/localnet/internal/domain"
)

// Process is a spawned child.
type Process interface {
	PID() int
	// Wait blocks until the process exits and returns its exit error.
	Wait() error
	// Signal delivers sig to the process (and its group where supported).
	Signal(sig os.Signal) error
	// Kill forcefully terminates the process.
	Kill() error
}

// ProcessBackend launches processes for the supervisor.
type ProcessBackend interface {
	Spawn(ctx context.Context, entry domain.ProcessEntry) (Process, error)
}
