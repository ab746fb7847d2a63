// Package app implements the localnet operations: initialize a data
// directory, run its process group in the foreground, and steer a running
// group from another terminal through its control socket.
package app

import (
	"context"
	"io"
	"os"

	"github.com/bft-labs/localnet/internal/adapters/chaind"
	httpAdapter "github.com/bft-labs/localnet/internal/adapters/http"
	"github.com/bft-labs/localnet/internal/adapters/proc"
	"github.com/bft-labs/localnet/internal/cluster"
	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/ports"
	"github.com/bft-labs/localnet/internal/relayer"
	"github.com/bft-labs/localnet/internal/supervisor"
	"github.com/bft-labs/localnet/pkg/log"
)

// Controller is the client side of a running supervisor's control socket.
type Controller interface {
	Status(ctx context.Context) ([]domain.ProcessInfo, error)
	Action(ctx context.Context, action, name string) ([]domain.ProcessInfo, error)
	Shutdown(ctx context.Context) error
}

// ExecFunc replaces the current process with command.
type ExecFunc func(command string, args []string) error

// Orchestrator runs localnet operations against one data directory.
type Orchestrator struct {
	layout    domain.Layout
	logger    log.Logger
	executors ports.ChainExecutorFactory
	backend   ports.ProcessBackend
	relayer   *relayer.Bootstrapper
	control   Controller
	out       io.Writer
	color     bool
	exec      ExecFunc
	supOpts   []supervisor.Option
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger passed to every component.
func WithLogger(l log.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithChainExecutors replaces the chain binary adapter.
func WithChainExecutors(f ports.ChainExecutorFactory) Option {
	return func(o *Orchestrator) { o.executors = f }
}

// WithProcessBackend replaces the os/exec process backend.
func WithProcessBackend(b ports.ProcessBackend) Option {
	return func(o *Orchestrator) { o.backend = b }
}

// WithRelayer replaces the relayer bootstrapper.
func WithRelayer(b *relayer.Bootstrapper) Option {
	return func(o *Orchestrator) { o.relayer = b }
}

// WithController replaces the control socket client.
func WithController(c Controller) Option {
	return func(o *Orchestrator) { o.control = c }
}

// WithOutput sets where merged process logs are written, colored if color.
func WithOutput(w io.Writer, color bool) Option {
	return func(o *Orchestrator) {
		o.out = w
		o.color = color
	}
}

// WithExec replaces the exec used by Chaind.
func WithExec(fn ExecFunc) Option {
	return func(o *Orchestrator) { o.exec = fn }
}

// WithSupervisorOptions passes options to the supervisor created by Start.
func WithSupervisorOptions(opts ...supervisor.Option) Option {
	return func(o *Orchestrator) { o.supOpts = append(o.supOpts, opts...) }
}

// New creates an Orchestrator for dataDir.
func New(dataDir string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		layout: domain.Layout{DataDir: dataDir},
		logger: log.NewNoopLogger(),
		out:    os.Stdout,
		exec:   execChain,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.executors == nil {
		o.executors = chaind.Factory(chaind.WithLogger(o.logger))
	}
	if o.backend == nil {
		o.backend = proc.NewBackend()
	}
	if o.relayer == nil {
		o.relayer = relayer.NewBootstrapper(relayer.WithLogger(o.logger))
	}
	if o.control == nil {
		o.control = httpAdapter.NewUnixControlClient(o.layout.ControlSocket())
	}
	return o
}

// Layout returns the data directory layout.
func (o *Orchestrator) Layout() domain.Layout {
	return o.layout
}

func (o *Orchestrator) initializer() *cluster.Initializer {
	return cluster.New(o.layout, o.executors,
		cluster.WithRelayer(o.relayer),
		cluster.WithLogger(o.logger),
	)
}
