package localnet

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bft-labs/localnet/internal/app"
	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/supervisor"
	"github.com/bft-labs/localnet/internal/topology"
	"github.com/bft-labs/localnet/pkg/log"
)

// Defaults applied by SetDefaults.
const (
	DefaultCommand  = "chaind"
	DefaultBasePort = 26650
)

// Errors returned by Localnet. Use errors.Is to match them.
var (
	ErrConfig        = domain.ErrConfig
	ErrPortConflict  = domain.ErrPortConflict
	ErrResume        = domain.ErrResume
	ErrLock          = domain.ErrLock
	ErrProcessSpawn  = domain.ErrProcessSpawn
	ErrProcessCrash  = domain.ErrProcessCrash
	ErrRelayerConfig = domain.ErrRelayerConfig
	ErrNotRunning    = domain.ErrNotRunning
)

// Config describes one devnet.
type Config struct {
	// DataDir holds every node home, log and the cluster state.
	DataDir string
	// Topology is the YAML topology file, needed by Init and Resume.
	Topology string
	// Command is the chain executable for chains that do not name one.
	Command string
	// BasePort is the port base for chains that do not name one.
	BasePort int
	// RelayerVariant overrides the topology's relayer variant.
	RelayerVariant string
	// Metrics serves prometheus metrics while running.
	Metrics bool
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Command == "" {
		c.Command = DefaultCommand
	}
	if c.BasePort == 0 {
		c.BasePort = DefaultBasePort
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data dir is required", ErrConfig)
	}
	if c.BasePort <= 0 || c.BasePort > 65535 {
		return fmt.Errorf("%w: base port %d out of range", ErrConfig, c.BasePort)
	}
	return nil
}

// Report is the status of a data directory.
type Report = app.Report

// ProcessInfo is a snapshot of one supervised process.
type ProcessInfo = domain.ProcessInfo

// Localnet is an embeddable devnet bound to one data directory.
type Localnet struct {
	config Config
	orch   *app.Orchestrator
	quiet  bool
}

// New creates a Localnet. Nothing is touched on disk until Init, Resume or
// Start is called.
func New(cfg Config, opts ...Option) (*Localnet, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{logger: log.NewNoopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	appOpts := []app.Option{app.WithLogger(o.logger)}
	if o.out != nil {
		appOpts = append(appOpts, app.WithOutput(o.out, o.color))
	}
	if o.eventHandler != nil {
		appOpts = append(appOpts, app.WithSupervisorOptions(supervisor.WithObserver(eventObserver{handler: o.eventHandler})))
	}
	if o.backend != nil {
		appOpts = append(appOpts, app.WithProcessBackend(o.backend))
	}

	return &Localnet{
		config: cfg,
		orch:   app.New(cfg.DataDir, appOpts...),
		quiet:  o.out == nil,
	}, nil
}

// Init wipes the data directory and initializes every chain in the topology.
func (l *Localnet) Init(ctx context.Context) error {
	return l.initialize(ctx, false)
}

// Resume regenerates configuration of an initialized data directory,
// keeping keys and genesis.
func (l *Localnet) Resume(ctx context.Context) error {
	return l.initialize(ctx, true)
}

func (l *Localnet) initialize(ctx context.Context, resume bool) error {
	if l.config.Topology == "" {
		return fmt.Errorf("%w: topology file is required", ErrConfig)
	}
	_, err := l.orch.Initialize(ctx, app.InitOptions{
		TopologyPath:   l.config.Topology,
		Defaults:       topology.Defaults{Command: l.config.Command, BasePort: uint16(l.config.BasePort)},
		Resume:         resume,
		RelayerVariant: l.config.RelayerVariant,
	})
	return err
}

// Start runs the process group and blocks until it is shut down through
// Stop, a critical process failing, or ctx being cancelled.
func (l *Localnet) Start(ctx context.Context) error {
	return l.orch.Start(ctx, app.StartOptions{Quiet: l.quiet, Metrics: l.config.Metrics})
}

// Stop stops one process, or the whole group when name is "" or "all".
func (l *Localnet) Stop(ctx context.Context, name string) error {
	_, err := l.orch.Stop(ctx, name)
	return err
}

// Terminate kills one process, or every process and then the group when
// name is "" or "all".
func (l *Localnet) Terminate(ctx context.Context, name string) error {
	_, err := l.orch.Terminate(ctx, name)
	return err
}

// Status returns the cluster state and, if the group is running, the
// status of every process.
func (l *Localnet) Status(ctx context.Context) (Report, error) {
	return l.orch.Status(ctx)
}

// Ctl runs a control command ("status", "start <name>", ...) and writes
// the resulting process table to w.
func (l *Localnet) Ctl(ctx context.Context, w io.Writer, args ...string) error {
	return l.orch.Ctl(ctx, w, args)
}

// NodeHome returns the home directory of a node.
func (l *Localnet) NodeHome(chainID string, node int) string {
	return l.orch.Layout().NodeHome(chainID, node)
}

// IsNotRunning reports whether err means no group is running.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}
