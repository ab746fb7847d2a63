package app

import (
	"context"

	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/topology"
	"github.com/bft-labs/localnet/pkg/log"
)

// InitOptions selects the topology and how it is materialized.
type InitOptions struct {
	TopologyPath string
	Defaults     topology.Defaults
	// Resume reuses an initialized data directory instead of wiping it.
	Resume bool
	// RelayerVariant overrides the topology's relayer variant.
	RelayerVariant string
}

// Initialize loads the topology and initializes (or resumes) the data
// directory. The returned state is INITIALIZED on success.
func (o *Orchestrator) Initialize(ctx context.Context, opts InitOptions) (domain.ClusterState, error) {
	t, err := o.loadTopology(opts)
	if err != nil {
		return domain.StateUninitialized, err
	}

	in := o.initializer()
	var rec domain.ClusterRecord
	if opts.Resume {
		o.logger.Info("resuming cluster", log.String("data", o.layout.DataDir))
		rec, err = in.Resume(ctx, t)
	} else {
		o.logger.Info("initializing cluster", log.String("data", o.layout.DataDir), log.Int("chains", len(t.Chains)), log.Int("nodes", t.NodeCount()))
		rec, err = in.Init(ctx, t)
	}
	return rec.State, err
}

func (o *Orchestrator) loadTopology(opts InitOptions) (domain.Topology, error) {
	t, err := topology.LoadWithDefaults(opts.TopologyPath, opts.Defaults)
	if err != nil {
		return domain.Topology{}, err
	}
	if opts.RelayerVariant != "" && t.Relayer != nil {
		r := *t.Relayer
		if r.Command == r.Variant {
			r.Command = opts.RelayerVariant
		}
		r.Variant = opts.RelayerVariant
		t.Relayer = &r
	}
	return t, nil
}
