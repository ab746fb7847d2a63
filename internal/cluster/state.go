package cluster

import (
	"context"

	"github.com/bft-labs/localnet/internal/domain"
)

// Record returns the persisted cluster record.
func (in *Initializer) Record(ctx context.Context) (domain.ClusterRecord, error) {
	return in.repo.Load(ctx)
}

// Transition moves the persisted cluster state to to.
func (in *Initializer) Transition(ctx context.Context, to domain.ClusterState) (domain.ClusterRecord, error) {
	rec, err := in.repo.Load(ctx)
	if err != nil {
		return rec, err
	}
	if rec.State == to {
		return rec, nil
	}
	if err := rec.Transition(to, in.now()); err != nil {
		return rec, err
	}
	return rec, in.repo.Save(ctx, rec)
}

// Layout returns the data directory layout.
func (in *Initializer) Layout() domain.Layout {
	return in.layout
}
