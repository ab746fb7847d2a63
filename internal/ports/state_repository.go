package ports

import (
	"context"

	"github.com/bft-labs/localnet/internal/domain"
)

// StateRepository persists the cluster record.
type StateRepository interface {
	// Load returns the record, or a zero record (UNINITIALIZED) and nil error
	// when nothing has been saved yet.
	Load(ctx context.Context) (domain.ClusterRecord, error)

	// Save persists the record atomically (temp file, then rename).
	Save(ctx context.Context, rec domain.ClusterRecord) error
}
