package fs

import (
	"context"
	"encoding/json"
	"os"

	"github.com/bft-labs/localnet/internal/domain"
)

// ClusterFileRepository implements ports.StateRepository using cluster.json.
type ClusterFileRepository struct {
	path string
}

// NewClusterFileRepository creates a repository for the state file at path.
func NewClusterFileRepository(path string) *ClusterFileRepository {
	return &ClusterFileRepository{path: path}
}

// Load retrieves the last saved record.
// Returns an UNINITIALIZED record and nil error if no state file exists.
func (r *ClusterFileRepository) Load(ctx context.Context) (domain.ClusterRecord, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ClusterRecord{State: domain.StateUninitialized}, nil
		}
		return domain.ClusterRecord{}, err
	}

	var rec domain.ClusterRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.ClusterRecord{}, err
	}
	if rec.State == "" {
		rec.State = domain.StateUninitialized
	}
	return rec, nil
}

// Save persists the record atomically.
func (r *ClusterFileRepository) Save(ctx context.Context, rec domain.ClusterRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	_, err = WriteFileAtomic(r.path, append(data, '\n'), 0o644)
	return err
}

// Path returns the full path to the state file.
func (r *ClusterFileRepository) Path() string {
	return r.path
}
