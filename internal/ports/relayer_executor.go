package ports

import "context"

// RelayerExecutor runs one-shot commands of the relayer binary.
type RelayerExecutor interface {
	Run(ctx context.Context, command string, args ...string) ([]byte, error)
}
