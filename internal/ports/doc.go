// Package ports defines the interfaces that connect the orchestration core to
// the outside world.
//
// # Port Interfaces
//
//   - [ChainExecutor]: drives the external chain binary (keys, gentx, genesis)
//   - [ProcessBackend]: spawns and signals OS processes for the supervisor
//   - [StateRepository]: persists the cluster record
//   - [RelayerExecutor]: runs one-shot relayer commands
//
// The core packages (cluster, supervisor, relayer) depend only on these
// interfaces. Adapters under internal/adapters implement them with os/exec
// and the file system; tests use in-memory fakes.
package ports
