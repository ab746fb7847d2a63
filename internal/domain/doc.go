// Package domain contains the core entities of a localnet cluster.
//
// It has no dependencies on infrastructure concerns (processes, file system,
// logging) and holds only values and rules:
//
//   - [Topology], [ChainSpec], [ValidatorSpec]: the declarative cluster description
//   - [NodeSpec], [PortSet]: materialized per-node runtime facts
//   - [ProcessEntry], [RestartPolicy]: what the supervisor runs and how it restarts
//   - [ClusterState]: the persisted cluster lifecycle state machine
//   - the error taxonomy in errors.go
//
// A Topology is built once from an immutable config snapshot and passed
// explicitly to every component; nothing mutates it afterwards.
package domain
