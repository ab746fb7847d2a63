package domain

import (
	"fmt"
	"time"
)

// ClusterState is the persisted lifecycle state of a data directory.
type ClusterState string

const (
	StateUninitialized ClusterState = "UNINITIALIZED"
	StateInitialized   ClusterState = "INITIALIZED"
	StateRunning       ClusterState = "RUNNING"
	StateStopped       ClusterState = "STOPPED"
	StateDestroyed     ClusterState = "DESTROYED"
)

// CanTransition reports whether from -> to is a legal cluster transition.
//
//	UNINITIALIZED -> INITIALIZED
//	INITIALIZED   -> RUNNING, INITIALIZED (resume)
//	RUNNING       -> STOPPED, INITIALIZED (resume after an unclean exit)
//	STOPPED       -> RUNNING, INITIALIZED (resume)
//	any           -> DESTROYED
func CanTransition(from, to ClusterState) bool {
	if to == StateDestroyed {
		return true
	}
	switch from {
	case StateUninitialized, "":
		return to == StateInitialized
	case StateInitialized:
		return to == StateRunning || to == StateInitialized
	case StateRunning:
		return to == StateStopped || to == StateInitialized
	case StateStopped:
		return to == StateRunning || to == StateInitialized
	}
	return false
}

// ClusterRecord is what cluster.json holds.
type ClusterRecord struct {
	State     ClusterState  `json:"state"`
	UpdatedAt time.Time     `json:"updated_at"`
	Topology  string        `json:"topology_sha256"`
	Chains    []ChainRecord `json:"chains"`
}

// ChainRecord captures per-chain artifacts for resume verification.
type ChainRecord struct {
	ID            string       `json:"id"`
	GenesisSHA256 string       `json:"genesis_sha256"`
	Nodes         []NodeRecord `json:"nodes"`

	// RelayerAddress is the relayer account funded on this chain, if linked.
	RelayerAddress string `json:"relayer_address,omitempty"`
}

// NodeRecord captures one node's home and key identity.
type NodeRecord struct {
	Moniker string  `json:"moniker"`
	Home    string  `json:"home"`
	NodeID  string  `json:"node_id"`
	Ports   PortSet `json:"ports"`
}

// Transition moves the record to a new state, validating the edge.
func (r *ClusterRecord) Transition(to ClusterState, now time.Time) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("invalid cluster transition %s -> %s", r.stateOrUninit(), to)
	}
	r.State = to
	r.UpdatedAt = now.UTC()
	return nil
}

func (r ClusterRecord) stateOrUninit() ClusterState {
	if r.State == "" {
		return StateUninitialized
	}
	return r.State
}

// Chain returns the recorded chain with the given id.
func (r ClusterRecord) Chain(id string) (ChainRecord, bool) {
	for _, c := range r.Chains {
		if c.ID == id {
			return c, true
		}
	}
	return ChainRecord{}, false
}
