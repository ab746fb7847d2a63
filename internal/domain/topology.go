package domain

import (
	"fmt"
	"path/filepath"
)

// Topology is the ordered set of chains that make up a cluster.
type Topology struct {
	Chains     []ChainSpec
	Relayer    *RelayerSpec
	Supervisor SupervisorSpec
}

// ChainSpec describes one chain and its validators.
type ChainSpec struct {
	ID       string
	Command  string
	BasePort uint16
	Denom    string

	Validators []ValidatorSpec
	Accounts   []AccountSpec

	// Patches deep-merged into genesis.json, config.toml and app.toml.
	Genesis   map[string]any
	Config    map[string]any
	AppConfig map[string]any

	// StartFlags are extra arguments appended to "<cmd> start".
	StartFlags []string

	// Critical marks the chain's node processes as cluster-critical: a fatal
	// node takes the whole group down.
	Critical bool
}

// ValidatorSpec describes one validator node of a chain.
type ValidatorSpec struct {
	Moniker string
	Coins   string
	Staked  string
}

// AccountSpec is an extra genesis account created in node 0's keyring.
type AccountSpec struct {
	Name  string
	Coins string
}

// RelayerSpec selects the relayer variant and the chain pairs it links.
type RelayerSpec struct {
	Variant string
	Command string
	Paths   []RelayerPath
	// Coins funded to the relayer account on every linked chain. Empty means
	// a default amount of each chain's denom.
	Coins string
}

// RelayerPath links two chains.
type RelayerPath struct {
	A string
	B string
}

// Chain returns the chain with the given id.
func (t Topology) Chain(id string) (ChainSpec, bool) {
	for _, c := range t.Chains {
		if c.ID == id {
			return c, true
		}
	}
	return ChainSpec{}, false
}

// NodeCount returns the total number of validator nodes.
func (t Topology) NodeCount() int {
	n := 0
	for _, c := range t.Chains {
		n += len(c.Validators)
	}
	return n
}

// LinkedChains returns the ids of chains that appear in a relayer path, in topology order.
func (t Topology) LinkedChains() []string {
	if t.Relayer == nil {
		return nil
	}
	seen := map[string]bool{}
	for _, p := range t.Relayer.Paths {
		seen[p.A] = true
		seen[p.B] = true
	}
	var ids []string
	for _, c := range t.Chains {
		if seen[c.ID] {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// MonikerFor returns the validator moniker, defaulting to node<i>.
func (v ValidatorSpec) MonikerFor(ordinal int) string {
	if v.Moniker != "" {
		return v.Moniker
	}
	return NodeName(ordinal)
}

// NodeName is the directory and process name of the i-th node of a chain.
func NodeName(ordinal int) string {
	return fmt.Sprintf("node%d", ordinal)
}

// PortSet holds the service ports of a single node.
type PortSet struct {
	P2P   uint16 `json:"p2p"`
	RPC   uint16 `json:"rpc"`
	GRPC  uint16 `json:"grpc"`
	API   uint16 `json:"api"`
	PProf uint16 `json:"pprof"`
}

// All returns the ports in a fixed order.
func (p PortSet) All() []uint16 {
	return []uint16{p.P2P, p.RPC, p.GRPC, p.API, p.PProf}
}

// NodeSpec is a validator materialized on disk.
type NodeSpec struct {
	ChainID string
	Moniker string
	Ordinal int
	Ports   PortSet
	Home    string
	LogPath string
	Peers   []string
}

// Name returns the supervisor process name of the node.
func (n NodeSpec) Name() string {
	return ProcessName(n.ChainID, n.Ordinal)
}

// ProcessName is "<chain-id>-node<i>".
func ProcessName(chainID string, ordinal int) string {
	return chainID + "-" + NodeName(ordinal)
}

// Layout resolves the on-disk locations under a data directory.
type Layout struct {
	DataDir string
}

func (l Layout) ChainDir(chainID string) string { return filepath.Join(l.DataDir, chainID) }

func (l Layout) NodeHome(chainID string, ordinal int) string {
	return filepath.Join(l.ChainDir(chainID), NodeName(ordinal))
}

func (l Layout) NodeLog(chainID string, ordinal int) string {
	return filepath.Join(l.ChainDir(chainID), NodeName(ordinal)+".log")
}

func (l Layout) StateFile() string      { return filepath.Join(l.DataDir, "cluster.json") }
func (l Layout) LockFile() string       { return filepath.Join(l.DataDir, ".lock") }
func (l Layout) DescriptorFile() string { return filepath.Join(l.DataDir, "supervisor.toml") }
func (l Layout) ControlSocket() string  { return filepath.Join(l.DataDir, "supervisor.sock") }
func (l Layout) RelayerDir() string     { return filepath.Join(l.DataDir, "relayer") }
func (l Layout) RelayerConfig() string  { return filepath.Join(l.RelayerDir(), "config.toml") }
func (l Layout) RelayerLog() string     { return filepath.Join(l.DataDir, "relayer.log") }
