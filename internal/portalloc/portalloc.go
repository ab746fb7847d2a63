// Package portalloc assigns service ports to every node of a cluster.
//
// Ports are laid out in fixed strides so the assignment is a pure function
// of (chain ordinal, node ordinal, base port):
//
//	port = base + chain*ChainStride + node*NodeStride + slot
//
// with slots p2p=0, rpc=1, grpc=2, api=7, pprof=8. Global endpoints (relayer,
// metrics) are placed right after the highest chain range.
package portalloc

import (
	"fmt"
	"math"
	"sort"

	"github.com/bft-labs/localnet/internal/domain"
)

const (
	// NodeStride is the number of ports reserved per node.
	NodeStride = 10
	// MaxNodesPerChain bounds validators per chain so chain ranges never touch.
	MaxNodesPerChain = 16
	// ChainStride is the number of ports reserved per chain.
	ChainStride = NodeStride * MaxNodesPerChain
	// GlobalSlots is the number of ports reserved for global endpoints.
	GlobalSlots = 10
)

const (
	slotP2P   = 0
	slotRPC   = 1
	slotGRPC  = 2
	slotAPI   = 7
	slotPProf = 8
)

// Global endpoint slots, relative to the global base.
const (
	SlotRelayerREST      = 0
	SlotRelayerTelemetry = 1
	SlotMetrics          = 2
)

// Allocate returns the ports of one node. It is pure and deterministic, and
// injective over chain < math.MaxUint16/ChainStride and node < MaxNodesPerChain.
func Allocate(chainOrdinal, nodeOrdinal int, basePort uint16) domain.PortSet {
	start := nodeBase(chainOrdinal, nodeOrdinal, basePort)
	return domain.PortSet{
		P2P:   uint16(start + slotP2P),
		RPC:   uint16(start + slotRPC),
		GRPC:  uint16(start + slotGRPC),
		API:   uint16(start + slotAPI),
		PProf: uint16(start + slotPProf),
	}
}

func nodeBase(chainOrdinal, nodeOrdinal int, basePort uint16) int {
	return int(basePort) + chainOrdinal*ChainStride + nodeOrdinal*NodeStride
}

// Range is a half-open port interval [Start, End).
type Range struct {
	Owner string
	Start int
	End   int
}

func (r Range) overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// ChainRange returns the ports reserved for chain ordinal i with n nodes.
func ChainRange(chainOrdinal, nodes int, basePort uint16) Range {
	start := nodeBase(chainOrdinal, 0, basePort)
	return Range{Start: start, End: start + nodes*NodeStride}
}

// CheckRanges validates that every chain fits the 16-bit port space, does not
// exceed MaxNodesPerChain and does not overlap another chain or the global block.
// The returned error is a plain reason; callers wrap it into a ConfigError.
func CheckRanges(t domain.Topology) error {
	ranges := make([]Range, 0, len(t.Chains)+1)
	for i, c := range t.Chains {
		if len(c.Validators) > MaxNodesPerChain {
			return fmt.Errorf("chain %s has %d validators, at most %d supported", c.ID, len(c.Validators), MaxNodesPerChain)
		}
		r := ChainRange(i, len(c.Validators), c.BasePort)
		r.Owner = "chain " + c.ID
		ranges = append(ranges, r)
	}
	g := globalRange(t)
	g.Owner = "global endpoints"
	ranges = append(ranges, g)

	for _, r := range ranges {
		if r.Start < 1 || r.End-1 > math.MaxUint16 {
			return fmt.Errorf("%s ports [%d, %d) exceed the 16-bit port range", r.Owner, r.Start, r.End)
		}
	}
	for i := range ranges {
		for j := i + 1; j < len(ranges); j++ {
			if ranges[i].overlaps(ranges[j]) {
				return fmt.Errorf("%s ports [%d, %d) overlap %s ports [%d, %d)",
					ranges[i].Owner, ranges[i].Start, ranges[i].End,
					ranges[j].Owner, ranges[j].Start, ranges[j].End)
			}
		}
	}
	return nil
}

func globalRange(t domain.Topology) Range {
	end := 0
	for i, c := range t.Chains {
		if r := ChainRange(i, MaxNodesPerChain, c.BasePort); r.End > end {
			end = r.End
		}
	}
	return Range{Start: end, End: end + GlobalSlots}
}

// Plan is the full port assignment of a cluster.
type Plan struct {
	// Nodes is indexed by chain ordinal, then node ordinal.
	Nodes      [][]domain.PortSet
	GlobalBase uint16
}

// Node returns the ports of one node.
func (p Plan) Node(chainOrdinal, nodeOrdinal int) domain.PortSet {
	return p.Nodes[chainOrdinal][nodeOrdinal]
}

// Global returns the port of a global endpoint slot.
func (p Plan) Global(slot int) uint16 {
	return p.GlobalBase + uint16(slot)
}

// NewPlan allocates every node of the topology plus the global block and
// verifies the result is pairwise disjoint.
func NewPlan(t domain.Topology) (Plan, error) {
	g := globalRange(t)
	if g.End-1 > math.MaxUint16 {
		return Plan{}, &domain.PortConflictError{Port: math.MaxUint16, First: "global endpoints", Second: "port space limit"}
	}
	plan := Plan{
		Nodes:      make([][]domain.PortSet, len(t.Chains)),
		GlobalBase: uint16(g.Start),
	}
	for i, c := range t.Chains {
		plan.Nodes[i] = make([]domain.PortSet, len(c.Validators))
		for j := range c.Validators {
			plan.Nodes[i][j] = Allocate(i, j, c.BasePort)
		}
	}
	if err := plan.Verify(t); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// Verify checks that no port is assigned twice across nodes and global endpoints.
func (p Plan) Verify(t domain.Topology) error {
	owners := make(map[uint16]string)
	claim := func(port uint16, owner string) error {
		if prev, ok := owners[port]; ok {
			return &domain.PortConflictError{Port: port, First: prev, Second: owner}
		}
		owners[port] = owner
		return nil
	}
	for i, sets := range p.Nodes {
		for j, ps := range sets {
			owner := domain.ProcessName(t.Chains[i].ID, j)
			for _, port := range ps.All() {
				if err := claim(port, owner); err != nil {
					return err
				}
			}
		}
	}
	for _, slot := range []int{SlotRelayerREST, SlotRelayerTelemetry, SlotMetrics} {
		if err := claim(p.Global(slot), domain.GlobalOwner); err != nil {
			return err
		}
	}
	return nil
}

// Ports returns every assigned port in ascending order.
func (p Plan) Ports() []uint16 {
	var out []uint16
	for _, sets := range p.Nodes {
		for _, ps := range sets {
			out = append(out, ps.All()...)
		}
	}
	out = append(out, p.Global(SlotRelayerREST), p.Global(SlotRelayerTelemetry), p.Global(SlotMetrics))
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
