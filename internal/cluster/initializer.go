// Package cluster materializes a topology on disk: node homes, a shared
// genesis per chain, peer wiring, relayer configuration, the process
// descriptor and the persisted cluster state.
package cluster

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/localnet/internal/adapters/chaind"
	"github.com/bft-labs/localnet/internal/adapters/fs"
	"github.com/bft-labs/localnet/internal/descriptor"
	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/portalloc"
	"github.com/bft-labs/localnet/internal/ports"
	"github.com/bft-labs/localnet/internal/relayer"
	"github.com/bft-labs/localnet/pkg/log"
)

const (
	stagingSuffix       = ".tmp"
	defaultRelayerCoins = "100000000000"
)

// Initializer performs fresh initialization and resume of a data directory.
type Initializer struct {
	layout    domain.Layout
	executors ports.ChainExecutorFactory
	repo      ports.StateRepository
	relayer   *relayer.Bootstrapper
	logger    log.Logger
	now       func() time.Time
}

// Option configures an Initializer.
type Option func(*Initializer)

// WithStateRepository replaces the cluster.json repository.
func WithStateRepository(r ports.StateRepository) Option {
	return func(in *Initializer) { in.repo = r }
}

// WithRelayer sets the relayer bootstrapper used for topologies with a relayer.
func WithRelayer(b *relayer.Bootstrapper) Option {
	return func(in *Initializer) { in.relayer = b }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(in *Initializer) { in.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(in *Initializer) { in.now = now }
}

// New creates an Initializer for layout driving chain binaries via executors.
func New(layout domain.Layout, executors ports.ChainExecutorFactory, opts ...Option) *Initializer {
	in := &Initializer{
		layout:    layout,
		executors: executors,
		repo:      fs.NewClusterFileRepository(layout.StateFile()),
		relayer:   relayer.NewBootstrapper(),
		logger:    log.NewNoopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// chainResult is what initChain hands back for the cluster record and relayer.
type chainResult struct {
	record   domain.ChainRecord
	mnemonic string
}

// Init wipes the data directory and builds the cluster from scratch. The
// state file is written INITIALIZED only after every step succeeded.
func (in *Initializer) Init(ctx context.Context, t domain.Topology) (domain.ClusterRecord, error) {
	plan, err := portalloc.NewPlan(t)
	if err != nil {
		return domain.ClusterRecord{}, err
	}

	if t.Relayer != nil {
		if err := in.relayer.Validate(relayer.Input{Variant: t.Relayer.Variant}); err != nil {
			return domain.ClusterRecord{}, err
		}
	}

	if err := os.MkdirAll(in.layout.DataDir, 0o755); err != nil {
		return domain.ClusterRecord{}, err
	}
	lock, err := fs.AcquireLock(in.layout.LockFile(), "init")
	if err != nil {
		return domain.ClusterRecord{}, err
	}
	defer lock.Release()

	if err := in.clearDataDir(); err != nil {
		return domain.ClusterRecord{}, fmt.Errorf("clear data dir: %w", err)
	}

	rec := domain.ClusterRecord{State: domain.StateUninitialized, Topology: Fingerprint(t)}
	mnemonics := map[string]string{}
	addresses := map[string]string{}
	linked := map[string]bool{}
	for _, id := range t.LinkedChains() {
		linked[id] = true
	}

	for i, c := range t.Chains {
		res, err := in.initChain(ctx, t, i, c, plan, linked[c.ID])
		if err != nil {
			return domain.ClusterRecord{}, err
		}
		rec.Chains = append(rec.Chains, res.record)
		if linked[c.ID] {
			mnemonics[c.ID] = res.mnemonic
			addresses[c.ID] = res.record.RelayerAddress
		}
		in.logger.Info("chain initialized", log.String("chain", c.ID), log.Int("nodes", len(c.Validators)))
	}

	var relayerEntry *domain.ProcessEntry
	if t.Relayer != nil {
		rin, err := relayer.NewInput(t, plan, in.layout, addresses)
		if err != nil {
			return domain.ClusterRecord{}, err
		}
		if err := in.relayer.Configure(ctx, rin, mnemonics); err != nil {
			return domain.ClusterRecord{}, err
		}
		e, err := in.relayer.Entry(rin)
		if err != nil {
			return domain.ClusterRecord{}, err
		}
		relayerEntry = &e
	}

	if _, err := descriptor.Write(in.layout.DescriptorFile(), descriptor.Generate(t, plan, in.layout, relayerEntry)); err != nil {
		return domain.ClusterRecord{}, fmt.Errorf("write descriptor: %w", err)
	}

	if err := rec.Transition(domain.StateInitialized, in.now()); err != nil {
		return domain.ClusterRecord{}, err
	}
	if err := in.repo.Save(ctx, rec); err != nil {
		return domain.ClusterRecord{}, fmt.Errorf("save cluster state: %w", err)
	}
	in.logger.Info("cluster initialized", log.String("data", in.layout.DataDir), log.Int("chains", len(t.Chains)))
	return rec, nil
}

// clearDataDir removes everything under the data dir except the lock.
func (in *Initializer) clearDataDir() error {
	entries, err := os.ReadDir(in.layout.DataDir)
	if err != nil {
		return err
	}
	lockName := filepath.Base(in.layout.LockFile())
	for _, e := range entries {
		if e.Name() == lockName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(in.layout.DataDir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (in *Initializer) initChain(ctx context.Context, t domain.Topology, ordinal int, c domain.ChainSpec, plan portalloc.Plan, linked bool) (chainResult, error) {
	exec := in.executors(c.Command)
	n := len(c.Validators)
	staging := make([]string, n)
	frags := make([]ports.ValidatorFragment, n)
	promoted := false
	defer func() {
		if promoted {
			return
		}
		for _, dir := range staging {
			if dir == "" {
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				in.logger.Warn("remove staging home", log.String("dir", dir), log.Err(err))
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i, v := range c.Validators {
		i, v := i, v
		staging[i] = in.layout.NodeHome(c.ID, i) + stagingSuffix
		g.Go(func() error {
			moniker := v.MonikerFor(i)
			if err := os.MkdirAll(staging[i], 0o755); err != nil {
				return &domain.NodeError{Chain: c.ID, Node: moniker, Err: err}
			}
			frag, err := exec.InitValidator(gctx, ports.ValidatorRequest{
				Home:    staging[i],
				ChainID: c.ID,
				Moniker: moniker,
				Denom:   c.Denom,
				Coins:   v.Coins,
				Staked:  v.Staked,
			})
			if err != nil {
				return &domain.NodeError{Chain: c.ID, Node: moniker, Err: err}
			}
			frags[i] = frag
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return chainResult{}, err
	}

	node0 := c.Validators[0].MonikerFor(0)
	var accounts []ports.GenesisAccount
	for i := 1; i < n; i++ {
		accounts = append(accounts, ports.GenesisAccount{Address: frags[i].Address, Coins: c.Validators[i].Coins})
	}
	for _, a := range c.Accounts {
		key, err := exec.AddKey(ctx, staging[0], a.Name)
		if err != nil {
			return chainResult{}, &domain.NodeError{Chain: c.ID, Node: node0, Err: err}
		}
		accounts = append(accounts, ports.GenesisAccount{Address: key.Address, Coins: a.Coins})
	}

	var res chainResult
	if linked {
		key, err := exec.AddKey(ctx, staging[0], relayer.KeyName)
		if err != nil {
			return chainResult{}, &domain.NodeError{Chain: c.ID, Node: node0, Err: err}
		}
		coins := t.Relayer.Coins
		if coins == "" {
			coins = defaultRelayerCoins + c.Denom
		}
		accounts = append(accounts, ports.GenesisAccount{Address: key.Address, Coins: coins})
		res.mnemonic = key.Mnemonic
		res.record.RelayerAddress = key.Address
	}

	gentxs := make([][]byte, 0, n-1)
	for i := 1; i < n; i++ {
		gentxs = append(gentxs, frags[i].GenTx)
	}
	genesis, err := exec.AssembleGenesis(ctx, staging[0], c.ID, accounts, gentxs)
	if err != nil {
		return chainResult{}, &domain.NodeError{Chain: c.ID, Node: node0, Err: err}
	}
	genesis, err = patchGenesis(genesis, c.Genesis)
	if err != nil {
		return chainResult{}, &domain.NodeError{Chain: c.ID, Node: node0, Err: err}
	}

	ids := make([]string, n)
	for i := range frags {
		ids[i] = frags[i].NodeID
	}
	nodes := nodeSpecs(in.layout, c, ordinal, plan, ids)

	for i, node := range nodes {
		genPath := filepath.Join(staging[i], chaind.ConfigDir, chaind.GenesisFileName)
		if _, err := fs.WriteFileAtomic(genPath, genesis, 0o644); err != nil {
			return chainResult{}, &domain.NodeError{Chain: c.ID, Node: node.Moniker, Err: err}
		}
		if err := writeNodeConfig(staging[i], c, node); err != nil {
			return chainResult{}, &domain.NodeError{Chain: c.ID, Node: node.Moniker, Err: err}
		}
	}

	for i, node := range nodes {
		if err := os.Rename(staging[i], node.Home); err != nil {
			return chainResult{}, &domain.NodeError{Chain: c.ID, Node: node.Moniker, Err: err}
		}
	}

	res.record.ID = c.ID
	res.record.GenesisSHA256 = checksum(genesis)
	for _, node := range nodes {
		res.record.Nodes = append(res.record.Nodes, domain.NodeRecord{
			Moniker: node.Moniker,
			Home:    node.Home,
			NodeID:  ids[node.Ordinal],
			Ports:   node.Ports,
		})
	}
	promoted = true
	return res, nil
}

// nodeSpecs resolves the homes, ports and peers of every node of chain c.
func nodeSpecs(layout domain.Layout, c domain.ChainSpec, ordinal int, plan portalloc.Plan, ids []string) []domain.NodeSpec {
	ps := make([]domain.PortSet, len(c.Validators))
	for i := range c.Validators {
		ps[i] = plan.Node(ordinal, i)
	}
	nodes := make([]domain.NodeSpec, len(c.Validators))
	for i, v := range c.Validators {
		nodes[i] = domain.NodeSpec{
			ChainID: c.ID,
			Moniker: v.MonikerFor(i),
			Ordinal: i,
			Ports:   ps[i],
			Home:    layout.NodeHome(c.ID, i),
			LogPath: layout.NodeLog(c.ID, i),
			Peers:   persistentPeers(i, ids, ps),
		}
	}
	return nodes
}

func patchGenesis(genesis []byte, patch map[string]any) ([]byte, error) {
	if len(patch) == 0 {
		return genesis, nil
	}
	dec := json.NewDecoder(bytes.NewReader(genesis))
	dec.UseNumber()
	doc := map[string]any{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	out, err := json.MarshalIndent(deepMerge(doc, patch), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode genesis: %w", err)
	}
	return out, nil
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type fingerprintChain struct {
	ID       string   `json:"id"`
	Command  string   `json:"cmd"`
	BasePort uint16   `json:"base_port"`
	Monikers []string `json:"monikers"`
}

// Fingerprint identifies the chain/node layout of a topology. Patches and
// start flags are excluded so they can change between resumes.
func Fingerprint(t domain.Topology) string {
	chains := make([]fingerprintChain, len(t.Chains))
	for i, c := range t.Chains {
		chains[i] = fingerprintChain{ID: c.ID, Command: c.Command, BasePort: c.BasePort}
		for j, v := range c.Validators {
			chains[i].Monikers = append(chains[i].Monikers, v.MonikerFor(j))
		}
	}
	b, _ := json.Marshal(chains)
	return checksum(b)
}
