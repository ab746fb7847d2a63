// Package clustertest provides stand-ins for the chain and relayer binaries
// so cluster initialization can run in tests without them.
package clustertest

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bft-labs/localnet/internal/adapters/chaind"
	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/ports"
)

// Chain stands in for a chain binary, writing the files a real one would.
type Chain struct {
	// FailMoniker makes InitValidator fail for that validator.
	FailMoniker string
	// Block, if set, holds InitValidator until it is closed.
	Block chan struct{}
	// Started, if set, is closed when the first InitValidator begins.
	Started chan struct{}

	once sync.Once
}

// Factory returns c for every command.
func (c *Chain) Factory(command string) ports.ChainExecutor { return c }

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func (c *Chain) InitValidator(ctx context.Context, req ports.ValidatorRequest) (ports.ValidatorFragment, error) {
	if c.Started != nil {
		c.once.Do(func() { close(c.Started) })
	}
	if c.Block != nil {
		select {
		case <-c.Block:
		case <-ctx.Done():
			return ports.ValidatorFragment{}, ctx.Err()
		}
	}
	if req.Moniker == c.FailMoniker {
		return ports.ValidatorFragment{}, errors.New("init failed")
	}

	cfg := filepath.Join(req.Home, chaind.ConfigDir)
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return ports.ValidatorFragment{}, err
	}
	nk := map[string]any{"priv_key": map[string]string{"type": "tendermint/PrivKeyEd25519", "value": base64.StdEncoding.EncodeToString(priv)}}
	if err := writeJSON(filepath.Join(cfg, chaind.NodeKeyFileName), nk); err != nil {
		return ports.ValidatorFragment{}, err
	}
	if err := writeJSON(filepath.Join(cfg, chaind.PrivValFileName), map[string]string{}); err != nil {
		return ports.ValidatorFragment{}, err
	}
	if err := writeJSON(filepath.Join(cfg, chaind.GenesisFileName), map[string]string{"chain_id": req.ChainID}); err != nil {
		return ports.ValidatorFragment{}, err
	}
	if err := os.WriteFile(filepath.Join(cfg, "config.toml"), []byte("proxy_app = \"tcp://127.0.0.1:26658\"\n\n[p2p]\nseeds = \"\"\n"), 0o644); err != nil {
		return ports.ValidatorFragment{}, err
	}
	if err := os.WriteFile(filepath.Join(cfg, "app.toml"), []byte("pruning = \"default\"\n"), 0o644); err != nil {
		return ports.ValidatorFragment{}, err
	}

	id, err := chaind.ReadNodeID(req.Home)
	if err != nil {
		return ports.ValidatorFragment{}, err
	}
	return ports.ValidatorFragment{
		NodeID:  id,
		Address: "cosmos1" + req.Moniker,
		GenTx:   []byte(fmt.Sprintf(`{"moniker":%q}`, req.Moniker)),
	}, nil
}

func (c *Chain) AddKey(ctx context.Context, home, name string) (ports.KeyInfo, error) {
	return ports.KeyInfo{Name: name, Address: "cosmos1" + name, Mnemonic: name + " mnemonic"}, nil
}

func (c *Chain) AssembleGenesis(ctx context.Context, home, chainID string, accounts []ports.GenesisAccount, gentxs [][]byte) ([]byte, error) {
	var addrs []string
	for _, a := range accounts {
		addrs = append(addrs, a.Address)
	}
	doc := map[string]any{
		"chain_id": chainID,
		"accounts": addrs,
		"gentxs":   len(gentxs) + 1,
		"app_state": map[string]any{
			"staking": map[string]any{"params": map[string]any{"bond_denom": "stake", "unbonding_time": "1814400s"}},
		},
	}
	path := filepath.Join(home, chaind.ConfigDir, chaind.GenesisFileName)
	if err := writeJSON(path, doc); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Relayer records relayer commands and succeeds.
type Relayer struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *Relayer) Run(ctx context.Context, command string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{command}, args...))
	return nil, nil
}

// Calls returns the recorded command lines.
func (r *Relayer) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

// TwoByTwo is two chains of two validators linked by a relayer.
func TwoByTwo() domain.Topology {
	validators := func() []domain.ValidatorSpec {
		return []domain.ValidatorSpec{{Coins: "10stake", Staked: "5stake"}, {Coins: "10stake", Staked: "5stake"}}
	}
	return domain.Topology{
		Chains: []domain.ChainSpec{
			{
				ID: "chain-a", Command: "chaind", BasePort: 26650, Denom: "stake",
				Validators: validators(),
				Accounts:   []domain.AccountSpec{{Name: "community", Coins: "100stake"}},
				Genesis: map[string]any{"app_state": map[string]any{
					"staking": map[string]any{"params": map[string]any{"unbonding_time": "60s"}},
				}},
				Config: map[string]any{"consensus": map[string]any{"timeout_commit": "1s"}},
			},
			{ID: "chain-b", Command: "chaind", BasePort: 26650, Denom: "stake", Validators: validators()},
		},
		Relayer:    &domain.RelayerSpec{Variant: "hermes", Command: "hermes", Paths: []domain.RelayerPath{{A: "chain-a", B: "chain-b"}}},
		Supervisor: domain.SupervisorSpec{}.WithDefaults(),
	}
}
