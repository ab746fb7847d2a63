// Package chaind drives a cosmos-sdk style chain executable through its CLI.
//
// Key and genesis cryptography stay inside the binary; this package only
// sequences the commands and reads back what they produce.
package chaind

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bft-labs/localnet/internal/ports"
	"github.com/bft-labs/localnet/pkg/log"
)

const (
	keyringBackend = "test"
	validatorKey   = "validator"
)

// Runner executes a command and returns its stdout and stderr.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Executor implements ports.ChainExecutor for one chain binary.
type Executor struct {
	command string
	run     Runner
	logger  log.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(e *Executor) { e.run = r }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor for command.
func New(command string, opts ...Option) *Executor {
	e := &Executor{command: command, run: ExecRunner, logger: log.NewNoopLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Factory returns a ports.ChainExecutorFactory sharing opts.
func Factory(opts ...Option) ports.ChainExecutorFactory {
	return func(command string) ports.ChainExecutor {
		return New(command, opts...)
	}
}

// exec runs a subcommand against home.
func (e *Executor) exec(ctx context.Context, home string, args ...string) ([]byte, error) {
	args = append(args, "--home", home)
	e.logger.Debug("exec chain binary", log.String("cmd", e.command), log.Strings("args", args))
	stdout, stderr, err := e.run(ctx, e.command, args...)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w (stderr=%q)", e.command, strings.Join(args, " "), err, bytes.TrimSpace(stderr))
	}
	if len(bytes.TrimSpace(stdout)) == 0 {
		// Some sdk versions print JSON output on stderr.
		return stderr, nil
	}
	return stdout, nil
}

// InitValidator runs init, creates the validator key, funds it in the local
// genesis and signs the gentx.
func (e *Executor) InitValidator(ctx context.Context, req ports.ValidatorRequest) (ports.ValidatorFragment, error) {
	if _, err := e.exec(ctx, req.Home, "init", req.Moniker, "--chain-id", req.ChainID, "--default-denom", req.Denom); err != nil {
		return ports.ValidatorFragment{}, fmt.Errorf("init: %w", err)
	}

	key, err := e.AddKey(ctx, req.Home, validatorKey)
	if err != nil {
		return ports.ValidatorFragment{}, err
	}

	if _, err := e.exec(ctx, req.Home, "genesis", "add-genesis-account", key.Address, req.Coins,
		"--keyring-backend", keyringBackend); err != nil {
		return ports.ValidatorFragment{}, fmt.Errorf("add validator account: %w", err)
	}

	nodeID, err := ReadNodeID(req.Home)
	if err != nil {
		return ports.ValidatorFragment{}, fmt.Errorf("read node id: %w", err)
	}

	gentxPath := filepath.Join(req.Home, ConfigDir, "gentx", "gentx-"+nodeID+".json")
	if _, err := e.exec(ctx, req.Home, "genesis", "gentx", validatorKey, req.Staked,
		"--chain-id", req.ChainID,
		"--moniker", req.Moniker,
		"--keyring-backend", keyringBackend,
		"--output-document", gentxPath); err != nil {
		return ports.ValidatorFragment{}, fmt.Errorf("gentx: %w", err)
	}
	gentx, err := os.ReadFile(gentxPath)
	if err != nil {
		return ports.ValidatorFragment{}, fmt.Errorf("read gentx: %w", err)
	}

	pubKey, err := e.exec(ctx, req.Home, "tendermint", "show-validator")
	if err != nil {
		return ports.ValidatorFragment{}, fmt.Errorf("show validator: %w", err)
	}

	return ports.ValidatorFragment{
		NodeID:  nodeID,
		Address: key.Address,
		PubKey:  string(bytes.TrimSpace(pubKey)),
		GenTx:   gentx,
	}, nil
}

type keyOutput struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Mnemonic string `json:"mnemonic"`
}

// AddKey creates name in the test keyring of home.
func (e *Executor) AddKey(ctx context.Context, home, name string) (ports.KeyInfo, error) {
	out, err := e.exec(ctx, home, "keys", "add", name, "--keyring-backend", keyringBackend, "--output", "json")
	if err != nil {
		return ports.KeyInfo{}, fmt.Errorf("add key %s: %w", name, err)
	}
	var ko keyOutput
	if err := json.Unmarshal(out, &ko); err != nil {
		return ports.KeyInfo{}, fmt.Errorf("parse key %s: %w", name, err)
	}
	if ko.Address == "" {
		return ports.KeyInfo{}, fmt.Errorf("add key %s: empty address", name)
	}
	return ports.KeyInfo{Name: name, Address: ko.Address, Mnemonic: ko.Mnemonic}, nil
}

// AssembleGenesis funds accounts in home's genesis, drops the given gentxs
// next to home's own and runs collect-gentxs.
func (e *Executor) AssembleGenesis(ctx context.Context, home, chainID string, accounts []ports.GenesisAccount, gentxs [][]byte) ([]byte, error) {
	for _, a := range accounts {
		if _, err := e.exec(ctx, home, "genesis", "add-genesis-account", a.Address, a.Coins,
			"--keyring-backend", keyringBackend); err != nil {
			return nil, fmt.Errorf("add genesis account %s: %w", a.Address, err)
		}
	}

	dir := filepath.Join(home, ConfigDir, "gentx")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	for i, tx := range gentxs {
		path := filepath.Join(dir, fmt.Sprintf("gentx-peer%d.json", i))
		if err := os.WriteFile(path, tx, 0o644); err != nil {
			return nil, fmt.Errorf("write gentx: %w", err)
		}
	}

	if _, err := e.exec(ctx, home, "genesis", "collect-gentxs"); err != nil {
		return nil, fmt.Errorf("collect gentxs: %w", err)
	}
	if _, err := e.exec(ctx, home, "genesis", "validate-genesis"); err != nil {
		return nil, fmt.Errorf("validate genesis (chain %s): %w", chainID, err)
	}
	return os.ReadFile(filepath.Join(home, ConfigDir, GenesisFileName))
}
