// Package relayer configures an IBC relayer for the linked chains of a
// cluster and hands it to the supervisor once the chains serve RPC.
package relayer

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/bft-labs/localnet/internal/adapters/fs"
	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/ports"
	"github.com/bft-labs/localnet/pkg/log"
)

// ProcessStarter starts a supervised process that was registered with
// autostart disabled.
type ProcessStarter interface {
	StartProcess(name string) error
}

// Probe checks that an RPC endpoint answers.
type Probe func(ctx context.Context, rpcAddr string) error

// Bootstrapper writes relayer configuration and brings the relayer up.
type Bootstrapper struct {
	registry Registry
	exec     ports.RelayerExecutor
	probe    Probe
	attempts uint
	delay    time.Duration
	logger   log.Logger
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithExecutor replaces the command executor.
func WithExecutor(e ports.RelayerExecutor) Option {
	return func(b *Bootstrapper) { b.exec = e }
}

// WithProbe replaces the RPC readiness probe.
func WithProbe(p Probe) Option {
	return func(b *Bootstrapper) { b.probe = p }
}

// WithReadiness sets how many times and how often endpoints are probed.
func WithReadiness(attempts uint, delay time.Duration) Option {
	return func(b *Bootstrapper) {
		b.attempts = attempts
		b.delay = delay
	}
}

// WithRegistry replaces the variant registry.
func WithRegistry(r Registry) Option {
	return func(b *Bootstrapper) { b.registry = r }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(b *Bootstrapper) { b.logger = l }
}

// NewBootstrapper creates a Bootstrapper with the built-in variants.
func NewBootstrapper(opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		registry: DefaultRegistry(),
		exec:     CommandExecutor{},
		probe:    HTTPProbe(2 * time.Second),
		attempts: 60,
		delay:    time.Second,
		logger:   log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Validate checks that the variant of in is known.
func (b *Bootstrapper) Validate(in Input) error {
	_, err := b.registry.Lookup(in.Variant)
	return err
}

// Configure writes the relayer configuration and imports one key per linked
// chain. mnemonics maps chain ids to the relayer key mnemonic.
func (b *Bootstrapper) Configure(ctx context.Context, in Input, mnemonics map[string]string) error {
	v, err := b.registry.Lookup(in.Variant)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(in.KeyStoreDir, 0o700); err != nil {
		return &domain.RelayerConfigError{Variant: in.Variant, Reason: "create relayer dir", Err: err}
	}
	if _, err := b.writeConfig(v, in); err != nil {
		return err
	}

	for _, c := range in.Chains {
		m, ok := mnemonics[c.ChainID]
		if !ok || m == "" {
			return &domain.RelayerConfigError{Variant: in.Variant, Chain: c.ChainID, Reason: "no relayer mnemonic"}
		}
		if err := os.WriteFile(c.MnemonicFile, []byte(m+"\n"), 0o600); err != nil {
			return &domain.RelayerConfigError{Variant: in.Variant, Chain: c.ChainID, Reason: "write mnemonic", Err: err}
		}
		if out, err := b.exec.Run(ctx, in.Command, v.ImportKeyArgs(in, c)...); err != nil {
			return &domain.RelayerConfigError{Variant: in.Variant, Chain: c.ChainID, Reason: fmt.Sprintf("import key: %s", out), Err: err}
		}
		b.logger.Info("relayer key imported", log.String("chain", c.ChainID), log.String("key", c.KeyName))
	}
	return nil
}

// Refresh rewrites the configuration file only, for resume. It reports
// whether the file changed.
func (b *Bootstrapper) Refresh(in Input) (bool, error) {
	v, err := b.registry.Lookup(in.Variant)
	if err != nil {
		return false, err
	}
	return b.writeConfig(v, in)
}

func (b *Bootstrapper) writeConfig(v Variant, in Input) (bool, error) {
	data, err := v.ConfigFile(in)
	if err != nil {
		return false, &domain.RelayerConfigError{Variant: in.Variant, Reason: "render config", Err: err}
	}
	changed, err := fs.WriteFileAtomic(in.ConfigPath, data, 0o644)
	if err != nil {
		return false, &domain.RelayerConfigError{Variant: in.Variant, Reason: "write config", Err: err}
	}
	if err := in.save(); err != nil {
		return false, &domain.RelayerConfigError{Variant: in.Variant, Reason: "save input", Err: err}
	}
	return changed, nil
}

// Entry returns the supervisor process entry for the relayer. It is
// registered without autostart; Attach starts it.
func (b *Bootstrapper) Entry(in Input) (domain.ProcessEntry, error) {
	v, err := b.registry.Lookup(in.Variant)
	if err != nil {
		return domain.ProcessEntry{}, err
	}
	return domain.ProcessEntry{
		Name:      domain.RelayerProcess,
		Command:   in.Command,
		Args:      v.StartArgs(in),
		Dir:       in.Dir,
		LogPath:   in.LogPath,
		AutoStart: false,
		Restart:   in.Restart,
		Owner:     domain.GlobalOwner,
	}, nil
}

// WaitReady blocks until every linked chain answers on RPC.
func (b *Bootstrapper) WaitReady(ctx context.Context, in Input) error {
	for _, c := range in.Chains {
		err := retry.Do(
			func() error { return b.probe(ctx, c.RPCAddr) },
			retry.Context(ctx),
			retry.Attempts(b.attempts),
			retry.Delay(b.delay),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			return &domain.RelayerConfigError{Variant: in.Variant, Chain: c.ChainID, Reason: "rpc endpoint " + c.RPCAddr + " unreachable", Err: err}
		}
		b.logger.Debug("chain rpc ready", log.String("chain", c.ChainID), log.String("rpc", c.RPCAddr))
	}
	return nil
}

// Attach waits for the linked chains, creates a channel per path and starts
// the relayer process through starter.
func (b *Bootstrapper) Attach(ctx context.Context, in Input, starter ProcessStarter) error {
	v, err := b.registry.Lookup(in.Variant)
	if err != nil {
		return err
	}
	if err := b.WaitReady(ctx, in); err != nil {
		return err
	}
	for _, p := range in.Paths {
		out, err := b.exec.Run(ctx, in.Command, v.CreateChannelArgs(in, p)...)
		if err != nil {
			return &domain.RelayerConfigError{Variant: in.Variant, Chain: p.A, Reason: fmt.Sprintf("create channel %s <-> %s: %s", p.A, p.B, out), Err: err}
		}
		b.logger.Info("relayer channel created", log.String("a", p.A), log.String("b", p.B))
	}
	if err := starter.StartProcess(domain.RelayerProcess); err != nil {
		return &domain.RelayerConfigError{Variant: in.Variant, Reason: "start relayer process", Err: err}
	}
	return nil
}

// HTTPProbe returns a Probe that requests <rpc>/status.
func HTTPProbe(timeout time.Duration) Probe {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context, rpcAddr string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rpcAddr+"/status", nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}
}

// CommandExecutor implements ports.RelayerExecutor with os/exec.
type CommandExecutor struct{}

func (CommandExecutor) Run(ctx context.Context, command string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, command, args...).CombinedOutput()
}
