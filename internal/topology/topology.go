// Package topology loads and validates the cluster topology file.
//
// The file is YAML:
//
//	cmd: chaind                  # default executable for every chain
//	chains:
//	  - chain_id: chain-a
//	    cmd: chaind              # optional, overrides the top-level cmd
//	    base_port: 26650         # optional, falls back to the CLI default
//	    denom: stake
//	    validators:              # a list, or just a count
//	      - moniker: alice
//	        coins: 1000000000000stake
//	        staked: 1000000000stake
//	      - {}
//	    accounts:
//	      - name: community
//	        coins: 10000000000stake
//	    genesis: {}              # deep-merged into genesis.json
//	    config: {}               # merged into config/config.toml
//	    app_config: {}           # merged into config/app.toml
//	    start_flags: "--trace"
//	    critical: true
//	relayer:
//	  variant: hermes
//	  cmd: hermes
//	  coins: 100000000stake
//	  paths:
//	    - [chain-a, chain-b]
//	supervisor:
//	  max_retries: 3
//	  backoff_initial: 1s
//	  backoff_max: 30s
//	  grace_period: 10s
//	  start_seconds: 1s
package topology

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"

	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/portalloc"
)

// DefaultDenom is used for chains that do not name one.
const DefaultDenom = "stake"

// DefaultRelayerVariant is used when the relayer section omits the variant.
const DefaultRelayerVariant = "hermes"

const (
	defaultValidatorCoins = "1000000000000"
	defaultStaked         = "1000000000"
)

// Defaults are fallbacks supplied by the caller, typically from CLI flags.
type Defaults struct {
	Command  string
	BasePort uint16
}

type fileTopology struct {
	Command    string         `yaml:"cmd"`
	Chains     []fileChain    `yaml:"chains"`
	Relayer    *fileRelayer   `yaml:"relayer"`
	Supervisor fileSupervisor `yaml:"supervisor"`
}

type fileChain struct {
	ID         string         `yaml:"chain_id"`
	Command    string         `yaml:"cmd"`
	BasePort   int            `yaml:"base_port"`
	Denom      string         `yaml:"denom"`
	Validators fileValidators `yaml:"validators"`
	Accounts   []fileAccount  `yaml:"accounts"`
	Genesis    map[string]any `yaml:"genesis"`
	Config     map[string]any `yaml:"config"`
	AppConfig  map[string]any `yaml:"app_config"`
	StartFlags string         `yaml:"start_flags"`
	Critical   bool           `yaml:"critical"`
}

type fileValidator struct {
	Moniker string `yaml:"moniker"`
	Coins   string `yaml:"coins"`
	Staked  string `yaml:"staked"`
}

// fileValidators accepts either a list of validators or a bare count.
type fileValidators []fileValidator

func (v *fileValidators) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var n int
		if err := node.Decode(&n); err != nil {
			return fmt.Errorf("validators: expected a list or a count: %w", err)
		}
		if n < 0 {
			return fmt.Errorf("validators: negative count %d", n)
		}
		*v = make(fileValidators, n)
		return nil
	}
	var list []fileValidator
	if err := node.Decode(&list); err != nil {
		return err
	}
	*v = list
	return nil
}

type fileAccount struct {
	Name  string `yaml:"name"`
	Coins string `yaml:"coins"`
}

type fileRelayer struct {
	Variant string     `yaml:"variant"`
	Command string     `yaml:"cmd"`
	Coins   string     `yaml:"coins"`
	Paths   [][]string `yaml:"paths"`
}

type fileSupervisor struct {
	MaxRetries     int    `yaml:"max_retries"`
	BackoffInitial string `yaml:"backoff_initial"`
	BackoffMax     string `yaml:"backoff_max"`
	GracePeriod    string `yaml:"grace_period"`
	StartSeconds   string `yaml:"start_seconds"`
}

// Load reads and validates the topology at path without caller defaults.
func Load(path string) (domain.Topology, error) {
	return LoadWithDefaults(path, Defaults{})
}

// LoadWithDefaults reads and validates the topology at path, filling chain
// executables and base ports from d where the file leaves them empty.
func LoadWithDefaults(path string, d Defaults) (domain.Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Topology{}, &domain.ConfigError{Path: path, Reason: err.Error()}
	}
	t, err := Parse(data, d)
	if err != nil {
		var ce *domain.ConfigError
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return domain.Topology{}, err
	}
	return t, nil
}

// Parse decodes and validates a topology document.
func Parse(data []byte, d Defaults) (domain.Topology, error) {
	var ft fileTopology
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ft); err != nil && !errors.Is(err, io.EOF) {
		return domain.Topology{}, &domain.ConfigError{Reason: err.Error()}
	}

	t, err := ft.toDomain(d)
	if err != nil {
		return domain.Topology{}, err
	}
	if err := Validate(t); err != nil {
		return domain.Topology{}, err
	}
	return t, nil
}

func (ft fileTopology) toDomain(d Defaults) (domain.Topology, error) {
	var t domain.Topology
	for _, fc := range ft.Chains {
		c, err := fc.toDomain(ft.Command, d)
		if err != nil {
			return domain.Topology{}, err
		}
		t.Chains = append(t.Chains, c)
	}

	if ft.Relayer != nil {
		r := &domain.RelayerSpec{
			Variant: ft.Relayer.Variant,
			Command: ft.Relayer.Command,
			Coins:   ft.Relayer.Coins,
		}
		if r.Variant == "" {
			r.Variant = DefaultRelayerVariant
		}
		if r.Command == "" {
			r.Command = r.Variant
		}
		for _, p := range ft.Relayer.Paths {
			if len(p) != 2 {
				return domain.Topology{}, &domain.ConfigError{Reason: fmt.Sprintf("relayer path %v must name exactly two chains", p)}
			}
			r.Paths = append(r.Paths, domain.RelayerPath{A: p[0], B: p[1]})
		}
		t.Relayer = r
	}

	sup, err := ft.Supervisor.toDomain()
	if err != nil {
		return domain.Topology{}, err
	}
	t.Supervisor = sup
	return t, nil
}

func (fc fileChain) toDomain(defaultCmd string, d Defaults) (domain.ChainSpec, error) {
	c := domain.ChainSpec{
		ID:        fc.ID,
		Command:   fc.Command,
		Denom:     fc.Denom,
		Genesis:   fc.Genesis,
		Config:    fc.Config,
		AppConfig: fc.AppConfig,
		Critical:  fc.Critical,
	}
	if c.Command == "" {
		c.Command = defaultCmd
	}
	if c.Command == "" {
		c.Command = d.Command
	}
	if c.Denom == "" {
		c.Denom = DefaultDenom
	}

	switch {
	case fc.BasePort == 0:
		c.BasePort = d.BasePort
	case fc.BasePort < 0 || fc.BasePort > 65535:
		return c, &domain.ConfigError{Chain: fc.ID, Reason: fmt.Sprintf("base_port %d out of range", fc.BasePort)}
	default:
		c.BasePort = uint16(fc.BasePort)
	}

	if fc.StartFlags != "" {
		flags, err := shellquote.Split(fc.StartFlags)
		if err != nil {
			return c, &domain.ConfigError{Chain: fc.ID, Reason: fmt.Sprintf("start_flags: %v", err)}
		}
		c.StartFlags = flags
	}

	for _, v := range fc.Validators {
		vs := domain.ValidatorSpec{Moniker: v.Moniker, Coins: v.Coins, Staked: v.Staked}
		if vs.Coins == "" {
			vs.Coins = defaultValidatorCoins + c.Denom
		}
		if vs.Staked == "" {
			vs.Staked = defaultStaked + c.Denom
		}
		c.Validators = append(c.Validators, vs)
	}
	for _, a := range fc.Accounts {
		c.Accounts = append(c.Accounts, domain.AccountSpec{Name: a.Name, Coins: a.Coins})
	}
	return c, nil
}

func (fs fileSupervisor) toDomain() (domain.SupervisorSpec, error) {
	s := domain.SupervisorSpec{MaxRetries: fs.MaxRetries}
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backoff_initial", fs.BackoffInitial, &s.BackoffInitial},
		{"backoff_max", fs.BackoffMax, &s.BackoffMax},
		{"grace_period", fs.GracePeriod, &s.GracePeriod},
		{"start_seconds", fs.StartSeconds, &s.StartSeconds},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return s, &domain.ConfigError{Reason: fmt.Sprintf("supervisor.%s: %v", f.name, err)}
		}
		*f.dst = d
	}
	if fs.MaxRetries < 0 {
		return s, &domain.ConfigError{Reason: "supervisor.max_retries must not be negative"}
	}
	return s.WithDefaults(), nil
}

// Validate checks a topology for the structural errors a cluster cannot be
// built from. It is applied by Parse; callers that build a Topology in code
// should run it too.
func Validate(t domain.Topology) error {
	if len(t.Chains) == 0 {
		return &domain.ConfigError{Reason: "no chains defined"}
	}

	seen := make(map[string]bool, len(t.Chains))
	for i, c := range t.Chains {
		if c.ID == "" {
			return &domain.ConfigError{Reason: fmt.Sprintf("chain #%d has no chain_id", i)}
		}
		if seen[c.ID] {
			return &domain.ConfigError{Chain: c.ID, Reason: "duplicate chain_id"}
		}
		seen[c.ID] = true

		if len(c.Validators) == 0 {
			return &domain.ConfigError{Chain: c.ID, Reason: "at least one validator is required"}
		}
		if c.Command == "" {
			return &domain.ConfigError{Chain: c.ID, Reason: "no executable: set cmd in the file or pass --cmd"}
		}
		if c.BasePort == 0 {
			return &domain.ConfigError{Chain: c.ID, Reason: "no base_port: set it in the file or pass --base-port"}
		}

		monikers := make(map[string]bool, len(c.Validators))
		for j, v := range c.Validators {
			m := v.MonikerFor(j)
			if monikers[m] {
				return &domain.ConfigError{Chain: c.ID, Reason: fmt.Sprintf("duplicate moniker %q", m)}
			}
			monikers[m] = true
		}

		names := make(map[string]bool, len(c.Accounts))
		for _, a := range c.Accounts {
			if a.Name == "" || a.Coins == "" {
				return &domain.ConfigError{Chain: c.ID, Reason: "accounts need both name and coins"}
			}
			if names[a.Name] {
				return &domain.ConfigError{Chain: c.ID, Reason: fmt.Sprintf("duplicate account %q", a.Name)}
			}
			names[a.Name] = true
		}
	}

	if err := portalloc.CheckRanges(t); err != nil {
		return &domain.ConfigError{Reason: err.Error()}
	}

	if t.Relayer != nil {
		if len(t.Relayer.Paths) == 0 {
			return &domain.ConfigError{Reason: "relayer configured without paths"}
		}
		for _, p := range t.Relayer.Paths {
			if p.A == p.B {
				return &domain.ConfigError{Chain: p.A, Reason: "relayer path links a chain to itself"}
			}
			for _, id := range []string{p.A, p.B} {
				if !seen[id] {
					return &domain.ConfigError{Chain: id, Reason: "relayer path names an unknown chain"}
				}
			}
		}
	}
	return nil
}
