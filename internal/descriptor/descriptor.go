// Package descriptor renders the supervised process set of a cluster into a
// TOML file. The same topology always produces the same bytes.
package descriptor

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/bft-labs/localnet/internal/adapters/fs"
	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/portalloc"
)

// Descriptor is the on-disk form of the supervised process set.
type Descriptor struct {
	Supervisor Settings  `toml:"supervisor"`
	Programs   []Program `toml:"program"`
}

// Settings are group-wide supervision parameters.
type Settings struct {
	GracePeriod  string `toml:"grace_period"`
	StartSeconds string `toml:"start_seconds"`
	MetricsPort  uint16 `toml:"metrics_port"`
}

// Program is one supervised process.
type Program struct {
	Name           string   `toml:"name"`
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	Directory      string   `toml:"directory"`
	Log            string   `toml:"log"`
	Owner          string   `toml:"owner"`
	AutoStart      bool     `toml:"autostart"`
	AutoRestart    bool     `toml:"autorestart"`
	StartRetries   int      `toml:"startretries"`
	BackoffInitial string   `toml:"backoff_initial"`
	BackoffMax     string   `toml:"backoff_max"`
	Critical       bool     `toml:"critical"`
}

// Generate builds the descriptor: one program per node in topology order,
// then the relayer if given.
func Generate(t domain.Topology, plan portalloc.Plan, layout domain.Layout, relayer *domain.ProcessEntry) Descriptor {
	sup := t.Supervisor.WithDefaults()
	d := Descriptor{
		Supervisor: Settings{
			GracePeriod:  sup.GracePeriod.String(),
			StartSeconds: sup.StartSeconds.String(),
			MetricsPort:  plan.Global(portalloc.SlotMetrics),
		},
	}
	policy := domain.RestartPolicy{
		AutoRestart:    true,
		MaxRetries:     sup.MaxRetries,
		BackoffInitial: sup.BackoffInitial,
		BackoffMax:     sup.BackoffMax,
	}
	for _, c := range t.Chains {
		for i := range c.Validators {
			args := append([]string{"start", "--home", layout.NodeHome(c.ID, i)}, c.StartFlags...)
			d.Programs = append(d.Programs, fromEntry(domain.ProcessEntry{
				Name:      domain.ProcessName(c.ID, i),
				Command:   c.Command,
				Args:      args,
				Dir:       layout.ChainDir(c.ID),
				LogPath:   layout.NodeLog(c.ID, i),
				AutoStart: true,
				Restart:   policy,
				Owner:     c.ID + "/" + domain.NodeName(i),
				Critical:  c.Critical,
			}))
		}
	}
	if relayer != nil {
		d.Programs = append(d.Programs, fromEntry(*relayer))
	}
	return d
}

func fromEntry(e domain.ProcessEntry) Program {
	args := e.Args
	if args == nil {
		args = []string{}
	}
	return Program{
		Name:           e.Name,
		Command:        e.Command,
		Args:           args,
		Directory:      e.Dir,
		Log:            e.LogPath,
		Owner:          e.Owner,
		AutoStart:      e.AutoStart,
		AutoRestart:    e.Restart.AutoRestart,
		StartRetries:   e.Restart.MaxRetries,
		BackoffInitial: e.Restart.BackoffInitial.String(),
		BackoffMax:     e.Restart.BackoffMax.String(),
		Critical:       e.Critical,
	}
}

// Entries converts the programs back into process entries, in order.
func (d Descriptor) Entries() ([]domain.ProcessEntry, error) {
	entries := make([]domain.ProcessEntry, 0, len(d.Programs))
	seen := make(map[string]bool, len(d.Programs))
	for _, p := range d.Programs {
		if p.Name == "" || p.Command == "" {
			return nil, fmt.Errorf("program %q: name and command are required", p.Name)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate program %q", p.Name)
		}
		seen[p.Name] = true

		initial, err := parseDuration(p.BackoffInitial)
		if err != nil {
			return nil, fmt.Errorf("program %s backoff_initial: %w", p.Name, err)
		}
		maxBackoff, err := parseDuration(p.BackoffMax)
		if err != nil {
			return nil, fmt.Errorf("program %s backoff_max: %w", p.Name, err)
		}
		entries = append(entries, domain.ProcessEntry{
			Name:      p.Name,
			Command:   p.Command,
			Args:      p.Args,
			Dir:       p.Directory,
			LogPath:   p.Log,
			AutoStart: p.AutoStart,
			Restart: domain.RestartPolicy{
				AutoRestart:    p.AutoRestart,
				MaxRetries:     p.StartRetries,
				BackoffInitial: initial,
				BackoffMax:     maxBackoff,
			},
			Owner:    p.Owner,
			Critical: p.Critical,
		})
	}
	return entries, nil
}

// GracePeriod returns the parsed stop grace period.
func (d Descriptor) GracePeriod() time.Duration {
	g, err := parseDuration(d.Supervisor.GracePeriod)
	if err != nil || g <= 0 {
		return domain.DefaultGracePeriod
	}
	return g
}

// StartSeconds returns how long a process must stay up to count as running.
func (d Descriptor) StartSeconds() time.Duration {
	s, err := parseDuration(d.Supervisor.StartSeconds)
	if err != nil || s < 0 {
		return domain.DefaultStartSeconds
	}
	return s
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Encode renders d as TOML.
func Encode(d Descriptor) ([]byte, error) {
	return toml.Marshal(d)
}

// Write encodes d and stores it atomically at path. It reports whether the
// file content changed.
func Write(path string, d Descriptor) (bool, error) {
	data, err := Encode(d)
	if err != nil {
		return false, err
	}
	return fs.WriteFileAtomic(path, data, 0o644)
}

// Load reads a descriptor written by Write.
func Load(path string) (Descriptor, error) {
	var d Descriptor
	b, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	if err := toml.Unmarshal(b, &d); err != nil {
		return d, fmt.Errorf("parse %s: %w", path, err)
	}
	return d, nil
}
