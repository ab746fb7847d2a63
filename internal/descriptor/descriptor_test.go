package descriptor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/portalloc"
)

func fixture(t *testing.T) (domain.Topology, portalloc.Plan, domain.Layout) {
	t.Helper()
	topo := domain.Topology{
		Chains: []domain.ChainSpec{
			{ID: "chain-a", Command: "chaind", BasePort: 26650, Validators: make([]domain.ValidatorSpec, 2), StartFlags: []string{"--trace"}, Critical: true},
			{ID: "chain-b", Command: "otherd", BasePort: 26650, Validators: make([]domain.ValidatorSpec, 2)},
		},
		Supervisor: domain.SupervisorSpec{MaxRetries: 2, BackoffInitial: 500 * time.Millisecond}.WithDefaults(),
	}
	plan, err := portalloc.NewPlan(topo)
	require.NoError(t, err)
	return topo, plan, domain.Layout{DataDir: "/data"}
}

func TestGenerate(t *testing.T) {
	topo, plan, layout := fixture(t)
	relayer := &domain.ProcessEntry{Name: domain.RelayerProcess, Command: "hermes", Args: []string{"start"}, Owner: domain.GlobalOwner}

	d := Generate(topo, plan, layout, relayer)
	entries, err := d.Entries()
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{"chain-a-node0", "chain-a-node1", "chain-b-node0", "chain-b-node1", "relayer"}, names)

	first := entries[0]
	require.Equal(t, "chaind", first.Command)
	require.Equal(t, []string{"start", "--home", "/data/chain-a/node0", "--trace"}, first.Args)
	require.Equal(t, "/data/chain-a/node0.log", first.LogPath)
	require.Equal(t, "chain-a/node0", first.Owner)
	require.True(t, first.AutoStart)
	require.True(t, first.Critical)
	require.Equal(t, 2, first.Restart.MaxRetries)
	require.Equal(t, 500*time.Millisecond, first.Restart.BackoffInitial)
	require.Equal(t, domain.DefaultBackoffMax, first.Restart.BackoffMax)

	require.False(t, entries[2].Critical)
	require.False(t, entries[4].AutoStart)
	require.Equal(t, domain.DefaultGracePeriod, d.GracePeriod())
	require.Equal(t, plan.Global(portalloc.SlotMetrics), d.Supervisor.MetricsPort)
}

func TestGenerateIsDeterministic(t *testing.T) {
	topo, plan, layout := fixture(t)
	a, err := Encode(Generate(topo, plan, layout, nil))
	require.NoError(t, err)
	b, err := Encode(Generate(topo, plan, layout, nil))
	require.NoError(t, err)
	require.Equal(t, string(a), string(b))
}

func TestWriteIsIdempotent(t *testing.T) {
	topo, plan, layout := fixture(t)
	path := filepath.Join(t.TempDir(), "supervisor.toml")

	changed, err := Write(path, Generate(topo, plan, layout, nil))
	require.NoError(t, err)
	require.True(t, changed)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	changed, err = Write(path, Generate(topo, plan, layout, nil))
	require.NoError(t, err)
	require.False(t, changed)
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestLoadRoundTrip(t *testing.T) {
	topo, plan, layout := fixture(t)
	path := filepath.Join(t.TempDir(), "supervisor.toml")
	want := Generate(topo, plan, layout, nil)
	_, err := Write(path, want)
	require.NoError(t, err)

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestEntriesRejectsDuplicates(t *testing.T) {
	d := Descriptor{Programs: []Program{{Name: "a", Command: "x"}, {Name: "a", Command: "y"}}}
	_, err := d.Entries()
	require.Error(t, err)
}
