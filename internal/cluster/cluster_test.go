package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/localnet/internal/cluster/clustertest"
	"github.com/bft-labs/localnet/internal/descriptor"
	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/relayer"
)

func newTestInitializer(t *testing.T, exec *clustertest.Chain) (*Initializer, domain.Layout) {
	t.Helper()
	layout := domain.Layout{DataDir: filepath.Join(t.TempDir(), "data")}
	clock := func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	in := New(layout, exec.Factory,
		WithRelayer(relayer.NewBootstrapper(relayer.WithExecutor(&clustertest.Relayer{}))),
		WithClock(clock),
	)
	return in, layout
}

func readTOML(t *testing.T, path string) map[string]any {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	doc := map[string]any{}
	require.NoError(t, toml.Unmarshal(b, &doc))
	return doc
}

func TestInit(t *testing.T) {
	in, layout := newTestInitializer(t, &clustertest.Chain{})
	topo := clustertest.TwoByTwo()

	rec, err := in.Init(context.Background(), topo)
	require.NoError(t, err)
	require.Equal(t, domain.StateInitialized, rec.State)
	require.Len(t, rec.Chains, 2)

	a := rec.Chains[0]
	require.Equal(t, "cosmos1relayer", a.RelayerAddress)

	var genesis []byte
	for i, n := range a.Nodes {
		require.DirExists(t, n.Home)
		require.NoDirExists(t, n.Home+stagingSuffix)

		g, err := os.ReadFile(filepath.Join(n.Home, "config", "genesis.json"))
		require.NoError(t, err)
		if i == 0 {
			genesis = g
		}
		require.Equal(t, genesis, g, "genesis must be identical on every node")
		require.Equal(t, a.GenesisSHA256, checksum(g))

		cfg := readTOML(t, filepath.Join(n.Home, "config", "config.toml"))
		p2p := cfg["p2p"].(map[string]any)
		require.Equal(t, fmt.Sprintf("tcp://127.0.0.1:%d", n.Ports.P2P), p2p["laddr"])
		require.Equal(t, "", p2p["seeds"], "existing keys are preserved")
		other := a.Nodes[1-i]
		require.Equal(t, fmt.Sprintf("%s@127.0.0.1:%d", other.NodeID, other.Ports.P2P), p2p["persistent_peers"])
		require.Equal(t, "1s", cfg["consensus"].(map[string]any)["timeout_commit"])
		require.Equal(t, n.Moniker, cfg["moniker"])

		app := readTOML(t, filepath.Join(n.Home, "config", "app.toml"))
		require.Equal(t, fmt.Sprintf("127.0.0.1:%d", n.Ports.GRPC), app["grpc"].(map[string]any)["address"])
		require.Equal(t, "default", app["pruning"])

		client := readTOML(t, filepath.Join(n.Home, "config", "client.toml"))
		require.Equal(t, "chain-a", client["chain-id"])
	}

	var doc map[string]any
	require.NoError(t, json.Unmarshal(genesis, &doc))
	params := doc["app_state"].(map[string]any)["staking"].(map[string]any)["params"].(map[string]any)
	require.Equal(t, "60s", params["unbonding_time"])
	require.Equal(t, "stake", params["bond_denom"])
	require.ElementsMatch(t, []any{"cosmos1node1", "cosmos1community", "cosmos1relayer"}, doc["accounts"])

	d, err := descriptor.Load(layout.DescriptorFile())
	require.NoError(t, err)
	entries, err := d.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 5)
	require.Equal(t, domain.RelayerProcess, entries[4].Name)

	require.FileExists(t, layout.RelayerConfig())
	m, err := os.ReadFile(filepath.Join(layout.RelayerDir(), "chain-b.mnemonic"))
	require.NoError(t, err)
	require.Equal(t, "relayer mnemonic\n", string(m))

	persisted, err := in.Record(context.Background())
	require.NoError(t, err)
	require.Equal(t, rec.Chains, persisted.Chains)
	require.NoFileExists(t, layout.LockFile())
}

func TestInitNodeFailure(t *testing.T) {
	in, layout := newTestInitializer(t, &clustertest.Chain{FailMoniker: "node1"})

	_, err := in.Init(context.Background(), clustertest.TwoByTwo())
	var ne *domain.NodeError
	require.ErrorAs(t, err, &ne)
	require.Equal(t, "chain-a", ne.Chain)
	require.Equal(t, "node1", ne.Node)

	rec, err := in.Record(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.StateUninitialized, rec.State)
	require.NoFileExists(t, layout.DescriptorFile())
	require.NoDirExists(t, layout.NodeHome("chain-a", 0), "no node is promoted when a sibling fails")
	for _, chain := range []string{"chain-a", "chain-b"} {
		for i := 0; i < 2; i++ {
			require.NoDirExists(t, layout.NodeHome(chain, i)+stagingSuffix)
		}
	}
}

func TestInitWipesPreviousData(t *testing.T) {
	in, layout := newTestInitializer(t, &clustertest.Chain{})
	require.NoError(t, os.MkdirAll(layout.DataDir, 0o755))
	stray := filepath.Join(layout.DataDir, "stray.txt")
	require.NoError(t, os.WriteFile(stray, []byte("x"), 0o644))

	_, err := in.Init(context.Background(), clustertest.TwoByTwo())
	require.NoError(t, err)
	require.NoFileExists(t, stray)
}

func TestConcurrentInitIsRejected(t *testing.T) {
	exec := &clustertest.Chain{Block: make(chan struct{}), Started: make(chan struct{})}
	in, layout := newTestInitializer(t, exec)
	other := New(layout, (&clustertest.Chain{}).Factory)

	done := make(chan error, 1)
	go func() {
		_, err := in.Init(context.Background(), clustertest.TwoByTwo())
		done <- err
	}()
	<-exec.Started

	_, err := other.Init(context.Background(), clustertest.TwoByTwo())
	var le *domain.LockError
	require.ErrorAs(t, err, &le)
	require.Equal(t, os.Getpid(), le.HolderPID)
	require.Equal(t, "init", le.Operation)

	close(exec.Block)
	require.NoError(t, <-done)

	rec, err := in.Record(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.StateInitialized, rec.State)
}

func TestResumeRoundTrip(t *testing.T) {
	in, layout := newTestInitializer(t, &clustertest.Chain{})
	topo := clustertest.TwoByTwo()
	ctx := context.Background()

	initial, err := in.Init(ctx, topo)
	require.NoError(t, err)
	desc, err := os.ReadFile(layout.DescriptorFile())
	require.NoError(t, err)
	info, err := os.Stat(layout.DescriptorFile())
	require.NoError(t, err)

	_, err = in.Transition(ctx, domain.StateRunning)
	require.NoError(t, err)
	_, err = in.Transition(ctx, domain.StateStopped)
	require.NoError(t, err)

	rec, err := in.Resume(ctx, topo)
	require.NoError(t, err)
	require.Equal(t, domain.StateInitialized, rec.State)
	require.Equal(t, initial.Chains, rec.Chains)

	after, err := os.ReadFile(layout.DescriptorFile())
	require.NoError(t, err)
	require.Equal(t, desc, after)
	info2, err := os.Stat(layout.DescriptorFile())
	require.NoError(t, err)
	require.Equal(t, info.ModTime(), info2.ModTime(), "unchanged descriptor is not rewritten")

	// A stale RUNNING state from an unclean exit is resumable too.
	_, err = in.Transition(ctx, domain.StateRunning)
	require.NoError(t, err)
	_, err = in.Resume(ctx, topo)
	require.NoError(t, err)
}

func TestResumeFailures(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		mutate   func(t *testing.T, layout domain.Layout, topo *domain.Topology)
		artifact string
	}{
		{
			name: "missing node key",
			mutate: func(t *testing.T, layout domain.Layout, _ *domain.Topology) {
				require.NoError(t, os.Remove(filepath.Join(layout.NodeHome("chain-b", 1), "config", "node_key.json")))
			},
			artifact: "node_key.json",
		},
		{
			name: "corrupt genesis",
			mutate: func(t *testing.T, layout domain.Layout, _ *domain.Topology) {
				require.NoError(t, os.WriteFile(filepath.Join(layout.NodeHome("chain-a", 0), "config", "genesis.json"), []byte("{}"), 0o644))
			},
			artifact: "genesis.json",
		},
		{
			name: "changed layout",
			mutate: func(t *testing.T, _ domain.Layout, topo *domain.Topology) {
				topo.Chains[1].Validators = append(topo.Chains[1].Validators, domain.ValidatorSpec{})
			},
			artifact: "topology",
		},
		{
			name: "missing state file",
			mutate: func(t *testing.T, layout domain.Layout, _ *domain.Topology) {
				require.NoError(t, os.Remove(layout.StateFile()))
			},
			artifact: "cluster.json",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, layout := newTestInitializer(t, &clustertest.Chain{})
			topo := clustertest.TwoByTwo()
			_, err := in.Init(ctx, topo)
			require.NoError(t, err)

			tt.mutate(t, layout, &topo)
			_, err = in.Resume(ctx, topo)
			var re *domain.ResumeError
			require.ErrorAs(t, err, &re)
			require.True(t, strings.HasSuffix(re.Artifact, tt.artifact), "artifact %q", re.Artifact)
			require.ErrorIs(t, err, domain.ErrResume)
		})
	}
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"x": 1, "y": 2}, "b": "keep"}
	src := map[string]any{"a": map[string]any{"y": 3, "z": map[string]any{"k": true}}, "c": []any{1}}
	got := deepMerge(dst, src)
	require.Equal(t, map[string]any{
		"a": map[string]any{"x": 1, "y": 3, "z": map[string]any{"k": true}},
		"b": "keep",
		"c": []any{1},
	}, got)

	src["a"].(map[string]any)["z"].(map[string]any)["k"] = false
	require.Equal(t, true, got["a"].(map[string]any)["z"].(map[string]any)["k"], "merged maps are copies")
}

func TestFingerprintIgnoresPatches(t *testing.T) {
	a := clustertest.TwoByTwo()
	b := clustertest.TwoByTwo()
	b.Chains[0].Genesis = nil
	b.Chains[0].StartFlags = []string{"--trace"}
	require.Equal(t, Fingerprint(a), Fingerprint(b))

	b.Chains[0].BasePort = 30000
	require.NotEqual(t, Fingerprint(a), Fingerprint(b))
}
