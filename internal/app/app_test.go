package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/localnet/internal/cluster/clustertest"
	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/ports"
	"github.com/bft-labs/localnet/internal/relayer"
	"github.com/bft-labs/localnet/internal/topology"
)

const topologyYAML = `
cmd: chaind
chains:
  - chain_id: chain-a
    validators: 2
  - chain_id: chain-b
    validators: 2
relayer:
  paths:
    - [chain-a, chain-b]
supervisor:
  grace_period: 1s
  start_seconds: 0s
`

// blockingProc runs until it receives any signal.
type blockingProc struct {
	pid  int
	once sync.Once
	exit chan struct{}
}

func (p *blockingProc) PID() int { return p.pid }
func (p *blockingProc) Wait() error {
	<-p.exit
	return errors.New("signal: terminated")
}
func (p *blockingProc) Signal(os.Signal) error { p.once.Do(func() { close(p.exit) }); return nil }
func (p *blockingProc) Kill() error            { return p.Signal(os.Kill) }

type blockingBackend struct {
	mu     sync.Mutex
	pid    int
	spawns []string
}

func (b *blockingBackend) Spawn(_ context.Context, e domain.ProcessEntry) (ports.Process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pid++
	b.spawns = append(b.spawns, e.Name)
	return &blockingProc{pid: 1000 + b.pid, exit: make(chan struct{})}, nil
}

func (b *blockingBackend) spawned() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.spawns...)
}

type harness struct {
	orch    *Orchestrator
	backend *blockingBackend
	relayer *clustertest.Relayer
	topo    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	// Unix socket paths are length limited; keep the data dir short.
	dir, err := os.MkdirTemp("", "lnapp")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	topo := filepath.Join(dir, "topology.yaml")
	require.NoError(t, os.WriteFile(topo, []byte(topologyYAML), 0o644))

	h := &harness{backend: &blockingBackend{}, relayer: &clustertest.Relayer{}, topo: topo}
	rb := relayer.NewBootstrapper(
		relayer.WithExecutor(h.relayer),
		relayer.WithProbe(func(context.Context, string) error { return nil }),
	)
	h.orch = New(filepath.Join(dir, "data"),
		WithChainExecutors((&clustertest.Chain{}).Factory),
		WithProcessBackend(h.backend),
		WithRelayer(rb),
		WithOutput(&bytes.Buffer{}, false),
	)
	return h
}

func (h *harness) initialize(t *testing.T, resume bool) {
	t.Helper()
	state, err := h.orch.Initialize(context.Background(), InitOptions{
		TopologyPath: h.topo,
		Defaults:     topology.Defaults{BasePort: 26650},
		Resume:       resume,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StateInitialized, state)
}

// start runs Start in the background and waits until every process,
// relayer included, has been spawned.
func (h *harness) start(t *testing.T, opts StartOptions) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.orch.Start(context.Background(), opts) }()

	require.Eventually(t, func() bool {
		r, err := h.orch.Status(context.Background())
		if err != nil || !r.Running || len(r.Processes) != 5 {
			return false
		}
		for _, p := range r.Processes {
			if p.PID == 0 {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond)
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return")
		return nil
	}
}

func TestTwoByTwoLifecycle(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, false)

	r, err := h.orch.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{State: domain.StateInitialized}, r)

	done := h.start(t, StartOptions{})

	r, err = h.orch.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.StateRunning, r.State)
	require.Equal(t,
		[]string{"chain-a-node0", "chain-a-node1", "chain-b-node0", "chain-b-node1", domain.RelayerProcess},
		h.backend.spawned())

	var created bool
	for _, call := range h.relayer.Calls() {
		if slices.Contains(call, "create") {
			created = true
		}
	}
	require.True(t, created, "relayer channel was not created: %v", h.relayer.Calls())

	_, err = h.orch.Stop(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, wait(t, done))

	r, err = h.orch.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{State: domain.StateStopped}, r)

	_, err = h.orch.Stop(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrNotRunning)
}

func TestStopSingleProcessKeepsGroup(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, false)
	done := h.start(t, StartOptions{Quiet: true})

	infos, err := h.orch.Stop(context.Background(), "chain-b-node1")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, domain.StatusStopped, infos[0].Status)

	_, err = h.orch.Stop(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrUnknownProcess)

	r, err := h.orch.Status(context.Background())
	require.NoError(t, err)
	require.True(t, r.Running)

	_, err = h.orch.Terminate(context.Background(), "all")
	require.NoError(t, err)
	require.NoError(t, wait(t, done))
}

func TestResumeRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, false)
	layout := h.orch.Layout()

	nodeKey := filepath.Join(layout.NodeHome("chain-a", 1), "config", "node_key.json")
	genesis := filepath.Join(layout.NodeHome("chain-b", 0), "config", "genesis.json")
	keyBefore, err := os.ReadFile(nodeKey)
	require.NoError(t, err)
	genesisBefore, err := os.ReadFile(genesis)
	require.NoError(t, err)

	done := h.start(t, StartOptions{Quiet: true})
	_, err = h.orch.Stop(context.Background(), "all")
	require.NoError(t, err)
	require.NoError(t, wait(t, done))

	h.initialize(t, true)

	keyAfter, err := os.ReadFile(nodeKey)
	require.NoError(t, err)
	require.Equal(t, keyBefore, keyAfter)
	genesisAfter, err := os.ReadFile(genesis)
	require.NoError(t, err)
	require.Equal(t, genesisBefore, genesisAfter)

	done = h.start(t, StartOptions{Quiet: true})
	_, err = h.orch.Stop(context.Background(), "all")
	require.NoError(t, err)
	require.NoError(t, wait(t, done))
}

func TestStartUninitialized(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.MkdirAll(h.orch.Layout().DataDir, 0o755))

	err := h.orch.Start(context.Background(), StartOptions{Quiet: true})
	require.ErrorIs(t, err, domain.ErrResume)
	require.Empty(t, h.backend.spawned())
}

func TestStartCancelledContext(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Start(ctx, StartOptions{Quiet: true}) }()
	require.Eventually(t, func() bool {
		r, err := h.orch.Status(context.Background())
		return err == nil && r.Running
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, wait(t, done))

	r, err := h.orch.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.StateStopped, r.State)
	require.False(t, r.Running)
}

func TestRelayerVariantOverride(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Initialize(context.Background(), InitOptions{
		TopologyPath:   h.topo,
		Defaults:       topology.Defaults{BasePort: 26650},
		RelayerVariant: "rly",
	})
	require.ErrorIs(t, err, domain.ErrRelayerConfig)
	require.NoDirExists(t, h.orch.Layout().DataDir)
}

func TestChaindPassthrough(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, false)

	var gotCmd string
	var gotArgs []string
	h.orch.exec = func(command string, args []string) error {
		gotCmd, gotArgs = command, args
		return nil
	}

	require.NoError(t, h.orch.Chaind("chain-b", 1, []string{"status"}))
	require.Equal(t, "chaind", gotCmd)
	require.Equal(t, []string{"status", "--home", h.orch.Layout().NodeHome("chain-b", 1)}, gotArgs)

	require.NoError(t, h.orch.Chaind("chain-a", 0, []string{"keys", "list", "--home=/elsewhere"}))
	require.Equal(t, []string{"keys", "list", "--home=/elsewhere"}, gotArgs)

	err := h.orch.Chaind("chain-a", 7, nil)
	require.ErrorIs(t, err, domain.ErrConfig)
}

type recordingController struct {
	calls [][]string
}

func (c *recordingController) Status(context.Context) ([]domain.ProcessInfo, error) {
	c.calls = append(c.calls, []string{"status"})
	return []domain.ProcessInfo{{Name: "chain-a-node0", Status: domain.StatusRunning, PID: 42, LogPath: "/tmp/a.log"}}, nil
}

func (c *recordingController) Action(_ context.Context, action, name string) ([]domain.ProcessInfo, error) {
	c.calls = append(c.calls, []string{action, name})
	return []domain.ProcessInfo{{Name: name, Status: domain.StatusStopped, LastErr: "stopped by request"}}, nil
}

func (c *recordingController) Shutdown(context.Context) error {
	c.calls = append(c.calls, []string{"shutdown"})
	return nil
}

func TestCtl(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr bool
	}{
		{name: "default status", args: nil, want: []string{"status"}},
		{name: "status", args: []string{"status"}, want: []string{"status"}},
		{name: "stop one", args: []string{"stop", "chain-a-node0"}, want: []string{"stop", "chain-a-node0"}},
		{name: "stop all", args: []string{"stop", "all"}, want: []string{"stop", "all"}},
		{name: "restart", args: []string{"restart", "relayer"}, want: []string{"restart", "relayer"}},
		{name: "terminate", args: []string{"terminate", "relayer"}, want: []string{"terminate", "relayer"}},
		{name: "start all rejected", args: []string{"start", "all"}, wantErr: true},
		{name: "missing name", args: []string{"restart"}, wantErr: true},
		{name: "status extra", args: []string{"status", "x"}, wantErr: true},
		{name: "unknown", args: []string{"reload"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &recordingController{}
			o := New(t.TempDir(), WithController(ctrl))
			var out bytes.Buffer
			err := o.Ctl(context.Background(), &out, tt.args)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrConfig)
				require.Empty(t, ctrl.calls)
				return
			}
			require.NoError(t, err)
			require.Equal(t, [][]string{tt.want}, ctrl.calls)
			require.Contains(t, out.String(), "NAME")
		})
	}
}

func TestWriteProcessTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, WriteProcessTable(&out, []domain.ProcessInfo{
		{Name: "chain-a-node0", Status: domain.StatusRunning, PID: 42, LogPath: "/d/chain-a/node0.log"},
		{Name: "relayer", Status: domain.StatusFatal, Retries: 3, LogPath: "/d/relayer.log", LastErr: "exit status 1"},
	}))
	s := out.String()
	require.Contains(t, s, "chain-a-node0")
	require.Contains(t, s, "42")
	require.Contains(t, s, "fatal")
	require.Contains(t, s, "exit status 1")
}

func TestStartMissingDataDir(t *testing.T) {
	h := newHarness(t)
	err := h.orch.Start(context.Background(), StartOptions{Quiet: true})
	require.ErrorIs(t, err, domain.ErrResume)
}
