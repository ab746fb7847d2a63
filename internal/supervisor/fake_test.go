package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/ports"
)

var (
	errCrashed = errors.New("exit status 1")
	errKilled  = errors.New("signal: killed")
)

// fakeProc blocks in Wait until it is signalled, killed or told to crash.
type fakeProc struct {
	pid        int
	ignoreTerm bool
	exit       chan error
	once       sync.Once

	mu      sync.Mutex
	signals []os.Signal
	killed  bool
}

func newFakeProc(pid int, ignoreTerm bool) *fakeProc {
	return &fakeProc{pid: pid, ignoreTerm: ignoreTerm, exit: make(chan error, 1)}
}

func (p *fakeProc) PID() int { return p.pid }

func (p *fakeProc) Wait() error { return <-p.exit }

func (p *fakeProc) finish(err error) {
	p.once.Do(func() { p.exit <- err })
}

func (p *fakeProc) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	if sig == syscall.SIGTERM && !p.ignoreTerm {
		p.finish(fmt.Errorf("signal: terminated"))
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.finish(errKilled)
	return nil
}

func (p *fakeProc) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *fakeProc) sawSIGTERM() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.signals {
		if s == syscall.SIGTERM {
			return true
		}
	}
	return false
}

// fakeBackend spawns fakeProcs. Names in crash exit immediately with an
// error; names in ignoreTerm survive SIGTERM.
type fakeBackend struct {
	mu         sync.Mutex
	crash      map[string]bool
	ignoreTerm map[string]bool
	order      []string
	procs      map[string][]*fakeProc
	nextPID    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		crash:      make(map[string]bool),
		ignoreTerm: make(map[string]bool),
		procs:      make(map[string][]*fakeProc),
		nextPID:    1000,
	}
}

func (b *fakeBackend) Spawn(_ context.Context, e domain.ProcessEntry) (ports.Process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextPID++
	b.order = append(b.order, e.Name)
	p := newFakeProc(b.nextPID, b.ignoreTerm[e.Name])
	b.procs[e.Name] = append(b.procs[e.Name], p)

	if e.LogPath != "" {
		if f, err := os.OpenFile(e.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			fmt.Fprintf(f, "boot %d\n", len(b.procs[e.Name]))
			f.Close()
		}
	}
	if b.crash[e.Name] {
		p.finish(errCrashed)
	}
	return p, nil
}

func (b *fakeBackend) spawns(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.procs[name])
}

func (b *fakeBackend) last(name string) *fakeProc {
	b.mu.Lock()
	defer b.mu.Unlock()
	ps := b.procs[name]
	if len(ps) == 0 {
		return nil
	}
	return ps[len(ps)-1]
}

func (b *fakeBackend) spawnOrder() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...)
}

// sleepRecorder records backoff delays without sleeping.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(d time.Duration, _ <-chan struct{}) bool {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return true
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitStatus(t *testing.T, s *Supervisor, name string, want domain.ProcessStatus) {
	t.Helper()
	waitFor(t, name+" "+string(want), func() bool {
		info, err := s.Status(name)
		return err == nil && info.Status == want
	})
}

func entry(name string, autostart bool) domain.ProcessEntry {
	return domain.ProcessEntry{
		Name:      name,
		Command:   "/bin/" + name,
		AutoStart: autostart,
		Owner:     "devnet-1/" + name,
		Restart: domain.RestartPolicy{
			AutoRestart:    true,
			MaxRetries:     3,
			BackoffInitial: time.Second,
			BackoffMax:     4 * time.Second,
		},
	}
}
