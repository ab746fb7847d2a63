package supervisor

import (
	"sync"

	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/ports"
)

// process is the supervisor's record of one entry. A runner goroutine owns
// the child while active is true.
type process struct {
	entry domain.ProcessEntry

	mu      sync.Mutex
	status  domain.ProcessStatus
	retries int
	lastErr error
	proc    ports.Process
	active  bool
	stopReq bool
	stop    chan struct{}
	done    chan struct{}
}

func newProcess(e domain.ProcessEntry) *process {
	return &process{entry: e, status: domain.StatusStopped}
}

// activate prepares a new runner generation. It reports false if a runner
// is already active.
func (p *process) activate() (stop <-chan struct{}, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return nil, false
	}
	p.active = true
	p.stopReq = false
	p.retries = 0
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	return p.stop, true
}

// deactivate marks the runner finished and releases waiters.
func (p *process) deactivate() {
	p.mu.Lock()
	p.active = false
	p.proc = nil
	done := p.done
	p.mu.Unlock()
	close(done)
}

// requestStop flags the runner to stop and returns its done channel and the
// current child, or a nil channel if no runner is active.
func (p *process) requestStop() (<-chan struct{}, ports.Process) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return nil, nil
	}
	if !p.stopReq {
		p.stopReq = true
		close(p.stop)
	}
	return p.done, p.proc
}

func (p *process) stopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopReq
}

// setProc records the spawned child and reports whether a stop was requested
// while it was spawning.
func (p *process) setProc(proc ports.Process) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proc = proc
	return p.stopReq
}

func (p *process) clearProc() {
	p.mu.Lock()
	p.proc = nil
	p.mu.Unlock()
}

func (p *process) current() ports.Process {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proc
}

func (p *process) kill() {
	if proc := p.current(); proc != nil {
		_ = proc.Kill()
	}
}

func (p *process) incRetries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries++
	return p.retries
}

func (p *process) resetRetries() {
	p.mu.Lock()
	p.retries = 0
	p.mu.Unlock()
}

// set updates the status and returns the previous one.
func (p *process) set(status domain.ProcessStatus, err error) (domain.ProcessStatus, int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.status
	p.status = status
	if err != nil {
		p.lastErr = err
	}
	pid := 0
	if p.proc != nil {
		pid = p.proc.PID()
	}
	return prev, p.retries, pid
}

func (p *process) info() domain.ProcessInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := domain.ProcessInfo{
		Name:     p.entry.Name,
		Status:   p.status,
		Retries:  p.retries,
		LogPath:  p.entry.LogPath,
		Critical: p.entry.Critical,
	}
	if p.proc != nil {
		info.PID = p.proc.PID()
	}
	if p.lastErr != nil {
		info.LastErr = p.lastErr.Error()
	}
	return info
}
