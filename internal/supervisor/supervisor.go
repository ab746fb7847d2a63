// Package supervisor runs the process set of a cluster as child processes:
// it restarts crashed children with backoff, marks them fatal once their
// retry budget is spent, and stops the group gracefully on one shutdown event.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/bft-labs/localnet/internal/descriptor"
	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/ports"
	"github.com/bft-labs/localnet/pkg/log"
)

// AllProcesses addresses every process in Stop and Terminate.
const AllProcesses = "all"

const (
	defaultLogTail = 20
	killWait       = 5 * time.Second
)

var errCleanExit = errors.New("exited with status 0")

// Settings are group-wide supervision parameters.
type Settings struct {
	GracePeriod  time.Duration
	StartSeconds time.Duration
}

// SleepFunc waits d or until cancel is closed, reporting whether the full
// duration elapsed.
type SleepFunc func(d time.Duration, cancel <-chan struct{}) bool

// Supervisor owns the supervised process group. It is started once.
type Supervisor struct {
	backend   ports.ProcessBackend
	logger    log.Logger
	observers observers
	sleep     SleepFunc
	tailN     int
	lifecycle *Lifecycle

	mu       sync.Mutex
	procs    map[string]*process
	order    []*process
	settings Settings
	ctx      context.Context
	cancel   context.CancelFunc
	closing  bool
	failure  error

	shutdownOnce sync.Once
	done         chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) { s.observers = append(s.observers, o) }
}

// WithSleep replaces the backoff sleep.
func WithSleep(fn SleepFunc) Option {
	return func(s *Supervisor) { s.sleep = fn }
}

// WithLogTail sets how many log lines a crash report carries.
func WithLogTail(n int) Option {
	return func(s *Supervisor) { s.tailN = n }
}

// New creates a Supervisor that launches children through backend.
func New(backend ports.ProcessBackend, opts ...Option) *Supervisor {
	s := &Supervisor{
		backend: backend,
		logger:  log.NewNoopLogger(),
		sleep:   sleepInterruptible,
		tailN:   defaultLogTail,
		procs:   make(map[string]*process),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lifecycle = NewLifecycle(s.logger, s.observers)
	return s
}

// Start launches the descriptor's autostart entries in order and returns
// once each has been spawned once. Cancelling ctx triggers Shutdown.
func (s *Supervisor) Start(ctx context.Context, d descriptor.Descriptor) error {
	entries, err := d.Entries()
	if err != nil {
		return err
	}
	return s.StartEntries(ctx, entries, Settings{GracePeriod: d.GracePeriod(), StartSeconds: d.StartSeconds()})
}

// StartEntries is Start for an explicit entry list.
func (s *Supervisor) StartEntries(ctx context.Context, entries []domain.ProcessEntry, settings Settings) error {
	s.mu.Lock()
	if s.closing || !s.lifecycle.CanStart() {
		s.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	if settings.GracePeriod <= 0 {
		settings.GracePeriod = domain.DefaultGracePeriod
	}
	s.settings = settings
	for _, e := range entries {
		if _, dup := s.procs[e.Name]; dup {
			s.mu.Unlock()
			return fmt.Errorf("duplicate process %q", e.Name)
		}
		p := newProcess(e)
		s.procs[e.Name] = p
		s.order = append(s.order, p)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	if err := s.lifecycle.TransitionTo(StateStarting, "start requested"); err != nil {
		return err
	}

	for _, p := range s.order {
		if !p.entry.AutoStart {
			continue
		}
		spawned := make(chan struct{})
		if !s.launch(p, spawned) {
			continue
		}
		<-spawned
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-s.done:
		}
	}()

	return s.lifecycle.TransitionTo(StateRunning, "all autostart processes launched")
}

// launch starts a runner for p. spawned, if not nil, is closed after the
// first spawn attempt. Nothing is launched once shutdown has begun; s.mu is
// held until the runner is registered so shutdown waits for it.
func (s *Supervisor) launch(p *process, spawned chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	stop, ok := p.activate()
	if !ok {
		return false
	}
	s.lifecycle.AddRunner()
	go s.run(p, stop, spawned)
	return true
}

func (s *Supervisor) run(p *process, stop <-chan struct{}, spawned chan struct{}) {
	defer s.lifecycle.RunnerDone()
	defer p.deactivate()

	var once sync.Once
	markSpawned := func() {
		if spawned != nil {
			once.Do(func() { close(spawned) })
		}
	}
	defer markSpawned()

	e := p.entry
	for {
		s.setStatus(p, domain.StatusStarting, nil)
		proc, err := s.backend.Spawn(s.ctx, e)
		markSpawned()

		var exitErr error
		if err != nil {
			exitErr = &domain.ProcessSpawnError{Name: e.Name, LogPath: e.LogPath, Err: err}
			s.logger.Error("spawn failed", log.String("process", e.Name), log.Err(err))
		} else {
			exitErr = s.watch(p, proc)
		}

		if p.stopRequested() {
			s.setStatus(p, domain.StatusStopped, nil)
			return
		}
		if exitErr == nil {
			exitErr = errCleanExit
		}
		if !e.Restart.AutoRestart {
			s.setStatus(p, domain.StatusExited, exitErr)
			return
		}

		retries := p.incRetries()
		if retries > e.Restart.MaxRetries {
			crash := &domain.ProcessCrashError{
				Name:    e.Name,
				Retries: retries - 1,
				LogPath: e.LogPath,
				LogTail: tailLines(e.LogPath, s.tailN),
				Err:     exitErr,
			}
			s.setStatus(p, domain.StatusFatal, crash)
			s.logger.Error("process fatal", log.String("process", e.Name), log.String("log", e.LogPath), log.Err(exitErr))
			if e.Critical {
				go s.shutdown(crash)
			}
			return
		}

		delay := e.Restart.Delay(retries)
		s.setStatus(p, domain.StatusBackoff, exitErr)
		s.logger.Warn("process exited, restarting",
			log.String("process", e.Name),
			log.Int("retry", retries),
			log.Duration("delay", delay),
			log.Err(exitErr),
		)
		if !s.sleep(delay, stop) {
			s.setStatus(p, domain.StatusStopped, nil)
			return
		}
	}
}

// watch waits for proc to exit. The process counts as running once it has
// stayed up for StartSeconds, which also clears its retry count.
func (s *Supervisor) watch(p *process, proc ports.Process) error {
	if p.setProc(proc) {
		_ = proc.Signal(syscall.SIGTERM)
	}
	defer p.clearProc()

	exited := make(chan error, 1)
	go func() { exited <- proc.Wait() }()

	var upTimer <-chan time.Time
	if ss := s.settings.StartSeconds; ss > 0 {
		t := time.NewTimer(ss)
		defer t.Stop()
		upTimer = t.C
	} else {
		s.setStatus(p, domain.StatusRunning, nil)
	}

	for {
		select {
		case err := <-exited:
			return err
		case <-upTimer:
			upTimer = nil
			p.resetRetries()
			s.setStatus(p, domain.StatusRunning, nil)
		}
	}
}

func (s *Supervisor) setStatus(p *process, status domain.ProcessStatus, err error) {
	prev, retries, pid := p.set(status, err)
	if prev == status && err == nil {
		return
	}
	s.logger.Debug("process status",
		log.String("process", p.entry.Name),
		log.String("from", string(prev)),
		log.String("to", string(status)),
	)
	s.observers.OnProcessEvent(ProcessEvent{
		Name:     p.entry.Name,
		Owner:    p.entry.Owner,
		Status:   status,
		Previous: prev,
		Retries:  retries,
		PID:      pid,
		Err:      err,
	})
}

func (s *Supervisor) lookup(name string) (*process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProcess, name)
	}
	return p, nil
}

func (s *Supervisor) targets(name string) ([]*process, error) {
	if name == AllProcesses {
		s.mu.Lock()
		defer s.mu.Unlock()
		// Stop in reverse start order.
		ps := make([]*process, len(s.order))
		for i, p := range s.order {
			ps[len(ps)-1-i] = p
		}
		return ps, nil
	}
	p, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return []*process{p}, nil
}

// StartProcess starts a stopped, exited or fatal process with a fresh retry
// budget. Starting an active process is a no-op.
func (s *Supervisor) StartProcess(name string) error {
	p, err := s.lookup(name)
	if err != nil {
		return err
	}
	if !s.lifecycle.Active() {
		return domain.ErrNotRunning
	}
	if !s.launch(p, nil) && s.isClosing() {
		return domain.ErrNotRunning
	}
	return nil
}

func (s *Supervisor) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Stop sends SIGTERM to the named process (or all), waits the grace period
// and kills what is left. The group keeps running.
func (s *Supervisor) Stop(name string) error {
	ps, err := s.targets(name)
	if err != nil {
		return err
	}
	s.stopProcesses(ps, false)
	return nil
}

// Terminate kills the named process (or all) immediately.
func (s *Supervisor) Terminate(name string) error {
	ps, err := s.targets(name)
	if err != nil {
		return err
	}
	s.stopProcesses(ps, true)
	return nil
}

// Restart stops and starts the named process.
func (s *Supervisor) Restart(name string) error {
	if err := s.Stop(name); err != nil {
		return err
	}
	return s.StartProcess(name)
}

func (s *Supervisor) stopProcesses(ps []*process, force bool) {
	var waits []<-chan struct{}
	var pending []*process
	for _, p := range ps {
		done, proc := p.requestStop()
		if done == nil {
			continue
		}
		if proc != nil {
			if force {
				_ = proc.Kill()
			} else {
				_ = proc.Signal(syscall.SIGTERM)
			}
		}
		waits = append(waits, done)
		pending = append(pending, p)
	}
	if len(waits) == 0 {
		return
	}

	deadline := time.NewTimer(s.grace(force))
	defer deadline.Stop()
	for i, w := range waits {
		select {
		case <-w:
			continue
		case <-deadline.C:
		}
		s.logger.Warn("grace period expired, killing", log.Duration("grace", s.grace(force)))
		for _, p := range pending[i:] {
			p.kill()
		}
		for _, w := range waits[i:] {
			<-w
		}
		return
	}
}

func (s *Supervisor) grace(force bool) time.Duration {
	if force {
		return killWait
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.GracePeriod
}

// Shutdown stops every process gracefully and ends the group. Only the first
// call has an effect; later calls wait for it to finish.
func (s *Supervisor) Shutdown() {
	s.shutdown(nil)
}

func (s *Supervisor) shutdown(cause error) {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		if cause != nil && s.failure == nil {
			s.failure = cause
		}
		s.mu.Unlock()

		reason := "shutdown requested"
		if cause != nil {
			reason = "critical process failed"
		}
		_ = s.lifecycle.TransitionTo(StateStopping, reason)

		all, _ := s.targets(AllProcesses)
		for _, p := range all {
			if _, proc := p.requestStop(); proc != nil {
				_ = proc.Signal(syscall.SIGTERM)
			}
		}
		if err := s.lifecycle.WaitWithTimeout(s.grace(false)); err != nil {
			for _, p := range all {
				p.kill()
			}
			_ = s.lifecycle.WaitWithTimeout(killWait)
		}

		final := StateStopped
		if cause != nil {
			final = StateCrashed
		}
		_ = s.lifecycle.TransitionTo(final, reason)
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
		close(s.done)
	})
	<-s.done
}

// Wait blocks until the group has shut down and returns the failure that
// caused it, if any.
func (s *Supervisor) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Done is closed once the group has shut down.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// State returns the group lifecycle state.
func (s *Supervisor) State() State {
	return s.lifecycle.State()
}

// Status returns a snapshot of one process.
func (s *Supervisor) Status(name string) (domain.ProcessInfo, error) {
	p, err := s.lookup(name)
	if err != nil {
		return domain.ProcessInfo{}, err
	}
	return p.info(), nil
}

// Statuses returns a snapshot of every process in descriptor order.
func (s *Supervisor) Statuses() []domain.ProcessInfo {
	s.mu.Lock()
	order := append([]*process(nil), s.order...)
	s.mu.Unlock()

	out := make([]domain.ProcessInfo, len(order))
	for i, p := range order {
		out[i] = p.info()
	}
	return out
}

func sleepInterruptible(d time.Duration, cancel <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-cancel:
		return false
	}
}
