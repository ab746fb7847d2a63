package supervisor

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/pkg/log"
)

// State is the lifecycle state of the supervised group.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

var stateNames = [...]string{"Stopped", "Starting", "Running", "Stopping", "Crashed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// transitions lists the states reachable from each state. A group is started
// once; Stopped and Crashed are final.
var transitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateStopping, StateCrashed},
	StateRunning:  {StateStopping, StateCrashed},
	StateStopping: {StateStopped, StateCrashed},
}

// EventEmitter is notified of group state changes.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// Lifecycle is the group state machine plus the count of runner goroutines
// that must finish before the group is down.
type Lifecycle struct {
	mu      sync.RWMutex
	state   State
	runners sync.WaitGroup
	logger  log.Logger
	emitter EventEmitter
}

// NewLifecycle creates a lifecycle in StateStopped.
func NewLifecycle(logger log.Logger, emitter EventEmitter) *Lifecycle {
	return &Lifecycle{state: StateStopped, logger: logger, emitter: emitter}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo moves to next or returns an error naming the rejected edge.
// ErrNotRunning is returned for transitions out of a stopped or crashed
// group, ErrAlreadyRunning for anything else.
func (l *Lifecycle) TransitionTo(next State, reason string) error {
	l.mu.Lock()
	prev := l.state
	if !slices.Contains(transitions[prev], next) {
		l.mu.Unlock()
		sentinel := domain.ErrAlreadyRunning
		if prev == StateStopped || prev == StateCrashed {
			sentinel = domain.ErrNotRunning
		}
		return fmt.Errorf("%w: %s -> %s", sentinel, prev, next)
	}
	l.state = next
	l.mu.Unlock()

	if l.emitter != nil {
		l.emitter.OnStateChange(prev, next, reason)
	}
	l.logger.Info("supervisor state",
		log.String("from", prev.String()),
		log.String("to", next.String()),
		log.String("reason", reason),
	)
	return nil
}

// CanStart reports whether the group has not been started yet.
func (l *Lifecycle) CanStart() bool {
	return l.State() == StateStopped
}

// Active reports whether processes may be started or stopped.
func (l *Lifecycle) Active() bool {
	s := l.State()
	return s == StateStarting || s == StateRunning
}

// AddRunner registers a runner goroutine.
func (l *Lifecycle) AddRunner() { l.runners.Add(1) }

// RunnerDone marks a runner goroutine finished.
func (l *Lifecycle) RunnerDone() { l.runners.Done() }

// WaitWithTimeout waits for every runner to finish. It returns
// domain.ErrShutdownTimeout if timeout elapses first.
func (l *Lifecycle) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.runners.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		l.logger.Warn("runners still active", log.Duration("timeout", timeout))
		return domain.ErrShutdownTimeout
	}
}
