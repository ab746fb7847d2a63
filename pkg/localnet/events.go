package localnet

import (
	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/supervisor"
)

// State is the lifecycle state of the supervised process group.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateCrashed  State = "crashed"
)

// ProcessStatus is the status of one supervised process.
type ProcessStatus = domain.ProcessStatus

// StateChangeEvent is emitted when the group changes state.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// ProcessEvent is emitted when a process changes status.
type ProcessEvent struct {
	Name     string
	Owner    string
	Previous ProcessStatus
	Current  ProcessStatus
	Retries  int
	PID      int
	Err      error
}

// EventHandler receives group and process events.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
	OnProcessEvent(event ProcessEvent)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to
// override only some events.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent) {}
func (BaseEventHandler) OnProcessEvent(ProcessEvent)    {}

// eventObserver adapts an EventHandler to the supervisor observer.
type eventObserver struct {
	handler EventHandler
}

func (e eventObserver) OnStateChange(previous, current supervisor.State, reason string) {
	e.handler.OnStateChange(StateChangeEvent{
		Previous: convertState(previous),
		Current:  convertState(current),
		Reason:   reason,
	})
}

func (e eventObserver) OnProcessEvent(ev supervisor.ProcessEvent) {
	e.handler.OnProcessEvent(ProcessEvent{
		Name:     ev.Name,
		Owner:    ev.Owner,
		Previous: ev.Previous,
		Current:  ev.Status,
		Retries:  ev.Retries,
		PID:      ev.PID,
		Err:      ev.Err,
	})
}

func convertState(s supervisor.State) State {
	switch s {
	case supervisor.StateStarting:
		return StateStarting
	case supervisor.StateRunning:
		return StateRunning
	case supervisor.StateStopping:
		return StateStopping
	case supervisor.StateCrashed:
		return StateCrashed
	default:
		return StateStopped
	}
}
