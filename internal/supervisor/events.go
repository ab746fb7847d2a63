package supervisor

import "github.com/bft-labs/localnet/internal/domain"

// ProcessEvent reports a status change of one process.
type ProcessEvent struct {
	Name     string
	Owner    string
	Status   domain.ProcessStatus
	Previous domain.ProcessStatus
	Retries  int
	PID      int
	Err      error
}

// Observer receives process and group events. Calls are made synchronously
// from runner goroutines and must not block.
type Observer interface {
	EventEmitter
	OnProcessEvent(ev ProcessEvent)
}

type observers []Observer

func (o observers) OnStateChange(previous, current State, reason string) {
	for _, obs := range o {
		obs.OnStateChange(previous, current, reason)
	}
}

func (o observers) OnProcessEvent(ev ProcessEvent) {
	for _, obs := range o {
		obs.OnProcessEvent(ev)
	}
}
