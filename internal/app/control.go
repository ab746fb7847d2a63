package app

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/supervisor"
	"github.com/bft-labs/localnet/pkg/log"
)

// shutdownPoll is how often Stop checks that the supervisor has gone.
const shutdownPoll = 200 * time.Millisecond

// Report is the status of a data directory.
type Report struct {
	State     domain.ClusterState  `json:"state"`
	Running   bool                 `json:"running"`
	Processes []domain.ProcessInfo `json:"processes,omitempty"`
}

// Status reads the persisted state and, when a supervisor is running, the
// status of every process.
func (o *Orchestrator) Status(ctx context.Context) (Report, error) {
	rec, err := o.initializer().Record(ctx)
	if err != nil {
		return Report{}, err
	}
	r := Report{State: rec.State}
	procs, err := o.control.Status(ctx)
	if err != nil {
		if notListening(err) {
			return r, nil
		}
		return r, err
	}
	r.Running = true
	r.Processes = procs
	return r, nil
}

// Stop gracefully stops one process, or the whole group for "" or "all".
// Stopping the group waits until the supervisor has exited.
func (o *Orchestrator) Stop(ctx context.Context, name string) ([]domain.ProcessInfo, error) {
	if name == "" || name == supervisor.AllProcesses {
		return nil, o.shutdown(ctx)
	}
	return o.action(ctx, "stop", name)
}

// Terminate kills one process, or every process and then the group for ""
// or "all".
func (o *Orchestrator) Terminate(ctx context.Context, name string) ([]domain.ProcessInfo, error) {
	if name == "" || name == supervisor.AllProcesses {
		if _, err := o.action(ctx, "terminate", supervisor.AllProcesses); err != nil {
			return nil, err
		}
		return nil, o.shutdown(ctx)
	}
	return o.action(ctx, "terminate", name)
}

func (o *Orchestrator) action(ctx context.Context, action, name string) ([]domain.ProcessInfo, error) {
	infos, err := o.control.Action(ctx, action, name)
	if err != nil && notListening(err) {
		return nil, fmt.Errorf("%w: no supervisor listening on %s", domain.ErrNotRunning, o.layout.ControlSocket())
	}
	return infos, err
}

func (o *Orchestrator) shutdown(ctx context.Context) error {
	if err := o.control.Shutdown(ctx); err != nil {
		if notListening(err) {
			return fmt.Errorf("%w: no supervisor listening on %s", domain.ErrNotRunning, o.layout.ControlSocket())
		}
		return err
	}
	o.logger.Info("shutdown requested, waiting for supervisor to exit")
	return retry.Do(
		func() error {
			_, err := o.control.Status(ctx)
			if err == nil {
				return errors.New("supervisor still running")
			}
			if notListening(err) {
				return nil
			}
			return retry.Unrecoverable(err)
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(shutdownPoll),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, _ error) {
			if n > 0 && n%25 == 0 {
				o.logger.Debug("still waiting for supervisor", log.Int("polls", int(n)))
			}
		}),
	)
}

// notListening reports whether err means nothing serves the control socket.
func notListening(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED)
}
