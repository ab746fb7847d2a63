package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/bft-labs/localnet/internal/adapters/fs"
	"github.com/bft-labs/localnet/internal/descriptor"
	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/metrics"
	"github.com/bft-labs/localnet/internal/relayer"
	"github.com/bft-labs/localnet/internal/supervisor"
	"github.com/bft-labs/localnet/internal/tailer"
	"github.com/bft-labs/localnet/pkg/log"
)

// StartOptions controls a foreground run.
type StartOptions struct {
	// Quiet disables merging process logs into the output.
	Quiet bool
	// Metrics serves prometheus metrics on the allocated metrics port.
	Metrics bool
}

// Start runs the process group of an initialized data directory and blocks
// until the group is shut down, either through the control socket, a
// critical process going fatal, or ctx being cancelled.
func (o *Orchestrator) Start(ctx context.Context, opts StartOptions) error {
	if _, err := os.Stat(o.layout.DataDir); err != nil {
		return &domain.ResumeError{Artifact: o.layout.DataDir, Reason: "data directory missing, run init first"}
	}
	lock, err := fs.AcquireLock(o.layout.LockFile(), "start")
	if err != nil {
		return err
	}
	defer lock.Release()

	in := o.initializer()
	rec, err := in.Record(ctx)
	if err != nil {
		return &domain.ResumeError{Artifact: o.layout.StateFile(), Reason: err.Error()}
	}
	switch rec.State {
	case domain.StateInitialized, domain.StateStopped:
	case domain.StateRunning:
		o.logger.Warn("previous run did not shut down cleanly", log.String("data", o.layout.DataDir))
	default:
		return &domain.ResumeError{Artifact: o.layout.StateFile(), Reason: fmt.Sprintf("cannot start from state %s, run init first", rec.State)}
	}

	d, err := descriptor.Load(o.layout.DescriptorFile())
	if err != nil {
		return &domain.ResumeError{Artifact: o.layout.DescriptorFile(), Reason: err.Error()}
	}

	supOpts := append([]supervisor.Option{supervisor.WithLogger(o.logger)}, o.supOpts...)
	if opts.Metrics {
		collector := metrics.NewCollector()
		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(d.Supervisor.MetricsPort)))
		srv := metrics.NewServer(addr, collector, o.logger)
		if err := srv.Start(); err != nil {
			o.logger.Warn("metrics endpoint unavailable", log.String("addr", addr), log.Err(err))
		} else {
			defer srv.ShutDown()
			supOpts = append(supOpts, supervisor.WithObserver(collector))
		}
	}

	sup := supervisor.New(o.backend, supOpts...)
	if err := sup.Start(ctx, d); err != nil {
		return err
	}
	if _, err := in.Transition(ctx, domain.StateRunning); err != nil {
		sup.Shutdown()
		_ = sup.Wait()
		return fmt.Errorf("record running state: %w", err)
	}

	// The control socket goes away last: clients waiting for it to close
	// may then take the lock.
	ctrl := supervisor.NewControlServer(sup, o.layout.ControlSocket(), o.logger)
	if err := ctrl.Start(); err != nil {
		o.logger.Warn("control socket unavailable", log.String("path", o.layout.ControlSocket()), log.Err(err))
	} else {
		defer ctrl.Close()
	}

	stopTail := o.pipeLogs(ctx, d, opts.Quiet)

	attachCtx, cancelAttach := context.WithCancel(ctx)
	attached := o.attachRelayer(attachCtx, sup)

	o.logger.Info("cluster running", log.String("data", o.layout.DataDir), log.Int("processes", len(d.Programs)))
	waitErr := sup.Wait()
	cancelAttach()
	<-attached
	stopTail()

	if _, err := in.Transition(context.Background(), domain.StateStopped); err != nil {
		o.logger.Error("record stopped state", log.Err(err))
	}
	if err := lock.Release(); err != nil {
		o.logger.Warn("release lock", log.String("path", o.layout.LockFile()), log.Err(err))
	}
	if waitErr != nil {
		return waitErr
	}
	o.logger.Info("cluster stopped", log.String("data", o.layout.DataDir))
	return nil
}

// attachRelayer creates channels and starts the relayer in the background.
// A failure is logged and leaves the chains running.
func (o *Orchestrator) attachRelayer(ctx context.Context, sup *supervisor.Supervisor) <-chan struct{} {
	done := make(chan struct{})
	rin, ok, err := relayer.LoadInput(o.layout)
	if err != nil {
		o.logger.Warn("relayer input unreadable, relayer disabled", log.Err(err))
	}
	if !ok {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		err := o.relayer.Attach(ctx, rin, sup)
		switch {
		case err == nil:
			o.logger.Info("relayer attached", log.String("variant", rin.Variant), log.Int("paths", len(rin.Paths)))
		case ctx.Err() != nil:
		default:
			o.logger.Error("relayer attach failed", log.Err(err), log.String("log", o.layout.RelayerLog()))
		}
	}()
	return done
}

// pipeLogs merges every program log into the output until the returned
// func is called.
func (o *Orchestrator) pipeLogs(ctx context.Context, d descriptor.Descriptor, quiet bool) func() {
	if quiet {
		return func() {}
	}
	t := tailer.New(sources(d), tailer.WithLogger(o.logger))
	t.Start(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := t.Pipe(o.out, tailer.WithColor(o.color)); err != nil {
			o.logger.Warn("log output failed", log.Err(err))
		}
	}()
	return func() {
		t.Stop()
		<-done
	}
}

func sources(d descriptor.Descriptor) []tailer.Source {
	out := make([]tailer.Source, 0, len(d.Programs))
	for _, p := range d.Programs {
		out = append(out, tailer.Source{Name: p.Name, Path: p.Log})
	}
	return out
}
