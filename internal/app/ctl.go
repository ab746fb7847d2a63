package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/supervisor"
)

// Ctl runs a control command against the running supervisor and writes the
// resulting process table to w:
//
//	status
//	start|stop|restart|terminate <name>|all
//	shutdown
func (o *Orchestrator) Ctl(ctx context.Context, w io.Writer, args []string) error {
	if len(args) == 0 {
		args = []string{"status"}
	}
	var (
		infos []domain.ProcessInfo
		err   error
	)
	switch cmd := args[0]; cmd {
	case "status":
		if len(args) > 1 {
			return fmt.Errorf("%w: status takes no arguments", domain.ErrConfig)
		}
		infos, err = o.control.Status(ctx)
		if err != nil && notListening(err) {
			err = fmt.Errorf("%w: no supervisor listening on %s", domain.ErrNotRunning, o.layout.ControlSocket())
		}
	case "start", "restart":
		if len(args) != 2 {
			return fmt.Errorf("%w: %s takes one process name", domain.ErrConfig, cmd)
		}
		if args[1] == supervisor.AllProcesses {
			return fmt.Errorf("%w: %s needs a process name", domain.ErrConfig, cmd)
		}
		infos, err = o.action(ctx, cmd, args[1])
	case "stop":
		if len(args) != 2 {
			return fmt.Errorf("%w: stop takes one process name or %q", domain.ErrConfig, supervisor.AllProcesses)
		}
		infos, err = o.action(ctx, cmd, args[1])
	case "terminate":
		if len(args) != 2 {
			return fmt.Errorf("%w: terminate takes one process name or %q", domain.ErrConfig, supervisor.AllProcesses)
		}
		infos, err = o.action(ctx, cmd, args[1])
	case "shutdown":
		return o.shutdown(ctx)
	default:
		return fmt.Errorf("%w: unknown ctl command %q", domain.ErrConfig, cmd)
	}
	if err != nil {
		return err
	}
	return WriteProcessTable(w, infos)
}

// WriteProcessTable renders process snapshots as aligned columns.
func WriteProcessTable(w io.Writer, infos []domain.ProcessInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tPID\tRETRIES\tLOG")
	for _, p := range infos {
		pid := "-"
		if p.PID > 0 {
			pid = fmt.Sprint(p.PID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", p.Name, p.Status, pid, p.Retries, p.LogPath)
		if p.LastErr != "" {
			fmt.Fprintf(tw, "\t  %s\t\t\t\n", p.LastErr)
		}
	}
	return tw.Flush()
}
