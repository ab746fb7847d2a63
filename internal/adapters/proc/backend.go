// Package proc launches supervised children as host processes, each in its
// own process group so signals reach the whole tree.
package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/ports"
)

// Backend implements ports.ProcessBackend with os/exec.
type Backend struct {
	// Env is appended to the inherited environment of every child.
	Env []string
}

// NewBackend creates a Backend.
func NewBackend() *Backend {
	return &Backend{}
}

// Spawn starts entry with stdout and stderr appended to its log file.
func (b *Backend) Spawn(ctx context.Context, entry domain.ProcessEntry) (ports.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if entry.LogPath == "" {
		return nil, errors.New("no log path")
	}
	if err := os.MkdirAll(filepath.Dir(entry.LogPath), 0o755); err != nil {
		return nil, err
	}
	logFile, err := os.OpenFile(entry.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	fmt.Fprintf(logFile, "--- %s starting %s at %s ---\n", entry.Name, entry.Command, time.Now().UTC().Format(time.RFC3339))

	cmd := exec.Command(entry.Command, entry.Args...)
	cmd.Dir = entry.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), b.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, err
	}
	return &process{cmd: cmd, log: logFile}, nil
}

type process struct {
	cmd *exec.Cmd
	log *os.File
}

func (p *process) PID() int { return p.cmd.Process.Pid }

func (p *process) Wait() error {
	err := p.cmd.Wait()
	p.log.Close()
	return err
}

// Signal delivers sig to the child's process group.
func (p *process) Signal(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return p.cmd.Process.Signal(sig)
	}
	if err := syscall.Kill(-p.cmd.Process.Pid, s); err != nil {
		return p.cmd.Process.Signal(sig)
	}
	return nil
}

func (p *process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}
