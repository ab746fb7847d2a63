package app

import (
	"fmt"
	"os"
	"os/exec"
	"slices"
	"syscall"

	"github.com/bft-labs/localnet/internal/descriptor"
	"github.com/bft-labs/localnet/internal/domain"
)

// Chaind replaces the current process with the chain binary of the given
// node, pointed at that node's home unless args already set --home.
func (o *Orchestrator) Chaind(chainID string, node int, args []string) error {
	d, err := descriptor.Load(o.layout.DescriptorFile())
	if err != nil {
		return &domain.ResumeError{Artifact: o.layout.DescriptorFile(), Reason: err.Error()}
	}
	owner := chainID + "/" + domain.NodeName(node)
	i := slices.IndexFunc(d.Programs, func(p descriptor.Program) bool { return p.Owner == owner })
	if i < 0 {
		return &domain.ConfigError{Path: o.layout.DescriptorFile(), Chain: chainID, Reason: fmt.Sprintf("no node %s", domain.NodeName(node))}
	}

	argv := append([]string(nil), args...)
	if !hasFlag(argv, "--home") {
		argv = append(argv, "--home", o.layout.NodeHome(chainID, node))
	}
	return o.exec(d.Programs[i].Command, argv)
}

func hasFlag(args []string, flag string) bool {
	return slices.ContainsFunc(args, func(a string) bool {
		return a == flag || len(a) > len(flag) && a[:len(flag)+1] == flag+"="
	})
}

func execChain(command string, args []string) error {
	path, err := exec.LookPath(command)
	if err != nil {
		return &domain.ProcessSpawnError{Name: command, Err: err}
	}
	return syscall.Exec(path, append([]string{command}, args...), os.Environ())
}
