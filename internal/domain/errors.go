package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors of the localnet domain. Typed errors below unwrap to them,
// so callers can match with errors.Is and inspect details with errors.As.
var (
	ErrConfig         = errors.New("localnet: invalid topology")
	ErrPortConflict   = errors.New("localnet: port conflict")
	ErrResume         = errors.New("localnet: cannot resume")
	ErrLock           = errors.New("localnet: data directory locked")
	ErrProcessSpawn   = errors.New("localnet: process spawn failed")
	ErrProcessCrash   = errors.New("localnet: process crashed")
	ErrRelayerConfig  = errors.New("localnet: relayer configuration failed")
	ErrUnknownProcess = errors.New("localnet: unknown process")
	ErrNotRunning     = errors.New("localnet: supervisor not running")
	ErrAlreadyRunning = errors.New("localnet: supervisor already running")

	ErrShutdownTimeout = errors.New("localnet: shutdown timed out")
)

// ConfigError reports an invalid topology description.
type ConfigError struct {
	Path   string
	Chain  string
	Reason string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Chain != "" {
		b.WriteString(": chain ")
		b.WriteString(e.Chain)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// PortConflictError reports two owners of the same port.
type PortConflictError struct {
	Port   uint16
	First  string
	Second string
}

func (e *PortConflictError) Error() string {
	return fmt.Sprintf("port %d assigned to both %s and %s", e.Port, e.First, e.Second)
}

func (e *PortConflictError) Unwrap() error { return ErrPortConflict }

// ResumeError reports a missing or corrupt persisted artifact.
type ResumeError struct {
	Node     string
	Artifact string
	Reason   string
}

func (e *ResumeError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("resume: %s: %s", e.Artifact, e.Reason)
	}
	return fmt.Sprintf("resume %s: %s: %s", e.Node, e.Artifact, e.Reason)
}

func (e *ResumeError) Unwrap() error { return ErrResume }

// LockError reports that another operation owns the data directory.
type LockError struct {
	Path      string
	HolderPID int
	Operation string
}

func (e *LockError) Error() string {
	return fmt.Sprintf("%s held by pid %d (%s)", e.Path, e.HolderPID, e.Operation)
}

func (e *LockError) Unwrap() error { return ErrLock }

// NodeError reports a failure while materializing one node.
type NodeError struct {
	Chain string
	Node  string
	Err   error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("chain %s node %s: %v", e.Chain, e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// ProcessSpawnError reports a child that failed to launch.
type ProcessSpawnError struct {
	Name    string
	LogPath string
	Err     error
}

func (e *ProcessSpawnError) Error() string {
	return fmt.Sprintf("spawn %s (log %s): %v", e.Name, e.LogPath, e.Err)
}

func (e *ProcessSpawnError) Unwrap() []error { return []error{ErrProcessSpawn, e.Err} }

// ProcessCrashError reports a process that exhausted its retry budget.
type ProcessCrashError struct {
	Name    string
	Retries int
	LogPath string
	LogTail []string
	Err     error
}

func (e *ProcessCrashError) Error() string {
	msg := fmt.Sprintf("%s entered fatal state after %d retries (log %s)", e.Name, e.Retries, e.LogPath)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.LogTail) > 0 {
		msg += "\n  " + strings.Join(e.LogTail, "\n  ")
	}
	return msg
}

func (e *ProcessCrashError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProcessCrash}
	}
	return []error{ErrProcessCrash, e.Err}
}

// RelayerConfigError reports an unsupported variant or an unreachable endpoint.
type RelayerConfigError struct {
	Variant string
	Chain   string
	Reason  string
	Err     error
}

func (e *RelayerConfigError) Error() string {
	msg := "relayer " + e.Variant
	if e.Chain != "" {
		msg += " chain " + e.Chain
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RelayerConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRelayerConfig}
	}
	return []error{ErrRelayerConfig, e.Err}
}
