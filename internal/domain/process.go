package domain

import "time"

// Default supervision parameters.
const (
	DefaultMaxRetries     = 3
	DefaultBackoffInitial = 1 * time.Second
	DefaultBackoffMax     = 30 * time.Second
	DefaultGracePeriod    = 10 * time.Second
	DefaultStartSeconds   = 1 * time.Second
)

// GlobalOwner marks process entries that do not belong to a node.
const GlobalOwner = "global"

// RelayerProcess is the name of the relayer process entry.
const RelayerProcess = "relayer"

// SupervisorSpec holds cluster-wide supervision settings.
type SupervisorSpec struct {
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	GracePeriod    time.Duration
	// StartSeconds is how long a child must stay up to count as running.
	StartSeconds time.Duration
}

// WithDefaults fills zero values.
func (s SupervisorSpec) WithDefaults() SupervisorSpec {
	if s.MaxRetries <= 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.BackoffInitial <= 0 {
		s.BackoffInitial = DefaultBackoffInitial
	}
	if s.BackoffMax <= 0 {
		s.BackoffMax = DefaultBackoffMax
	}
	if s.BackoffMax < s.BackoffInitial {
		s.BackoffMax = s.BackoffInitial
	}
	if s.GracePeriod <= 0 {
		s.GracePeriod = DefaultGracePeriod
	}
	if s.StartSeconds < 0 {
		s.StartSeconds = 0
	}
	return s
}

// RestartPolicy controls autorestart of a crashed process.
type RestartPolicy struct {
	AutoRestart    bool
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Delay returns the wait before the n-th restart (n starts at 1).
// The schedule doubles from BackoffInitial and is capped at BackoffMax,
// so it never decreases.
func (p RestartPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BackoffInitial
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}

// ProcessEntry describes one supervised child process.
type ProcessEntry struct {
	Name      string
	Command   string
	Args      []string
	Dir       string
	LogPath   string
	AutoStart bool
	Restart   RestartPolicy
	// Owner is "<chain-id>/node<i>" or GlobalOwner.
	Owner    string
	Critical bool
}

// ProcessStatus is the observable state of a supervised process.
type ProcessStatus string

const (
	StatusStarting ProcessStatus = "starting"
	StatusRunning  ProcessStatus = "running"
	StatusBackoff  ProcessStatus = "backoff"
	StatusFatal    ProcessStatus = "fatal"
	StatusStopped  ProcessStatus = "stopped"
	// StatusExited is a clean exit of a process without autorestart.
	StatusExited ProcessStatus = "exited"
)

// Terminal reports whether the status will not change without an explicit start.
func (s ProcessStatus) Terminal() bool {
	return s == StatusFatal || s == StatusStopped || s == StatusExited
}

// ProcessInfo is a snapshot of one process for status reporting.
type ProcessInfo struct {
	Name     string        `json:"name"`
	Status   ProcessStatus `json:"status"`
	PID      int           `json:"pid,omitempty"`
	Retries  int           `json:"retries"`
	LogPath  string        `json:"log_path"`
	LastErr  string        `json:"last_error,omitempty"`
	Critical bool          `json:"critical,omitempty"`
}
