package domain

import (
	"errors"
	"testing"
	"time"
)

func TestRestartPolicy_Delay(t *testing.T) {
	p := RestartPolicy{BackoffInitial: 100 * time.Millisecond, BackoffMax: time.Second}

	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{60, time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.n); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}

	prev := time.Duration(0)
	for n := 1; n < 100; n++ {
		d := p.Delay(n)
		if d < prev {
			t.Fatalf("Delay(%d) = %v decreased from %v", n, d, prev)
		}
		prev = d
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ClusterState
		want     bool
	}{
		{StateUninitialized, StateInitialized, true},
		{StateUninitialized, StateRunning, false},
		{StateInitialized, StateRunning, true},
		{StateRunning, StateStopped, true},
		{StateStopped, StateRunning, true},
		{StateStopped, StateInitialized, true},
		{StateRunning, StateInitialized, true},
		{StateInitialized, StateStopped, false},
		{StateDestroyed, StateRunning, false},
		{StateRunning, StateDestroyed, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestClusterRecord_Transition(t *testing.T) {
	var r ClusterRecord
	if err := r.Transition(StateRunning, time.Now()); err == nil {
		t.Fatal("expected error for UNINITIALIZED -> RUNNING")
	}
	if err := r.Transition(StateInitialized, time.Now()); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if r.State != StateInitialized || r.UpdatedAt.IsZero() {
		t.Errorf("record = %+v", r)
	}
}

func TestErrorsUnwrapToSentinels(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{&ConfigError{Reason: "x"}, ErrConfig},
		{&PortConflictError{Port: 1}, ErrPortConflict},
		{&ResumeError{Artifact: "genesis"}, ErrResume},
		{&LockError{Path: "/x"}, ErrLock},
		{&ProcessSpawnError{Name: "a", Err: errors.New("enoent")}, ErrProcessSpawn},
		{&ProcessCrashError{Name: "a"}, ErrProcessCrash},
		{&RelayerConfigError{Variant: "rly", Reason: "unsupported"}, ErrRelayerConfig},
		{&NodeError{Chain: "c", Node: "node0", Err: ErrConfig}, ErrConfig},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%T does not unwrap to %v", tt.err, tt.want)
		}
	}
}
