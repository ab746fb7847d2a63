package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConsoleAdapter_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleAdapter(&buf, true)

	l.Info("node started",
		String("chain", "chain-1"),
		Uint16("p2p", 26656),
		Duration("took", time.Second),
		Err(errors.New("boom")),
	)

	out := buf.String()
	for _, want := range []string{"node started", "chain=chain-1", "p2p=26656", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestConsoleAdapter_With(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleAdapter(&buf, true).With(String("process", "relayer"))

	l.Warn("backoff")

	if !strings.Contains(buf.String(), "process=relayer") {
		t.Errorf("output %q missing scoped field", buf.String())
	}
}

func TestNoopLogger_With(t *testing.T) {
	var l Logger = NewNoopLogger()
	if l.With(String("a", "b")) == nil {
		t.Fatal("With returned nil")
	}
}
