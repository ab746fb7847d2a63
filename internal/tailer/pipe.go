package tailer

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// palette holds ANSI foreground colors assigned to sources in first-seen order.
var palette = []string{"36", "33", "32", "35", "34", "31", "96", "93", "92", "95"}

// PipeOption configures Pipe.
type PipeOption func(*pipeConfig)

type pipeConfig struct {
	color bool
}

// WithColor colors the source prefix.
func WithColor(v bool) PipeOption {
	return func(c *pipeConfig) { c.color = v }
}

// IsTerminal reports whether f is a terminal, which is when Pipe output
// should be colored.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Pipe writes every line as "<source> | <text>" to w until Lines is closed.
func (t *Tailer) Pipe(w io.Writer, opts ...PipeOption) error {
	var cfg pipeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	bw := bufio.NewWriter(w)
	colors := make(map[string]string)

	for line := range t.lines {
		prefix := line.Source
		if cfg.color {
			c, ok := colors[line.Source]
			if !ok {
				c = palette[len(colors)%len(palette)]
				colors[line.Source] = c
			}
			prefix = "\x1b[" + c + "m" + line.Source + "\x1b[0m"
		}
		if _, err := fmt.Fprintf(bw, "%s | %s\n", prefix, line.Text); err != nil {
			return err
		}
		if len(t.lines) == 0 {
			if err := bw.Flush(); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
