// Package tailer follows a set of log files and merges their new lines into
// one bounded stream. Lines of one source keep their file order; lines of
// different sources interleave in arrival order.
package tailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/localnet/pkg/log"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultQueueSize    = 256
	readChunk           = 32 << 10
	// maxLine bounds a partial line kept while waiting for its newline.
	maxLine = 1 << 20
)

// Source is one followed file.
type Source struct {
	Name string
	Path string
}

// Line is one line read from a source, without its newline.
type Line struct {
	Source string
	Text   string
}

// Tailer follows Sources. Start it once, then read Lines until it is closed.
type Tailer struct {
	sources   []Source
	poll      time.Duration
	fromStart bool
	logger    log.Logger
	lines     chan Line

	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
}

// Option configures a Tailer.
type Option func(*Tailer)

// WithPollInterval sets how often files are checked without a watcher event.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tailer) { t.poll = d }
}

// WithQueueSize bounds the merged queue. Readers block when it is full.
func WithQueueSize(n int) Option {
	return func(t *Tailer) { t.lines = make(chan Line, n) }
}

// WithFromStart reads files that already exist from the beginning instead
// of from their current end.
func WithFromStart(v bool) Option {
	return func(t *Tailer) { t.fromStart = v }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(t *Tailer) { t.logger = l }
}

// New creates a Tailer for sources.
func New(sources []Source, opts ...Option) *Tailer {
	t := &Tailer{
		sources: append([]Source(nil), sources...),
		poll:    defaultPollInterval,
		logger:  log.NewNoopLogger(),
		lines:   make(chan Line, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Lines returns the merged stream. It is closed by Stop.
func (t *Tailer) Lines() <-chan Line {
	return t.lines
}

// Start begins following every source in the background.
func (t *Tailer) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	t.group = g

	wakes := make(map[string]chan struct{}, len(t.sources))
	for _, src := range t.sources {
		wake := make(chan struct{}, 1)
		wakes[filepath.Clean(src.Path)] = wake

		f := &follower{src: src, t: t, wake: wake}
		if !t.fromStart {
			if info, err := os.Stat(src.Path); err == nil {
				f.offset = info.Size()
			}
		}
		g.Go(func() error { return f.run(ctx) })
	}

	watcher, err := t.watch()
	if err != nil {
		t.logger.Warn("file watcher unavailable, polling", log.Err(err), log.Duration("interval", t.poll))
		return
	}
	g.Go(func() error {
		defer watcher.Close()
		dispatch(ctx, watcher, wakes, t.logger)
		return nil
	})
}

// watch registers the directory of every source. Files are created by the
// processes after the tailer starts, so files themselves are not watched.
func (t *Tailer) watch() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	added := 0
	for _, src := range t.sources {
		dir := filepath.Dir(src.Path)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := w.Add(dir); err != nil {
			t.logger.Debug("cannot watch directory", log.String("dir", dir), log.Err(err))
			continue
		}
		added++
	}
	if added == 0 {
		w.Close()
		return nil, errors.New("no watchable directories")
	}
	return w, nil
}

func dispatch(ctx context.Context, w *fsnotify.Watcher, wakes map[string]chan struct{}, logger log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			wake, ok := wakes[filepath.Clean(ev.Name)]
			if !ok {
				continue
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("file watcher error", log.Err(err))
		}
	}
}

// Stop cancels every follower, waits for them and closes Lines. It is safe
// to call more than once and before Start.
func (t *Tailer) Stop() {
	t.stopOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
			_ = t.group.Wait()
		}
		close(t.lines)
	})
}

// follower reads one source. It owns its file and read state.
type follower struct {
	src     Source
	t       *Tailer
	wake    chan struct{}
	file    *os.File
	offset  int64
	pending []byte
}

func (f *follower) run(ctx context.Context) error {
	defer f.close()
	ticker := time.NewTicker(f.t.poll)
	defer ticker.Stop()

	for {
		if err := f.drain(ctx); err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-f.wake:
		case <-ticker.C:
		}
	}
}

// drain emits every complete line written since the last read. It returns
// an error only when ctx ends while a line is blocked on the queue.
func (f *follower) drain(ctx context.Context) error {
	if f.file != nil && f.replaced() {
		f.close()
		f.offset = 0
		f.pending = f.pending[:0]
	}
	if f.file == nil {
		file, err := os.Open(f.src.Path)
		if err != nil {
			return nil
		}
		f.file = file
		if f.offset > 0 {
			if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
				f.offset = 0
			}
		}
	}

	if info, err := f.file.Stat(); err == nil && info.Size() < f.offset {
		f.t.logger.Debug("log truncated, rewinding", log.String("source", f.src.Name))
		if _, err := f.file.Seek(0, io.SeekStart); err != nil {
			f.close()
			return nil
		}
		f.offset = 0
		f.pending = f.pending[:0]
	}

	buf := make([]byte, readChunk)
	for {
		n, err := f.file.Read(buf)
		if n > 0 {
			f.offset += int64(n)
			f.pending = append(f.pending, buf[:n]...)
			if err := f.emitLines(ctx); err != nil {
				return err
			}
		}
		if err != nil {
			return nil
		}
	}
}

func (f *follower) emitLines(ctx context.Context) error {
	for {
		i := bytes.IndexByte(f.pending, '\n')
		if i < 0 {
			if len(f.pending) > maxLine {
				i = len(f.pending)
			} else {
				return nil
			}
		}
		text := string(bytes.TrimRight(f.pending[:i], "\r"))
		if i < len(f.pending) {
			i++
		}
		f.pending = f.pending[i:]

		select {
		case f.t.lines <- Line{Source: f.src.Name, Text: text}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// replaced reports whether the path now names a different file than the
// one held open.
func (f *follower) replaced() bool {
	cur, err := os.Stat(f.src.Path)
	if err != nil {
		return false
	}
	held, err := f.file.Stat()
	if err != nil {
		return true
	}
	return !os.SameFile(cur, held)
}

func (f *follower) close() {
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
}
