package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bft-labs/localnet/internal/domain"
)

type lockInfo struct {
	PID        int       `json:"pid"`
	Operation  string    `json:"operation"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is an exclusive advisory lock on a data directory.
type Lock struct {
	path string
	info lockInfo
}

// unreadableGrace is how long a lock file with no parsable content is
// treated as held. Such a file comes from a holder that died mid-write.
const unreadableGrace = 5 * time.Second

// AcquireLock creates the lock file at path for operation. The content is
// written to a temporary file first and published with a hard link, so the
// lock never exists without its holder's pid. A lock left behind by a
// process that no longer exists is reclaimed; a live holder yields a
// *domain.LockError.
func AcquireLock(path, operation string) (*Lock, error) {
	info := lockInfo{PID: os.Getpid(), Operation: operation, AcquiredAt: time.Now().UTC()}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}

	tmp, err := writeTemp(path, data)
	if err != nil {
		return nil, fmt.Errorf("create lock: %w", err)
	}
	defer os.Remove(tmp)

	for attempt := 0; attempt < 2; attempt++ {
		err := os.Link(tmp, path)
		if err == nil {
			return &Lock{path: path, info: info}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock: %w", err)
		}

		holder, held := lockHeld(path)
		if held {
			return nil, &domain.LockError{Path: path, HolderPID: holder.PID, Operation: holder.Operation}
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reclaim stale lock: %w", err)
		}
	}
	holder, _ := readLock(path)
	return nil, &domain.LockError{Path: path, HolderPID: holder.PID, Operation: holder.Operation}
}

// lockHeld reports whether the existing lock at path still belongs to
// someone. Only a recorded pid that is positively dead, or an unreadable file
// older than unreadableGrace, counts as stale.
func lockHeld(path string) (lockInfo, bool) {
	holder, err := readLock(path)
	if err == nil {
		return holder, processAlive(holder.PID)
	}
	if os.IsNotExist(err) {
		return holder, false
	}
	st, serr := os.Stat(path)
	if serr != nil {
		return holder, !os.IsNotExist(serr)
	}
	return holder, time.Since(st.ModTime()) < unreadableGrace
}

func writeTemp(path string, data []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return "", err
	}
	_, werr := f.Write(data)
	merr := f.Chmod(0o644)
	serr := f.Sync()
	cerr := f.Close()
	if err := errors.Join(werr, merr, serr, cerr); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Release removes the lock file if it is still ours.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	cur, err := readLock(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if cur.PID != l.info.PID || !cur.AcquiredAt.Equal(l.info.AcquiredAt) {
		return nil
	}
	return os.Remove(l.path)
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

func readLock(path string) (lockInfo, error) {
	var info lockInfo
	data, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, err
	}
	return info, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
