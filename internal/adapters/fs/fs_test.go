package fs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bft-labs/localnet/internal/domain"
)

func TestClusterFileRepositoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	repo := NewClusterFileRepository(filepath.Join(dir, "cluster.json"))

	rec, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.State != domain.StateUninitialized {
		t.Fatalf("Load() on missing file state = %s, want UNINITIALIZED", rec.State)
	}

	want := domain.ClusterRecord{
		State:     domain.StateInitialized,
		UpdatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Topology:  "abc",
		Chains: []domain.ChainRecord{{
			ID:            "chain-a",
			GenesisSHA256: "def",
			Nodes:         []domain.NodeRecord{{Moniker: "node0", Home: "/x", NodeID: "id0", Ports: domain.PortSet{P2P: 1}}},
		}},
	}
	if err := repo.Save(context.Background(), want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.State != want.State || got.Topology != want.Topology || len(got.Chains) != 1 || got.Chains[0].Nodes[0].NodeID != "id0" {
		t.Fatalf("Load() = %+v, want %+v", got, want)
	}
	if _, err := os.Stat(repo.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestWriteFileAtomicReportsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "file.toml")

	changed, err := WriteFileAtomic(path, []byte("a = 1\n"), 0o644)
	if err != nil || !changed {
		t.Fatalf("first write = %v, %v; want true, nil", changed, err)
	}
	info, _ := os.Stat(path)
	mtime := info.ModTime()

	changed, err = WriteFileAtomic(path, []byte("a = 1\n"), 0o644)
	if err != nil || changed {
		t.Fatalf("identical write = %v, %v; want false, nil", changed, err)
	}
	info, _ = os.Stat(path)
	if !info.ModTime().Equal(mtime) {
		t.Fatal("identical write touched the file")
	}

	changed, err = WriteFileAtomic(path, []byte("a = 2\n"), 0o644)
	if err != nil || !changed {
		t.Fatalf("new content write = %v, %v; want true, nil", changed, err)
	}
}

func TestAcquireLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	l, err := AcquireLock(path, "init")
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}

	_, err = AcquireLock(path, "start")
	var le *domain.LockError
	if !errors.As(err, &le) {
		t.Fatalf("second AcquireLock() error = %v, want LockError", err)
	}
	if le.HolderPID != os.Getpid() || le.Operation != "init" {
		t.Fatalf("LockError = %+v", le)
	}
	if !errors.Is(err, domain.ErrLock) {
		t.Fatal("LockError does not unwrap to ErrLock")
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	l2, err := AcquireLock(path, "start")
	if err != nil {
		t.Fatalf("AcquireLock() after release error = %v", err)
	}
	_ = l2.Release()
}

func TestAcquireLockReclaimsStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")
	// Pid values above the kernel maximum never belong to a live process.
	stale, _ := json.Marshal(lockInfo{PID: 1 << 30, Operation: "init", AcquiredAt: time.Now()})
	if err := os.WriteFile(path, stale, 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := AcquireLock(path, "start")
	if err != nil {
		t.Fatalf("AcquireLock() over stale lock error = %v", err)
	}
	defer l.Release()

	info, err := readLock(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.PID != os.Getpid() || info.Operation != "start" {
		t.Fatalf("lock content = %+v", info)
	}
}

func TestAcquireLockKeepsFreshUnreadableLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")
	// An empty file is what a holder that has not finished writing leaves.
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := AcquireLock(path, "init")
	if err == nil {
		l.Release()
		t.Fatal("AcquireLock() took over a lock that is still being written")
	}
	if !errors.Is(err, domain.ErrLock) {
		t.Fatalf("AcquireLock() error = %v, want ErrLock", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file removed: %v", err)
	}
}

func TestAcquireLockReclaimsOldUnreadableLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	l, err := AcquireLock(path, "init")
	if err != nil {
		t.Fatalf("AcquireLock() over abandoned lock error = %v", err)
	}
	defer l.Release()

	info, err := readLock(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.PID != os.Getpid() {
		t.Fatalf("lock pid = %d, want %d", info.PID, os.Getpid())
	}
}

func TestAcquireLockLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".lock")
	l, err := AcquireLock(path, "init")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()
	if _, err := AcquireLock(path, "start"); err == nil {
		t.Fatal("second AcquireLock() succeeded")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != ".lock" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("dir entries = %v, want only .lock", names)
	}
}
