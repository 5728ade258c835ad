package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireDirWritesPID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := AcquireDir(dir)
	if err != nil {
		t.Fatalf("AcquireDir: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.TrimSpace(string(b)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("expected our PID in lock file, got %q", b)
	}
}

func TestSecondAcquireFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := AcquireDir(dir)
	if err != nil {
		t.Fatalf("AcquireDir: %v", err)
	}
	t.Cleanup(func() { _ = first.Release() })

	_, err = AcquireDir(dir)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if !strings.Contains(err.Error(), "pid "+strconv.Itoa(os.Getpid())) {
		t.Fatalf("expected holder pid in error, got %v", err)
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := AcquireDir(dir)
	if err != nil {
		t.Fatalf("AcquireDir: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); !os.IsNotExist(err) {
		t.Fatalf("expected lock file removed, got %v", err)
	}

	again, err := AcquireDir(dir)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	_ = again.Release()
}

func TestReadHolder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "x.pid")
	if _, ok := ReadHolder(path); ok {
		t.Fatal("expected no holder for missing file")
	}
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := ReadHolder(path); ok {
		t.Fatal("expected no holder for garbage")
	}
	if err := os.WriteFile(path, []byte("42\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if pid, ok := ReadHolder(path); !ok || pid != 42 {
		t.Fatalf("expected 42, got %d %v", pid, ok)
	}
}

func TestEmptyPath(t *testing.T) {
	t.Parallel()
	if _, err := AcquirePIDLock(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
