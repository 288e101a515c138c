package security

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	if err := WriteFileAtomic(path, []byte("a = 1\n"), PermPrivateFile); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("a = 2\n"), PermPrivateFile); err != nil {
		t.Fatalf("WriteFileAtomic overwrite: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a = 2\n" {
		t.Errorf("content = %q", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected no leftover temp files, got %d entries", len(entries))
	}

	if runtime.GOOS != "windows" {
		info, _ := os.Stat(path)
		if info.Mode().Perm() != PermPrivateFile {
			t.Errorf("mode = %04o", info.Mode().Perm())
		}
	}
}

func TestAtomicFileWriterAbort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	w, err := NewAtomicFileWriter(path, PermPrivateFile)
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("partial"))
	w.Abort()

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("target should not exist after abort: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 0 {
		t.Errorf("temp file left behind")
	}
}

func TestEnsurePrivateDir(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "a", "b")

	if err := EnsurePrivateDir(dir); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := EnsurePrivateDir(dir); err != nil {
		t.Fatalf("existing: %v", err)
	}
	if err := CheckPrivate(dir); err != nil {
		t.Errorf("new dir should be private: %v", err)
	}

	file := filepath.Join(base, "f")
	os.WriteFile(file, nil, 0600)
	if err := EnsurePrivateDir(file); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("file: got %v, want ErrNotDirectory", err)
	}
}

func TestCheckPrivate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no unix permissions")
	}
	dir := filepath.Join(t.TempDir(), "shared")
	os.Mkdir(dir, 0700)
	if err := os.Chmod(dir, 0777); err != nil {
		t.Fatal(err)
	}
	if err := CheckPrivate(dir); !errors.Is(err, ErrInsecurePermissions) {
		t.Errorf("got %v, want ErrInsecurePermissions", err)
	}
}

func TestInstanceLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imehud.lock")

	first, err := AcquireInstanceLock(path)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if first.Path() != path {
		t.Errorf("Path() = %q", first.Path())
	}

	if _, err := AcquireInstanceLock(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("second acquire: got %v, want ErrLocked", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}

	again, err := AcquireInstanceLock(path)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again.Release()
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRateLimiter(10, 3)
	r.now = func() time.Time { return now }
	r.lastRefill = now

	for i := 0; i < 3; i++ {
		if !r.Allow() {
			t.Fatalf("burst request %d rejected", i)
		}
	}
	if r.Allow() {
		t.Fatal("request beyond burst allowed")
	}

	now = now.Add(150 * time.Millisecond)
	if !r.Allow() {
		t.Fatal("refilled token rejected")
	}
	if r.Allow() {
		t.Fatal("only one token should have refilled")
	}

	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if !r.Allow() {
			t.Fatalf("refill capped below burst at %d", i)
		}
	}
	if r.Allow() {
		t.Fatal("refill exceeded burst")
	}

	r.Reset()
	if !r.Allow() {
		t.Fatal("reset did not refill")
	}
}
