// Package security holds the filesystem and rate limiting primitives the
// daemon uses to keep its runtime state private to the current user.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// File permission constants
const (
	// PermPrivateFile is for files only the owner may read (config, crash dumps).
	PermPrivateFile os.FileMode = 0600

	// PermPrivateDir is for directories holding sockets, locks and logs.
	PermPrivateDir os.FileMode = 0700
)

var (
	ErrInsecurePermissions = errors.New("security: insecure file permissions")
	ErrAtomicWriteFailed   = errors.New("security: atomic write failed")
	ErrNotDirectory        = errors.New("security: not a directory")
)

// AtomicFileWriter writes to a temporary file beside the target and renames
// it into place on Commit, so readers never observe a partial file.
type AtomicFileWriter struct {
	path     string
	tempFile *os.File
	tempPath string
}

// NewAtomicFileWriter creates the parent directory if needed and opens the
// temporary file with perm.
func NewAtomicFileWriter(path string, perm os.FileMode) (*AtomicFileWriter, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), PermPrivateDir); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	tempPath := path + ".tmp." + randomSuffix()
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAtomicWriteFailed, err)
	}
	return &AtomicFileWriter{path: path, tempFile: f, tempPath: tempPath}, nil
}

func (w *AtomicFileWriter) Write(p []byte) (int, error) {
	return w.tempFile.Write(p)
}

// Commit syncs the temporary file and renames it over the target.
func (w *AtomicFileWriter) Commit() error {
	if err := w.tempFile.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("sync: %w", err)
	}
	if err := w.tempFile.Close(); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(w.tempPath, w.path); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("%w: %v", ErrAtomicWriteFailed, err)
	}
	return nil
}

// Abort discards the temporary file.
func (w *AtomicFileWriter) Abort() {
	w.tempFile.Close()
	os.Remove(w.tempPath)
}

func randomSuffix() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// WriteFileAtomic writes data to path through an AtomicFileWriter.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	w, err := NewAtomicFileWriter(path, perm)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}

// EnsurePrivateDir creates path with PermPrivateDir if it does not exist.
// An existing directory is left as it is; use CheckPrivate to inspect it.
func EnsurePrivateDir(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(path, PermPrivateDir)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, path)
	}
	return nil
}

// CheckPrivate reports ErrInsecurePermissions when path is writable by
// group or others. Always nil on Windows.
func CheckPrivate(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0022 != 0 {
		return fmt.Errorf("%w: %s has mode %04o", ErrInsecurePermissions, path, mode)
	}
	return nil
}
