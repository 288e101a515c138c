//go:build windows

package ipc

import "os"

// SetSocketPermissions is a no-op: AF_UNIX socket files on Windows inherit
// the ACL of their directory, which DefaultSocketPath keeps per-user.
func SetSocketPermissions(path string, mode os.FileMode) error {
	return nil
}

// CleanupSocket removes a stale socket file.
func CleanupSocket(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
