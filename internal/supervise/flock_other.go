//go:build !unix

package supervise

// AcquireLock is a no-op on non-unix platforms.
// Start/spawn exclusion via flock is only supported on unix.
func AcquireLock(path string) (*FileLock, error) {
	return nil, nil
}

// Release is a no-op on non-unix platforms.
func (l *FileLock) Release() error {
	return nil
}

// IsLocked always returns false on non-unix platforms.
func IsLocked(path string) bool {
	return false
}
