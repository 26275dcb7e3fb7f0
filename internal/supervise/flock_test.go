//go:build unix

package supervise

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireLock(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "test.lock")

	lock1, err := AcquireLock(lockPath)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	defer func() { _ = lock1.Release() }()

	// Verify lock file exists
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		t.Fatal("lock file was not created")
	}

	// Try to acquire second lock - should fail
	_, err = AcquireLock(lockPath)
	if err == nil {
		t.Fatal("expected error when acquiring already-held lock")
	}

	if !strings.Contains(err.Error(), "lock held") {
		t.Fatalf("expected 'lock held' error, got: %v", err)
	}
}

func TestAcquireLockCreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "logs", "test.lock")

	lock, err := AcquireLock(lockPath)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	defer func() { _ = lock.Release() }()

	if _, err := os.Stat(filepath.Dir(lockPath)); os.IsNotExist(err) {
		t.Fatal("lock directory was not created")
	}
}

func TestReleaseLock(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "test.lock")

	lock, err := AcquireLock(lockPath)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("failed to release lock: %v", err)
	}

	// Verify lock file was removed
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatal("lock file was not removed after release")
	}

	// Releasing again is a no-op
	if err := lock.Release(); err != nil {
		t.Fatalf("second release failed: %v", err)
	}

	// Should be able to acquire lock again
	lock2, err := AcquireLock(lockPath)
	if err != nil {
		t.Fatalf("failed to acquire lock after release: %v", err)
	}
	defer func() { _ = lock2.Release() }()
}

func TestIsLocked(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "test.lock")

	// Check non-existent lock file
	if IsLocked(lockPath) {
		t.Fatal("expected non-existent lock file to not be locked")
	}

	lock, err := AcquireLock(lockPath)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	defer func() { _ = lock.Release() }()

	if !IsLocked(lockPath) {
		t.Fatal("expected lock file to be locked")
	}

	_ = lock.Release()

	if IsLocked(lockPath) {
		t.Fatal("expected lock file to not be locked after release")
	}
}
