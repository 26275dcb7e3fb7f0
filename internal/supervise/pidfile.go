package supervise

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// WritePIDFile persists a process ID to path as plain decimal text,
// overwriting any prior content. The parent directory is created if needed.
func WritePIDFile(path string, pid int) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	content := fmt.Sprintf("%d\n", pid)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	return nil
}

// ReadPIDFile reads the process ID from the specified file.
func ReadPIDFile(path string) (int, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304 - path from project logs directory
	if err != nil {
		// Return error without wrapping to preserve os.IsNotExist check
		return 0, err
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %s", pidStr)
	}

	return pid, nil
}

// CheckPIDFile reports whether the process named by the PID file is live.
// Returns: (running, pid, error)
// - running: true if the process is running, false if stale or file absent
// - pid: the PID from the file (0 if the file doesn't exist)
// - error: any error reading the file (nil if the file doesn't exist).
//
// The file's existence is never taken as proof of liveness; the OS process
// table is always consulted.
func CheckPIDFile(path string) (bool, int, error) {
	pid, err := ReadPIDFile(path)
	if err != nil {
		// Missing file is the normal "not running" case
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}

	return isProcessRunning(pid), pid, nil
}

// RemovePIDFile removes the PID file. Missing files are not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		// On Unix, FindProcess always succeeds
		// On Windows, it may fail if the process doesn't exist
		return false
	}

	// Signal 0 doesn't deliver anything, it only checks existence and
	// permission to signal
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		// A zombie still answers signal 0. Children spawned here are
		// released without a wait, so their exit records linger until
		// someone reaps them; an unreaped exit record is not a running
		// process.
		return !isZombie(pid)
	}

	if err == syscall.ESRCH {
		// No such process
		return false
	}

	if err == syscall.EPERM {
		// Process exists but belongs to another user
		return true
	}

	// Other error (process finished, etc.)
	return false
}

// isZombie reports whether pid exists only as an unreaped exit record.
func isZombie(pid int) bool {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	statuses, err := p.Status()
	if err != nil {
		return false
	}
	for _, st := range statuses {
		if st == gopsproc.Zombie {
			return true
		}
	}
	return false
}
