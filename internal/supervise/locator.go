package supervise

import (
	"os"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Locator finds running processes by a command-line fingerprint. It exists
// as an interface so stop's fallback discovery can be exercised in tests
// without depending on the real OS process table.
//
// Fingerprint matching is inherently fragile (a substring can match an
// unrelated process), so production fingerprints should include the
// service's entry point path, not just an executable name.
type Locator interface {
	// FindByFingerprint returns the PIDs of live processes whose command
	// line contains the given fingerprint. The calling process itself is
	// never included.
	FindByFingerprint(fingerprint string) ([]int, error)
}

// SystemLocator looks up processes in the real OS process table.
type SystemLocator struct{}

// FindByFingerprint scans the process table for command lines containing
// fingerprint.
func (SystemLocator) FindByFingerprint(fingerprint string) ([]int, error) {
	if fingerprint == "" {
		return nil, nil
	}

	procs, err := gopsproc.Processes()
	if err != nil {
		return nil, err
	}

	self := os.Getpid()
	var pids []int
	for _, p := range procs {
		if int(p.Pid) == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			// Processes can exit mid-scan or deny access; skip them
			continue
		}
		if strings.Contains(cmdline, fingerprint) {
			pids = append(pids, int(p.Pid))
		}
	}

	return pids, nil
}

// ProcessStats is a point-in-time resource sample for a running service.
type ProcessStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
	StartedAt  int64   `json:"started_at_ms,omitempty"`
}

// SampleProcess returns resource usage for a PID. Any field that cannot
// be read is left at its zero value; an error is returned only when the
// process handle itself cannot be opened.
func SampleProcess(pid int) (ProcessStats, error) {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return ProcessStats{}, err
	}

	var stats ProcessStats
	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		stats.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	}
	if created, err := p.CreateTime(); err == nil {
		stats.StartedAt = created
	}

	return stats, nil
}
