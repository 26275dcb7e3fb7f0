// Package cli implements the operations behind the svcrun commands,
// bridging the cobra surface and the supervisor library.
package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/qiushuiai/svcrun/internal/config"
	"github.com/qiushuiai/svcrun/internal/journal"
	"github.com/qiushuiai/svcrun/internal/paths"
	"github.com/qiushuiai/svcrun/internal/supervise"
)

// OpResult describes the outcome of a lifecycle operation for display
// and journaling.
type OpResult struct {
	Service string `json:"service"`
	Op      string `json:"op"`
	Outcome string `json:"outcome"`
	PID     int    `json:"pid,omitempty"`
}

// StatusResult holds service status details.
type StatusResult struct {
	Service    string  `json:"service"`
	Running    bool    `json:"running"`
	Status     string  `json:"status"`
	PID        int     `json:"pid,omitempty"`
	Uptime     string  `json:"uptime,omitempty"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	MemoryMB   float64 `json:"memory_mb,omitempty"`
}

// startConfirmAttempts x startConfirmInterval bounds how long ServiceStart
// waits to confirm the spawned process survived launch.
const (
	startConfirmAttempts = 5
	startConfirmInterval = 100 * time.Millisecond
)

// SupervisorFor builds a Supervisor for one configured service, with all
// state files under the project's logs directory.
func SupervisorFor(root, name string, svc config.Service) *supervise.Supervisor {
	dir := svc.Dir
	if dir != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}

	fingerprint := svc.Fingerprint
	if fingerprint == "" && len(svc.Command) > 0 {
		fingerprint = svc.Command[len(svc.Command)-1]
	}

	return supervise.New(supervise.Options{
		Name:          name,
		PIDFile:       paths.PIDFile(root, name),
		LockFile:      paths.LockFile(root, name),
		LogFile:       paths.LogFile(root, name),
		Command:       svc.Command,
		Dir:           dir,
		Env:           svc.ChildEnv(),
		Prelaunch:     svc.Prelaunch,
		Fingerprint:   fingerprint,
		GraceAttempts: svc.GraceAttempts,
		GraceInterval: svc.GraceInterval(),
		SettleDelay:   svc.SettleDelay(),
	})
}

// ServiceStart starts a service as a detached background process and
// confirms it survived the launch.
func ServiceStart(ctx context.Context, root, name string) (*OpResult, error) {
	sup, err := supervisorFromConfig(root, name)
	if err != nil {
		return nil, err
	}

	pid, err := sup.Start(ctx)
	if err != nil {
		if errors.Is(err, supervise.ErrAlreadyRunning) {
			recordEvent(root, name, "start", "already-running", pid, "")
		}
		return nil, err
	}

	if err := confirmAlive(ctx, sup); err != nil {
		recordEvent(root, name, "start", "failed", pid, err.Error())
		return nil, err
	}

	recordEvent(root, name, "start", string(supervise.OutcomeStarted), pid, "")
	return &OpResult{Service: name, Op: "start", Outcome: string(supervise.OutcomeStarted), PID: pid}, nil
}

// ServiceRun runs a service in the foreground, blocking until the child
// exits or the supervisor is signaled.
func ServiceRun(ctx context.Context, root, name string) error {
	sup, err := supervisorFromConfig(root, name)
	if err != nil {
		return err
	}

	recordEvent(root, name, "run", "foreground", 0, "")
	return sup.Run(ctx)
}

// ServiceStop stops a service. Stopping an already-stopped service is a
// success.
func ServiceStop(ctx context.Context, root, name string) (*OpResult, error) {
	sup, err := supervisorFromConfig(root, name)
	if err != nil {
		return nil, err
	}

	outcome, err := sup.Stop(ctx)
	if err != nil {
		recordEvent(root, name, "stop", "failed", 0, err.Error())
		return nil, err
	}

	recordEvent(root, name, "stop", string(outcome), 0, "")
	return &OpResult{Service: name, Op: "stop", Outcome: string(outcome)}, nil
}

// ServiceRestart stops then starts a service, with the settle delay in
// between. The phases never overlap.
func ServiceRestart(ctx context.Context, root, name string) (*OpResult, error) {
	sup, err := supervisorFromConfig(root, name)
	if err != nil {
		return nil, err
	}

	pid, err := sup.Restart(ctx)
	if err != nil {
		recordEvent(root, name, "restart", "failed", pid, err.Error())
		return nil, err
	}

	if err := confirmAlive(ctx, sup); err != nil {
		recordEvent(root, name, "restart", "failed", pid, err.Error())
		return nil, err
	}

	recordEvent(root, name, "restart", string(supervise.OutcomeStarted), pid, "")
	return &OpResult{Service: name, Op: "restart", Outcome: string(supervise.OutcomeStarted), PID: pid}, nil
}

// ServiceStatus reports liveness plus a resource sample for one service.
func ServiceStatus(root, name string) (*StatusResult, error) {
	sup, err := supervisorFromConfig(root, name)
	if err != nil {
		return nil, err
	}

	running, pid, err := sup.Status()
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		Service: name,
		Running: running,
		Status:  "stopped",
		PID:     pid,
	}
	if !running {
		result.PID = 0
		// A held supervisor lock with no live PID means another
		// invocation is mid-launch
		if supervise.IsLocked(sup.Options().LockFile) {
			result.Status = "starting"
		}
		return result, nil
	}

	result.Status = "running"
	if stats, err := supervise.SampleProcess(pid); err == nil {
		result.CPUPercent = stats.CPUPercent
		result.MemoryMB = stats.MemoryMB
		if stats.StartedAt > 0 {
			uptime := time.Since(time.UnixMilli(stats.StartedAt))
			result.Uptime = formatDuration(uptime)
		}
	}

	return result, nil
}

// History returns recent supervision events, newest first. An empty
// service name matches all services.
func History(root, service string, limit int) ([]journal.Event, error) {
	j, err := journal.Open(paths.JournalFile(root))
	if err != nil {
		return nil, err
	}
	defer func() { _ = j.Close() }()

	return j.Recent(service, limit)
}

func supervisorFromConfig(root, name string) (*supervise.Supervisor, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	svc, err := cfg.Lookup(name)
	if err != nil {
		return nil, err
	}
	return SupervisorFor(root, name, svc), nil
}

// confirmAlive polls briefly after a detached spawn to catch processes
// that die immediately (bad command, port already bound).
func confirmAlive(ctx context.Context, sup *supervise.Supervisor) error {
	opts := sup.Options()
	for i := 0; i < startConfirmAttempts; i++ {
		select {
		case <-time.After(startConfirmInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
		running, _, err := sup.Status()
		if err != nil {
			return err
		}
		if !running {
			_ = supervise.RemovePIDFile(opts.PIDFile)
			return fmt.Errorf("%s exited immediately after launch, check %s", opts.Name, opts.LogFile)
		}
	}
	return nil
}

// recordEvent appends to the journal best-effort; a broken journal never
// fails the operation itself.
func recordEvent(root, service, op, outcome string, pid int, detail string) {
	j, err := journal.Open(paths.JournalFile(root))
	if err != nil {
		log.Warn("journal unavailable", "error", err)
		return
	}
	defer func() { _ = j.Close() }()

	if _, err := j.Record(journal.Event{
		Service: service,
		Op:      op,
		Outcome: outcome,
		PID:     pid,
		Detail:  detail,
	}); err != nil {
		log.Warn("failed to record journal event", "error", err)
	}
}
