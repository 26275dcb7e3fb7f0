//go:build unix

package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/qiushuiai/svcrun/internal/paths"
	"github.com/qiushuiai/svcrun/internal/supervise"
)

// testRoot writes a project config defining one service over a long-lived
// child with a short grace window.
func testRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	doc := `{
		"services": {
			"svc": {
				"command": ["sleep", "60"],
				"grace_attempts": 20,
				"grace_interval_ms": 50,
				"settle_delay_ms": 50
			}
		}
	}`
	if err := os.WriteFile(filepath.Join(root, paths.ConfigFileName), []byte(doc), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if pid, err := supervise.ReadPIDFile(paths.PIDFile(root, "svc")); err == nil {
			_ = syscall.Kill(pid, syscall.SIGKILL)
		}
	})
	return root
}

func TestServiceStartStopRoundTrip(t *testing.T) {
	root := testRoot(t)
	ctx := context.Background()

	start, err := ServiceStart(ctx, root, "svc")
	if err != nil {
		t.Fatalf("ServiceStart failed: %v", err)
	}
	if start.Outcome != "started" || start.PID <= 0 {
		t.Fatalf("unexpected start result: %+v", start)
	}

	status, err := ServiceStatus(root, "svc")
	if err != nil {
		t.Fatalf("ServiceStatus failed: %v", err)
	}
	if !status.Running || status.PID != start.PID {
		t.Fatalf("unexpected status: %+v", status)
	}

	stop, err := ServiceStop(ctx, root, "svc")
	if err != nil {
		t.Fatalf("ServiceStop failed: %v", err)
	}
	if stop.Outcome != "stopped" {
		t.Fatalf("unexpected stop outcome: %s", stop.Outcome)
	}

	// PID file gone, second stop is an idempotent no-op
	if _, err := os.Stat(paths.PIDFile(root, "svc")); !os.IsNotExist(err) {
		t.Fatal("PID file still exists after stop")
	}
	stop2, err := ServiceStop(ctx, root, "svc")
	if err != nil {
		t.Fatalf("second ServiceStop failed: %v", err)
	}
	if stop2.Outcome != "not-running" {
		t.Fatalf("unexpected second stop outcome: %s", stop2.Outcome)
	}
}

func TestServiceStartAlreadyRunning(t *testing.T) {
	root := testRoot(t)
	ctx := context.Background()

	if _, err := ServiceStart(ctx, root, "svc"); err != nil {
		t.Fatalf("ServiceStart failed: %v", err)
	}

	_, err := ServiceStart(ctx, root, "svc")
	if !errors.Is(err, supervise.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got: %v", err)
	}

	if _, err := ServiceStop(ctx, root, "svc"); err != nil {
		t.Fatalf("ServiceStop failed: %v", err)
	}
}

func TestServiceStartBadCommandReported(t *testing.T) {
	root := t.TempDir()
	doc := `{"services": {"bad": {"command": ["/nonexistent/binary"]}}}`
	if err := os.WriteFile(filepath.Join(root, paths.ConfigFileName), []byte(doc), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := ServiceStart(context.Background(), root, "bad"); err == nil {
		t.Fatal("expected error for unlaunchable command")
	}
}

func TestServiceRestartChangesPID(t *testing.T) {
	root := testRoot(t)
	ctx := context.Background()

	start, err := ServiceStart(ctx, root, "svc")
	if err != nil {
		t.Fatalf("ServiceStart failed: %v", err)
	}

	restart, err := ServiceRestart(ctx, root, "svc")
	if err != nil {
		t.Fatalf("ServiceRestart failed: %v", err)
	}
	if restart.PID == start.PID {
		t.Fatalf("restart reused PID %d", start.PID)
	}

	if _, err := ServiceStop(ctx, root, "svc"); err != nil {
		t.Fatalf("ServiceStop failed: %v", err)
	}
}

func TestServiceUnknownName(t *testing.T) {
	root := testRoot(t)

	if _, err := ServiceStart(context.Background(), root, "nope"); err == nil {
		t.Fatal("expected error for unknown service")
	}
	if _, err := ServiceStatus(root, "nope"); err == nil {
		t.Fatal("expected error for unknown service")
	}
}

func TestHistoryRecordsOperations(t *testing.T) {
	root := testRoot(t)
	ctx := context.Background()

	if _, err := ServiceStart(ctx, root, "svc"); err != nil {
		t.Fatalf("ServiceStart failed: %v", err)
	}
	if _, err := ServiceStop(ctx, root, "svc"); err != nil {
		t.Fatalf("ServiceStop failed: %v", err)
	}

	events, err := History(root, "svc", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// Newest first
	if events[0].Op != "stop" || events[1].Op != "start" {
		t.Fatalf("unexpected event order: %s, %s", events[0].Op, events[1].Op)
	}
	if events[0].Outcome != "stopped" || events[1].Outcome != "started" {
		t.Fatalf("unexpected outcomes: %s, %s", events[0].Outcome, events[1].Outcome)
	}
}

func TestServiceStatusStopped(t *testing.T) {
	root := testRoot(t)

	status, err := ServiceStatus(root, "svc")
	if err != nil {
		t.Fatalf("ServiceStatus failed: %v", err)
	}
	if status.Running || status.Status != "stopped" || status.PID != 0 {
		t.Fatalf("unexpected status for stopped service: %+v", status)
	}
}

func TestServiceStatusStartInProgress(t *testing.T) {
	root := testRoot(t)

	// Hold the supervisor lock the way a concurrent start would
	lock, err := supervise.AcquireLock(paths.LockFile(root, "svc"))
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer func() { _ = lock.Release() }()

	status, err := ServiceStatus(root, "svc")
	if err != nil {
		t.Fatalf("ServiceStatus failed: %v", err)
	}
	if status.Running || status.Status != "starting" {
		t.Fatalf("expected starting status while lock is held, got %+v", status)
	}
}
