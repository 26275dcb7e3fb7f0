package supervise

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

// Outcome describes how a lifecycle operation concluded.
type Outcome string

const (
	// OutcomeStarted means a new service process was spawned.
	OutcomeStarted Outcome = "started"
	// OutcomeStopped means the process honored the graceful signal.
	OutcomeStopped Outcome = "stopped"
	// OutcomeStoppedForcefully means the grace window elapsed and the
	// process was killed.
	OutcomeStoppedForcefully Outcome = "stopped-forcefully"
	// OutcomeNotRunning means there was nothing to stop. This is an
	// idempotent success, not an error.
	OutcomeNotRunning Outcome = "not-running"
)

// ErrAlreadyRunning is returned by Start when a live process already owns
// the PID file. The operation has no side effects in that case.
var ErrAlreadyRunning = errors.New("service already running")

const (
	// DefaultGraceAttempts is the number of liveness polls after SIGTERM.
	DefaultGraceAttempts = 10
	// DefaultGraceInterval is the pause between liveness polls.
	DefaultGraceInterval = 500 * time.Millisecond
	// DefaultSettleDelay is the pause between stop and start in a restart,
	// giving the OS time to release sockets and file locks held by the
	// previous instance.
	DefaultSettleDelay = 500 * time.Millisecond
)

// Options configures a Supervisor. PIDFile and Command are required;
// everything else has a usable default.
type Options struct {
	// Name identifies the service in log output.
	Name string

	// PIDFile is where the child's PID is persisted as plain decimal text.
	PIDFile string

	// LockFile guards the check-then-spawn-then-write sequence with an
	// exclusive flock. Empty disables locking.
	LockFile string

	// LogFile receives the child's combined output in daemon mode.
	// Empty means output is discarded.
	LogFile string

	// Command is the launch invocation: executable plus arguments.
	Command []string

	// Dir is the child's working directory. Empty means inherit.
	Dir string

	// Env entries are appended to the inherited environment.
	Env []string

	// Prelaunch is an optional synchronous command run before spawning
	// (environment setup, migrations). Failures are logged and ignored:
	// the launch proceeds regardless.
	Prelaunch []string

	// Fingerprint is a command-line substring used for fallback process
	// discovery when the PID file is missing.
	Fingerprint string

	GraceAttempts int
	GraceInterval time.Duration
	SettleDelay   time.Duration

	// Locator resolves fingerprints to PIDs. Defaults to SystemLocator.
	Locator Locator

	// Logger receives operational messages. Defaults to log.Default().
	Logger *log.Logger
}

// Supervisor manages the lifecycle of one long-running service process,
// using a PID file as the persistent liveness marker shared between
// separate invocations of the management commands.
type Supervisor struct {
	opts Options

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New returns a Supervisor with defaults applied.
func New(opts Options) *Supervisor {
	if opts.GraceAttempts <= 0 {
		opts.GraceAttempts = DefaultGraceAttempts
	}
	if opts.GraceInterval <= 0 {
		opts.GraceInterval = DefaultGraceInterval
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Locator == nil {
		opts.Locator = SystemLocator{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Supervisor{
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

// Options returns the effective options, defaults included.
func (s *Supervisor) Options() Options {
	return s.opts
}

// Start spawns the service as a detached background process and writes its
// PID file. If a live process already owns the PID file it returns that PID
// and ErrAlreadyRunning without spawning anything. A stale PID file (process
// dead) is deleted and the start proceeds.
func (s *Supervisor) Start(ctx context.Context) (int, error) {
	lock, err := s.acquireLock()
	if err != nil {
		return 0, err
	}
	defer func() { _ = lock.Release() }()

	if pid, err := s.checkNotRunning(); err != nil {
		return pid, err
	}

	s.runPrelaunch(ctx)

	cmd, err := s.buildCommand()
	if err != nil {
		return 0, err
	}
	s.opts.Logger.Debug("spawning service", "service", s.opts.Name, "command", s.opts.Command)

	// Detach: no terminal, output to the service log file
	logFile, err := s.openLogFile()
	if err != nil {
		return 0, err
	}
	cmd.Stdin = nil
	if logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return 0, fmt.Errorf("failed to start %s: %w", s.opts.Name, err)
	}
	if logFile != nil {
		// The child holds its own descriptor now
		_ = logFile.Close()
	}

	pid := cmd.Process.Pid
	if err := WritePIDFile(s.opts.PIDFile, pid); err != nil {
		// The child is already running; kill it rather than orphan it
		_ = cmd.Process.Kill()
		return 0, err
	}

	// Release the child so it gets adopted by init/launchd. Do NOT call
	// cmd.Wait(); the parent is about to exit and a goroutine calling
	// Wait() would be killed mid-syscall.
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("failed to release %s process: %w", s.opts.Name, err)
	}

	return pid, nil
}

// Run spawns the service in the foreground and blocks until the child
// exits or the supervisor receives SIGINT/SIGTERM. The PID file is removed
// on every exit path. On a received signal the child is sent SIGTERM,
// given the grace window, then killed; Run returns nil in that case.
func (s *Supervisor) Run(ctx context.Context) error {
	lock, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	if _, err := s.checkNotRunning(); err != nil {
		return err
	}

	s.runPrelaunch(ctx)

	cmd, err := s.buildCommand()
	if err != nil {
		return err
	}

	// Foreground: keep output attached to the invoking terminal
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.opts.Name, err)
	}

	pid := cmd.Process.Pid
	if err := WritePIDFile(s.opts.PIDFile, pid); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return err
	}

	// Safety net covering every exit path below, panics included
	defer func() {
		if err := RemovePIDFile(s.opts.PIDFile); err != nil {
			s.opts.Logger.Warn("failed to remove PID file", "service", s.opts.Name, "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		// Child exited on its own (crash or out-of-band kill)
		if err != nil {
			return fmt.Errorf("%s exited: %w", s.opts.Name, err)
		}
		return nil
	case sig := <-sigCh:
		s.opts.Logger.Info("received signal, stopping service", "service", s.opts.Name, "signal", sig)
	case <-ctx.Done():
	case <-s.stopCh:
	}

	// Propagate termination to the child; it may already be gone
	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-done:
	case <-time.After(s.graceWindow()):
		s.opts.Logger.Warn("service did not exit in grace window, killing", "service", s.opts.Name, "pid", pid)
		_ = cmd.Process.Kill()
		<-done
	}

	return nil
}

// Shutdown asks a foreground Run to stop its child, as if a termination
// signal had been delivered to the supervisor. Safe to call more than once.
func (s *Supervisor) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Stop terminates the supervised process. The sequence is graceful SIGTERM,
// a bounded liveness poll, then SIGKILL if the grace window elapses. Missing
// PID file or dead process are idempotent successes reported as
// OutcomeNotRunning; a stale PID file is deleted on the way.
//
// When no PID file exists, the locator is consulted for processes matching
// the service fingerprint, recovering from an abnormal prior exit that lost
// the file.
func (s *Supervisor) Stop(ctx context.Context) (Outcome, error) {
	pid, err := ReadPIDFile(s.opts.PIDFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read PID file: %w", err)
		}
		// No PID file: try fingerprint discovery before declaring victory
		return s.stopByFingerprint(ctx)
	}

	if !isProcessRunning(pid) {
		// Stale file left by an abnormal exit; self-heal
		s.opts.Logger.Warn("removing stale PID file", "service", s.opts.Name, "pid", pid)
		if err := RemovePIDFile(s.opts.PIDFile); err != nil {
			return "", err
		}
		return OutcomeNotRunning, nil
	}

	s.opts.Logger.Info("stopping service", "service", s.opts.Name, "pid", pid)
	outcome, err := s.terminate(ctx, pid)
	if err != nil {
		return "", err
	}
	if err := RemovePIDFile(s.opts.PIDFile); err != nil {
		return "", err
	}
	return outcome, nil
}

// Restart stops the service to completion, waits the settle delay so the OS
// can release bound resources, then starts it again. The two phases never
// overlap. Returns the new PID.
func (s *Supervisor) Restart(ctx context.Context) (int, error) {
	if _, err := s.Stop(ctx); err != nil {
		return 0, err
	}

	select {
	case <-time.After(s.opts.SettleDelay):
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	return s.Start(ctx)
}

// Status reports whether the service is running and, when it is, the PID.
func (s *Supervisor) Status() (bool, int, error) {
	running, pid, err := CheckPIDFile(s.opts.PIDFile)
	if err != nil {
		return false, 0, err
	}
	return running, pid, nil
}

// stopByFingerprint terminates processes found by fingerprint match when no
// PID file exists. The PID file is not the only source of truth after an
// abnormal prior termination.
func (s *Supervisor) stopByFingerprint(ctx context.Context) (Outcome, error) {
	if s.opts.Fingerprint == "" {
		return OutcomeNotRunning, nil
	}

	pids, err := s.opts.Locator.FindByFingerprint(s.opts.Fingerprint)
	if err != nil {
		s.opts.Logger.Warn("fallback process discovery failed", "service", s.opts.Name, "error", err)
		return OutcomeNotRunning, nil
	}
	if len(pids) == 0 {
		return OutcomeNotRunning, nil
	}

	s.opts.Logger.Warn("no PID file but matching processes found, stopping them",
		"service", s.opts.Name, "pids", pids)

	// Discovered processes can vanish before the signal lands; only
	// report a stop that actually happened.
	outcome := OutcomeNotRunning
	for _, pid := range pids {
		o, err := s.terminate(ctx, pid)
		if err != nil {
			return "", err
		}
		switch o {
		case OutcomeStoppedForcefully:
			outcome = OutcomeStoppedForcefully
		case OutcomeStopped:
			if outcome == OutcomeNotRunning {
				outcome = OutcomeStopped
			}
		}
	}
	return outcome, nil
}

// terminate implements graceful-then-forceful termination of one PID with
// a bounded poll in between.
func (s *Supervisor) terminate(ctx context.Context, pid int) (Outcome, error) {
	process, err := os.FindProcess(pid)
	if err != nil {
		return "", fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			// Gone between the liveness check and now
			return OutcomeNotRunning, nil
		}
		return "", fmt.Errorf("failed to send SIGTERM to process %d: %w", pid, err)
	}

	for attempt := 0; attempt < s.opts.GraceAttempts; attempt++ {
		select {
		case <-time.After(s.opts.GraceInterval):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		reapIfChild(pid)
		if !isProcessRunning(pid) {
			return OutcomeStopped, nil
		}
		s.opts.Logger.Debug("waiting for process to exit",
			"service", s.opts.Name, "pid", pid, "attempt", attempt+1, "max", s.opts.GraceAttempts)
	}

	// Grace window elapsed: escalate. A warning, not a failure.
	s.opts.Logger.Warn("graceful stop timed out, sending SIGKILL",
		"service", s.opts.Name, "pid", pid, "grace", s.graceWindow())
	if err := process.Signal(syscall.SIGKILL); err != nil &&
		!errors.Is(err, os.ErrProcessDone) && !errors.Is(err, syscall.ESRCH) {
		return "", fmt.Errorf("failed to send SIGKILL to process %d: %w", pid, err)
	}
	reapIfChild(pid)

	return OutcomeStoppedForcefully, nil
}

// reapIfChild collects the exit status of pid when it is an unreaped child
// of this process. Start releases children without waiting on them, so
// without this the kernel keeps the zombie and the liveness probe keeps
// seeing it. ECHILD (not our child) and ESRCH are expected and ignored.
func reapIfChild(pid int) {
	var ws syscall.WaitStatus
	_, _ = syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
}

// checkNotRunning enforces the at-most-one-instance invariant, deleting a
// stale PID file when its process is dead.
func (s *Supervisor) checkNotRunning() (int, error) {
	running, pid, err := CheckPIDFile(s.opts.PIDFile)
	if err != nil {
		// Corrupted file: warn and overwrite on spawn
		s.opts.Logger.Warn("failed to read existing PID file", "service", s.opts.Name, "error", err)
		return 0, nil
	}
	if running {
		return pid, fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
	}
	if pid != 0 {
		s.opts.Logger.Warn("removing stale PID file", "service", s.opts.Name, "pid", pid)
		if err := RemovePIDFile(s.opts.PIDFile); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

func (s *Supervisor) acquireLock() (*FileLock, error) {
	if s.opts.LockFile == "" {
		return nil, nil
	}
	lock, err := AcquireLock(s.opts.LockFile)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire supervisor lock: %w", err)
	}
	return lock, nil
}

// runPrelaunch runs the configured pre-launch command synchronously.
// Failures are logged and ignored: the platform deliberately favors
// availability over strict consistency at startup, so a failed migration
// still allows the server to launch.
func (s *Supervisor) runPrelaunch(ctx context.Context) {
	if len(s.opts.Prelaunch) == 0 {
		return
	}

	cmd := exec.CommandContext(ctx, s.opts.Prelaunch[0], s.opts.Prelaunch[1:]...) //nolint:gosec // G204 - command from service config
	cmd.Dir = s.opts.Dir
	cmd.Env = append(os.Environ(), s.opts.Env...)
	if out, err := cmd.CombinedOutput(); err != nil {
		s.opts.Logger.Warn("pre-launch step failed, launching anyway",
			"service", s.opts.Name, "error", err, "output", string(out))
	}
}

// buildCommand deliberately does not tie the child to a context: in
// daemon mode the child outlives the supervisor invocation.
func (s *Supervisor) buildCommand() (*exec.Cmd, error) {
	if len(s.opts.Command) == 0 {
		return nil, fmt.Errorf("no launch command configured for %s", s.opts.Name)
	}
	cmd := exec.Command(s.opts.Command[0], s.opts.Command[1:]...) //nolint:gosec // G204 - command from service config
	cmd.Dir = s.opts.Dir
	cmd.Env = append(os.Environ(), s.opts.Env...)
	return cmd, nil
}

func (s *Supervisor) openLogFile() (*os.File, error) {
	if s.opts.LogFile == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.opts.LogFile), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(s.opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) //nolint:gosec // G304 - path from project logs directory
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

func (s *Supervisor) graceWindow() time.Duration {
	return time.Duration(s.opts.GraceAttempts) * s.opts.GraceInterval
}
