package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/qiushuiai/svcrun/internal/journal"
)

// checkmark returns "✓ " when stdout is a terminal, nothing otherwise, so
// piped output stays plain.
func checkmark() string {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return "✓ "
	}
	return ""
}

// FormatOpResult renders a lifecycle operation outcome for the operator.
func FormatOpResult(r *OpResult) string {
	switch r.Outcome {
	case "started":
		return fmt.Sprintf("%s%s %s (PID %d)\n", checkmark(), r.Service, r.Op+"ed", r.PID)
	case "stopped":
		return fmt.Sprintf("%s%s stopped\n", checkmark(), r.Service)
	case "stopped-forcefully":
		return fmt.Sprintf("%s%s stopped (forced after grace window)\n", checkmark(), r.Service)
	case "not-running":
		return fmt.Sprintf("%s is not running\n", r.Service)
	default:
		return fmt.Sprintf("%s: %s\n", r.Service, r.Outcome)
	}
}

// FormatStatus renders a status result like systemctl's short form.
func FormatStatus(r *StatusResult) string {
	if !r.Running {
		if r.Status == "starting" {
			return fmt.Sprintf("%-10s start in progress\n", r.Service+":")
		}
		return fmt.Sprintf("%-10s not running\n", r.Service+":")
	}

	status := fmt.Sprintf("%-10s running (PID %d)\n", r.Service+":", r.PID)
	if r.Uptime != "" {
		status += fmt.Sprintf("Uptime:    %s\n", r.Uptime)
	}
	if r.MemoryMB > 0 {
		status += fmt.Sprintf("Memory:    %.1f MB\n", r.MemoryMB)
	}
	if r.CPUPercent > 0 {
		status += fmt.Sprintf("CPU:       %.1f%%\n", r.CPUPercent)
	}
	return status
}

// FormatHistory renders journal events, newest first.
func FormatHistory(events []journal.Event) string {
	if len(events) == 0 {
		return "No recorded events\n"
	}

	var b strings.Builder
	for _, ev := range events {
		line := fmt.Sprintf("%s  %-8s %-8s %s",
			ev.At.Local().Format("2006-01-02 15:04:05"), ev.Service, ev.Op, ev.Outcome)
		if ev.PID > 0 {
			line += fmt.Sprintf(" (PID %d)", ev.PID)
		}
		if ev.Detail != "" {
			line += ": " + ev.Detail
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// formatDuration renders an uptime compactly (e.g. "2h15m", "3d4h").
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd%dh", days, int(d.Hours())%24)
}
