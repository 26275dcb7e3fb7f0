package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/qiushuiai/svcrun/internal/journal"
)

func TestFormatOpResult(t *testing.T) {
	tests := []struct {
		result *OpResult
		want   string
	}{
		{&OpResult{Service: "backend", Op: "start", Outcome: "started", PID: 42}, "backend started (PID 42)"},
		{&OpResult{Service: "backend", Op: "stop", Outcome: "stopped"}, "backend stopped"},
		{&OpResult{Service: "backend", Op: "stop", Outcome: "stopped-forcefully"}, "forced after grace window"},
		{&OpResult{Service: "backend", Op: "stop", Outcome: "not-running"}, "backend is not running"},
	}

	for _, tt := range tests {
		got := FormatOpResult(tt.result)
		if !strings.Contains(got, tt.want) {
			t.Errorf("FormatOpResult(%+v) = %q, want substring %q", tt.result, got, tt.want)
		}
	}
}

func TestFormatStatus(t *testing.T) {
	stopped := FormatStatus(&StatusResult{Service: "backend", Running: false})
	if !strings.Contains(stopped, "not running") {
		t.Errorf("stopped status missing marker: %q", stopped)
	}

	starting := FormatStatus(&StatusResult{Service: "backend", Running: false, Status: "starting"})
	if !strings.Contains(starting, "start in progress") {
		t.Errorf("starting status missing marker: %q", starting)
	}

	running := FormatStatus(&StatusResult{
		Service:  "backend",
		Running:  true,
		PID:      42,
		Uptime:   "2h15m",
		MemoryMB: 128.5,
	})
	for _, want := range []string{"running (PID 42)", "2h15m", "128.5 MB"} {
		if !strings.Contains(running, want) {
			t.Errorf("running status missing %q: %q", want, running)
		}
	}
}

func TestFormatHistory(t *testing.T) {
	if got := FormatHistory(nil); !strings.Contains(got, "No recorded events") {
		t.Errorf("empty history: %q", got)
	}

	events := []journal.Event{
		{Service: "backend", Op: "stop", Outcome: "stopped", PID: 42, At: time.Now()},
		{Service: "backend", Op: "start", Outcome: "started", PID: 42, At: time.Now().Add(-time.Minute)},
	}
	got := FormatHistory(events)
	if !strings.Contains(got, "stop") || !strings.Contains(got, "(PID 42)") {
		t.Errorf("history output missing fields: %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
		{26 * time.Hour, "1d2h"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
