package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ConfigFileName), []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}

	nested := filepath.Join(root, "backend", "app", "src")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	found, err := FindProjectRoot(nested)
	if err != nil {
		t.Fatalf("FindProjectRoot failed: %v", err)
	}

	// TempDir may be behind a symlink (macOS); compare resolved paths
	wantResolved, _ := filepath.EvalSymlinks(root)
	gotResolved, _ := filepath.EvalSymlinks(found)
	if gotResolved != wantResolved {
		t.Fatalf("root mismatch: got %s, want %s", found, root)
	}
}

func TestFindProjectRootAtStart(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ConfigFileName), []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}

	found, err := FindProjectRoot(root)
	if err != nil {
		t.Fatalf("FindProjectRoot failed: %v", err)
	}
	wantResolved, _ := filepath.EvalSymlinks(root)
	gotResolved, _ := filepath.EvalSymlinks(found)
	if gotResolved != wantResolved {
		t.Fatalf("root mismatch: got %s, want %s", found, root)
	}
}

func TestFindProjectRootNotFound(t *testing.T) {
	if _, err := FindProjectRoot(t.TempDir()); err == nil {
		t.Fatal("expected error when no config file exists in any parent")
	}
}

func TestDerivedPaths(t *testing.T) {
	root := "/srv/platform"

	if got := PIDFile(root, "backend"); got != filepath.Join(root, "logs", "backend.pid") {
		t.Fatalf("PIDFile: %s", got)
	}
	if got := LockFile(root, "backend"); got != filepath.Join(root, "logs", "backend.lock") {
		t.Fatalf("LockFile: %s", got)
	}
	if got := LogFile(root, "agents"); got != filepath.Join(root, "logs", "agents.log") {
		t.Fatalf("LogFile: %s", got)
	}
	if got := JournalFile(root); got != filepath.Join(root, "logs", "svcrun.db") {
		t.Fatalf("JournalFile: %s", got)
	}
	if got := ConfigFile(root); got != filepath.Join(root, ConfigFileName) {
		t.Fatalf("ConfigFile: %s", got)
	}
	if got := EnvFile(root); got != filepath.Join(root, ".env") {
		t.Fatalf("EnvFile: %s", got)
	}
}
