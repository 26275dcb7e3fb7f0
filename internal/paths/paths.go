package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFileName is the project configuration file the root discovery
// looks for.
const ConfigFileName = "svcrun.json"

// logsDirName is where PID files, lock files, service logs, and the
// event journal live, relative to the project root.
const logsDirName = "logs"

// FindProjectRoot walks up from startPath looking for a directory
// containing svcrun.json. This mimics how git traverses parent
// directories to find .git/. Returns the directory containing the
// config file, or an error if none is found.
func FindProjectRoot(startPath string) (string, error) {
	absPath, err := filepath.Abs(startPath)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	dir := absPath
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root without finding the config file
			return "", fmt.Errorf("no %s found (searched from %s to /)", ConfigFileName, absPath)
		}
		dir = parent
	}
}

// ConfigFile returns the path to the project config file.
func ConfigFile(root string) string {
	return filepath.Join(root, ConfigFileName)
}

// EnvFile returns the path to the project's .env file.
func EnvFile(root string) string {
	return filepath.Join(root, ".env")
}

// LogsDir returns the directory holding supervisor state for a project.
func LogsDir(root string) string {
	return filepath.Join(root, logsDirName)
}

// PIDFile returns the PID file path for a service.
func PIDFile(root, service string) string {
	return filepath.Join(root, logsDirName, service+".pid")
}

// LockFile returns the supervisor lock file path for a service.
func LockFile(root, service string) string {
	return filepath.Join(root, logsDirName, service+".lock")
}

// LogFile returns the service's output log path for daemon mode.
func LogFile(root, service string) string {
	return filepath.Join(root, logsDirName, service+".log")
}

// JournalFile returns the path of the supervision event journal.
func JournalFile(root string) string {
	return filepath.Join(root, logsDirName, "svcrun.db")
}
