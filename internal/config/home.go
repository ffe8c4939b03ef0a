package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the autopilot home directory.
const HomeEnv = "AUTOPILOT_HOME"

// GetAutopilotHome returns the autopilot home directory
// Priority order:
//  1. AUTOPILOT_HOME environment variable (if set)
//  2. The nearest ancestor of the working directory holding a .autopilot directory
//  3. .autopilot under the current working directory (fallback)
//
// The directory is created if it doesn't exist
func GetAutopilotHome() (string, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		if err := os.MkdirAll(home, 0755); err != nil {
			return "", fmt.Errorf("create autopilot home directory: %w", err)
		}
		return home, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	if root, ok := findProjectRoot(cwd); ok {
		return filepath.Join(root, ".autopilot"), nil
	}

	home := filepath.Join(cwd, ".autopilot")
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create autopilot home directory: %w", err)
	}
	return home, nil
}

// findProjectRoot walks up from dir looking for an existing .autopilot directory.
func findProjectRoot(dir string) (string, bool) {
	current := dir
	for {
		info, err := os.Stat(filepath.Join(current, ".autopilot"))
		if err == nil && info.IsDir() {
			return current, true
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", false
		}
		current = parent
	}
}

// ResolvePath makes a relative configured path absolute against the directory
// holding the autopilot home. Absolute paths and ":memory:" are returned unchanged.
func ResolvePath(home, path string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(home), path)
}
