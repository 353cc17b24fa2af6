//go:build !windows

package command

import (
	"os"
	"path/filepath"
)

// DefaultBinDirs returns the directories searched after any override dirs
// and before the inherited PATH.
func DefaultBinDirs() []string {
	dirs := []string{"/usr/local/bin", "/opt/homebrew/bin"}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		dirs = append(dirs, filepath.Join(home, ".local", "bin"))
	}
	return append(dirs, "/usr/bin", "/bin", "/usr/sbin", "/sbin")
}

// UserBinDir is where per-user tools are installed.
func UserBinDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "bin")
	}
	return "/usr/local/bin"
}

// ExecutableName returns the on-disk file name for command.
func ExecutableName(command string) string {
	return command
}

func candidates(path string) []string {
	return []string{path}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

func isPathKey(key string) bool {
	return key == "PATH"
}
