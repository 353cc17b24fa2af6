//go:build windows

package command

import (
	"os"
	"path/filepath"
	"strings"
)

func DefaultBinDirs() []string {
	localAppData := os.Getenv("LOCALAPPDATA")
	appData := os.Getenv("APPDATA")
	programFiles := os.Getenv("ProgramFiles")
	if programFiles == "" {
		programFiles = `C:\Program Files`
	}
	programFilesX86 := os.Getenv("ProgramFiles(x86)")
	if programFilesX86 == "" {
		programFilesX86 = `C:\Program Files (x86)`
	}

	var dirs []string
	if localAppData != "" {
		dirs = append(dirs, filepath.Join(localAppData, "Programs"))
	}
	if appData != "" {
		dirs = append(dirs, filepath.Join(appData, "npm"))
	}
	return append(dirs,
		filepath.Join(programFiles, "ngrok"),
		filepath.Join(programFiles, "Git", "bin"),
		filepath.Join(programFilesX86, "Git", "bin"),
	)
}

func UserBinDir() string {
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		return filepath.Join(localAppData, "Programs")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "AppData", "Local", "Programs")
	}
	return `C:\Program Files`
}

func ExecutableName(command string) string {
	if strings.HasSuffix(strings.ToLower(command), ".exe") {
		return command
	}
	return command + ".exe"
}

func pathExts() []string {
	raw := os.Getenv("PATHEXT")
	if raw == "" {
		return []string{".exe", ".bat", ".cmd"}
	}
	var exts []string
	for _, ext := range strings.Split(strings.ToLower(raw), ";") {
		if ext != "" {
			exts = append(exts, ext)
		}
	}
	return exts
}

// candidates expands a bare file name with the PATHEXT extensions.
func candidates(path string) []string {
	if filepath.Ext(path) != "" {
		return []string{path}
	}
	out := make([]string, 0, 4)
	for _, ext := range pathExts() {
		out = append(out, path+ext)
	}
	return out
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, known := range pathExts() {
		if ext == known {
			return true
		}
	}
	return ext == ".ps1"
}

func isPathKey(key string) bool {
	return strings.EqualFold(key, "PATH")
}
