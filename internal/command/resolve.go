// Package command locates executables on the host independently of the
// user's shell state.
package command

import (
	"os"
	"path/filepath"
	"strings"
)

// Resolve returns the absolute path of the first executable named name found
// in the search path built from extraDirs. A name that already contains a
// path separator is checked directly.
func Resolve(name string, extraDirs ...string) (string, bool) {
	return resolveIn(name, SearchPath(extraDirs, os.Getenv("PATH")))
}

func resolveIn(name string, dirs []string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}

	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		for _, candidate := range candidates(name) {
			if isExecutable(candidate) {
				return absolute(candidate), true
			}
		}
		return "", false
	}

	for _, dir := range dirs {
		for _, candidate := range candidates(filepath.Join(dir, name)) {
			if isExecutable(candidate) {
				return absolute(candidate), true
			}
		}
	}
	return "", false
}

// SearchPath returns the deduplicated directory list used by Resolve:
// extraDirs first, then DefaultBinDirs, then the entries of inherited.
func SearchPath(extraDirs []string, inherited string) []string {
	all := make([]string, 0, len(extraDirs)+16)
	all = append(all, extraDirs...)
	all = append(all, DefaultBinDirs()...)
	all = append(all, SplitPath(inherited)...)
	return uniq(all)
}

// SplitPath splits a PATH-style value with the platform list separator.
func SplitPath(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, entry := range strings.Split(value, string(os.PathListSeparator)) {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

// JoinPath joins entries with the platform list separator.
func JoinPath(entries []string) string {
	return strings.Join(entries, string(os.PathListSeparator))
}

// SubprocessEnv returns environ with PATH replaced by the augmented search
// path, so child processes see the same precedence Resolve uses.
func SubprocessEnv(environ []string, extraDirs ...string) []string {
	inherited := ""
	out := make([]string, 0, len(environ)+1)
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && isPathKey(k) {
			inherited = v
			continue
		}
		out = append(out, kv)
	}
	return append(out, "PATH="+JoinPath(SearchPath(extraDirs, inherited)))
}

func uniq(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func absolute(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
