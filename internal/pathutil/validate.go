// Package pathutil keeps file operations inside the directories simbatch
// owns and shortens paths for error messages.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nvandessel/simbatch/internal/constants"
)

// RedactPath reduces a full path to .../<parent>/<basename> for messages.
// For example, "/home/user/_simulations/study" becomes ".../_simulations/study".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return filepath.Base(cleaned)
	}
	return ".../" + parent + "/" + filepath.Base(cleaned)
}

// ValidatePath checks that path resolves inside one of allowedDirs.
// Symlinks in existing ancestors are resolved first, so a link inside an
// allowed directory cannot point the operation somewhere else.
func ValidatePath(path string, allowedDirs []string) error {
	if path == "" {
		return fmt.Errorf("path validation failed: path is empty")
	}
	if len(allowedDirs) == 0 {
		return fmt.Errorf("path validation failed: no allowed directories configured")
	}
	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("path validation failed: path contains null byte")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("path validation failed: cannot resolve absolute path: %w", err)
	}
	parent, err := resolve(filepath.Dir(abs))
	if err != nil {
		return fmt.Errorf("path validation failed: cannot resolve parent directory: %w", err)
	}
	resolved := filepath.Join(parent, filepath.Base(abs))

	for _, dir := range allowedDirs {
		base, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if base, err = resolve(base); err != nil {
			continue
		}
		if isSubpath(resolved, base) {
			return nil
		}
	}
	return fmt.Errorf("path validation failed: %q is outside allowed directories", RedactPath(abs))
}

// resolve evaluates symlinks on the deepest existing ancestor of dir and
// re-appends the parts that do not exist yet.
func resolve(dir string) (string, error) {
	if r, err := filepath.EvalSymlinks(dir); err == nil {
		return r, nil
	}
	up := filepath.Dir(dir)
	if up == dir {
		return "", fmt.Errorf("cannot resolve path: %s", RedactPath(dir))
	}
	r, err := resolve(up)
	if err != nil {
		return "", err
	}
	return filepath.Join(r, filepath.Base(dir)), nil
}

// isSubpath reports whether path is base or lies below it.
func isSubpath(path, base string) bool {
	return path == base || strings.HasPrefix(path, base+string(os.PathSeparator))
}

// StudyDir returns <simulationsRoot>/<name> after checking it stays inside
// simulationsRoot. A name like "../x" is rejected.
func StudyDir(simulationsRoot, name string) (string, error) {
	dir := filepath.Join(simulationsRoot, name)
	if err := ValidatePath(dir, []string{simulationsRoot}); err != nil {
		return "", err
	}
	if filepath.Clean(dir) == filepath.Clean(simulationsRoot) {
		return "", fmt.Errorf("path validation failed: study name %q resolves to the simulations root", name)
	}
	return dir, nil
}

// DefaultArchiveDirs returns the directories study exports may be written to:
// ~/.simbatch/archives and, when simRoot is set, <simRoot>/_simulations/_archives.
func DefaultArchiveDirs(simRoot string) ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	dirs := []string{filepath.Join(home, constants.ToolDir, "archives")}
	if simRoot != "" {
		dirs = append(dirs, filepath.Join(simRoot, constants.SimulationsDir, constants.ArchivesDir))
	}
	return dirs, nil
}
