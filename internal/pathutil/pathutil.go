// Package pathutil provides cross-platform path helpers.
//
// All paths stored on disk (checkpoints, session journals, workspace
// bindings) use forward-slash form so that data files can move between
// platforms. Comparisons are case-insensitive on Windows and case-sensitive
// elsewhere.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ToStored normalizes a path to its stored (forward-slash) form.
func ToStored(path string) string {
	return filepath.ToSlash(path)
}

// FromStored converts a stored path back to the platform form.
func FromStored(path string) string {
	return filepath.FromSlash(path)
}

// Equal reports whether two paths refer to the same location after
// normalization. On Windows the comparison is case-insensitive.
func Equal(a, b string) bool {
	na := filepath.Clean(FromStored(a))
	nb := filepath.Clean(FromStored(b))
	if runtime.GOOS == "windows" {
		return strings.EqualFold(na, nb)
	}
	return na == nb
}

// IsAbsolute reports whether a path is absolute on any supported platform.
// Unlike filepath.IsAbs it recognizes Windows drive-letter and UNC prefixes
// even when running elsewhere, since stored paths may originate on Windows.
func IsAbsolute(path string) bool {
	if filepath.IsAbs(path) {
		return true
	}
	if hasDrivePrefix(path) {
		return true
	}
	return isUNC(path)
}

// hasDrivePrefix reports whether the path starts with a drive letter, e.g. "C:\" or "C:/".
func hasDrivePrefix(path string) bool {
	if len(path) < 3 {
		return false
	}
	c := path[0]
	if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
		return false
	}
	return path[1] == ':' && (path[2] == '\\' || path[2] == '/')
}

// isUNC reports whether the path is a UNC path, e.g. "\\server\share".
func isUNC(path string) bool {
	return strings.HasPrefix(path, `\\`) || strings.HasPrefix(path, "//")
}

// ExpandPath expands a ~ prefix in path to the user home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}

	if path == "~" {
		return os.UserHomeDir()
	}

	return path, nil
}

// EnsureDir creates the directory (and parents) if it does not exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// IsWithin reports whether target resolves inside root, preventing path
// traversal through ".." segments.
func IsWithin(root, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
