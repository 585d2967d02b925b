// Package pathresolver expands and resolves user-supplied paths against a
// primary workspace root plus fallback roots. The escape-prevention
// helpers (IsInside, EvalCanonical, HasMutableSymlinkParent, CheckHardlink)
// are adapted from goclaw's internal/tools/filesystem.go resolvePath
// security idiom; the function registry and the handlers do not call them.
package pathresolver

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// NotFoundError is returned by Resolve when one or more supplied roots
// don't exist on disk.
type NotFoundError struct {
	MissingRoots []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("workspace path not found: %s", strings.Join(e.MissingRoots, ", "))
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(p string) string {
	if p == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return p
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

// decodeFileURI converts a file:// URI to a plain path, once.
func decodeFileURI(p string) string {
	if !strings.HasPrefix(p, "file://") {
		return p
	}
	u, err := url.Parse(p)
	if err != nil {
		return p
	}
	return u.Path
}

// Resolve decodes file:// and ~, verifies every supplied root exists,
// then searches primary-first, fallbacks-in-order, with a basename-match
// fallback that lets "<root-name>/sub" resolve against that root's
// parent. Absolute input short-circuits root search.
func Resolve(path, primaryRoot string, fallbackRoots []string) (string, error) {
	path = decodeFileURI(path)
	path = expandTilde(path)

	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}

	var missing []string
	allRoots := make([]string, 0, len(fallbackRoots)+1)
	if primaryRoot != "" {
		allRoots = append(allRoots, primaryRoot)
	}
	allRoots = append(allRoots, fallbackRoots...)
	for _, r := range allRoots {
		if _, err := os.Stat(r); err != nil {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return "", &NotFoundError{MissingRoots: missing}
	}

	if len(allRoots) > 0 {
		first := firstPathElement(path)
		for _, root := range allRoots {
			candidate := filepath.Clean(filepath.Join(root, path))
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
			if first != "" && first == filepath.Base(root) {
				parentCandidate := filepath.Clean(filepath.Join(filepath.Dir(root), path))
				if _, err := os.Stat(parentCandidate); err == nil {
					return parentCandidate, nil
				}
			}
		}
	}

	if primaryRoot != "" {
		return filepath.Clean(filepath.Join(primaryRoot, path)), nil
	}
	return filepath.Clean(path), nil
}

func firstPathElement(p string) string {
	p = strings.TrimPrefix(p, "/")
	idx := strings.IndexByte(p, '/')
	if idx < 0 {
		return p
	}
	return p[:idx]
}

// DefaultDirectory returns the user's home directory if it exists, else
// the process's current working directory.
func DefaultDirectory() string {
	if home, err := os.UserHomeDir(); err == nil {
		if _, err := os.Stat(home); err == nil {
			return home
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// PathOrDefault returns DefaultDirectory() when p is empty or ".",
// otherwise p unchanged.
func PathOrDefault(p string) string {
	if p == "" || p == "." {
		return DefaultDirectory()
	}
	return p
}

// IsInside reports whether child is equal to or nested under parent.
func IsInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// EvalCanonical resolves symlinks in path, falling back to resolving
// through the deepest existing ancestor when the path itself (or a
// component of it) doesn't exist yet.
func EvalCanonical(path string) (string, error) {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real, nil
	}
	current := path
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent
		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, c := range tail {
				result = filepath.Join(result, c)
			}
			return result, nil
		}
	}
	return filepath.Clean(path), nil
}

// HasMutableSymlinkParent reports whether any path component is a symlink
// whose parent directory this process can write to (TOCTOU rebind risk).
func HasMutableSymlinkParent(path string) bool {
	clean := filepath.Clean(path)
	components := strings.Split(clean, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break
		}
		if info.Mode()&os.ModeSymlink != 0 {
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2) == nil {
				return true
			}
		}
	}
	return false
}

// CheckHardlink rejects regular files with more than one hard link.
func CheckHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Nlink > 1 {
			return fmt.Errorf("access denied: hardlinked file not allowed")
		}
	}
	return nil
}
