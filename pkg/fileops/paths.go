package fileops

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// DefaultMaxFileBytes caps the size of files read on behalf of a tool caller.
const DefaultMaxFileBytes int64 = 2_000_000

const (
	// MaxFileBytesEnv overrides DefaultMaxFileBytes when set to a positive integer.
	MaxFileBytesEnv = "SKY_MCP_MAX_FILE_BYTES"
	// AllowedRootsEnv adds extra allowed roots, separated by os.PathListSeparator.
	AllowedRootsEnv = "SKY_MCP_ALLOWED_ROOTS"
)

// PathErrorKind classifies why a path was rejected.
type PathErrorKind string

const (
	KindInvalidInput     PathErrorKind = "invalid_input"
	KindPermissionDenied PathErrorKind = "permission_denied"
	KindNotFound         PathErrorKind = "file_not_found"
	KindTooLarge         PathErrorKind = "file_too_large"
	KindStatFailed       PathErrorKind = "runtime_error"
)

// PathError describes a rejected path together with structured details that
// are safe to return to the caller.
type PathError struct {
	Kind    PathErrorKind
	Message string
	Details map[string]any
}

func (e *PathError) Error() string {
	if p, ok := e.Details["path"]; ok {
		return fmt.Sprintf("%s: %v", e.Message, p)
	}
	return e.Message
}

func newPathError(kind PathErrorKind, msg string, details map[string]any) *PathError {
	if details == nil {
		details = map[string]any{}
	}
	return &PathError{Kind: kind, Message: msg, Details: details}
}

// ParseMaxFileBytes parses a byte limit, returning fallback when raw is not a
// positive integer.
func ParseMaxFileBytes(raw string, fallback int64) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// RootsFromEnv splits SKY_MCP_ALLOWED_ROOTS into its non-empty entries.
func RootsFromEnv() []string {
	return SplitRoots(os.Getenv(AllowedRootsEnv))
}

// SplitRoots splits a path list on os.PathListSeparator and drops blanks.
func SplitRoots(raw string) []string {
	var roots []string
	for _, part := range filepath.SplitList(raw) {
		part = strings.TrimSpace(part)
		if part != "" {
			roots = append(roots, part)
		}
	}
	return roots
}

// ResolveLocalPath validates a caller-supplied path against the allowed roots
// and the size limit, and returns its absolute, cleaned form.
//
// Symlinks are evaluated when the target exists so a link inside an allowed
// root cannot point outside of it.
func ResolveLocalPath(input string, allowedRoots []string, maxBytes int64) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", newPathError(KindInvalidInput, "Path is required.", nil)
	}
	if strings.ContainsRune(input, '\x00') {
		return "", newPathError(KindInvalidInput, "Invalid path string.", map[string]any{"error": "path contains NUL byte"})
	}

	resolved, err := absClean(ExpandPath(input))
	if err != nil {
		return "", newPathError(KindInvalidInput, "Invalid path string.", map[string]any{"error": err.Error()})
	}

	roots := make([]string, 0, len(allowedRoots))
	for _, r := range allowedRoots {
		abs, err := absClean(ExpandPath(r))
		if err != nil {
			continue
		}
		roots = append(roots, abs)
	}

	if !withinAny(resolved, roots) {
		return "", newPathError(KindPermissionDenied, "Path is outside allowed roots.", map[string]any{
			"path":          resolved,
			"allowed_roots": roots,
		})
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", newPathError(KindNotFound, "File not found.", map[string]any{"path": resolved})
		}
		return "", newPathError(KindStatFailed, "Unable to stat file.", map[string]any{"path": resolved, "error": err.Error()})
	}

	// A symlink must still land inside an allowed root once followed.
	if real, err := filepath.EvalSymlinks(resolved); err == nil && real != resolved {
		realRoots := make([]string, 0, len(roots))
		for _, r := range roots {
			if rr, err := filepath.EvalSymlinks(r); err == nil {
				realRoots = append(realRoots, rr)
			} else {
				realRoots = append(realRoots, r)
			}
		}
		if !withinAny(real, realRoots) {
			return "", newPathError(KindPermissionDenied, "Path is outside allowed roots.", map[string]any{
				"path":          real,
				"allowed_roots": roots,
			})
		}
	}

	if !info.Mode().IsRegular() {
		return "", newPathError(KindInvalidInput, "Path is not a file.", map[string]any{"path": resolved})
	}

	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	if info.Size() > maxBytes {
		return "", newPathError(KindTooLarge, "File exceeds size limit.", map[string]any{
			"path":      resolved,
			"size":      info.Size(),
			"max_bytes": maxBytes,
		})
	}

	return resolved, nil
}

func withinAny(path string, roots []string) bool {
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))) {
			return true
		}
	}
	return false
}

func absClean(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// ExpandPath expands a leading "~/" to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

// ValidateDataDir checks that a directory chosen for assets or reports is a
// sensible location: non-empty, absolute (or "~/"-relative), and not a system
// directory. The directory itself does not need to exist yet.
func ValidateDataDir(path string) error {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return fmt.Errorf("directory cannot be empty")
	}

	expanded := ExpandPath(trimmed)
	if !filepath.IsAbs(expanded) {
		return fmt.Errorf("path must be absolute or relative to home directory (~)")
	}

	if resolved, err := filepath.EvalSymlinks(expanded); err == nil && IsReservedDirectory(resolved) {
		return fmt.Errorf("path resolves to reserved directory")
	}
	if IsReservedDirectory(expanded) {
		return fmt.Errorf("cannot use system or reserved directories")
	}

	return nil
}

// IsReservedDirectory reports whether path is, or lies beneath, a system
// location sky must never write to. Temporary directories are exempt.
func IsReservedDirectory(path string) bool {
	abs, err := absClean(path)
	if err != nil {
		return true
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if abs == string(filepath.Separator) || abs == `C:\` {
		return true
	}
	if isTempDirectory(abs) {
		return false
	}

	for _, reserved := range reservedDirectories() {
		if strings.EqualFold(abs, reserved) {
			return true
		}
		prefix := strings.ToLower(reserved) + string(os.PathSeparator)
		if strings.HasPrefix(strings.ToLower(abs), prefix) {
			return true
		}
	}
	return false
}

func reservedDirectories() []string {
	var dirs []string
	switch runtime.GOOS {
	case "windows":
		dirs = []string{`C:\Windows`, `C:\Program Files`, `C:\Program Files (x86)`}
	case "darwin":
		dirs = []string{"/System", "/bin", "/sbin", "/usr/bin", "/usr/sbin", "/etc", "/private/etc", "/var/log", "/var/db"}
	default:
		dirs = []string{"/bin", "/sbin", "/usr/bin", "/usr/sbin", "/etc", "/boot", "/dev", "/proc", "/sys", "/var/log", "/var/lib"}
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".ssh"), filepath.Join(home, ".gnupg"))
	}
	return dirs
}

func isTempDirectory(path string) bool {
	tmp, err := absClean(os.TempDir())
	if err != nil {
		return false
	}
	if resolved, err := filepath.EvalSymlinks(tmp); err == nil {
		tmp = resolved
	}
	return withinAny(path, []string{tmp})
}

// ValidateDirectoryWritable reports whether files can be created in dirPath.
// A missing directory is judged by its nearest existing parent and is not
// created.
func ValidateDirectoryWritable(dirPath string) error {
	dir := ExpandPath(strings.TrimSpace(dirPath))
	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("not a directory: %s", dir)
			}
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return fmt.Errorf("no existing parent for %s", dirPath)
		}
		dir = parent
	}

	tmp, err := os.CreateTemp(dir, ".sky-write-test-*")
	if err != nil {
		return fmt.Errorf("no write permission in directory: %w", err)
	}
	name := tmp.Name()
	tmp.Close()
	_ = os.Remove(name)
	return nil
}
