package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// AppDir is the per-user directory name holding weft state.
const AppDir = "weft"

// CacheDBName is the filename of the per-scope update cache.
const CacheDBName = "cache.db"

// DataDir returns the per-user weft state directory, creating it if needed.
// Honors WEFT_DATA_DIR for tests and portable installs.
func DataDir() (string, error) {
	if dir := os.Getenv("WEFT_DATA_DIR"); dir != "" {
		return dir, os.MkdirAll(dir, 0o755)
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, AppDir)
	return dir, os.MkdirAll(dir, 0o755)
}

// CacheFile returns the default cache database path for a scope, one
// directory per scope so purging a scope never touches its neighbors.
func CacheFile(scope string) (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	scopeDir := filepath.Join(dir, SanitizeScope(scope))
	if err := os.MkdirAll(scopeDir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(scopeDir, CacheDBName), nil
}

// SanitizeScope maps an arbitrary scope token onto a safe directory name.
func SanitizeScope(scope string) string {
	var b strings.Builder
	for _, r := range scope {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "_"
	}
	return out
}
