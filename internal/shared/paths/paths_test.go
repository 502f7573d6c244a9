package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDataDirHonorsOverride(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("WEFT_DATA_DIR", dir)
	defer os.Unsetenv("WEFT_DATA_DIR")

	got, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	if got != dir {
		t.Errorf("DataDir = %q, want %q", got, dir)
	}
}

func TestCacheFileIsolatesScopes(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("WEFT_DATA_DIR", dir)
	defer os.Unsetenv("WEFT_DATA_DIR")

	a, err := CacheFile("scope-a")
	if err != nil {
		t.Fatalf("CacheFile: %v", err)
	}
	b, err := CacheFile("scope-b")
	if err != nil {
		t.Fatalf("CacheFile: %v", err)
	}

	if filepath.Dir(a) == filepath.Dir(b) {
		t.Errorf("scopes share a directory: %q", filepath.Dir(a))
	}
	if info, err := os.Stat(filepath.Dir(a)); err != nil || !info.IsDir() {
		t.Errorf("scope dir not created: %v", err)
	}
}

func TestSanitizeScope(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"workspace-1", "workspace-1"},
		{"a/b\\c", "a_b_c"},
		{"..", "_"},
		{"", "_"},
		{"sess:2026 08", "sess_2026_08"},
	}
	for _, tt := range tests {
		if got := SanitizeScope(tt.in); got != tt.want {
			t.Errorf("SanitizeScope(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
