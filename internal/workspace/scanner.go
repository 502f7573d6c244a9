package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/document"
	"github.com/weftlabs/weft/internal/logging"
)

// ConfigFile is the optional per-workspace scanner configuration.
const ConfigFile = ".weft.yaml"

// defaultIgnore applies on top of any configured globs.
var defaultIgnore = []string{
	".git/**",
	"**/.ipynb_checkpoints/**",
	"**/node_modules/**",
}

type workspaceConfig struct {
	Ignore []string `yaml:"ignore"`
}

// Scanner walks a workspace root for notebook files. It is library code for
// the worker process; clients only ever see the snapshot it publishes.
type Scanner struct {
	root   string
	ignore []string
	log    *logging.Logger
}

// NewScanner builds a scanner for the given workspace root. Ignore globs come
// from the defaults plus the optional .weft.yaml at the root.
func NewScanner(root string, log *logging.Logger) (*Scanner, error) {
	if log == nil {
		log = logging.Nop()
	}
	s := &Scanner{root: root, log: log}
	s.ignore = append(s.ignore, defaultIgnore...)

	raw, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", ConfigFile, err)
		}
		return s, nil
	}
	var cfg workspaceConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ConfigFile, err)
	}
	s.ignore = append(s.ignore, cfg.Ignore...)
	return s, nil
}

// Root returns the workspace root path.
func (s *Scanner) Root() string { return s.root }

// Scan walks the root and returns every notebook file not matched by an
// ignore glob, sorted by relative path.
func (s *Scanner) Scan(ctx context.Context) ([]FileInfo, error) {
	var (
		mu    sync.Mutex
		files []FileInfo
	)
	conf := fastwalk.Config{Follow: false}

	err := fastwalk.Walk(&conf, s.root, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if s.ignored(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".ipynb") || s.ignored(rel) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		mu.Lock()
		files = append(files, FileInfo{
			Path:       rel,
			Name:       d.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UnixMilli(),
		})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	s.log.Debug("workspace scanned",
		zap.String("root", s.root), zap.Int("notebooks", len(files)))
	return files, nil
}

// ApplyListing publishes a scan result as the shared snapshot.
func (s *Scanner) ApplyListing(tx *crdt.Tx, root *document.Root, files []FileInfo) {
	recs := make([]any, len(files))
	for i, f := range files {
		recs[i] = f.record()
	}
	root.SetWorkspaceListing(tx, s.root, recs, time.Now().UnixMilli())
}

func (s *Scanner) ignored(rel string) bool {
	for _, glob := range s.ignore {
		if ok, err := doublestar.Match(glob, rel); err == nil && ok {
			return true
		}
		// Directory globs like "x/**" should also suppress "x/" itself.
		if dir, found := strings.CutSuffix(glob, "/**"); found {
			if ok, err := doublestar.Match(dir, strings.TrimSuffix(rel, "/")); err == nil && ok {
				return true
			}
		}
	}
	return false
}
