package installstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// stateDirName is the on-disk layout fixed by spec.md §6: under the
// project build output, a ".sandbox-state/" directory holding one JSON
// file per session key.
const stateDirName = ".sandbox-state"

// record is the content of a single session key's state file.
type record struct {
	BundleHash string `json:"bundleHash"`
	UpdatedAt  string `json:"updatedAt"`
}

// FileStore is the development-default Store (spec.md §4.7: "A
// filesystem implementation under the project build directory is the
// default for development"). Each session key's state lives in its own
// file under buildOutputDir/.sandbox-state/, mirroring writes to disk
// so a restarted dev process recovers prior state.
type FileStore struct {
	mu   sync.Mutex
	dir  string
	data map[string]record
}

// NewFileStore opens (or creates) a FileStore rooted at
// buildOutputDir/.sandbox-state/, loading any previously persisted
// per-key state files.
func NewFileStore(buildOutputDir string) (*FileStore, error) {
	dir := filepath.Join(buildOutputDir, stateDirName)
	fs := &FileStore{dir: dir, data: make(map[string]record)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, fmt.Errorf("read install state dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		key, err := keyFromFilename(entry.Name())
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read install state file %s: %w", entry.Name(), err)
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("parse install state file %s: %w", entry.Name(), err)
		}
		fs.data[key] = rec
	}
	return fs, nil
}

func (s *FileStore) GetInstalledHash(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[key]
	return rec.BundleHash, ok, nil
}

func (s *FileStore) SetInstalledHash(ctx context.Context, key string, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := record{BundleHash: digest, UpdatedAt: time.Now().UTC().Format(time.RFC3339)}
	s.data[key] = rec
	return s.persistKeyLocked(key, rec)
}

func (s *FileStore) persistKeyLocked(key string, rec record) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create install state dir: %w", err)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode install state for %q: %w", key, err)
	}
	return os.WriteFile(filepath.Join(s.dir, filenameForKey(key)), raw, 0o644)
}

func (s *FileStore) Close() error { return nil }

// filenameForKey turns an opaque session key into a filesystem-safe,
// reversible filename: url.QueryEscape leaves '/' and other path
// separators percent-encoded so a key can never escape the state dir.
func filenameForKey(key string) string {
	return url.QueryEscape(key) + ".json"
}

func keyFromFilename(name string) (string, error) {
	return url.QueryUnescape(strings.TrimSuffix(name, ".json"))
}

var _ Store = (*FileStore)(nil)
