package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Files is the file-backed JSON store rooted at a data directory. Every
// per-tenant read-modify-write runs under that tenant's mutex; the two
// process-wide ledgers have their own lock.
type Files struct {
	root   string
	logger *zap.Logger

	ledgerMu sync.Mutex

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFiles(root string, logger *zap.Logger) (*Files, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Files{
		root:   root,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// tenantLock returns the mutex guarding one tenant's files. Locks are
// never released from the map; tenant counts are modest.
func (f *Files) tenantLock(tenantID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		f.locks[tenantID] = l
	}
	return l
}

func (f *Files) authDir(tenantID string) string {
	return filepath.Join(f.root, "auth", tenantID)
}

func (f *Files) credsPath(tenantID string) string {
	return filepath.Join(f.authDir(tenantID), "creds.json")
}

func (f *Files) qrDir(tenantID string) string {
	return filepath.Join(f.root, "qr", tenantID)
}

func (f *Files) statsDir(tenantID string) string {
	return filepath.Join(f.root, "countstats", tenantID)
}

func (f *Files) linksPath(tenantID string) string {
	return filepath.Join(f.statsDir(tenantID), "links.json")
}

func (f *Files) allowListPath(tenantID string) string {
	return filepath.Join(f.root, "allowlist", tenantID, "groups.json")
}

func (f *Files) activeTenantsPath() string {
	return filepath.Join(f.root, "activeUsers.json")
}

func (f *Files) usagePath() string {
	return filepath.Join(f.root, "users.json")
}

func (f *Files) readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// writeJSON writes to a temp file in the target directory and renames
// it into place, so readers never observe a partial write.
func (f *Files) writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
