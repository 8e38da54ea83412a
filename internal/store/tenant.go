package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// SaveCredentials persists a tenant's credential bundle. Called on every
// credentials-update event from the network.
func (f *Files) SaveCredentials(tenantID string, creds json.RawMessage) error {
	lock := f.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()
	return f.writeJSON(f.credsPath(tenantID), creds)
}

// LoadCredentials returns the persisted bundle, or nil when the tenant
// has never completed pairing.
func (f *Files) LoadCredentials(tenantID string) (json.RawMessage, error) {
	lock := f.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(f.credsPath(tenantID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials for %s: %w", tenantID, err)
	}
	return json.RawMessage(data), nil
}

// HasCredentials reports whether the tenant's auth directory holds a
// credential bundle. An existing but empty directory means pairing
// started and never finished.
func (f *Files) HasCredentials(tenantID string) bool {
	_, err := os.Stat(f.credsPath(tenantID))
	return err == nil
}

// EnsureTenantDirs creates the per-tenant auth, qr, and stats
// directories so a fresh connect starts from a known layout.
func (f *Files) EnsureTenantDirs(tenantID string) error {
	for _, dir := range []string{f.authDir(tenantID), f.qrDir(tenantID), f.statsDir(tenantID)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func (f *Files) SaveAllowList(tenantID string, groups []string) error {
	lock := f.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()
	if groups == nil {
		groups = []string{}
	}
	return f.writeJSON(f.allowListPath(tenantID), groups)
}

// LoadAllowList returns the tenant's allow-listed group ids. A missing
// file means nothing is allow-listed.
func (f *Files) LoadAllowList(tenantID string) ([]string, error) {
	lock := f.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	var groups []string
	err := f.readJSON(f.allowListPath(tenantID), &groups)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read allow-list for %s: %w", tenantID, err)
	}
	return groups, nil
}

// WritePairingArtifact replaces the tenant's pairing image. Each new
// pairing code overwrites the previous one at the same path.
func (f *Files) WritePairingArtifact(tenantID string, png []byte) error {
	dir := f.qrDir(tenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create qr dir for %s: %w", tenantID, err)
	}
	path := filepath.Join(dir, "qr.png")
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("temp qr file for %s: %w", tenantID, err)
	}
	if _, err := tmp.Write(png); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write qr for %s: %w", tenantID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close qr for %s: %w", tenantID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename qr for %s: %w", tenantID, err)
	}
	return nil
}

// PairingArtifactPath returns where the tenant's pairing image lives,
// whether or not one exists yet.
func (f *Files) PairingArtifactPath(tenantID string) string {
	return filepath.Join(f.qrDir(tenantID), "qr.png")
}

// PurgeTenant removes every per-tenant artifact: credentials, pairing
// image, tracked links, and allow-list. Each removal is best-effort; an
// error on one artifact is logged and does not stop the others.
func (f *Files) PurgeTenant(tenantID string) {
	lock := f.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	dirs := []string{
		f.authDir(tenantID),
		f.qrDir(tenantID),
		f.statsDir(tenantID),
		filepath.Dir(f.allowListPath(tenantID)),
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			f.logger.Error("Failed to purge tenant artifact",
				zap.String("tenant_id", tenantID),
				zap.String("path", dir),
				zap.Error(err),
			)
		}
	}
}

// TenantStoresExist reports whether the auth, stats, and qr directories
// are all present. The reaper only purges fully-initialized tenants.
func (f *Files) TenantStoresExist(tenantID string) bool {
	for _, dir := range []string{f.authDir(tenantID), f.statsDir(tenantID), f.qrDir(tenantID)} {
		if _, err := os.Stat(dir); err != nil {
			return false
		}
	}
	return true
}
