package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// EnsureLinkStore creates an empty tracked-link store for the tenant if
// one does not exist yet. An existing store is left untouched.
func (f *Files) EnsureLinkStore(tenantID string) error {
	lock := f.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(f.linksPath(tenantID)); err == nil {
		return nil
	}
	return f.writeJSON(f.linksPath(tenantID), []TrackedLink{})
}

func (f *Files) HasLinkStore(tenantID string) bool {
	_, err := os.Stat(f.linksPath(tenantID))
	return err == nil
}

// LoadLinks reads the tenant's tracked links. The raw fs.ErrNotExist is
// preserved so callers can map a missing store to their own sentinel.
func (f *Files) LoadLinks(tenantID string) ([]TrackedLink, error) {
	lock := f.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()
	return f.loadLinksLocked(tenantID)
}

func (f *Files) loadLinksLocked(tenantID string) ([]TrackedLink, error) {
	var links []TrackedLink
	if err := f.readJSON(f.linksPath(tenantID), &links); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("read link store for %s: %w", tenantID, err)
	}
	return links, nil
}

// UpdateLinks runs one read-modify-write cycle against the tenant's
// link store under the tenant lock. fn returns the new contents; any
// error from fn aborts the write.
func (f *Files) UpdateLinks(tenantID string, fn func([]TrackedLink) ([]TrackedLink, error)) error {
	lock := f.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	links, err := f.loadLinksLocked(tenantID)
	if err != nil {
		return err
	}
	updated, err := fn(links)
	if err != nil {
		return err
	}
	if updated == nil {
		updated = []TrackedLink{}
	}
	return f.writeJSON(f.linksPath(tenantID), updated)
}
