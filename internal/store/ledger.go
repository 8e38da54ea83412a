package store

import (
	"errors"
	"fmt"
	"io/fs"
	"time"
)

// ActiveTenants returns the ids believed connected, used to restore
// sessions on process start. A missing ledger is an empty ledger.
func (f *Files) ActiveTenants() ([]string, error) {
	f.ledgerMu.Lock()
	defer f.ledgerMu.Unlock()

	var ids []string
	err := f.readJSON(f.activeTenantsPath(), &ids)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read active-tenant ledger: %w", err)
	}
	return ids, nil
}

// AddActiveTenant records a tenant as connected. Adding an id twice is
// a no-op.
func (f *Files) AddActiveTenant(tenantID string) error {
	f.ledgerMu.Lock()
	defer f.ledgerMu.Unlock()

	var ids []string
	if err := f.readJSON(f.activeTenantsPath(), &ids); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read active-tenant ledger: %w", err)
	}
	for _, id := range ids {
		if id == tenantID {
			return nil
		}
	}
	ids = append(ids, tenantID)
	return f.writeJSON(f.activeTenantsPath(), ids)
}

func (f *Files) RemoveActiveTenant(tenantID string) error {
	f.ledgerMu.Lock()
	defer f.ledgerMu.Unlock()

	var ids []string
	if err := f.readJSON(f.activeTenantsPath(), &ids); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read active-tenant ledger: %w", err)
	}
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != tenantID {
			kept = append(kept, id)
		}
	}
	return f.writeJSON(f.activeTenantsPath(), kept)
}

// UsageEntries returns the usage ledger consulted by the idle reaper.
func (f *Files) UsageEntries() ([]UsageEntry, error) {
	f.ledgerMu.Lock()
	defer f.ledgerMu.Unlock()

	var entries []UsageEntry
	err := f.readJSON(f.usagePath(), &entries)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read usage ledger: %w", err)
	}
	return entries, nil
}

// TouchUsage stamps the tenant's last-activity time with now, inserting
// an entry when none exists.
func (f *Files) TouchUsage(tenantID string) error {
	f.ledgerMu.Lock()
	defer f.ledgerMu.Unlock()

	var entries []UsageEntry
	if err := f.readJSON(f.usagePath(), &entries); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read usage ledger: %w", err)
	}
	now := time.Now()
	for i := range entries {
		if entries[i].TenantID == tenantID {
			entries[i].Timestamp = now
			return f.writeJSON(f.usagePath(), entries)
		}
	}
	entries = append(entries, UsageEntry{TenantID: tenantID, Timestamp: now})
	return f.writeJSON(f.usagePath(), entries)
}

func (f *Files) RemoveUsage(tenantID string) error {
	f.ledgerMu.Lock()
	defer f.ledgerMu.Unlock()

	var entries []UsageEntry
	if err := f.readJSON(f.usagePath(), &entries); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read usage ledger: %w", err)
	}
	kept := make([]UsageEntry, 0, len(entries))
	for _, e := range entries {
		if e.TenantID != tenantID {
			kept = append(kept, e)
		}
	}
	return f.writeJSON(f.usagePath(), kept)
}

// ReplaceUsage rewrites the whole usage ledger. The reaper filters and
// writes back in a single pass.
func (f *Files) ReplaceUsage(entries []UsageEntry) error {
	f.ledgerMu.Lock()
	defer f.ledgerMu.Unlock()
	if entries == nil {
		entries = []UsageEntry{}
	}
	return f.writeJSON(f.usagePath(), entries)
}
