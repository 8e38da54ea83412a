package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestFiles(t *testing.T) *Files {
	t.Helper()
	files, err := NewFiles(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func TestAllowListRoundTrip(t *testing.T) {
	t.Parallel()
	files := newTestFiles(t)

	got, err := files.LoadAllowList("t1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil allow-list for unknown tenant, got %v", got)
	}

	want := []string{"a@g.us", "b@g.us"}
	if err := files.SaveAllowList("t1", want); err != nil {
		t.Fatal(err)
	}
	got, err = files.LoadAllowList("t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("allow-list round trip: got %v, want %v", got, want)
	}
}

func TestActiveTenantLedger(t *testing.T) {
	t.Parallel()
	files := newTestFiles(t)

	if err := files.AddActiveTenant("t1"); err != nil {
		t.Fatal(err)
	}
	// Adding twice must not duplicate.
	if err := files.AddActiveTenant("t1"); err != nil {
		t.Fatal(err)
	}
	if err := files.AddActiveTenant("t2"); err != nil {
		t.Fatal(err)
	}

	ids, err := files.ActiveTenants()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 active tenants, got %v", ids)
	}

	if err := files.RemoveActiveTenant("t1"); err != nil {
		t.Fatal(err)
	}
	ids, err = files.ActiveTenants()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "t2" {
		t.Fatalf("expected [t2], got %v", ids)
	}

	// Removing a missing id is a no-op.
	if err := files.RemoveActiveTenant("ghost"); err != nil {
		t.Fatal(err)
	}
}

func TestUsageLedger(t *testing.T) {
	t.Parallel()
	files := newTestFiles(t)

	if err := files.TouchUsage("t1"); err != nil {
		t.Fatal(err)
	}
	entries, err := files.UsageEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].TenantID != "t1" {
		t.Fatalf("expected single t1 entry, got %v", entries)
	}
	first := entries[0].Timestamp

	time.Sleep(5 * time.Millisecond)
	if err := files.TouchUsage("t1"); err != nil {
		t.Fatal(err)
	}
	entries, err = files.UsageEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("touch must upsert, got %d entries", len(entries))
	}
	if !entries[0].Timestamp.After(first) {
		t.Fatal("touch did not advance the timestamp")
	}

	if err := files.ReplaceUsage(nil); err != nil {
		t.Fatal(err)
	}
	entries, err = files.UsageEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty ledger after replace, got %v", entries)
	}
}

func TestUpdateLinksMissingStore(t *testing.T) {
	t.Parallel()
	files := newTestFiles(t)

	err := files.UpdateLinks("ghost", func(links []TrackedLink) ([]TrackedLink, error) {
		return links, nil
	})
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist for missing store, got %v", err)
	}
}

func TestEnsureLinkStoreIdempotent(t *testing.T) {
	t.Parallel()
	files := newTestFiles(t)

	if err := files.EnsureLinkStore("t1"); err != nil {
		t.Fatal(err)
	}
	err := files.UpdateLinks("t1", func(links []TrackedLink) ([]TrackedLink, error) {
		return append(links, TrackedLink{ID: "id1", URL: "https://a.co"}), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// A second ensure must not wipe existing entries.
	if err := files.EnsureLinkStore("t1"); err != nil {
		t.Fatal(err)
	}
	links, err := files.LoadLinks("t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || links[0].ID != "id1" {
		t.Fatalf("link store was clobbered: %v", links)
	}
}

func TestPurgeTenant(t *testing.T) {
	t.Parallel()
	files := newTestFiles(t)

	if err := files.EnsureTenantDirs("t1"); err != nil {
		t.Fatal(err)
	}
	if err := files.EnsureLinkStore("t1"); err != nil {
		t.Fatal(err)
	}
	if !files.TenantStoresExist("t1") {
		t.Fatal("expected tenant stores to exist after ensure")
	}

	files.PurgeTenant("t1")
	if files.TenantStoresExist("t1") {
		t.Fatal("expected tenant stores gone after purge")
	}
	if files.HasLinkStore("t1") {
		t.Fatal("expected link store gone after purge")
	}

	// Purging an unknown tenant must not panic or error out.
	files.PurgeTenant("ghost")
}

func TestTenantStoresExistPartial(t *testing.T) {
	t.Parallel()
	files := newTestFiles(t)

	if err := files.EnsureTenantDirs("t1"); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(filepath.Dir(files.PairingArtifactPath("t1"))); err != nil {
		t.Fatal(err)
	}
	if files.TenantStoresExist("t1") {
		t.Fatal("expected partial layout to report false")
	}
}

func TestWritePairingArtifactOverwrites(t *testing.T) {
	t.Parallel()
	files := newTestFiles(t)

	if err := files.WritePairingArtifact("t1", []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := files.WritePairingArtifact("t1", []byte("second")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(files.PairingArtifactPath("t1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Fatalf("expected latest artifact, got %q", data)
	}
}
