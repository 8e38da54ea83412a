package session

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/leozw/linkpulse/internal/inbound"
	"github.com/leozw/linkpulse/internal/metrics"
	"github.com/leozw/linkpulse/internal/protocol"
	"github.com/leozw/linkpulse/internal/store"
)

type fakeClient struct {
	events chan protocol.Event

	mu        sync.Mutex
	closed    bool
	loggedOut bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan protocol.Event, 16)}
}

func (c *fakeClient) Events() <-chan protocol.Event { return c.events }

func (c *fakeClient) SelfID() string { return "self@s.whatsapp.net" }

func (c *fakeClient) SendText(context.Context, string, string) error { return nil }

func (c *fakeClient) FetchGroups(context.Context) ([]protocol.GroupInfo, error) { return nil, nil }

func (c *fakeClient) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) isLoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

func (c *fakeClient) emit(ev protocol.Event) { c.events <- ev }

type fakeDialer struct {
	mu      sync.Mutex
	clients []*fakeClient
	tenants []string
}

func (d *fakeDialer) dial(_ context.Context, tenantID string, _ json.RawMessage) (protocol.Client, error) {
	c := newFakeClient()
	d.mu.Lock()
	d.clients = append(d.clients, c)
	d.tenants = append(d.tenants, tenantID)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func (d *fakeDialer) client(i int) *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[i]
}

func (d *fakeDialer) tenant(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tenants[i]
}

func newTestManager(t *testing.T, dial protocol.Dialer) (*Manager, *Registry, *store.Files) {
	t.Helper()
	files, err := store.NewFiles(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	collector := metrics.NewCollector(prometheus.NewRegistry())
	forwarder := inbound.NewForwarder("http://127.0.0.1:0/ingest", "whatsapp", time.Second, collector, zap.NewNop())
	router := inbound.NewRouter(files, forwarder, zap.NewNop())
	registry := NewRegistry()
	m := NewManager(registry, files, dial, router, []byte("placeholder"), collector, zap.NewNop())
	m.renderQR = func(code string) ([]byte, error) {
		return []byte("qr:" + code), nil
	}
	return m, registry, files
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnectKeepsSingleHandleWhilePairing(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	m, registry, files := newTestManager(t, dialer.dial)

	already, err := m.Connect(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if already {
		t.Fatal("first connect must not report already-connected")
	}

	// A second connect while pairing is in flight only refreshes the
	// usage ledger.
	already, err = m.Connect(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if already {
		t.Fatal("pairing-in-flight connect must not report already-connected")
	}
	if dialer.count() != 1 {
		t.Fatalf("expected a single dial, got %d", dialer.count())
	}
	if registry.Len() != 1 {
		t.Fatalf("expected a single handle, got %d", registry.Len())
	}

	entries, err := files.UsageEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].TenantID != "t1" {
		t.Fatalf("expected usage entry for t1, got %v", entries)
	}
	if m.StateOf("t1") != StatePairing {
		t.Fatalf("expected pairing state, got %s", m.StateOf("t1"))
	}
}

func TestConnectAfterPairingReportsAlreadyConnected(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	m, _, files := newTestManager(t, dialer.dial)

	if _, err := m.Connect(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	dialer.client(0).emit(protocol.CredentialsUpdate{Credentials: json.RawMessage(`{"session":"x"}`)})
	waitFor(t, func() bool { return files.HasCredentials("t1") }, "credentials never persisted")

	already, err := m.Connect(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !already {
		t.Fatal("expected already-connected after pairing completed")
	}
	if dialer.count() != 1 {
		t.Fatalf("expected no redial, got %d dials", dialer.count())
	}
}

func TestPairingCompletion(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	m, _, files := newTestManager(t, dialer.dial)

	if _, err := m.Connect(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	client := dialer.client(0)

	client.emit(protocol.ConnectionUpdate{PairingCode: "code-1"})
	waitFor(t, func() bool {
		data, err := os.ReadFile(files.PairingArtifactPath("t1"))
		return err == nil && string(data) == "qr:code-1"
	}, "pairing artifact never written")

	client.emit(protocol.CredentialsUpdate{Credentials: json.RawMessage(`{"session":"x"}`)})
	waitFor(t, func() bool { return m.StateOf("t1") == StateConnected }, "tenant never reached connected state")

	// The consumed code is replaced by the neutral placeholder.
	data, err := os.ReadFile(files.PairingArtifactPath("t1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "placeholder" {
		t.Fatalf("expected placeholder artifact, got %q", data)
	}

	ids, err := files.ActiveTenants()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "t1" {
		t.Fatalf("expected t1 in active ledger, got %v", ids)
	}

	// Pairing completion retires the usage entry; the reaper only
	// watches tenants still stuck in pairing.
	entries, err := files.UsageEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty usage ledger after pairing, got %v", entries)
	}
}

func TestTransientDisconnectReconnects(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	m, registry, _ := newTestManager(t, dialer.dial)

	if _, err := m.Connect(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	first := dialer.client(0)

	first.emit(protocol.ConnectionUpdate{State: protocol.StateClose, Cause: protocol.CauseTransient})

	waitFor(t, func() bool { return dialer.count() == 2 }, "reconnect never dialed")
	waitFor(t, func() bool {
		c, ok := registry.Get("t1")
		return ok && c == dialer.client(1)
	}, "fresh handle never registered")
	if !first.isClosed() {
		t.Fatal("retired handle must be closed")
	}
}

func TestRemoteLogoutPurges(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	m, registry, files := newTestManager(t, dialer.dial)

	if _, err := m.Connect(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	client := dialer.client(0)
	client.emit(protocol.CredentialsUpdate{Credentials: json.RawMessage(`{"session":"x"}`)})
	waitFor(t, func() bool { return files.HasCredentials("t1") }, "credentials never persisted")

	client.emit(protocol.ConnectionUpdate{State: protocol.StateClose, Cause: protocol.CauseLoggedOut})

	waitFor(t, func() bool { return registry.Len() == 0 }, "handle never removed")
	waitFor(t, func() bool { return m.StateOf("t1") == StateTerminated }, "tenant never terminated")
	if files.HasCredentials("t1") {
		t.Fatal("credentials must be purged on remote logout")
	}
	if dialer.count() != 1 {
		t.Fatalf("logged-out close must not reconnect, got %d dials", dialer.count())
	}
	ids, err := files.ActiveTenants()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty active ledger, got %v", ids)
	}
}

func TestLogoutNotConnected(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	m, _, _ := newTestManager(t, dialer.dial)

	if err := m.Logout(context.Background(), "ghost"); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestLogoutPurges(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	m, registry, files := newTestManager(t, dialer.dial)

	if _, err := m.Connect(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	client := dialer.client(0)
	client.emit(protocol.CredentialsUpdate{Credentials: json.RawMessage(`{"session":"x"}`)})
	waitFor(t, func() bool { return files.HasCredentials("t1") }, "credentials never persisted")

	if err := m.Logout(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}

	if !client.isLoggedOut() {
		t.Fatal("expected remote logout call")
	}
	if !client.isClosed() {
		t.Fatal("expected handle closed")
	}
	if registry.Len() != 0 {
		t.Fatal("expected handle removed from registry")
	}
	if files.TenantStoresExist("t1") {
		t.Fatal("expected tenant stores purged")
	}
	if m.StateOf("t1") != StateTerminated {
		t.Fatalf("expected terminated state, got %s", m.StateOf("t1"))
	}
}

func TestConcurrentConnectSingleDial(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	slow := func(ctx context.Context, tenantID string, creds json.RawMessage) (protocol.Client, error) {
		time.Sleep(50 * time.Millisecond)
		return dialer.dial(ctx, tenantID, creds)
	}
	m, registry, _ := newTestManager(t, slow)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Connect(context.Background(), "t1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	if dialer.count() != 1 {
		t.Fatalf("concurrent connects must share one dial, got %d", dialer.count())
	}
	if registry.Len() != 1 {
		t.Fatalf("expected a single handle, got %d", registry.Len())
	}
}

func TestStaleReconnectSkipped(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	m, registry, _ := newTestManager(t, dialer.dial)

	if _, err := m.Connect(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	stale := m.epoch("t1")

	// The tenant logs out between the drop and the scheduled reconnect.
	m.purge("t1", dialer.client(0))

	m.reconnect("t1", stale)
	if dialer.count() != 1 {
		t.Fatalf("reconnect after purge must not redial, got %d dials", dialer.count())
	}
	if registry.Len() != 0 {
		t.Fatal("purged tenant must stay unregistered")
	}
}

func TestRestoreSkipsTenantsWithoutCredentials(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	m, registry, files := newTestManager(t, dialer.dial)

	if err := files.SaveCredentials("paired", json.RawMessage(`{"session":"x"}`)); err != nil {
		t.Fatal(err)
	}
	if err := files.AddActiveTenant("paired"); err != nil {
		t.Fatal(err)
	}
	// Ledger entry without credentials: recoverable, not fatal.
	if err := files.AddActiveTenant("ghost"); err != nil {
		t.Fatal(err)
	}

	m.Restore(context.Background())

	if dialer.count() != 1 {
		t.Fatalf("expected one redial, got %d", dialer.count())
	}
	if got := dialer.tenant(0); got != "paired" {
		t.Fatalf("redialed %q, want paired", got)
	}
	if _, ok := registry.Get("paired"); !ok {
		t.Fatal("restored tenant must be registered")
	}
	if _, ok := registry.Get("ghost"); ok {
		t.Fatal("tenant without credentials must not be dialed")
	}
}
