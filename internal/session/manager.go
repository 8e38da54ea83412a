package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/leozw/linkpulse/internal/inbound"
	"github.com/leozw/linkpulse/internal/metrics"
	"github.com/leozw/linkpulse/internal/protocol"
	"github.com/leozw/linkpulse/internal/store"
)

// ErrNotConnected is returned by operations that need an active session
// handle for the tenant.
var ErrNotConnected = errors.New("tenant has no active session")

type State string

const (
	StateUnpaired   State = "unpaired"
	StatePairing    State = "pairing"
	StateConnected  State = "connected"
	StateTerminated State = "terminated"
)

// Manager drives tenant session lifecycles: pairing, reconnect after
// transient drops, and terminal cleanup on logout or eviction. Every
// lifecycle transition for a tenant — Connect, Logout, purge, Evict,
// and the scheduled reconnect — runs under that tenant's lifecycle
// mutex, so at most one of them mutates the tenant's registry entry at
// a time.
type Manager struct {
	registry    *Registry
	store       *store.Files
	dial        protocol.Dialer
	inbound     *inbound.Router
	placeholder []byte
	metrics     *metrics.Collector
	logger      *zap.Logger

	// renderQR is replaceable in tests.
	renderQR func(code string) ([]byte, error)

	mu        sync.Mutex
	states    map[string]State
	epochs    map[string]uint64
	lifecycle map[string]*sync.Mutex
}

func NewManager(registry *Registry, files *store.Files, dial protocol.Dialer, router *inbound.Router, placeholder []byte, collector *metrics.Collector, logger *zap.Logger) *Manager {
	return &Manager{
		registry:    registry,
		store:       files,
		dial:        dial,
		inbound:     router,
		placeholder: placeholder,
		metrics:     collector,
		logger:      logger,
		renderQR:    renderPairingPNG,
		states:      make(map[string]State),
		epochs:      make(map[string]uint64),
		lifecycle:   make(map[string]*sync.Mutex),
	}
}

// lifecycleLock returns the mutex serializing lifecycle transitions for
// one tenant. Locks are never released from the map; tenant counts are
// modest.
func (m *Manager) lifecycleLock(tenantID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lifecycle[tenantID]
	if !ok {
		l = &sync.Mutex{}
		m.lifecycle[tenantID] = l
	}
	return l
}

// Connect opens a session for the tenant. The bool result reports the
// benign "already connected" case. Calling Connect while pairing is in
// flight refreshes the tenant's usage timestamp and keeps the existing
// handle; the lifecycle lock ensures two concurrent calls never open
// two connections for one tenant.
func (m *Manager) Connect(ctx context.Context, tenantID string) (bool, error) {
	lock := m.lifecycleLock(tenantID)
	lock.Lock()
	defer lock.Unlock()
	return m.connectLocked(ctx, tenantID)
}

func (m *Manager) connectLocked(ctx context.Context, tenantID string) (bool, error) {
	if _, ok := m.registry.Get(tenantID); ok {
		if m.store.HasCredentials(tenantID) {
			return true, nil
		}
		// Credentials not yet written: pairing still in progress.
		if err := m.store.TouchUsage(tenantID); err != nil {
			m.logger.Warn("Failed to touch usage ledger",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
		}
		return false, nil
	}

	if err := m.store.EnsureTenantDirs(tenantID); err != nil {
		return false, fmt.Errorf("prepare tenant %s: %w", tenantID, err)
	}
	if err := m.store.EnsureLinkStore(tenantID); err != nil {
		return false, fmt.Errorf("prepare link store for %s: %w", tenantID, err)
	}

	creds, err := m.store.LoadCredentials(tenantID)
	if err != nil {
		m.logger.Warn("Unreadable credentials, restarting pairing",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		creds = nil
	}

	m.setState(tenantID, StatePairing)
	if err := m.store.TouchUsage(tenantID); err != nil {
		m.logger.Warn("Failed to touch usage ledger",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}

	client, err := m.dial(ctx, tenantID, creds)
	if err != nil {
		m.setState(tenantID, StateUnpaired)
		return false, fmt.Errorf("connect %s: %w", tenantID, err)
	}

	m.registry.Register(tenantID, client)
	m.metrics.SetActiveSessions(m.registry.Len())

	go m.dispatch(tenantID, client)

	m.logger.Info("Session opened", zap.String("tenant_id", tenantID))
	return false, nil
}

// Logout requests a remote logout and performs the terminal purge. A
// remote failure does not abort the purge; local state must not outlive
// the session.
func (m *Manager) Logout(ctx context.Context, tenantID string) error {
	lock := m.lifecycleLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	client, ok := m.registry.Get(tenantID)
	if !ok {
		return ErrNotConnected
	}
	if err := client.Logout(ctx); err != nil {
		m.logger.Warn("Remote logout failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}
	m.purgeLocked(tenantID, client)
	return nil
}

// Restore reconnects every tenant recorded in the active-tenant ledger.
// A ledger entry without working credentials is logged and skipped, not
// treated as fatal.
func (m *Manager) Restore(ctx context.Context) {
	ids, err := m.store.ActiveTenants()
	if err != nil {
		m.logger.Warn("Skipping session restore", zap.Error(err))
		return
	}
	for _, id := range ids {
		if !m.store.HasCredentials(id) {
			m.logger.Warn("Active tenant has no credentials, skipping restore",
				zap.String("tenant_id", id),
			)
			continue
		}
		if _, err := m.Connect(ctx, id); err != nil {
			m.logger.Error("Failed to restore session",
				zap.String("tenant_id", id),
				zap.Error(err),
			)
			continue
		}
		m.logger.Info("Restored session", zap.String("tenant_id", id))
	}
}

// Evict retires an idle tenant on behalf of the reaper: the handle is
// closed, artifacts are removed behind the layout guard, and the
// active-tenant ledger entry is dropped. The usage ledger itself is
// rewritten by the sweep that called us.
func (m *Manager) Evict(tenantID string) {
	lock := m.lifecycleLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	m.epochs[tenantID]++
	m.states[tenantID] = StateTerminated
	m.mu.Unlock()

	if client, ok := m.registry.Get(tenantID); ok {
		if err := client.Close(); err != nil {
			m.logger.Warn("Error closing idle session",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
		}
		m.registry.Remove(tenantID)
		m.metrics.SetActiveSessions(m.registry.Len())
	}

	// Only fully-initialized tenants are purged: stale-but-intact
	// state beats deleting an inconsistent subset.
	if m.store.TenantStoresExist(tenantID) {
		m.store.PurgeTenant(tenantID)
	}
	if err := m.store.RemoveActiveTenant(tenantID); err != nil {
		m.logger.Error("Failed to update active-tenant ledger",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}
}

// StateOf reports the tenant's lifecycle state as last observed.
func (m *Manager) StateOf(tenantID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[tenantID]; ok {
		return s
	}
	return StateUnpaired
}

func (m *Manager) setState(tenantID string, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[tenantID] = s
}

func (m *Manager) epoch(tenantID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epochs[tenantID]
}

// dispatch consumes the handle's event stream until it closes or the
// handle is retired by a connection close.
func (m *Manager) dispatch(tenantID string, client protocol.Client) {
	for ev := range client.Events() {
		switch e := ev.(type) {
		case protocol.ConnectionUpdate:
			if m.handleConnectionUpdate(tenantID, client, e) {
				return
			}
		case protocol.CredentialsUpdate:
			m.handleCredentialsUpdate(tenantID, e)
		case protocol.MessagesUpsert:
			m.inbound.HandleBatch(context.Background(), tenantID, client.SelfID(), e.Messages)
		}
	}
}

// handleConnectionUpdate returns true when the handle has been retired
// and the dispatch loop must stop.
func (m *Manager) handleConnectionUpdate(tenantID string, client protocol.Client, e protocol.ConnectionUpdate) bool {
	if e.PairingCode != "" {
		m.writePairingCode(tenantID, e.PairingCode)
	}

	switch e.State {
	case protocol.StateOpen:
		m.logger.Info("Connection open", zap.String("tenant_id", tenantID))
		return false
	case protocol.StateClose:
		if e.Cause == protocol.CauseLoggedOut {
			m.logger.Info("Logged out by remote network", zap.String("tenant_id", tenantID))
			m.purge(tenantID, client)
			return true
		}
		// Transient drop: retire this handle and schedule a fresh
		// connect. Scheduling instead of recursing keeps the call
		// stack flat across arbitrarily many reconnect cycles. The
		// epoch observed now lets the reconnect detect a logout or
		// eviction that lands in between.
		epoch := m.epoch(tenantID)
		lock := m.lifecycleLock(tenantID)
		lock.Lock()
		m.registry.Remove(tenantID)
		m.metrics.SetActiveSessions(m.registry.Len())
		client.Close()
		lock.Unlock()
		m.metrics.RecordReconnect()
		m.logger.Warn("Transient disconnect, reconnecting", zap.String("tenant_id", tenantID))
		go m.reconnect(tenantID, epoch)
		return true
	}
	return false
}

// reconnect re-dials after a transient drop. A tenant purged or evicted
// since the drop was observed stays down.
func (m *Manager) reconnect(tenantID string, epoch uint64) {
	lock := m.lifecycleLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	if m.epoch(tenantID) != epoch || m.StateOf(tenantID) == StateTerminated {
		m.logger.Info("Skipping reconnect for retired tenant", zap.String("tenant_id", tenantID))
		return
	}
	if _, err := m.connectLocked(context.Background(), tenantID); err != nil {
		m.logger.Error("Reconnect failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}
}

func (m *Manager) handleCredentialsUpdate(tenantID string, e protocol.CredentialsUpdate) {
	if err := m.store.SaveCredentials(tenantID, e.Credentials); err != nil {
		m.logger.Error("Failed to persist credentials",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		return
	}

	// Pairing is complete. Swap the code image for the neutral
	// placeholder so polling clients never see a stale code.
	if err := m.store.WritePairingArtifact(tenantID, m.placeholder); err != nil {
		m.logger.Error("Failed to reset pairing artifact",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}
	if err := m.store.AddActiveTenant(tenantID); err != nil {
		m.logger.Error("Failed to update active-tenant ledger",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}
	if err := m.store.RemoveUsage(tenantID); err != nil {
		m.logger.Error("Failed to update usage ledger",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}
	m.setState(tenantID, StateConnected)
	m.logger.Info("Tenant paired", zap.String("tenant_id", tenantID))
}

func (m *Manager) writePairingCode(tenantID, code string) {
	png, err := m.renderQR(code)
	if err != nil {
		m.logger.Error("Failed to render pairing code",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		return
	}
	if err := m.store.WritePairingArtifact(tenantID, png); err != nil {
		m.logger.Error("Failed to write pairing artifact",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		return
	}
	m.logger.Info("Pairing code updated", zap.String("tenant_id", tenantID))
}

func (m *Manager) purge(tenantID string, client protocol.Client) {
	lock := m.lifecycleLock(tenantID)
	lock.Lock()
	defer lock.Unlock()
	m.purgeLocked(tenantID, client)
}

// purgeLocked is the terminal transition. Every step is best-effort: a
// failure on one artifact is logged and the rest are still removed.
func (m *Manager) purgeLocked(tenantID string, client protocol.Client) {
	m.mu.Lock()
	m.epochs[tenantID]++
	m.states[tenantID] = StateTerminated
	m.mu.Unlock()

	m.registry.Remove(tenantID)
	m.metrics.SetActiveSessions(m.registry.Len())
	if client != nil {
		client.Close()
	}

	m.store.PurgeTenant(tenantID)
	if err := m.store.RemoveActiveTenant(tenantID); err != nil {
		m.logger.Error("Failed to update active-tenant ledger",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}
	if err := m.store.RemoveUsage(tenantID); err != nil {
		m.logger.Error("Failed to update usage ledger",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}
	m.logger.Info("Tenant purged", zap.String("tenant_id", tenantID))
}
