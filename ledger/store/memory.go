// Package store provides an in-memory ledger.Store for tests and dry runs.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/retail-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.BackupStore, ledger.Replacer, ledger.ReportIndex
// and ledger.SyncState.
type Memory struct {
	mu       sync.RWMutex
	env      ledger.Envelope
	saved    bool
	backups  []ledger.Envelope
	keep     int
	reports  map[string]ledger.ReportRecord
	lastSync *time.Time

	// SaveErr and BackupErr, when set, are returned by Save and Backup
	// without touching the stored state.
	SaveErr   error
	BackupErr error

	saves int
}

func NewMemory() *Memory {
	return &Memory{keep: 10, reports: make(map[string]ledger.ReportRecord)}
}

// NewMemoryWith returns a store preloaded with env.
func NewMemoryWith(env ledger.Envelope) *Memory {
	m := NewMemory()
	m.env = env.Clone()
	m.saved = true
	return m
}

func (m *Memory) Load(_ context.Context) (ledger.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.env.Clone(), nil
}

func (m *Memory) Save(_ context.Context, env ledger.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.env = env.Clone()
	m.saved = true
	m.saves++
	return nil
}

func (m *Memory) Replace(ctx context.Context, env ledger.Envelope) error {
	return m.Save(ctx, env)
}

// Backup snapshots the last saved envelope, keeping the newest ten.
func (m *Memory) Backup(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupErr != nil {
		return m.BackupErr
	}
	if !m.saved {
		return nil
	}
	m.backups = append(m.backups, m.env.Clone())
	if len(m.backups) > m.keep {
		m.backups = m.backups[len(m.backups)-m.keep:]
	}
	return nil
}

// Backups returns the retained backups, oldest first.
func (m *Memory) Backups() []ledger.Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.Envelope(nil), m.backups...)
}

// Saves counts successful Save calls.
func (m *Memory) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// =============================================================================
// REPORT INDEX + SYNC STATE
// =============================================================================

func (m *Memory) RecordReport(_ context.Context, rec ledger.ReportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[rec.ID] = rec
	return nil
}

func (m *Memory) ReportIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.reports))
	for id := range m.reports {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Report returns a recorded report by id.
func (m *Memory) Report(id string) (ledger.ReportRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	return r, ok
}

func (m *Memory) LastSync(_ context.Context) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastSync == nil {
		return nil, nil
	}
	t := *m.lastSync
	return &t, nil
}

func (m *Memory) SetLastSync(_ context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSync = &t
	return nil
}
