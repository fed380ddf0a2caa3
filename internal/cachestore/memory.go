package cachestore

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockpulse/alert-engine/internal/domain"
)

// MemoryStore is an in-process domain.CacheStore for local dev and
// tests where a Redis instance isn't available. It is a test double
// for RedisStore, not a replacement: production wiring always uses
// RedisStore (see cmd/engine).
type MemoryStore struct {
	mu sync.RWMutex

	lastTick  map[domain.Symbol]map[string]string
	lastClose map[domain.Symbol]decimal.Decimal

	viewers    map[domain.Symbol]map[int64]struct{}
	userViews  map[int64]map[domain.Symbol]struct{}
	persistent map[domain.Symbol]struct{}
	global     map[domain.Symbol]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lastTick:   make(map[domain.Symbol]map[string]string),
		lastClose:  make(map[domain.Symbol]decimal.Decimal),
		viewers:    make(map[domain.Symbol]map[int64]struct{}),
		userViews:  make(map[int64]map[domain.Symbol]struct{}),
		persistent: make(map[domain.Symbol]struct{}),
		global:     make(map[domain.Symbol]struct{}),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) SetLastTick(ctx context.Context, sym domain.Symbol, fields map[string]string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	m.lastTick[sym] = cp
	return nil
}

func (m *MemoryStore) SetLastTicks(ctx context.Context, ticks map[domain.Symbol]map[string]string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sym, fields := range ticks {
		cp := make(map[string]string, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
		m.lastTick[sym] = cp
	}
	return nil
}

func (m *MemoryStore) GetLastTicks(ctx context.Context, syms []domain.Symbol) (map[domain.Symbol]map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.Symbol]map[string]string, len(syms))
	for _, sym := range syms {
		if v, ok := m.lastTick[sym]; ok {
			out[sym] = v
		}
	}
	return out, nil
}

func (m *MemoryStore) SetLastClose(ctx context.Context, sym domain.Symbol, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastClose[sym] = price
	return nil
}

func (m *MemoryStore) GetLastClose(ctx context.Context, syms []domain.Symbol) (map[domain.Symbol]decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.Symbol]decimal.Decimal, len(syms))
	for _, sym := range syms {
		if v, ok := m.lastClose[sym]; ok {
			out[sym] = v
		}
	}
	return out, nil
}

func (m *MemoryStore) AddViewer(ctx context.Context, sym domain.Symbol, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.viewers[sym] == nil {
		m.viewers[sym] = make(map[int64]struct{})
	}
	m.viewers[sym][userID] = struct{}{}
	if m.userViews[userID] == nil {
		m.userViews[userID] = make(map[domain.Symbol]struct{})
	}
	m.userViews[userID][sym] = struct{}{}
	return int64(len(m.viewers[sym])), nil
}

func (m *MemoryStore) RemoveViewer(ctx context.Context, sym domain.Symbol, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.viewers[sym]; ok {
		delete(set, userID)
	}
	if set, ok := m.userViews[userID]; ok {
		delete(set, sym)
	}
	return int64(len(m.viewers[sym])), nil
}

func (m *MemoryStore) ViewerCount(ctx context.Context, sym domain.Symbol) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.viewers[sym])), nil
}

func (m *MemoryStore) ViewerCounts(ctx context.Context, syms []domain.Symbol) (map[domain.Symbol]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.Symbol]int64, len(syms))
	for _, sym := range syms {
		out[sym] = int64(len(m.viewers[sym]))
	}
	return out, nil
}

func (m *MemoryStore) ViewersOf(ctx context.Context, userID int64) ([]domain.Symbol, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Symbol, 0, len(m.userViews[userID]))
	for s := range m.userViews[userID] {
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) RemoveUserFromAllViewerSets(ctx context.Context, userID int64, symbols []domain.Symbol) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sym := range symbols {
		if set, ok := m.viewers[sym]; ok {
			delete(set, userID)
		}
	}
	delete(m.userViews, userID)
	return nil
}

func (m *MemoryStore) AddPersistent(ctx context.Context, syms []domain.Symbol) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range syms {
		m.persistent[s] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) RemovePersistent(ctx context.Context, syms []domain.Symbol) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range syms {
		delete(m.persistent, s)
	}
	return nil
}

func (m *MemoryStore) PersistentMembers(ctx context.Context) ([]domain.Symbol, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Symbol, 0, len(m.persistent))
	for s := range m.persistent {
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) IsPersistent(ctx context.Context, sym domain.Symbol) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.persistent[sym]
	return ok, nil
}

func (m *MemoryStore) AddGlobal(ctx context.Context, syms []domain.Symbol) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range syms {
		m.global[s] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) GlobalMembers(ctx context.Context) ([]domain.Symbol, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Symbol, 0, len(m.global))
	for s := range m.global {
		out = append(out, s)
	}
	return out, nil
}

var _ domain.CacheStore = (*MemoryStore)(nil)
