package keyed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type memoryState struct {
	data      []byte
	updatedAt time.Time
}

type memoryJournalRow struct {
	inv Invocation
	seq int64
}

// MemoryBackend keeps state and journal in process memory. It survives a
// Runtime being discarded, which lets tests simulate a restart by building a
// second Runtime over the same backend.
type MemoryBackend struct {
	mu      sync.Mutex
	states  map[string]map[string]memoryState
	journal map[string]memoryJournalRow
	seq     int64
	closed  bool
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		states:  make(map[string]map[string]memoryState),
		journal: make(map[string]memoryJournalRow),
	}
}

func (m *MemoryBackend) Load(_ context.Context, service, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[service][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), st.data...), true, nil
}

func (m *MemoryBackend) Save(_ context.Context, service, key string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(service, key, state)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, service, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states[service], key)
	return nil
}

func (m *MemoryBackend) Scan(_ context.Context, service string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]Entry, 0, len(m.states[service]))
	for key, st := range m.states[service] {
		entries = append(entries, Entry{Key: key, State: append([]byte(nil), st.data...), UpdatedAt: st.updatedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (m *MemoryBackend) Begin(_ context.Context, inv Invocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.journal[inv.ID]; ok {
		row.inv = inv
		m.journal[inv.ID] = row
		return nil
	}
	m.seq++
	m.journal[inv.ID] = memoryJournalRow{inv: inv, seq: m.seq}
	return nil
}

func (m *MemoryBackend) Complete(_ context.Context, inv Invocation, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state != nil {
		m.putLocked(inv.Service, inv.Key, state)
	}
	delete(m.journal, inv.ID)
	return nil
}

func (m *MemoryBackend) Pending(_ context.Context) ([]Invocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]memoryJournalRow, 0, len(m.journal))
	for _, row := range m.journal {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]Invocation, len(rows))
	for i, row := range rows {
		out[i] = row.inv
	}
	return out, nil
}

func (m *MemoryBackend) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("memory backend closed")
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) putLocked(service, key string, state []byte) {
	byKey, ok := m.states[service]
	if !ok {
		byKey = make(map[string]memoryState)
		m.states[service] = byKey
	}
	byKey[key] = memoryState{data: append([]byte(nil), state...), updatedAt: time.Now().UTC()}
}
