package testutil

import (
	"encoding/json"
	"fmt"
	"sync"

	"scoresync/internal/cloud"
)

// MemoryStore is an in-memory cloud.LocalStore for application-layer tests.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]*memoryTable
	closed bool
}

type memoryTable struct {
	order []string
	rows  map[string]memoryRow
}

type memoryRow struct {
	index string
	value []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*memoryTable)}
}

func (s *MemoryStore) table(name string) *memoryTable {
	t, ok := s.tables[name]
	if !ok {
		t = &memoryTable{rows: make(map[string]memoryRow)}
		s.tables[name] = t
	}
	return t
}

func (s *MemoryStore) Get(table, key string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.table(table).rows[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(row.value, v); err != nil {
		return false, fmt.Errorf("decoding %s/%s: %w", table, key, err)
	}
	return true, nil
}

func (s *MemoryStore) Put(table, key, index string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", table, key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(table)
	if _, ok := t.rows[key]; !ok {
		t.order = append(t.order, key)
	}
	t.rows[key] = memoryRow{index: index, value: data}
	return nil
}

func (s *MemoryStore) Delete(table, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(table, key)
	return nil
}

func (s *MemoryStore) deleteLocked(table, key string) {
	t := s.table(table)
	if _, ok := t.rows[key]; !ok {
		return
	}
	delete(t.rows, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (s *MemoryStore) QueryByIndex(table, index string) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(table)
	var out []json.RawMessage
	for _, key := range t.order {
		row := t.rows[key]
		if index == "" || row.index == index {
			out = append(out, json.RawMessage(row.value))
		}
	}
	return out, nil
}

func (s *MemoryStore) BulkDelete(table string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.deleteLocked(table, key)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *MemoryStore) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ cloud.LocalStore = (*MemoryStore)(nil)
