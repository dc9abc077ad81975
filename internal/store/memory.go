package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore implements TableStore in memory for testing.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[int64][]byte
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]map[int64][]byte)}
}

// CreateTable creates the table if it does not exist.
func (s *MemoryStore) CreateTable(ctx context.Context, t Table) error {
	if err := t.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[t.Name]; !ok {
		s.tables[t.Name] = make(map[int64][]byte)
	}
	return nil
}

// HasTable reports whether the table exists.
func (s *MemoryStore) HasTable(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.tables[name]
	return ok, nil
}

// Insert stores data under key. Existing rows are never replaced.
func (s *MemoryStore) Insert(ctx context.Context, t Table, key int64, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s row %d: %w", t.Name, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.tables[t.Name]
	if !ok {
		return fmt.Errorf("%s: %w", t.Name, ErrNoTable)
	}
	if _, taken := rows[key]; taken {
		return fmt.Errorf("%s row %d: %w", t.Name, key, ErrDuplicateKey)
	}
	rows[key] = payload
	return nil
}

// FindOne decodes the row at key into out.
func (s *MemoryStore) FindOne(ctx context.Context, t Table, key int64, out any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.tables[t.Name]
	if !ok {
		return false, fmt.Errorf("%s: %w", t.Name, ErrNoTable)
	}
	data, ok := rows[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode %s row %d: %w", t.Name, key, err)
	}
	return true, nil
}

// List returns all rows of the table ordered by key.
func (s *MemoryStore) List(ctx context.Context, t Table) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.tables[t.Name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", t.Name, ErrNoTable)
	}
	out := make([]Row, 0, len(rows))
	for k, data := range rows {
		out = append(out, Row{Key: k, Data: append(json.RawMessage(nil), data...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close marks the store closed. Data stays readable for assertions.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *MemoryStore) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
