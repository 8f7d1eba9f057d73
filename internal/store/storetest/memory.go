// Package storetest provides an in-memory document collection for tests.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"arthouse/internal/store"
)

// Memory implements store.Documents with the same ordering and conflict
// semantics as the Postgres collection. Documents round-trip through JSON.
type Memory[T any] struct {
	mu         sync.Mutex
	orderField string
	docs       map[string]map[string]interface{}

	// Err, when set, is returned by every call.
	Err error
}

var _ store.Documents[struct{}] = (*Memory[struct{}])(nil)

func NewMemory[T any](orderField string) *Memory[T] {
	return &Memory[T]{orderField: orderField, docs: map[string]map[string]interface{}{}}
}

// Len returns the number of stored documents.
func (m *Memory[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

func (m *Memory[T]) Create(_ context.Context, id string, doc *T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.docs[id]; ok {
		return store.ErrAlreadyExists
	}
	raw, err := toMap(doc)
	if err != nil {
		return err
	}
	m.docs[id] = raw
	return nil
}

func (m *Memory[T]) Put(_ context.Context, id string, doc *T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	raw, err := toMap(doc)
	if err != nil {
		return err
	}
	m.docs[id] = raw
	return nil
}

func (m *Memory[T]) Get(_ context.Context, id string) (*T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	raw, ok := m.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return fromMap[T](raw)
}

func (m *Memory[T]) Merge(_ context.Context, id string, patch interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	raw, ok := m.docs[id]
	if !ok {
		return store.ErrNotFound
	}
	fields, err := toMap(patch)
	if err != nil {
		return err
	}
	for k, v := range fields {
		raw[k] = v
	}
	return nil
}

func (m *Memory[T]) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.docs[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *Memory[T]) List(_ context.Context) ([]*T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.sorted(func(map[string]interface{}) bool { return true })
}

func (m *Memory[T]) FindOneBy(_ context.Context, field, value string) (*T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	docs, err := m.sorted(func(raw map[string]interface{}) bool {
		s, _ := raw[field].(string)
		return s == value
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return docs[0], nil
}

func (m *Memory[T]) Increment(_ context.Context, id, field string, seed map[string]interface{}) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}

	raw, ok := m.docs[id]
	var count int64 = 1
	if ok {
		if n, isNum := raw[field].(float64); isNum {
			count = int64(n) + 1
		}
	} else {
		raw = map[string]interface{}{}
		m.docs[id] = raw
	}
	fields, err := toMap(seed)
	if err != nil {
		return 0, err
	}
	for k, v := range fields {
		raw[k] = v
	}
	raw[field] = float64(count)
	return count, nil
}

func (m *Memory[T]) sorted(keep func(map[string]interface{}) bool) ([]*T, error) {
	type entry struct {
		at  time.Time
		raw map[string]interface{}
	}
	entries := make([]entry, 0, len(m.docs))
	for _, raw := range m.docs {
		if !keep(raw) {
			continue
		}
		var at time.Time
		if s, ok := raw[m.orderField].(string); ok {
			at, _ = time.Parse(time.RFC3339Nano, s)
		}
		entries = append(entries, entry{at: at, raw: raw})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].at.After(entries[j].at) })

	out := make([]*T, 0, len(entries))
	for _, e := range entries {
		doc, err := fromMap[T](e.raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func fromMap[T any](raw map[string]interface{}) (*T, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var doc T
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &doc, nil
}
