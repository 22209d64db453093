// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

type memRow struct {
	seq int64
	idx map[string]any
	doc []byte
}

type memTable struct {
	rows    map[string]*memRow
	nextSeq int64
}

type memBackend struct {
	mu        sync.RWMutex
	tables    map[string]*memTable
	commits   atomic.Int64
	rollbacks atomic.Int64
}

// MemoryStore is a goroutine-safe in-memory Store. Documents are stored
// encoded, so callers never share state with the store.
type MemoryStore struct {
	*repo
	mem *memBackend
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	mem := &memBackend{tables: make(map[string]*memTable)}
	for _, t := range allTables {
		mem.tables[t.name] = &memTable{rows: make(map[string]*memRow)}
	}
	return &MemoryStore{repo: &repo{b: mem}, mem: mem}
}

// Commits returns how many Commit calls succeeded, on the store itself or on
// a transaction begun from it.
func (s *MemoryStore) Commits() int64 { return s.mem.commits.Load() }

// Rollbacks counts Rollback calls the same way. A Rollback on a finished
// transaction is not counted.
func (s *MemoryStore) Rollbacks() int64 { return s.mem.rollbacks.Load() }

func toIdx(idx []eq) map[string]any {
	out := make(map[string]any, len(idx))
	for _, e := range idx {
		out[e.col] = e.val
	}
	return out
}

func (m *memBackend) conflicts(t *table, mt *memTable, id string, idx map[string]any) bool {
	for _, set := range t.unique {
		for otherID, row := range mt.rows {
			if otherID == id {
				continue
			}
			same := true
			for _, col := range set {
				if row.idx[col] != idx[col] {
					same = false
					break
				}
			}
			if same {
				return true
			}
		}
	}
	return false
}

// put writes a row under m.mu and returns the row it replaced, nil for an
// insert.
func (m *memBackend) put(t *table, id string, idx []eq, doc []byte, create bool) (*memRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mt := m.tables[t.name]
	row, exists := mt.rows[id]
	switch {
	case create && exists:
		return nil, ErrDuplicate
	case !create && !exists:
		return nil, ErrNotFound
	}
	values := toIdx(idx)
	if m.conflicts(t, mt, id, values) {
		return nil, ErrDuplicate
	}
	if create {
		mt.nextSeq++
		mt.rows[id] = &memRow{seq: mt.nextSeq, idx: values, doc: doc}
		return nil, nil
	}
	prev := &memRow{seq: row.seq, idx: row.idx, doc: row.doc}
	row.idx = values
	row.doc = doc
	return prev, nil
}

func (m *memBackend) insert(_ context.Context, t *table, id string, idx []eq, doc []byte) error {
	_, err := m.put(t, id, idx, doc, true)
	return err
}

func (m *memBackend) update(_ context.Context, t *table, id string, idx []eq, doc []byte) error {
	_, err := m.put(t, id, idx, doc, false)
	return err
}

func (m *memBackend) get(_ context.Context, t *table, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.tables[t.name].rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return row.doc, nil
}

func (m *memBackend) query(_ context.Context, t *table, filters []eq, orderBy ...string) ([][]byte, error) {
	m.mu.RLock()
	var rows []*memRow
	for _, row := range m.tables[t.name].rows {
		match := true
		for _, f := range filters {
			if row.idx[f.col] != f.val {
				match = false
				break
			}
		}
		if match {
			rows = append(rows, row)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		for _, col := range orderBy {
			if c := compareValues(rows[i].idx[col], rows[j].idx[col]); c != 0 {
				return c < 0
			}
		}
		return rows[i].seq < rows[j].seq
	})

	out := make([][]byte, len(rows))
	for i, row := range rows {
		out[i] = row.doc
	}
	return out, nil
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case int64:
		bv, _ := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case string:
		bv, _ := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	return 0
}

func (m *memBackend) begin(context.Context) (backend, error) {
	return &memTx{m: m}, nil
}

func (m *memBackend) commit(context.Context) error {
	m.commits.Add(1)
	return nil
}

func (m *memBackend) rollback(context.Context) error {
	m.rollbacks.Add(1)
	return nil
}

func (m *memBackend) close() error { return nil }

// undo reverts one write. prev is nil when the write was an insert.
type undo struct {
	table string
	id    string
	prev  *memRow
}

// memTx applies writes to the shared tables immediately and keeps a journal
// to revert them. Other readers see uncommitted writes.
type memTx struct {
	m       *memBackend
	mu      sync.Mutex
	journal []undo
	done    bool
}

func (tx *memTx) write(t *table, id string, idx []eq, doc []byte, create bool) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	prev, err := tx.m.put(t, id, idx, doc, create)
	if err != nil {
		return err
	}
	tx.journal = append(tx.journal, undo{table: t.name, id: id, prev: prev})
	return nil
}

func (tx *memTx) insert(_ context.Context, t *table, id string, idx []eq, doc []byte) error {
	return tx.write(t, id, idx, doc, true)
}

func (tx *memTx) update(_ context.Context, t *table, id string, idx []eq, doc []byte) error {
	return tx.write(t, id, idx, doc, false)
}

func (tx *memTx) get(ctx context.Context, t *table, id string) ([]byte, error) {
	return tx.m.get(ctx, t, id)
}

func (tx *memTx) query(ctx context.Context, t *table, filters []eq, orderBy ...string) ([][]byte, error) {
	return tx.m.query(ctx, t, filters, orderBy...)
}

func (tx *memTx) begin(context.Context) (backend, error) { return nil, ErrNestedTx }

func (tx *memTx) commit(context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.journal = nil
	tx.m.commits.Add(1)
	return nil
}

func (tx *memTx) rollback(context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil
	}
	tx.done = true

	tx.m.mu.Lock()
	for i := len(tx.journal) - 1; i >= 0; i-- {
		u := tx.journal[i]
		rows := tx.m.tables[u.table].rows
		if u.prev == nil {
			delete(rows, u.id)
			continue
		}
		if row, ok := rows[u.id]; ok {
			row.idx = u.prev.idx
			row.doc = u.prev.doc
		}
	}
	tx.m.mu.Unlock()

	tx.journal = nil
	tx.m.rollbacks.Add(1)
	return nil
}

func (tx *memTx) close() error { return tx.rollback(context.Background()) }
