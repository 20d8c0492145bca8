package store

import (
	"context"
	"fmt"
	"sync"
)

// ChangeFunc observes committed row changes.
type ChangeFunc func(table Table, change ChangeType, before, after Record)

// Memory is an in-process Store. It is used by tests and single-process
// demos, and can notify watchers of every committed change.
type Memory struct {
	mu       sync.Mutex
	tables   map[Table][]Record
	watchers []ChangeFunc
	failErr  error
	calls    map[string]int
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[Table][]Record),
		calls:  make(map[string]int),
	}
}

// Watch registers fn for every subsequent change.
func (m *Memory) Watch(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
}

// FailWith makes every operation return err until called with nil.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Calls returns how many times op was invoked on table, e.g. Calls("get", TableParticipants).
func (m *Memory) Calls(op string, table Table) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op+":"+string(table)]
}

type change struct {
	table         Table
	kind          ChangeType
	before, after Record
}

func (m *Memory) begin(op string, table Table) error {
	m.calls[op+":"+string(table)]++
	if err := checkTable(table); err != nil {
		return err
	}
	return m.failErr
}

func (m *Memory) notify(changes []change) {
	m.mu.Lock()
	watchers := append([]ChangeFunc(nil), m.watchers...)
	m.mu.Unlock()
	for _, c := range changes {
		for _, w := range watchers {
			w(c.table, c.kind, c.before.Clone(), c.after.Clone())
		}
	}
}

func (m *Memory) Get(ctx context.Context, table Table, filter Filter) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("get", table); err != nil {
		return nil, err
	}
	for _, rec := range m.tables[table] {
		if filter.matches(rec) {
			return rec.Clone(), nil
		}
	}
	return nil, nil
}

func (m *Memory) List(ctx context.Context, table Table, filter Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("list", table); err != nil {
		return nil, err
	}
	var out []Record
	for _, rec := range m.tables[table] {
		if filter.matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func keyFilter(rec Record, conflictKey []string) (Filter, error) {
	if len(conflictKey) == 0 {
		return nil, fmt.Errorf("conflict key: %w", ErrEmptyFilter)
	}
	f := Filter{}
	for _, k := range conflictKey {
		v, ok := rec[k]
		if !ok {
			return nil, fmt.Errorf("conflict column %s missing from record", k)
		}
		f[k] = v
	}
	return f, nil
}

func (m *Memory) Upsert(ctx context.Context, table Table, rec Record, conflictKey []string) (Record, error) {
	m.mu.Lock()
	if err := m.begin("upsert", table); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	f, err := keyFilter(rec, conflictKey)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	var c change
	rows := m.tables[table]
	idx := -1
	for i, existing := range rows {
		if f.matches(existing) {
			idx = i
			break
		}
	}
	if idx >= 0 {
		old := rows[idx]
		merged := old.Clone()
		for k, v := range rec {
			merged[k] = v
		}
		rows[idx] = merged
		c = change{table, ChangeUpdate, old, merged}
	} else {
		inserted := rec.Clone()
		m.tables[table] = append(rows, inserted)
		c = change{table, ChangeInsert, nil, inserted}
	}
	out := c.after.Clone()
	m.mu.Unlock()

	m.notify([]change{c})
	return out, nil
}

func (m *Memory) Increment(ctx context.Context, table Table, key Record, column string, by int64) (Record, error) {
	m.mu.Lock()
	if err := m.begin("increment", table); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	keys := sortedKeys(key)
	f, err := keyFilter(key, keys)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	var c change
	rows := m.tables[table]
	idx := -1
	for i, existing := range rows {
		if f.matches(existing) {
			idx = i
			break
		}
	}
	if idx >= 0 {
		old := rows[idx]
		cur, err := old.Int64(column)
		if err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("increment %s.%s: %w", table, column, err)
		}
		updated := old.Clone()
		updated[column] = cur + by
		rows[idx] = updated
		c = change{table, ChangeUpdate, old, updated}
	} else {
		inserted := key.Clone()
		inserted[column] = by
		m.tables[table] = append(rows, inserted)
		c = change{table, ChangeInsert, nil, inserted}
	}
	out := c.after.Clone()
	m.mu.Unlock()

	m.notify([]change{c})
	return out, nil
}

func (m *Memory) Insert(ctx context.Context, table Table, rec Record, conflictKey []string) (Record, bool, error) {
	m.mu.Lock()
	if err := m.begin("insert", table); err != nil {
		m.mu.Unlock()
		return nil, false, err
	}
	f, err := keyFilter(rec, conflictKey)
	if err != nil {
		m.mu.Unlock()
		return nil, false, err
	}
	for _, existing := range m.tables[table] {
		if f.matches(existing) {
			out := existing.Clone()
			m.mu.Unlock()
			return out, false, nil
		}
	}
	inserted := rec.Clone()
	m.tables[table] = append(m.tables[table], inserted)
	out := inserted.Clone()
	m.mu.Unlock()

	m.notify([]change{{table, ChangeInsert, nil, inserted}})
	return out, true, nil
}

func (m *Memory) Update(ctx context.Context, table Table, patch Record, filter Filter) error {
	m.mu.Lock()
	if err := m.begin("update", table); err != nil {
		m.mu.Unlock()
		return err
	}
	if len(filter) == 0 {
		m.mu.Unlock()
		return ErrEmptyFilter
	}
	var changes []change
	rows := m.tables[table]
	for i, rec := range rows {
		if !filter.matches(rec) {
			continue
		}
		updated := rec.Clone()
		for k, v := range patch {
			updated[k] = v
		}
		rows[i] = updated
		changes = append(changes, change{table, ChangeUpdate, rec, updated})
	}
	m.mu.Unlock()

	m.notify(changes)
	return nil
}

func (m *Memory) Delete(ctx context.Context, table Table, filter Filter) error {
	m.mu.Lock()
	if err := m.begin("delete", table); err != nil {
		m.mu.Unlock()
		return err
	}
	if len(filter) == 0 {
		m.mu.Unlock()
		return ErrEmptyFilter
	}
	var changes []change
	rows := m.tables[table]
	kept := rows[:0:0]
	for _, rec := range rows {
		if filter.matches(rec) {
			changes = append(changes, change{table, ChangeDelete, rec, nil})
			continue
		}
		kept = append(kept, rec)
	}
	m.tables[table] = kept
	m.mu.Unlock()

	m.notify(changes)
	return nil
}
