// Package testutil holds in-memory storage and a transaction-driving chain
// fixture shared by package tests. Production code must not import it.
package testutil

import (
	"bytes"
	"slices"
	"sync"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/storage"
)

// MemDB is a storage.DB over a map. Iterators see a copy taken at creation,
// ordered by key like LevelDB's.
type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (m *MemDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.data[string(key)]; ok {
		return v, nil
	}
	return nil, core.ErrNotFound
}

func (m *MemDB) Set(key, value []byte) error {
	m.apply([]memOp{{key: string(key), value: bytes.Clone(value)}})
	return nil
}

func (m *MemDB) Delete(key []byte) error {
	m.apply([]memOp{{key: string(key), del: true}})
	return nil
}

func (m *MemDB) apply(ops []memOp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		if op.del {
			delete(m.data, op.key)
			continue
		}
		m.data[op.key] = op.value
	}
}

func (m *MemDB) NewIterator(prefix []byte) storage.Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it := &memIter{pos: -1}
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			it.keys = append(it.keys, k)
		}
	}
	slices.Sort(it.keys)
	it.vals = make([][]byte, len(it.keys))
	for i, k := range it.keys {
		it.vals[i] = bytes.Clone(m.data[k])
	}
	return it
}

func (m *MemDB) NewBatch() storage.Batch { return &memBatch{db: m} }

func (m *MemDB) Close() error { return nil }

type memOp struct {
	key   string
	value []byte
	del   bool
}

type memBatch struct {
	db  *MemDB
	ops []memOp
}

func (b *memBatch) Set(key, value []byte) {
	b.ops = append(b.ops, memOp{key: string(key), value: bytes.Clone(value)})
}

func (b *memBatch) Delete(key []byte) {
	b.ops = append(b.ops, memOp{key: string(key), del: true})
}

func (b *memBatch) Reset() { b.ops = b.ops[:0] }

func (b *memBatch) Write() error {
	b.db.apply(b.ops)
	return nil
}

type memIter struct {
	keys []string
	vals [][]byte
	pos  int
}

func (it *memIter) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *memIter) Key() []byte   { return []byte(it.keys[it.pos]) }
func (it *memIter) Value() []byte { return it.vals[it.pos] }
func (it *memIter) Release()      {}
func (it *memIter) Error() error  { return nil }

// NewMemBlockStore returns a block store over a fresh MemDB.
func NewMemBlockStore() *storage.BlockStore {
	return storage.NewBlockStore(NewMemDB())
}

// NewStateDB returns a storage.StateDB backed by a fresh MemDB.
func NewStateDB() *storage.StateDB {
	return storage.NewStateDB(NewMemDB())
}
