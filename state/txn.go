package state

import (
	"launchpad/storage"
)

// txn is a write-buffering overlay on a key-value database. Reads see the
// buffered writes first and fall through to the backing store; nothing
// reaches the backing store until commit.
type txn struct {
	db      storage.Database
	writes  map[string][]byte
	deletes map[string]bool
}

func newTxn(db storage.Database) *txn {
	return &txn{
		db:      db,
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}
}

func (t *txn) Get(key []byte) ([]byte, error) {
	k := string(key)
	if t.deletes[k] {
		return nil, storage.ErrKeyNotFound
	}
	if value, ok := t.writes[k]; ok {
		out := make([]byte, len(value))
		copy(out, value)
		return out, nil
	}
	return t.db.Get(key)
}

func (t *txn) Put(key, value []byte) error {
	k := string(key)
	delete(t.deletes, k)
	buf := make([]byte, len(value))
	copy(buf, value)
	t.writes[k] = buf
	return nil
}

func (t *txn) Delete(key []byte) error {
	k := string(key)
	delete(t.writes, k)
	t.deletes[k] = true
	return nil
}

func (t *txn) Close() {}

func (t *txn) commit() error {
	for k := range t.deletes {
		if err := t.db.Delete([]byte(k)); err != nil {
			return err
		}
	}
	for k, value := range t.writes {
		if err := t.db.Put([]byte(k), value); err != nil {
			return err
		}
	}
	return nil
}

// Exec runs fn against a transactional view of the store. When fn returns
// nil every buffered write is flushed to the backing store; when it returns
// an error the view is discarded and the store is untouched. Transactions
// are serialized: one fully commits before the next observes the store, so
// allocated identifiers and read-modify-write totals stay consistent under
// concurrent callers.
func (m *Manager) Exec(fn func(*Manager) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	overlay := newTxn(m.db)
	scoped := NewManager(overlay)
	if err := fn(scoped); err != nil {
		return err
	}
	return overlay.commit()
}
