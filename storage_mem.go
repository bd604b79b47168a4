package objdb

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// memStorage keeps a sorted slice of items. Every commit replaces the slice,
// so an open transaction keeps reading the snapshot it started with.
type memStorage struct {
	mu     sync.Mutex
	items  []memKV // sorted by key, never mutated in place
	seq    uint64
	writes map[string]uint64 // key => seq of the last commit that wrote it
	closed bool
}

type memKV struct {
	key   []byte
	value []byte
}

// NewMemStorage returns a transient in-memory Storage. Transactions see a
// snapshot taken at BeginTx; a commit that writes a key some other
// transaction has committed since that snapshot fails with
// ErrStorageConflict.
func NewMemStorage() Storage {
	return &memStorage{writes: make(map[string]uint64)}
}

func (s *memStorage) BeginTx(writable bool) (StorageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	return &memTx{
		base:     s,
		writable: writable,
		startSeq: s.seq,
		items:    s.items,
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.items = nil
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	startSeq uint64
	items    []memKV
	owned    bool // items is a private copy
	dirty    map[string]bool
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) Get(key []byte) ([]byte, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	i, ok := memFind(tx.items, key)
	if !ok {
		return nil, nil
	}
	return tx.items[i].value, nil
}

func (tx *memTx) own() error {
	if tx.closed {
		return ErrTxClosed
	}
	if !tx.writable {
		return ErrNotWritable
	}
	if !tx.owned {
		tx.items = slices.Clone(tx.items)
		tx.owned = true
		tx.dirty = make(map[string]bool)
	}
	return nil
}

func (tx *memTx) Put(key, value []byte) error {
	if err := tx.own(); err != nil {
		return err
	}
	kv := memKV{key: slices.Clone(key), value: append([]byte{}, value...)}
	tx.dirty[string(key)] = true
	i, ok := memFind(tx.items, key)
	if ok {
		tx.items[i] = kv
	} else {
		tx.items = slices.Insert(tx.items, i, kv)
	}
	return nil
}

func (tx *memTx) Delete(key []byte) error {
	if err := tx.own(); err != nil {
		return err
	}
	i, ok := memFind(tx.items, key)
	if !ok {
		return nil
	}
	tx.dirty[string(key)] = true
	tx.items = slices.Delete(tx.items, i, i+1)
	return nil
}

func (tx *memTx) Cursor() StorageCursor {
	return &memCursor{items: tx.items, pos: -1}
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	if !tx.owned {
		return nil
	}

	s := tx.base
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage closed")
	}
	for key := range tx.dirty {
		if s.writes[key] > tx.startSeq {
			return fmt.Errorf("key %s: %w", hexstr([]byte(key)), ErrStorageConflict)
		}
	}

	items := s.items
	if s.seq != tx.startSeq {
		// others committed meanwhile; replay our writes onto their result
		items = slices.Clone(items)
		for key := range tx.dirty {
			k := []byte(key)
			j, found := memFind(tx.items, k)
			i, ok := memFind(items, k)
			switch {
			case found && ok:
				items[i] = tx.items[j]
			case found:
				items = slices.Insert(items, i, tx.items[j])
			case ok:
				items = slices.Delete(items, i, i+1)
			}
		}
	} else {
		items = tx.items
	}

	s.seq++
	for key := range tx.dirty {
		s.writes[key] = s.seq
	}
	s.items = items
	return nil
}

func (tx *memTx) Rollback() error {
	tx.closed = true
	tx.items = nil
	return nil
}

func memFind(items []memKV, key []byte) (idx int, ok bool) {
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].key, key) {
		return i, true
	}
	return i, false
}

type memCursor struct {
	items []memKV
	pos   int
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	c.pos, _ = memFind(c.items, seek)
	return c.current()
}

func (c *memCursor) Next() ([]byte, []byte) {
	c.pos++
	return c.current()
}

func (c *memCursor) current() ([]byte, []byte) {
	if c.pos < 0 || c.pos >= len(c.items) {
		return nil, nil
	}
	kv := c.items[c.pos]
	return kv.key, kv.value
}

func (c *memCursor) Err() error { return nil }

func (c *memCursor) Close() {
	c.items = nil
}
