package objdb

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

type BadgerOptions struct {
	// InMemory keeps all data in memory; Dir is ignored.
	InMemory   bool
	SyncWrites bool
}

type badgerStorage struct {
	bdb *badger.DB
}

// OpenBadgerStorage opens a Badger database in dir. Badger uses optimistic
// concurrency: a transaction whose reads or writes were invalidated by
// another commit fails with ErrStorageConflict.
func OpenBadgerStorage(dir string, opt BadgerOptions) (Storage, error) {
	bopt := badger.DefaultOptions(dir).WithLogger(nil).WithSyncWrites(opt.SyncWrites)
	if opt.InMemory {
		bopt = bopt.WithDir("").WithValueDir("").WithInMemory(true)
	}
	bdb, err := badger.Open(bopt)
	if err != nil {
		return nil, fmt.Errorf("objdb: %w", err)
	}
	return &badgerStorage{bdb: bdb}, nil
}

func (s *badgerStorage) Badger() *badger.DB {
	return s.bdb
}

func (s *badgerStorage) BeginTx(writable bool) (StorageTx, error) {
	if s.bdb.IsClosed() {
		return nil, fmt.Errorf("storage closed")
	}
	return &badgerTx{txn: s.bdb.NewTransaction(writable), writable: writable}, nil
}

func (s *badgerStorage) Close() error {
	return s.bdb.Close()
}

type badgerTx struct {
	txn      *badger.Txn
	writable bool
	closed   bool
}

func (tx *badgerTx) Writable() bool { return tx.writable }

func (tx *badgerTx) Get(key []byte) ([]byte, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	item, err := tx.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return append([]byte{}, v...), nil
}

func (tx *badgerTx) Put(key, value []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	if !tx.writable {
		return ErrNotWritable
	}
	// Badger keeps the slices until commit.
	return tx.txn.Set(append([]byte(nil), key...), append([]byte{}, value...))
}

func (tx *badgerTx) Delete(key []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	if !tx.writable {
		return ErrNotWritable
	}
	return tx.txn.Delete(append([]byte(nil), key...))
}

func (tx *badgerTx) Cursor() StorageCursor {
	opts := badger.DefaultIteratorOptions
	return &badgerCursor{it: tx.txn.NewIterator(opts)}
}

func (tx *badgerTx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	if !tx.writable {
		tx.txn.Discard()
		return nil
	}
	err := tx.txn.Commit()
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrStorageConflict, err)
	}
	return err
}

func (tx *badgerTx) Rollback() error {
	tx.closed = true
	tx.txn.Discard()
	return nil
}

type badgerCursor struct {
	it  *badger.Iterator
	err error
}

func (c *badgerCursor) Seek(seek []byte) ([]byte, []byte) {
	c.it.Seek(seek)
	return c.current()
}

func (c *badgerCursor) Next() ([]byte, []byte) {
	c.it.Next()
	return c.current()
}

func (c *badgerCursor) current() ([]byte, []byte) {
	if c.err != nil || !c.it.Valid() {
		return nil, nil
	}
	item := c.it.Item()
	v, err := item.ValueCopy(nil)
	if err != nil {
		c.err = fmt.Errorf("objdb: badger read %x: %w", item.Key(), err)
		return nil, nil
	}
	return item.KeyCopy(nil), append([]byte{}, v...)
}

func (c *badgerCursor) Err() error {
	return c.err
}

func (c *badgerCursor) Close() {
	c.it.Close()
}
