package objdb

import (
	"bytes"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"go.etcd.io/bbolt"
)

// boltBucketName holds the whole key space; nested buckets are not used.
const boltBucketName = "objdb"

type BoltOptions struct {
	IsTesting bool
	MmapSize  int
	Timeout   time.Duration
}

type boltStorage struct {
	bdb *bbolt.DB
}

// OpenBoltStorage opens or creates a Bolt file. Bolt allows one writable
// transaction at a time, so writers serialize instead of conflicting.
func OpenBoltStorage(path string, opt BoltOptions) (Storage, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.Timeout != 0 {
		bopt.Timeout = opt.Timeout
	}
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("objdb: %w", err)
	}
	err = bdb.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(unsafeBytesFromString(boltBucketName))
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("objdb: %w", err)
	}
	return &boltStorage{bdb: bdb}, nil
}

// NewBoltStorage wraps an already open Bolt database.
func NewBoltStorage(bdb *bbolt.DB) (Storage, error) {
	err := bdb.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(unsafeBytesFromString(boltBucketName))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &boltStorage{bdb: bdb}, nil
}

func (s *boltStorage) Bolt() *bbolt.DB {
	return s.bdb
}

func (s *boltStorage) BeginTx(writable bool) (StorageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	b := btx.Bucket(unsafeBytesFromString(boltBucketName))
	if b == nil {
		btx.Rollback()
		return nil, fmt.Errorf("objdb: bucket %q missing", boltBucketName)
	}
	return &boltStorageTx{btx: btx, b: b}, nil
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

type boltStorageTx struct {
	btx *bbolt.Tx
	b   *bbolt.Bucket
}

func (tx *boltStorageTx) BoltTx() *bbolt.Tx { return tx.btx }

func (tx *boltStorageTx) Writable() bool { return tx.btx.Writable() }

// Get copies the value out, since Bolt memory is only valid until the next
// write, and returns a non-nil slice for empty values.
func (tx *boltStorageTx) Get(key []byte) ([]byte, error) {
	k, v := tx.b.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, nil
	}
	return append([]byte{}, v...), nil
}

func (tx *boltStorageTx) Put(key, value []byte) error {
	if !tx.btx.Writable() {
		return ErrNotWritable
	}
	return tx.b.Put(key, value)
}

func (tx *boltStorageTx) Delete(key []byte) error {
	if !tx.btx.Writable() {
		return ErrNotWritable
	}
	return tx.b.Delete(key)
}

func (tx *boltStorageTx) Cursor() StorageCursor {
	return boltCursor{c: tx.b.Cursor()}
}

func (tx *boltStorageTx) Commit() error {
	if !tx.btx.Writable() {
		return tx.Rollback()
	}
	err := tx.btx.Commit()
	if errors.Is(err, bbolt.ErrTxClosed) {
		return ErrTxClosed
	}
	return err
}

func (tx *boltStorageTx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}

type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }

func (c boltCursor) Next() ([]byte, []byte) { return c.c.Next() }

func (c boltCursor) Err() error { return nil }

func (c boltCursor) Close() {}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
