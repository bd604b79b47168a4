package objdb

// Storage is an ordered key-value store (in-memory, Bolt, Badger, etc.) with
// at least snapshot isolation between transactions.
type Storage interface {
	// BeginTx starts a new transaction.
	BeginTx(writable bool) (StorageTx, error)
	// Close closes the storage.
	Close() error
}

// StorageTx is a transaction over one flat, bytewise-ordered key space.
type StorageTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Get retrieves a value by key. Returns nil if not found, and a non-nil
	// (possibly empty) slice otherwise. The value is valid until the next
	// mutation.
	Get(key []byte) ([]byte, error)

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key []byte) error

	// Cursor returns an ascending cursor. Only one cursor may be open at a
	// time, and it must be closed before the next mutation.
	Cursor() StorageCursor

	// Commit commits the transaction. A write-write conflict with a
	// concurrently committed transaction is reported as ErrStorageConflict.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times,
	// including after Commit.
	Rollback() error
}

// StorageCursor iterates over keys in ascending order. Returned slices are
// valid until the next cursor call.
type StorageCursor interface {
	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)

	// Err returns the read error that ended iteration early, if any. A nil
	// key from Seek or Next means the end only when Err is nil.
	Err() error

	Close()
}

type storageKV struct {
	key   []byte
	value []byte
}

// scanPrefix collects the copied key-value pairs starting with prefix.
func scanPrefix(stx StorageTx, prefix []byte) ([]storageKV, error) {
	return scanRange(stx, prefix, prefixEnd(prefix))
}

// scanRange collects the copied key-value pairs in [start, end). A nil end
// means no upper bound.
func scanRange(stx StorageTx, start, end []byte) ([]storageKV, error) {
	c := stx.Cursor()
	defer c.Close()
	var out []storageKV
	for k, v := c.Seek(start); k != nil; k, v = c.Next() {
		if end != nil && string(k) >= string(end) {
			break
		}
		out = append(out, storageKV{
			key:   append([]byte(nil), k...),
			value: append([]byte{}, v...),
		})
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
