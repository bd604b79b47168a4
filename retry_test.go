package objdb

import (
	"context"
	"errors"
	"testing"
	"time"
)

func init() {
	RetryBackoff = time.Millisecond
}

func TestRetry(t *testing.T) {
	conflict := &RetryableTransactionError{Err: ErrStorageConflict}

	var calls int
	err := Retry(context.Background(), 5, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return conflict
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry = %v, wanted nil", err)
	}
	deepEqual(t, calls, 3)

	calls = 0
	boom := errors.New("boom")
	err = Retry(context.Background(), 5, func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Retry = %v, wanted %v", err, boom)
	}
	deepEqual(t, calls, 1)

	calls = 0
	err = Retry(context.Background(), 2, func(ctx context.Context) error {
		calls++
		return conflict
	})
	if !errors.Is(err, ErrStorageConflict) {
		t.Fatalf("Retry = %v, wanted ErrStorageConflict", err)
	}
	deepEqual(t, calls, 3)
}

func TestDB_UpdateRetrying(t *testing.T) {
	db := setup(t)
	var id ObjID
	ensure(db.Update(context.Background(), peopleSchema, 0, func(tx *Tx) error {
		id = must(tx.Create(personType))
		return nil
	}))

	var calls int
	err := db.UpdateRetrying(context.Background(), 3, nil, 0, func(tx *Tx) error {
		calls++
		ensure(tx.WriteSimpleField(id, personName, "mine"))
		if calls == 1 {
			// a competing writer commits first
			ensure(db.Update(context.Background(), nil, 0, func(other *Tx) error {
				return other.WriteSimpleField(id, personName, "theirs")
			}))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateRetrying = %v", err)
	}
	deepEqual(t, calls, 2)

	tx := begin(t, db, nil)
	deepEqual(t, must(tx.ReadSimpleField(id, personName)), any("mine"))
}
