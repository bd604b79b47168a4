package objdb

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"
)

type TxState int

const (
	TxOpen TxState = iota
	TxCommitted
	TxAborted
)

func (s TxState) String() string {
	switch s {
	case TxOpen:
		return "OPEN"
	case TxCommitted:
		return "COMMITTED"
	case TxAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("TxState(%d)", int(s))
	}
}

// Tx is a transaction bound to one schema version. A Tx is not safe for
// concurrent use.
type Tx struct {
	db       *DB
	stx      StorageTx
	schema   *schemaVersion
	versions map[uint64]*schemaVersion
	refSIDs  []uint32
	state    TxState

	pendingValidation []ObjID
	changeHandler     func(chg *Change)

	startTime time.Time
	stack     string
}

func (tx *Tx) DB() *DB {
	return tx.db
}

func (tx *Tx) State() TxState {
	return tx.state
}

// SchemaVersion returns the version new and upgraded objects use.
func (tx *Tx) SchemaVersion() uint64 {
	return tx.schema.version
}

// SchemaModel returns the transaction's schema model. It must not be modified.
func (tx *Tx) SchemaModel() *SchemaModel {
	return tx.schema.model
}

// OnChange installs a handler called synchronously after every change.
func (tx *Tx) OnChange(f func(chg *Change)) {
	tx.changeHandler = f
}

func (tx *Tx) notify(chg *Change) {
	if tx.changeHandler != nil {
		tx.changeHandler(chg)
	}
}

func (tx *Tx) checkOpen() error {
	if tx.state != TxOpen {
		return &StaleTransactionError{State: tx.state}
	}
	return nil
}

// Commit validates objects whose upgrade left unconverted values, then
// commits the backing transaction. A backing store conflict is returned as
// RetryableTransactionError. After Commit returns, the transaction is no
// longer usable regardless of the outcome.
func (tx *Tx) Commit() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if err := tx.Validate(); err != nil {
		tx.abort()
		metricTxns.WithLabelValues("invalid").Inc()
		return err
	}
	err := tx.stx.Commit()
	if err != nil {
		tx.abort()
		if errors.Is(err, ErrStorageConflict) {
			metricTxns.WithLabelValues("conflict").Inc()
			return &RetryableTransactionError{Err: err}
		}
		metricTxns.WithLabelValues("error").Inc()
		return fmt.Errorf("objdb: commit: %w", err)
	}
	tx.state = TxCommitted
	tx.db.removeTx(tx)
	metricTxns.WithLabelValues("commit").Inc()
	if tx.db.verbose {
		tx.db.logger.Debug("db: COMMIT", "version", tx.schema.version)
	}
	return nil
}

// Rollback discards every change made by the transaction.
func (tx *Tx) Rollback() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.abort()
	metricTxns.WithLabelValues("rollback").Inc()
	return nil
}

func (tx *Tx) abort() {
	tx.state = TxAborted
	err := tx.stx.Rollback()
	if err != nil {
		tx.db.logger.Error("objdb: rollback failed", "err", err)
	}
	tx.db.removeTx(tx)
}

// close rolls back the transaction if it is still open.
func (tx *Tx) close() {
	if tx.state == TxOpen {
		tx.abort()
		metricTxns.WithLabelValues("rollback").Inc()
	}
}

// fail aborts the transaction after an error that may have left it half
// modified.
func (tx *Tx) fail(err error) error {
	if tx.state == TxOpen {
		tx.abort()
		metricTxns.WithLabelValues("error").Inc()
	}
	return err
}

type panicked struct {
	reason interface{}
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

func (tx *Tx) get(key []byte) ([]byte, error) {
	v, err := tx.stx.Get(key)
	if err != nil {
		return nil, tx.fail(fmt.Errorf("objdb: get %s: %w", describeKey(key), err))
	}
	return v, nil
}

// scan collects the key-value pairs starting with prefix.
func (tx *Tx) scan(prefix []byte) ([]storageKV, error) {
	kvs, err := scanPrefix(tx.stx, prefix)
	if err != nil {
		return nil, tx.fail(fmt.Errorf("objdb: scan %s: %w", describeKey(prefix), err))
	}
	return kvs, nil
}

func (tx *Tx) put(key, value []byte) error {
	if tx.db.verbose {
		tx.db.logger.Debug("db: PUT", hexAttr("key", key), hexAttr("value", value))
	}
	if err := tx.stx.Put(key, value); err != nil {
		return tx.fail(fmt.Errorf("objdb: put %s: %w", describeKey(key), err))
	}
	return nil
}

func (tx *Tx) del(key []byte) error {
	if tx.db.verbose {
		tx.db.logger.Debug("db: DEL", hexAttr("key", key))
	}
	if err := tx.stx.Delete(key); err != nil {
		return tx.fail(fmt.Errorf("objdb: delete %s: %w", describeKey(key), err))
	}
	return nil
}

func (tx *Tx) delAll(keys [][]byte) error {
	for _, k := range keys {
		if err := tx.del(k); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) putEmpty(keys [][]byte) error {
	for _, k := range keys {
		if err := tx.put(k, nil); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) logOp(op string, id ObjID, attrs ...any) {
	if tx.db.verbose {
		tx.db.logger.Debug("db: "+op, append([]any{slog.String("id", id.String())}, attrs...)...)
	}
}

// queueValidation marks an object whose stored values may not decode under
// the transaction's schema.
func (tx *Tx) queueValidation(id ObjID) {
	if !slices.Contains(tx.pendingValidation, id) {
		tx.pendingValidation = append(tx.pendingValidation, id)
	}
}

// Validate checks every object queued by an upgrade whose conversion
// failed: each stored simple value must decode under its field's type.
// Objects that pass, or have been deleted, are dequeued.
func (tx *Tx) Validate() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	var remaining []ObjID
	var errs []error
	for _, id := range tx.pendingValidation {
		ti, ok, err := tx.objectType(id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := tx.validateObject(id, ti); err != nil {
			remaining = append(remaining, id)
			errs = append(errs, err)
		}
	}
	tx.pendingValidation = remaining
	return errors.Join(errs...)
}

func (tx *Tx) validateObject(id ObjID, ti *typeInfo) error {
	for _, fi := range ti.fieldList {
		if fi.ft == nil {
			continue
		}
		raw, err := tx.get(fieldKey(id, fi.StorageID))
		if err != nil {
			return err
		}
		if raw == nil {
			continue
		}
		if _, err := Decode(fi.ft, raw); err != nil {
			return &InvalidValueError{Type: fi.ft.Name(), Value: hexBytes(raw), Msg: fmt.Sprintf("object %v field %v holds a value that was not converted", id, fi.Field), Err: err}
		}
	}
	return nil
}
