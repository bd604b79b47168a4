package objdb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStorageConflict is returned by Storage commits that lost a race
	// against a concurrent transaction.
	ErrStorageConflict = errors.New("storage conflict")

	// ErrNoConversion means a field type has no conversion from another type.
	ErrNoConversion = errors.New("no conversion defined")

	// ErrNotWritable is returned when mutating a read-only storage transaction.
	ErrNotWritable = errors.New("transaction not writable")

	// ErrTxClosed is returned by a storage transaction after Commit or Rollback.
	ErrTxClosed = errors.New("storage transaction closed")
)

// DataError reports stored bytes that cannot be decoded.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// InvalidValueError means a value is outside a field type's domain.
type InvalidValueError struct {
	Type  string
	Value any
	Msg   string
	Err   error
}

func invalidValuef(typ string, v any, err error, format string, args ...any) error {
	return &InvalidValueError{typ, v, fmt.Sprintf(format, args...), err}
}

func (e *InvalidValueError) Unwrap() error {
	return e.Err
}

func (e *InvalidValueError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "invalid %s value %s", e.Type, describeValue(e.Value))
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

func describeValue(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) > 64 {
		s = s[:61] + "..."
	}
	return fmt.Sprintf("(%T) %s", v, s)
}

// UnknownTypeError means a field type name is not in the registry.
type UnknownTypeError struct {
	Name string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown field type %q", e.Name)
}

// SignatureMismatchError means a recorded type signature differs from the
// registry's definition of the same type name.
type SignatureMismatchError struct {
	Name     string
	Recorded uint64
	Actual   uint64
}

func (e *SignatureMismatchError) Error() string {
	return fmt.Sprintf("field type %q: recorded signature %016x does not match registered signature %016x", e.Name, e.Recorded, e.Actual)
}

// DeletedObjectError means an operation refers to an object that does not exist.
type DeletedObjectError struct {
	ID  ObjID
	Msg string
}

func (e *DeletedObjectError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("object %v not found", e.ID)
	}
	return fmt.Sprintf("object %v not found: %s", e.ID, e.Msg)
}

// ReferencedObjectError means a delete was blocked by a referring field whose
// delete action is DeleteException.
type ReferencedObjectError struct {
	ID        ObjID
	Referrer  ObjID
	StorageID uint32
	FieldName string
}

func (e *ReferencedObjectError) Error() string {
	return fmt.Sprintf("cannot delete %v: referenced by %v via field %s#%d", e.ID, e.Referrer, e.FieldName, e.StorageID)
}

// IllegalArgumentError reports a call with arguments the schema does not allow.
type IllegalArgumentError struct {
	Msg string
}

func illegalArgf(format string, args ...any) error {
	return &IllegalArgumentError{fmt.Sprintf(format, args...)}
}

func (e *IllegalArgumentError) Error() string {
	return e.Msg
}

// StaleTransactionError is returned by every operation on a transaction that
// has been committed or rolled back.
type StaleTransactionError struct {
	State TxState
}

func (e *StaleTransactionError) Error() string {
	return fmt.Sprintf("transaction is no longer usable (%v)", e.State)
}

// RetryableTransactionError means the backing store refused to commit
// because of a concurrent change. The whole transaction may be retried.
type RetryableTransactionError struct {
	Err error
}

func (e *RetryableTransactionError) Unwrap() error {
	return e.Err
}

func (e *RetryableTransactionError) Error() string {
	return fmt.Sprintf("transaction conflict, retry: %v", e.Err)
}

// SchemaMismatchError means a schema model cannot be used with a database.
type SchemaMismatchError struct {
	Version uint64
	Msg     string
	Report  *Report
}

func (e *SchemaMismatchError) Error() string {
	var buf strings.Builder
	if e.Version != 0 {
		fmt.Fprintf(&buf, "schema version %d: ", e.Version)
	}
	buf.WriteString(e.Msg)
	if e.Report != nil {
		for _, ent := range e.Report.Incompatible() {
			buf.WriteString("\n  ")
			buf.WriteString(ent.String())
		}
	}
	return buf.String()
}

// SchemaError describes one problem found while validating a schema model.
type SchemaError struct {
	Path string
	Msg  string
	Err  error
}

func schemaErrf(path string, err error, format string, args ...any) error {
	return &SchemaError{path, fmt.Sprintf(format, args...), err}
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}
