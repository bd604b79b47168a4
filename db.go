package objdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"
)

const trackTxns = true

type DB struct {
	st      Storage
	reg     *Registry
	logger  *slog.Logger
	verbose bool

	allowNewSchema bool

	versions     map[uint64]*schemaVersion
	versionsLock sync.Mutex

	txns     []*Tx
	txnsLock sync.Mutex
}

type Options struct {
	// Registry resolves field types; DefaultRegistry() when nil.
	Registry *Registry
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Verbose logs every mutation at debug level.
	Verbose bool
	// AllowNewSchema lets Update record schema versions that are not yet
	// in the database.
	AllowNewSchema bool
}

// Open opens a database on top of st. Recorded schema versions are loaded
// and their field types resolved against the registry.
func Open(st Storage, opt Options) (*DB, error) {
	db := &DB{
		st:             st,
		reg:            opt.Registry,
		logger:         opt.Logger,
		verbose:        opt.Verbose,
		allowNewSchema: opt.AllowNewSchema,
		versions:       make(map[uint64]*schemaVersion),
	}
	if db.reg == nil {
		db.reg = DefaultRegistry()
	}
	if db.logger == nil {
		db.logger = slog.Default()
	}

	stx, err := st.BeginTx(false)
	if err != nil {
		return nil, fmt.Errorf("objdb: %w", err)
	}
	defer stx.Rollback()
	if err := checkFormat(stx); err != nil {
		return nil, err
	}
	if _, err := db.loadVersions(stx); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenBolt opens a Bolt-backed database at path.
func OpenBolt(path string, bopt BoltOptions, opt Options) (*DB, error) {
	st, err := OpenBoltStorage(path, bopt)
	if err != nil {
		return nil, err
	}
	db, err := Open(st, opt)
	if err != nil {
		st.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Storage() Storage {
	return db.st
}

func (db *DB) Registry() *Registry {
	return db.reg
}

func (db *DB) Close() error {
	err := db.st.Close()
	if err != nil {
		return fmt.Errorf("objdb: closing: %w", err)
	}
	return nil
}

func checkFormat(stx StorageTx) error {
	raw, err := stx.Get(formatKey)
	if err != nil {
		return fmt.Errorf("objdb: %w", err)
	}
	if raw == nil {
		return nil
	}
	d := makeByteDecoder(raw)
	ver, err := d.Uvarint()
	if err != nil {
		return err
	}
	if ver != keyFormatVerLatest {
		return fmt.Errorf("objdb: unsupported key format version %d", ver)
	}
	return nil
}

// SchemaVersions returns the recorded schema versions in ascending order, as
// of the last transaction that looked at them.
func (db *DB) SchemaVersions() []uint64 {
	db.versionsLock.Lock()
	defer db.versionsLock.Unlock()
	vers := make([]uint64, 0, len(db.versions))
	for v := range db.versions {
		vers = append(vers, v)
	}
	slices.Sort(vers)
	return vers
}

// SchemaModel returns a copy of a recorded schema version, or nil.
func (db *DB) SchemaModel(version uint64) *SchemaModel {
	db.versionsLock.Lock()
	defer db.versionsLock.Unlock()
	sv := db.versions[version]
	if sv == nil {
		return nil
	}
	return sv.model.Clone()
}

// loadVersions reads every schema record visible in stx. Decoded versions
// are cached by their raw bytes, since an aborted transaction may have
// recorded a version number that a later one reuses.
func (db *DB) loadVersions(stx StorageTx) (map[uint64]*schemaVersion, error) {
	db.versionsLock.Lock()
	defer db.versionsLock.Unlock()

	records, err := scanPrefix(stx, schemaRecordPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]*schemaVersion)
	for _, kv := range records {
		ver, rest, err := readOrderedUint(kv.key[len(schemaRecordPrefix):])
		if err != nil || len(rest) != 0 || ver == 0 {
			return nil, dataErrf(kv.key, 0, err, "invalid schema record key")
		}
		if sv := db.versions[ver]; sv != nil && bytes.Equal(sv.raw, kv.value) {
			out[ver] = sv
			continue
		}
		rec, err := decodeSchemaRecord(kv.value)
		if err != nil {
			return nil, fmt.Errorf("objdb: schema version %d: %w", ver, err)
		}
		sv, err := newSchemaVersion(ver, rec.Model, db.reg)
		if err != nil {
			return nil, fmt.Errorf("objdb: schema version %d: %w", ver, err)
		}
		sv.raw = kv.value
		sv.recorded = rec.Recorded
		db.versions[ver] = sv
		out[ver] = sv
	}
	return out, nil
}

// CreateTransaction opens a transaction bound to a schema version.
//
// With version > 0 that is already recorded, model (if non-nil) must be
// compatible with the recorded one. With version > 0 that is not recorded,
// allowNewSchema must be set and model is recorded as that version after
// checking it against every other recorded version. With version == 0, the
// recorded version structurally equal to model is used, or model is recorded
// as a new highest version when allowed. A nil model with version 0 selects
// the highest recorded version.
func (db *DB) CreateTransaction(model *SchemaModel, version uint64, allowNewSchema bool) (*Tx, error) {
	stx, err := db.st.BeginTx(true)
	if err != nil {
		return nil, fmt.Errorf("objdb: %w", err)
	}
	tx, err := db.newTx(stx, model, version, allowNewSchema)
	if err != nil {
		stx.Rollback()
		return nil, err
	}
	return tx, nil
}

func (db *DB) newTx(stx StorageTx, model *SchemaModel, version uint64, allowNewSchema bool) (*Tx, error) {
	if err := checkFormat(stx); err != nil {
		return nil, err
	}
	versions, err := db.loadVersions(stx)
	if err != nil {
		return nil, err
	}
	var highest uint64
	for v := range versions {
		highest = max(highest, v)
	}

	var sv *schemaVersion
	switch {
	case model == nil && version == 0:
		if highest == 0 {
			return nil, &SchemaMismatchError{Msg: "no schema recorded and no schema model given"}
		}
		sv = versions[highest]
	case model == nil:
		sv = versions[version]
		if sv == nil {
			return nil, &SchemaMismatchError{Version: version, Msg: "schema version not recorded"}
		}
	default:
		model = model.Clone()
		model.normalize()
		if err := fillSignatures(model, db.reg); err != nil {
			return nil, err
		}
		if err := model.Validate(db.reg); err != nil {
			return nil, err
		}

		if version == 0 {
			for v := highest; v > 0; v-- {
				if rec := versions[v]; rec != nil && structurallyEqual(model, rec.model) {
					sv = rec
					break
				}
			}
		} else if rec := versions[version]; rec != nil {
			if r := CheckCompatible(model, rec.model); !r.OK() {
				return nil, &SchemaMismatchError{Version: version, Msg: "schema does not match the recorded version", Report: r}
			}
			sv = rec
		}

		if sv == nil {
			if version == 0 {
				version = highest + 1
			}
			if !allowNewSchema {
				return nil, &SchemaMismatchError{Version: version, Msg: "schema version not recorded and recording new versions is not allowed"}
			}
			for _, v := range sortedVersions(versions) {
				if r := CheckConsistent(model, versions[v].model); !r.OK() {
					return nil, &SchemaMismatchError{Version: version, Msg: fmt.Sprintf("schema conflicts with recorded version %d", v), Report: r}
				}
			}
			sv, err = db.recordVersion(stx, version, model)
			if err != nil {
				return nil, err
			}
			versions[version] = sv
		}
	}

	tx := &Tx{
		db:       db,
		stx:      stx,
		schema:   sv,
		versions: versions,
		state:    TxOpen,
	}
	tx.refSIDs = referenceSIDs(versions)
	if trackTxns {
		tx.startTime = time.Now()
		tx.stack = string(debug.Stack())
		db.addTx(tx)
	}
	metricTxns.WithLabelValues("begin").Inc()
	return tx, nil
}

func (db *DB) recordVersion(stx StorageTx, version uint64, model *SchemaModel) (*schemaVersion, error) {
	sv, err := newSchemaVersion(version, model, db.reg)
	if err != nil {
		return nil, err
	}
	raw, err := encodeSchemaRecord(&schemaRecord{Version: version, Model: model, Recorded: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	sv.raw = raw
	if err := stx.Put(formatKey, appendUvarint(nil, keyFormatVerLatest)); err != nil {
		return nil, err
	}
	if err := stx.Put(schemaRecordKey(version), raw); err != nil {
		return nil, err
	}
	db.logger.Info("objdb: recording schema version", "version", version, "types", len(model.ObjectTypes))
	return sv, nil
}

func fillSignatures(m *SchemaModel, reg *Registry) error {
	var errs []error
	var fill func(path string, f *Field)
	fill = func(path string, f *Field) {
		if f.Type != "" && f.TypeSignature == 0 {
			ft, err := reg.Lookup(f.Type, 0)
			if err != nil {
				errs = append(errs, schemaErrf(path, err, "cannot resolve type"))
			} else {
				f.TypeSignature = ft.Signature()
			}
		}
		for _, sf := range f.SubFields() {
			fill(path+"."+sf.String(), sf)
		}
	}
	for _, t := range m.ObjectTypes {
		for _, f := range t.Fields {
			fill(t.String()+"."+f.String(), f)
		}
	}
	return errors.Join(errs...)
}

// structurallyEqual reports whether a and b are compatible both ways.
func structurallyEqual(a, b *SchemaModel) bool {
	return CheckCompatible(a, b).OK() && CheckCompatible(b, a).OK()
}

func sortedVersions(versions map[uint64]*schemaVersion) []uint64 {
	vers := make([]uint64, 0, len(versions))
	for v := range versions {
		vers = append(vers, v)
	}
	slices.Sort(vers)
	return vers
}

// Update runs fn in a new transaction and commits it. fn's error rolls the
// transaction back. Conflicts surface as RetryableTransactionError; wrap the
// call in Retry to retry them.
func (db *DB) Update(ctx context.Context, model *SchemaModel, version uint64, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := db.CreateTransaction(model, version, db.allowNewSchema)
	if err != nil {
		return err
	}
	defer tx.close()

	if err := safelyCall(fn, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) addTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()
	db.txns = append(db.txns, tx)
}

func (db *DB) removeTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()

	found := slices.Index(db.txns, tx)
	if found < 0 {
		return
	}
	n := len(db.txns)
	db.txns[found] = db.txns[n-1]
	db.txns[n-1] = nil // ensure it gets collected
	db.txns = db.txns[:n-1]
}

func (db *DB) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	db.txnsLock.Lock()
	txns := slices.Clone(db.txns)
	db.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Tx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		ms := now.Sub(tx.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\nschema v%d, open for %d ms\n", tx.schema.version, ms)
		} else {
			fmt.Fprintf(&buf, "\n---\nschema v%d, open for %d ms:\n%s", tx.schema.version, ms, tx.stack)
		}
	}

	return buf.String()
}
