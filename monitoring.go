package objdb

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTxns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objdb_transactions_total",
			Help: "Number of transactions by outcome: begin, commit, rollback, conflict, error or invalid.",
		},
		[]string{"outcome"},
	)
	metricObjects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objdb_objects_total",
			Help: "Number of objects created or deleted.",
		},
		[]string{"op"},
	)
	metricUpgrades = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "objdb_upgrades_total",
			Help: "Number of objects upgraded to a newer schema version.",
		},
	)
)

type Stats struct {
	Objects      int
	FieldKeys    int
	IndexEntries int
	MetaKeys     int

	KeySize   int
	ValueSize int

	ObjectsByType map[uint32]int
}

func (s *Stats) TotalKeys() int {
	return s.Objects + s.FieldKeys + s.IndexEntries + s.MetaKeys
}

func (s *Stats) TotalSize() int {
	return s.KeySize + s.ValueSize
}

// Stats walks every key of the database and classifies it.
func (tx *Tx) Stats() (Stats, error) {
	if err := tx.checkOpen(); err != nil {
		return Stats{}, err
	}
	types := make(map[uint32]bool)
	for _, sv := range tx.versions {
		for sid := range sv.types {
			types[sid] = true
		}
	}

	s := Stats{ObjectsByType: make(map[uint32]int)}
	c := tx.stx.Cursor()
	defer c.Close()
	for k, v := c.Seek(nil); k != nil; k, v = c.Next() {
		s.KeySize += len(k)
		s.ValueSize += len(v)
		if k[0] == metaNamespace {
			s.MetaKeys++
			continue
		}
		sid, _, err := readOrderedUint(k)
		if err != nil {
			return s, dataErrf(k, 0, err, "key without a storage ID")
		}
		switch {
		case !types[uint32(sid)]:
			s.IndexEntries++
		case len(k) == ObjIDLen:
			s.Objects++
			s.ObjectsByType[uint32(sid)]++
		default:
			s.FieldKeys++
		}
	}
	if err := c.Err(); err != nil {
		return s, tx.fail(fmt.Errorf("objdb: stats: %w", err))
	}
	return s, nil
}
