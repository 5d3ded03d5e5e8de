package weekblock

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"github.com/rosterd/weekblock/utils"
	"github.com/rosterd/weekblock/weekblock_errors"
)

// IndexEntry is one persistent (scope, year, week) -> startRow mapping. All
// scopes share a single key range ("XE").
type IndexEntry struct {
	Scope    string
	Year     int
	Week     int
	StartRow int
	EndRow   int
}

// LocationIndex is the persistent middle lookup tier. It is an explicitly
// injected dependency of the resolver, never a hidden singleton.
type LocationIndex struct {
	db     *pebble.DB
	scopes ScopeDirectory
	log    utils.Logger
	wo     *pebble.WriteOptions
}

func NewLocationIndex(db *pebble.DB, scopes ScopeDirectory, log utils.Logger, wo *pebble.WriteOptions) *LocationIndex {
	return &LocationIndex{db: db, scopes: scopes, log: log, wo: wo}
}

func indexValue(startRow int) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(startRow))
}

// Lookup returns the indexed start row for the key. When the entry points at
// a scope that no longer exists, the stale row is deleted as a side effect
// and the lookup reports a miss.
func (ix *LocationIndex) Lookup(scope string, year, week int) (startRow int, err error) {
	key := indexKey(scope, year, week)
	val, closer, err := ix.db.Get(key)
	if err == pebble.ErrNotFound {
		return 0, weekblock_errors.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	startRow = int(binary.BigEndian.Uint32(val))
	if closer != nil {
		_ = closer.Close()
	}
	alive, err := ix.scopes.Exists(scope)
	if err != nil {
		return 0, err
	}
	if !alive {
		StaleIndexPurged.Inc()
		ix.log.Debug("purging stale index entry", "scope", scope, "year", year, "week", week)
		_ = ix.db.Delete(key, ix.wo)
		return 0, weekblock_errors.ErrNotFound
	}
	return startRow, nil
}

func (ix *LocationIndex) Upsert(scope string, year, week, startRow int) error {
	return ix.db.Set(indexKey(scope, year, week), indexValue(startRow), ix.wo)
}

// BatchUpsert writes the given entries for a scope, diffing against the
// already stored rows so unchanged entries cost no writes.
func (ix *LocationIndex) BatchUpsert(scope string, entries []IndexEntry) error {
	existing, err := ix.ListForScope(scope, 0)
	if err != nil {
		return err
	}
	current := make(map[[2]int]int, len(existing))
	for _, e := range existing {
		current[[2]int{e.Year, e.Week}] = e.StartRow
	}
	batch := ix.db.NewBatch()
	defer batch.Close()
	dirty := false
	for _, e := range entries {
		if row, ok := current[[2]int{e.Year, e.Week}]; ok && row == e.StartRow {
			continue
		}
		if err = batch.Set(indexKey(scope, e.Year, e.Week), indexValue(e.StartRow), nil); err != nil {
			return err
		}
		dirty = true
	}
	if !dirty {
		return nil
	}
	return batch.Commit(ix.wo)
}

// RemoveAllForScope deletes every index entry of a retired scope.
func (ix *LocationIndex) RemoveAllForScope(scope string) error {
	lo, hi := indexKeyRange(scope)
	return ix.db.DeleteRange(lo, hi, ix.wo)
}

// ListForScope returns the scope's entries sorted ascending by (year, week),
// which is the natural key order of the "XE" range. slots > 0 lets callers
// derive EndRow; pass 0 when only start rows matter.
func (ix *LocationIndex) ListForScope(scope string, slots int) ([]IndexEntry, error) {
	lo, hi := indexKeyRange(scope)
	it, err := ix.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []IndexEntry
	for valid := it.First(); valid; valid = it.Next() {
		sc, year, week, ok := parseIndexKey(it.Key())
		if !ok || sc != scope {
			ix.log.Warn("skipping unparsable index key", "key", string(it.Key()))
			continue
		}
		start := int(binary.BigEndian.Uint32(it.Value()))
		end := 0
		if slots > 0 {
			end = start + slots - 1
		}
		out = append(out, IndexEntry{
			Scope:    scope,
			Year:     year,
			Week:     week,
			StartRow: start,
			EndRow:   end,
		})
	}
	return out, nil
}

// all iterates every entry in the shared index table, in key order.
func (ix *LocationIndex) all(visit func(e IndexEntry, key, value []byte) bool) error {
	it, err := ix.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'X', 'E'},
		UpperBound: []byte{'X', 'F'},
	})
	if err != nil {
		return err
	}
	defer it.Close()
	for valid := it.First(); valid; valid = it.Next() {
		scope, year, week, ok := parseIndexKey(it.Key())
		if !ok {
			continue
		}
		e := IndexEntry{
			Scope:    scope,
			Year:     year,
			Week:     week,
			StartRow: int(binary.BigEndian.Uint32(it.Value())),
		}
		if !visit(e, bytes.Clone(it.Key()), bytes.Clone(it.Value())) {
			return nil
		}
	}
	return nil
}
