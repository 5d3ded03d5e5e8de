package weekblock

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/rosterd/weekblock/weekblock_errors"
)

// NextAvailablePosition returns the first row after the scope's last
// populated row, or the header offset when the scope region is empty.
func (s *Store) NextAvailablePosition(scope string) (int, error) {
	lo, hi := rowKeyRange(scope)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, errors.Wrap(err, "next position")
	}
	defer it.Close()
	if !it.Last() {
		return s.opts.HeaderOffset, nil
	}
	return rowKeyIndex(it.Key()) + 1, nil
}

// CreateBlock writes a full block at startRow: numSlots metadata rows with
// empty availability cells, an empty roster snapshot, the pristine changelog
// sentinel, and the scope's day-header labels if this is the scope's first
// block. Everything goes in one batch. Duplicate (year, week) keys within a
// scope are rejected.
func (s *Store) CreateBlock(ctx context.Context, scope string, year, week, startRow int) (BlockLocation, error) {
	if _, err := s.index.Lookup(scope, year, week); err == nil {
		return BlockLocation{}, weekblock_errors.ErrDuplicateBlock
	}
	loc := s.location(scope, year, week, startRow)
	batch := s.db.NewBatch()
	defer batch.Close()
	for slot := 0; slot < s.opts.Slots(); slot++ {
		row := &Row{
			Year:      year,
			Week:      week,
			Month:     loc.Month,
			TimeLabel: s.opts.TimeLabels[slot],
			Slot:      slot,
		}
		data, err := encodeRow(row)
		if err != nil {
			return BlockLocation{}, err
		}
		if err = batch.Set(rowKey(scope, startRow+slot), data, nil); err != nil {
			return BlockLocation{}, errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
		}
	}
	if err := batch.Set(rosterKey(scope, year, week), []byte("[]"), nil); err != nil {
		return BlockLocation{}, errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
	}
	if err := batch.Set(changelogKey(scope, year, week), []byte(NoChangesSentinel), nil); err != nil {
		return BlockLocation{}, errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
	}
	if err := s.ensureDayHeader(batch, scope); err != nil {
		return BlockLocation{}, err
	}
	if err := batch.Commit(s.opts.PebbleWriteOptions); err != nil {
		return BlockLocation{}, errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
	}
	BlocksCreated.Inc()
	s.log.InfoCtx(ctx, "created block", "scope", scope, "year", year, "week", week, "start", startRow)
	return loc, nil
}

func (s *Store) ensureDayHeader(batch *pebble.Batch, scope string) error {
	_, closer, err := s.db.Get(headerKey(scope))
	if closer != nil {
		_ = closer.Close()
	}
	if err == nil {
		return nil
	}
	if err != pebble.ErrNotFound {
		return errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
	}
	labels, err := json.Marshal(s.opts.DayLabels)
	if err != nil {
		return err
	}
	return batch.Set(headerKey(scope), labels, nil)
}

// EnsureBlockExists is the idempotent find-or-create entry point. The
// resolve-then-create sequence runs under the scope's advisory lock so two
// concurrent calls for the same key cannot both append a block.
func (s *Store) EnsureBlockExists(ctx context.Context, scope string, year, week int) (created bool, loc BlockLocation, err error) {
	mu := s.scopeLock(scope)
	mu.Lock()
	defer mu.Unlock()

	loc, err = s.Resolve(ctx, scope, year, week)
	if err == nil {
		return false, loc, nil
	}
	if err != weekblock_errors.ErrNotFound {
		return false, BlockLocation{}, err
	}
	start, err := s.NextAvailablePosition(scope)
	if err != nil {
		return false, BlockLocation{}, err
	}
	loc, err = s.CreateBlock(ctx, scope, year, week, start)
	if err != nil {
		return false, BlockLocation{}, err
	}
	if err = s.index.Upsert(scope, year, week, start); err != nil {
		return false, BlockLocation{}, errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
	}
	s.cache.PutLocation(loc)
	return true, loc, nil
}

// scannedBlock is a block found by walking a scope's row region.
type scannedBlock struct {
	Year     int
	Week     int
	Month    string
	StartRow int
}

// scanScope walks the scope's rows in physical order and groups them into
// blocks: a run starts at a row with slot ordinal 0 and must continue with
// slots 1..numSlots-1 all agreeing on (year, week). A run violating that is
// dropped, logged, and the scan resumes at the offending row.
func (s *Store) scanScope(ctx context.Context, scope string) ([]scannedBlock, error) {
	lo, hi := rowKeyRange(scope)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
	}
	defer it.Close()

	slots := s.opts.Slots()
	var blocks []scannedBlock
	var run []*Row
	runStart := 0
	prevIdx := -1

	reject := func(at int) {
		if len(run) > 0 {
			MalformedRuns.Inc()
			s.log.WarnCtx(ctx, "rejecting malformed block run",
				"scope", scope, "start", runStart, "rows", len(run), "at", at)
		}
		run = run[:0]
	}

	for valid := it.First(); valid; valid = it.Next() {
		idx := rowKeyIndex(it.Key())
		row, derr := decodeRow(it.Value())
		if derr != nil {
			reject(idx)
			prevIdx = idx
			continue
		}
		contiguous := prevIdx == -1 || idx == prevIdx+1
		prevIdx = idx

		if len(run) > 0 {
			head := run[0]
			if !contiguous || row.Slot != len(run) || row.Year != head.Year || row.Week != head.Week {
				reject(idx)
			}
		}
		if len(run) == 0 {
			if row.Slot != 0 {
				MalformedRuns.Inc()
				s.log.WarnCtx(ctx, "skipping stray row", "scope", scope, "row", idx, "slot", row.Slot)
				continue
			}
			runStart = idx
		}
		run = append(run, row)
		if len(run) == slots {
			head := run[0]
			blocks = append(blocks, scannedBlock{
				Year:     head.Year,
				Week:     head.Week,
				Month:    head.Month,
				StartRow: runStart,
			})
			run = run[:0]
		}
	}
	if len(run) > 0 {
		reject(prevIdx + 1)
	}
	return blocks, nil
}
