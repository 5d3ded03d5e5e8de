package weekblock

import (
	"context"
	"time"

	"github.com/cespare/xxhash"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rosterd/weekblock/utils"
	"github.com/rosterd/weekblock/weekblock_errors"
)

// ValidationReport is the outcome of one full consistency audit of the
// location index against the scanned ground truth.
type ValidationReport struct {
	RunID          string
	ScopesScanned  int
	BlocksScanned  int
	EntriesScanned int

	MissingIndex  int // block exists, no index entry
	RowMismatch   int // index entry points at the wrong start row
	OrphanedIndex int // index entry without a block, or for a retired scope

	Took time.Duration
}

func (r ValidationReport) ErrorCount() int {
	return r.MissingIndex + r.RowMismatch + r.OrphanedIndex
}

// TotalScanned is the denominator of the error rate: every actual block seen
// plus every orphaned entry (which the block scan could not have counted).
func (r ValidationReport) TotalScanned() int {
	return r.BlocksScanned + r.OrphanedIndex
}

// ErrorRate returns 0 when nothing was scanned: with no entries and no
// blocks there is nothing a rebuild could repair.
func (r ValidationReport) ErrorRate() float64 {
	total := r.TotalScanned()
	if total == 0 {
		return 0
	}
	return float64(r.ErrorCount()) / float64(total)
}

// RebuildReport describes one index rebuild. Checksum is an xxhash over the
// rewritten entries in key order; two rebuilds over the same ground truth
// produce equal checksums.
type RebuildReport struct {
	RunID    string
	Entries  int
	Checksum uint64
	Took     time.Duration
}

// Validate audits every active scope: the scanned set of actual blocks is
// compared against the indexed set and mismatches are classified. Entries
// belonging to scopes outside the active set count as orphaned. Validate
// never repairs anything itself.
func (s *Store) Validate(ctx context.Context) (ValidationReport, error) {
	start := time.Now()
	rep := ValidationReport{RunID: uuid.NewString()}
	ValidationRuns.Inc()
	ctx = utils.WithDefaultArgs(ctx, "run_id", rep.RunID, "process", "validate")

	scopes, err := s.scopes.ActiveScopes()
	if err != nil {
		return rep, errors.Wrap(err, "list active scopes")
	}
	active := make(map[string]bool, len(scopes))
	for _, scope := range scopes {
		active[scope] = true
	}

	for _, scope := range scopes {
		blocks, err := s.scanScope(ctx, scope)
		if err != nil {
			return rep, err
		}
		entries, err := s.index.ListForScope(scope, s.opts.Slots())
		if err != nil {
			return rep, err
		}
		rep.ScopesScanned++
		rep.BlocksScanned += len(blocks)
		rep.EntriesScanned += len(entries)

		indexed := make(map[[2]int]int, len(entries))
		for _, e := range entries {
			indexed[[2]int{e.Year, e.Week}] = e.StartRow
		}
		seen := make(map[[2]int]bool, len(blocks))
		for _, b := range blocks {
			key := [2]int{b.Year, b.Week}
			seen[key] = true
			row, ok := indexed[key]
			switch {
			case !ok:
				rep.MissingIndex++
				ValidationMismatches.WithLabelValues("missing_index_entry").Inc()
				s.log.WarnCtx(ctx, "missing index entry", "scope", scope, "year", b.Year, "week", b.Week)
			case row != b.StartRow:
				rep.RowMismatch++
				ValidationMismatches.WithLabelValues("row_mismatch").Inc()
				s.log.WarnCtx(ctx, "index row mismatch", "scope", scope, "year", b.Year, "week", b.Week,
					"indexed", row, "actual", b.StartRow)
			}
		}
		for _, e := range entries {
			if !seen[[2]int{e.Year, e.Week}] {
				rep.OrphanedIndex++
				ValidationMismatches.WithLabelValues("orphaned_index_entry").Inc()
				s.log.WarnCtx(ctx, "orphaned index entry", "scope", scope, "year", e.Year, "week", e.Week)
			}
		}
	}

	// entries of scopes that are no longer active
	err = s.index.all(func(e IndexEntry, _, _ []byte) bool {
		if !active[e.Scope] {
			rep.EntriesScanned++
			rep.OrphanedIndex++
			ValidationMismatches.WithLabelValues("orphaned_index_entry").Inc()
			s.log.WarnCtx(ctx, "index entry for retired scope", "scope", e.Scope, "year", e.Year, "week", e.Week)
		}
		return true
	})
	if err != nil {
		return rep, err
	}

	rep.Took = time.Since(start)
	s.log.InfoCtx(ctx, "validation finished",
		"scopes", rep.ScopesScanned, "blocks", rep.BlocksScanned, "entries", rep.EntriesScanned,
		"errors", rep.ErrorCount(), "rate", rep.ErrorRate())
	return rep, nil
}

// Rebuild clears the location index (header retained) and rewrites it from a
// fresh full scan of every active scope. Idempotent: repeated runs yield
// identical index contents and therefore identical checksums.
func (s *Store) Rebuild(ctx context.Context) (RebuildReport, error) {
	return s.rebuild(ctx, "manual")
}

func (s *Store) rebuild(ctx context.Context, reason string) (RebuildReport, error) {
	start := time.Now()
	rep := RebuildReport{RunID: uuid.NewString()}
	RebuildCount.WithLabelValues(reason).Inc()
	ctx = utils.WithDefaultArgs(ctx, "run_id", rep.RunID, "process", "rebuild")

	scopes, err := s.scopes.ActiveScopes()
	if err != nil {
		return rep, errors.Wrap(err, "list active scopes")
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err = batch.DeleteRange([]byte{'X', 'E'}, []byte{'X', 'F'}, nil); err != nil {
		return rep, errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
	}
	for _, scope := range scopes {
		blocks, err := s.scanScope(ctx, scope)
		if err != nil {
			return rep, err
		}
		for _, b := range blocks {
			if err = batch.Set(indexKey(scope, b.Year, b.Week), indexValue(b.StartRow), nil); err != nil {
				return rep, errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
			}
			rep.Entries++
		}
	}
	if err = batch.Commit(s.opts.PebbleWriteOptions); err != nil {
		return rep, errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
	}

	digest := xxhash.New()
	err = s.index.all(func(_ IndexEntry, key, value []byte) bool {
		_, _ = digest.Write(key)
		_, _ = digest.Write(value)
		return true
	})
	if err != nil {
		return rep, err
	}
	rep.Checksum = digest.Sum64()
	rep.Took = time.Since(start)
	RebuildDuration.WithLabelValues(reason).Observe(rep.Took.Seconds())
	s.log.InfoCtx(ctx, "index rebuilt", "entries", rep.Entries, "checksum", rep.Checksum, "reason", reason)
	return rep, nil
}

// ValidateAndRepair runs a validation pass and fires an automatic rebuild
// when the error rate meets the configured threshold. Below threshold the
// mismatches are logged only.
func (s *Store) ValidateAndRepair(ctx context.Context) (ValidationReport, *RebuildReport, error) {
	vrep, err := s.Validate(ctx)
	if err != nil {
		return vrep, nil, err
	}
	if vrep.TotalScanned() == 0 || vrep.ErrorRate() < s.opts.RebuildThreshold {
		return vrep, nil, nil
	}
	s.log.WarnCtx(ctx, "error rate above threshold, rebuilding index",
		"rate", vrep.ErrorRate(), "threshold", s.opts.RebuildThreshold)
	rrep, err := s.rebuild(ctx, "error_rate")
	if err != nil {
		return vrep, nil, err
	}
	return vrep, &rrep, nil
}
