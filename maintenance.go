package weekblock

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rosterd/weekblock/weekblock_errors"
)

// ProvisionUpcoming makes sure every active scope has blocks for the current
// ISO week plus the configured number of weeks ahead, and resnapshots the
// current week's roster. Returns the number of blocks created.
func (s *Store) ProvisionUpcoming(ctx context.Context, now time.Time) (created int, err error) {
	scopes, err := s.scopes.ActiveScopes()
	if err != nil {
		return 0, errors.Wrap(err, "list active scopes")
	}
	for _, scope := range scopes {
		for ahead := 0; ahead <= s.opts.ProvisionWeeksAhead; ahead++ {
			year, week := now.AddDate(0, 0, 7*ahead).ISOWeek()
			isNew, loc, err := s.EnsureBlockExists(ctx, scope, year, week)
			if err != nil {
				return created, err
			}
			if isNew {
				created++
				ProvisionedBlocks.Inc()
			}
			if ahead == 0 && s.rosters != nil {
				members, rerr := s.rosters.Roster(scope)
				if rerr != nil {
					s.log.WarnCtx(ctx, "roster unavailable, snapshot skipped", "scope", scope, "error", rerr.Error())
					continue
				}
				if rerr = s.SnapshotRoster(ctx, loc, members); rerr != nil {
					return created, rerr
				}
			}
		}
	}
	return created, nil
}

// RetireScope discards everything the store holds for a scope: block rows,
// day header, rosters, changelogs, index entries and cache entries. Blocks
// are never deleted individually, only wholesale with their scope.
func (s *Store) RetireScope(ctx context.Context, scope string) error {
	mu := s.scopeLock(scope)
	mu.Lock()
	defer mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()
	ranges := [][2][]byte{}
	lo, hi := rowKeyRange(scope)
	ranges = append(ranges, [2][]byte{lo, hi})
	for _, prefix := range []byte{'M', 'L'} {
		plo := append([]byte{'B', prefix}, scope...)
		phi := append(append([]byte{'B', prefix}, scope...), 1)
		ranges = append(ranges, [2][]byte{append(plo, 0), phi})
	}
	ilo, ihi := indexKeyRange(scope)
	ranges = append(ranges, [2][]byte{ilo, ihi})
	for _, r := range ranges {
		if err := batch.DeleteRange(r[0], r[1], nil); err != nil {
			return errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
		}
	}
	if err := batch.Delete(headerKey(scope), nil); err != nil {
		return errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
	}
	if err := batch.Commit(s.opts.PebbleWriteOptions); err != nil {
		return errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
	}
	s.cache.PurgeScope(scope)
	s.log.InfoCtx(ctx, "retired scope", "scope", scope)
	return nil
}

// RunMaintenance loops until the context is cancelled, provisioning upcoming
// blocks and auditing the index each cycle. Overlapping cycles are not a
// concern here: one loop, one store.
func (s *Store) RunMaintenance(ctx context.Context) {
	cycle := func() {
		if _, err := s.ProvisionUpcoming(ctx, time.Now()); err != nil {
			s.log.ErrorCtx(ctx, "provisioning failed", "error", err.Error())
		}
		if _, _, err := s.ValidateAndRepair(ctx); err != nil {
			s.log.ErrorCtx(ctx, "validation failed", "error", err.Error())
		}
	}
	for ctx.Err() == nil {
		cycle()
		select {
		case <-ctx.Done():
		case <-time.After(s.opts.MaintenanceInterval):
		}
	}
}
