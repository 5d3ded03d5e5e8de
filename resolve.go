package weekblock

import (
	"context"

	"github.com/rosterd/weekblock/weekblock_errors"
)

// Resolve locates a block by its logical key, cheapest tier first:
//
//	tier 1: location cache, trusted as-is (bounded staleness accepted)
//	tier 2: persistent index, scope-existence verified, stale rows purged
//	tier 3: full scan of the scope's row region
//
// A tier-3 hit is a self-heal: index and cache are written back before
// returning. Resolution never mutates the block rows themselves. Access
// errors in tiers 1-2 degrade to a miss and a tier-3 failure degrades to
// ErrNotFound, since the caller's reaction to ErrNotFound is safe creation.
func (s *Store) Resolve(ctx context.Context, scope string, year, week int) (BlockLocation, error) {
	if loc, ok := s.cache.GetLocation(scope, year, week); ok {
		LookupCount.WithLabelValues("cache", "hit").Inc()
		return loc, nil
	}
	LookupCount.WithLabelValues("cache", "miss").Inc()

	start, err := s.index.Lookup(scope, year, week)
	if err == nil {
		LookupCount.WithLabelValues("index", "hit").Inc()
		loc := s.location(scope, year, week, start)
		s.cache.PutLocation(loc)
		return loc, nil
	}
	if err != weekblock_errors.ErrNotFound {
		s.log.WarnCtx(ctx, "index lookup degraded to miss", "scope", scope, "year", year, "week", week, "error", err.Error())
		LookupCount.WithLabelValues("index", "error").Inc()
	} else {
		LookupCount.WithLabelValues("index", "miss").Inc()
	}

	// Leftover rows of a retired scope must not self-heal back into the
	// index, so the scan tier requires a live scope.
	if alive, aerr := s.scopes.Exists(scope); aerr == nil && !alive {
		LookupCount.WithLabelValues("scan", "retired").Inc()
		return BlockLocation{}, weekblock_errors.ErrNotFound
	}

	blocks, err := s.scanScope(ctx, scope)
	if err != nil {
		s.log.ErrorCtx(ctx, "full scan failed, treating as not found", "scope", scope, "error", err.Error())
		LookupCount.WithLabelValues("scan", "error").Inc()
		return BlockLocation{}, weekblock_errors.ErrNotFound
	}
	for _, b := range blocks {
		if b.Year != year || b.Week != week {
			continue
		}
		LookupCount.WithLabelValues("scan", "hit").Inc()
		SelfHealCount.Inc()
		loc := s.location(scope, year, week, b.StartRow)
		if herr := s.index.Upsert(scope, year, week, b.StartRow); herr != nil {
			s.log.WarnCtx(ctx, "self-heal index write failed", "scope", scope, "error", herr.Error())
		}
		s.cache.PutLocation(loc)
		s.log.InfoCtx(ctx, "self-healed block location", "scope", scope, "year", year, "week", week, "start", b.StartRow)
		return loc, nil
	}
	LookupCount.WithLabelValues("scan", "miss").Inc()
	return BlockLocation{}, weekblock_errors.ErrNotFound
}
