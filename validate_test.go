package weekblock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCleanStore(t *testing.T) {
	s, dir := testStore(t)
	dir.AddScope("team-alpha")
	dir.AddScope("team-beta")
	ctx := context.Background()

	makeBlock(t, s, "team-alpha", 2025, 25)
	makeBlock(t, s, "team-alpha", 2025, 26)
	makeBlock(t, s, "team-beta", 2025, 26)

	rep, err := s.Validate(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, rep.ScopesScanned)
	assert.Equal(t, 3, rep.BlocksScanned)
	assert.Equal(t, 3, rep.EntriesScanned)
	assert.Equal(t, 0, rep.ErrorCount())
	assert.Equal(t, 0.0, rep.ErrorRate())
}

func TestValidateEmptyStore(t *testing.T) {
	s, _ := testStore(t)

	rep, err := s.Validate(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, rep.TotalScanned())
	assert.Equal(t, 0.0, rep.ErrorRate())

	_, rrep, err := s.ValidateAndRepair(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, rrep)
}

func TestValidateClassifiesMismatches(t *testing.T) {
	s, dir := testStore(t)
	dir.AddScope("team-alpha")
	ctx := context.Background()

	loc1 := makeBlock(t, s, "team-alpha", 2025, 25)
	makeBlock(t, s, "team-alpha", 2025, 26)
	makeBlock(t, s, "team-alpha", 2025, 27)

	// missing entry
	assert.NoError(t, s.db.Delete(indexKey("team-alpha", 2025, 26), s.opts.PebbleWriteOptions))
	// wrong row
	assert.NoError(t, s.Index().Upsert("team-alpha", 2025, 25, loc1.StartRow+1))
	// entry with no block behind it
	assert.NoError(t, s.Index().Upsert("team-alpha", 2025, 40, 500))

	rep, err := s.Validate(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, rep.MissingIndex)
	assert.Equal(t, 1, rep.RowMismatch)
	assert.Equal(t, 1, rep.OrphanedIndex)
	assert.Equal(t, 3, rep.ErrorCount())
	assert.Equal(t, 4, rep.TotalScanned())
	assert.InDelta(t, 0.75, rep.ErrorRate(), 1e-9)
}

func TestRebuildRepairsEverything(t *testing.T) {
	s, dir := testStore(t)
	dir.AddScope("team-alpha")
	ctx := context.Background()

	loc1 := makeBlock(t, s, "team-alpha", 2025, 25)
	makeBlock(t, s, "team-alpha", 2025, 26)

	assert.NoError(t, s.db.Delete(indexKey("team-alpha", 2025, 26), s.opts.PebbleWriteOptions))
	assert.NoError(t, s.Index().Upsert("team-alpha", 2025, 25, loc1.StartRow+3))
	assert.NoError(t, s.Index().Upsert("team-alpha", 2025, 40, 500))

	rrep, err := s.Rebuild(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, rrep.Entries)

	vrep, err := s.Validate(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, vrep.ErrorCount())
	assert.Equal(t, 0.0, vrep.ErrorRate())
}

func TestRebuildIdempotent(t *testing.T) {
	s, dir := testStore(t)
	dir.AddScope("team-alpha")
	dir.AddScope("team-beta")
	ctx := context.Background()

	makeBlock(t, s, "team-alpha", 2025, 25)
	makeBlock(t, s, "team-alpha", 2025, 26)
	makeBlock(t, s, "team-beta", 2025, 26)

	first, err := s.Rebuild(ctx)
	assert.NoError(t, err)
	second, err := s.Rebuild(ctx)
	assert.NoError(t, err)

	assert.Equal(t, first.Entries, second.Entries)
	assert.Equal(t, first.Checksum, second.Checksum)
}

func TestRebuildKeepsIndexHeader(t *testing.T) {
	s, dir := testStore(t)
	dir.AddScope("team-alpha")
	ctx := context.Background()
	makeBlock(t, s, "team-alpha", 2025, 26)

	_, err := s.Rebuild(ctx)
	assert.NoError(t, err)

	val, closer, err := s.db.Get(indexHeaderKey)
	assert.NoError(t, err)
	assert.Equal(t, byte(indexFormatVersion), val[0])
	_ = closer.Close()
}

func TestOrphanedEntryForRetiredScope(t *testing.T) {
	s, dir := testStore(t)
	dir.AddScope("squad")
	ctx := context.Background()

	// block 2025-W25 at row 50
	_, err := s.CreateBlock(ctx, "squad", 2025, 25, 50)
	assert.NoError(t, err)
	assert.NoError(t, s.Index().Upsert("squad", 2025, 25, 50))

	dir.Retire("squad")

	rep, err := s.Validate(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, rep.OrphanedIndex)

	_, err = s.Rebuild(ctx)
	assert.NoError(t, err)
	entries, err := s.Index().ListForScope("squad", 0)
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAutoRebuildAtThreshold(t *testing.T) {
	s, dir := testStore(t)
	dir.AddScope("team-alpha")
	ctx := context.Background()

	makeBlock(t, s, "team-alpha", 2025, 26)
	assert.NoError(t, s.db.Delete(indexKey("team-alpha", 2025, 26), s.opts.PebbleWriteOptions))

	vrep, rrep, err := s.ValidateAndRepair(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, vrep.MissingIndex)
	assert.NotNil(t, rrep)
	assert.Equal(t, 1, rrep.Entries)

	after, err := s.Validate(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, after.ErrorRate())
}

func TestNoRebuildBelowThreshold(t *testing.T) {
	s, dir := testStore(t)
	dir.AddScope("team-alpha")
	ctx := context.Background()

	// 1 error over 20 blocks = 5%, under the 10% default
	for week := 1; week <= 20; week++ {
		makeBlock(t, s, "team-alpha", 2025, week)
	}
	assert.NoError(t, s.db.Delete(indexKey("team-alpha", 2025, 7), s.opts.PebbleWriteOptions))

	vrep, rrep, err := s.ValidateAndRepair(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, vrep.ErrorCount())
	assert.Nil(t, rrep)

	// the mismatch is still there, only logged
	_, err = s.Index().Lookup("team-alpha", 2025, 7)
	assert.Equal(t, ErrNotFound, err)
}
