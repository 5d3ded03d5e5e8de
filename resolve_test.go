package weekblock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveNotFound(t *testing.T) {
	s, dir := testStore(t)
	dir.AddScope("team-alpha")

	_, err := s.Resolve(context.Background(), "team-alpha", 2025, 26)
	assert.Equal(t, ErrNotFound, err)
}

func TestResolveSelfHealRoundTrip(t *testing.T) {
	s, dir := testStore(t)
	dir.AddScope("team-alpha")
	ctx := context.Background()

	_, loc, err := s.EnsureBlockExists(ctx, "team-alpha", 2025, 26)
	assert.NoError(t, err)

	// knock out both warm tiers
	assert.NoError(t, s.db.Delete(indexKey("team-alpha", 2025, 26), s.opts.PebbleWriteOptions))
	s.Cache().PurgeScope("team-alpha")
	_, err = s.Index().Lookup("team-alpha", 2025, 26)
	assert.Equal(t, ErrNotFound, err)

	healed, err := s.Resolve(ctx, "team-alpha", 2025, 26)
	assert.NoError(t, err)
	assert.Equal(t, loc.StartRow, healed.StartRow)

	// both tiers repopulated
	start, err := s.Index().Lookup("team-alpha", 2025, 26)
	assert.NoError(t, err)
	assert.Equal(t, loc.StartRow, start)
	cached, ok := s.Cache().GetLocation("team-alpha", 2025, 26)
	assert.True(t, ok)
	assert.Equal(t, loc.StartRow, cached.StartRow)
}

func TestResolveCacheHitIsTrusted(t *testing.T) {
	s, dir := testStore(t)
	dir.AddScope("team-alpha")
	ctx := context.Background()

	_, loc, err := s.EnsureBlockExists(ctx, "team-alpha", 2025, 26)
	assert.NoError(t, err)

	// even with the index entry gone, the cached location is returned as-is
	assert.NoError(t, s.db.Delete(indexKey("team-alpha", 2025, 26), s.opts.PebbleWriteOptions))
	got, err := s.Resolve(ctx, "team-alpha", 2025, 26)
	assert.NoError(t, err)
	assert.Equal(t, loc.StartRow, got.StartRow)
}

func TestResolveStaleScopePurgesIndex(t *testing.T) {
	s, dir := testStore(t)
	dir.AddScope("team-alpha")
	ctx := context.Background()

	_, _, err := s.EnsureBlockExists(ctx, "team-alpha", 2025, 26)
	assert.NoError(t, err)

	dir.Retire("team-alpha")
	s.Cache().PurgeScope("team-alpha")

	_, err = s.Resolve(ctx, "team-alpha", 2025, 26)
	assert.Equal(t, ErrNotFound, err)

	// the stale entry was deleted as a side effect, not just skipped
	_, closer, gerr := s.db.Get(indexKey("team-alpha", 2025, 26))
	if closer != nil {
		_ = closer.Close()
	}
	assert.Error(t, gerr)
}

func TestResolveDoesNotHealRetiredScope(t *testing.T) {
	s, dir := testStore(t)
	dir.AddScope("team-alpha")
	ctx := context.Background()

	_, _, err := s.EnsureBlockExists(ctx, "team-alpha", 2025, 26)
	assert.NoError(t, err)

	// rows still on disk, but the scope is gone: scan must not resurrect it
	dir.Retire("team-alpha")
	s.Cache().PurgeScope("team-alpha")
	assert.NoError(t, s.db.Delete(indexKey("team-alpha", 2025, 26), s.opts.PebbleWriteOptions))

	_, err = s.Resolve(ctx, "team-alpha", 2025, 26)
	assert.Equal(t, ErrNotFound, err)
	_, err = s.Index().Lookup("team-alpha", 2025, 26)
	assert.Equal(t, ErrNotFound, err)
}
