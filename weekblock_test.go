package weekblock

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	testutils "github.com/rosterd/weekblock/test_utils"
	"github.com/rosterd/weekblock/utils"
)

func testStore(t *testing.T) (*Store, *testutils.Directory) {
	t.Helper()
	dir := testutils.NewDirectory()
	s, err := Open(t.TempDir(), dir, dir, Options{
		Logger: utils.NewDefaultLogger(slog.LevelError),
	})
	assert.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func TestOpenClose(t *testing.T) {
	dir := testutils.NewDirectory()
	s, err := Open(t.TempDir(), dir, dir, Options{Logger: utils.NewDefaultLogger(slog.LevelError)})
	assert.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.Equal(t, ErrClosed, s.Close())
}

func TestDefaultBlockHeight(t *testing.T) {
	s, _ := testStore(t)
	assert.Equal(t, 11, s.opts.Slots())
}

func TestEnsureBlockExistsIdempotent(t *testing.T) {
	s, dir := testStore(t)
	dir.AddScope("team-alpha")
	ctx := context.Background()

	created, loc, err := s.EnsureBlockExists(ctx, "team-alpha", 2025, 26)
	assert.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, s.opts.HeaderOffset, loc.StartRow)
	assert.Equal(t, loc.StartRow+10, loc.EndRow)

	again, loc2, err := s.EnsureBlockExists(ctx, "team-alpha", 2025, 26)
	assert.NoError(t, err)
	assert.False(t, again)
	assert.Equal(t, loc, loc2)

	loc3, err := s.Resolve(ctx, "team-alpha", 2025, 26)
	assert.NoError(t, err)
	assert.Equal(t, loc.StartRow, loc3.StartRow)
}

func TestBlocksDoNotOverlap(t *testing.T) {
	s, dir := testStore(t)
	dir.AddScope("team-alpha")
	ctx := context.Background()

	var locs []BlockLocation
	for week := 20; week < 25; week++ {
		created, loc, err := s.EnsureBlockExists(ctx, "team-alpha", 2025, week)
		assert.NoError(t, err)
		assert.True(t, created)
		locs = append(locs, loc)
	}
	for i := 1; i < len(locs); i++ {
		assert.Equal(t, locs[i-1].EndRow+1, locs[i].StartRow)
	}

	entries, err := s.Index().ListForScope("team-alpha", s.opts.Slots())
	assert.NoError(t, err)
	assert.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, 20+i, e.Week)
		assert.Equal(t, locs[i].StartRow, e.StartRow)
		assert.Equal(t, locs[i].EndRow, e.EndRow)
	}
}

func TestConcurrentEnsureCreatesOneBlock(t *testing.T) {
	s, dir := testStore(t)
	dir.AddScope("team-alpha")
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	createdCount := make(chan bool, callers)
	starts := make(chan int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, loc, err := s.EnsureBlockExists(ctx, "team-alpha", 2025, 26)
			assert.NoError(t, err)
			createdCount <- created
			starts <- loc.StartRow
		}()
	}
	wg.Wait()
	close(createdCount)
	close(starts)

	creators := 0
	for c := range createdCount {
		if c {
			creators++
		}
	}
	assert.Equal(t, 1, creators)

	first := -1
	for start := range starts {
		if first == -1 {
			first = start
		}
		assert.Equal(t, first, start)
	}
}
