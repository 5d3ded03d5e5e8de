package weekblock

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// BlockCache holds the two ephemeral tiers: resolved locations (long TTL,
// trusted without re-verification) and parsed block content (short TTL,
// validated on every read). Neither tier is ever authoritative.
type BlockCache struct {
	locations *expirable.LRU[string, BlockLocation]
	contents  *expirable.LRU[string, *BlockContent]
}

const (
	locationCacheSize = 16384
	contentCacheSize  = 4096
)

func NewBlockCache(locationTTL, contentTTL time.Duration) *BlockCache {
	return &BlockCache{
		locations: expirable.NewLRU[string, BlockLocation](locationCacheSize, nil, locationTTL),
		contents:  expirable.NewLRU[string, *BlockContent](contentCacheSize, nil, contentTTL),
	}
}

func cacheKey(scope string, year, week int) string {
	return fmt.Sprintf("%s\x00%04d%02d", scope, year, week)
}

func (bc *BlockCache) GetLocation(scope string, year, week int) (BlockLocation, bool) {
	loc, ok := bc.locations.Get(cacheKey(scope, year, week))
	if ok {
		CacheHits.WithLabelValues("location").Inc()
	} else {
		CacheMisses.WithLabelValues("location").Inc()
	}
	return loc, ok
}

func (bc *BlockCache) PutLocation(loc BlockLocation) {
	bc.locations.Add(cacheKey(loc.Scope, loc.Year, loc.Week), loc)
}

// GetContent returns a cached parsed block. An entry that does not belong to
// the requested key, or that carries no grid at all, is evicted and reported
// as a miss instead of being handed back.
func (bc *BlockCache) GetContent(scope string, year, week int) (*BlockContent, bool) {
	key := cacheKey(scope, year, week)
	c, ok := bc.contents.Get(key)
	if !ok {
		CacheMisses.WithLabelValues("content").Inc()
		return nil, false
	}
	if c == nil || c.Grid == nil || c.Scope != scope || c.Year != year || c.Week != week {
		bc.contents.Remove(key)
		CacheMisses.WithLabelValues("content").Inc()
		return nil, false
	}
	CacheHits.WithLabelValues("content").Inc()
	return c, true
}

// PutContent stores a successfully parsed block. Error results never go in.
func (bc *BlockCache) PutContent(c *BlockContent) {
	if c == nil || c.Grid == nil {
		return
	}
	bc.contents.Add(cacheKey(c.Scope, c.Year, c.Week), c)
}

// InvalidateContent drops the parsed-content entry of one block. Every write
// to a block's availability, roster or changelog goes through here.
func (bc *BlockCache) InvalidateContent(scope string, year, week int) {
	bc.contents.Remove(cacheKey(scope, year, week))
}

// PurgeScope drops all entries of a retired scope from both tiers.
func (bc *BlockCache) PurgeScope(scope string) {
	prefix := scope + "\x00"
	for _, k := range bc.locations.Keys() {
		if strings.HasPrefix(k, prefix) {
			bc.locations.Remove(k)
		}
	}
	for _, k := range bc.contents.Keys() {
		if strings.HasPrefix(k, prefix) {
			bc.contents.Remove(k)
		}
	}
}
