package report

import (
	"fmt"
	"slices"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/aggregation"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// resultCache holds composed reports keyed by window, each tagged with the fact watermark it
// was computed at. An entry is served only while the watermark is unchanged, so a late write
// into an already closed window invalidates it on the next read.
type resultCache struct {
	entries *expirable.LRU[string, cacheEntry]
}

type cacheEntry struct {
	mark  aggregation.Watermark
	value any
}

// cloner is implemented by reports that share backing arrays.
type cloner[V any] interface {
	clone() V
}

func newResultCache(size int, ttl time.Duration) *resultCache {
	if size <= 0 || ttl <= 0 {
		return nil
	}
	return &resultCache{entries: expirable.NewLRU[string, cacheEntry](size, nil, ttl)}
}

func cacheKey(kind string, from, to time.Time, unit string) string {
	return fmt.Sprintf("%s|%d|%d|%s", kind, from.UnixMilli(), to.UnixMilli(), unit)
}

func copyOf[V any](value V) V {
	if c, ok := any(value).(cloner[V]); ok {
		return c.clone()
	}
	return value
}

// cached returns a private copy of the entry for key when it was stored at mark.
func cached[V any](c *resultCache, key string, mark aggregation.Watermark) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	entry, ok := c.entries.Get(key)
	if !ok || entry.mark != mark {
		return zero, false
	}
	typed, ok := entry.value.(V)
	if !ok {
		return zero, false
	}
	return copyOf(typed), true
}

func store[V any](c *resultCache, key string, mark aggregation.Watermark, value V) {
	if c == nil {
		return
	}
	c.entries.Add(key, cacheEntry{mark: mark, value: copyOf(value)})
}

// Len reports the number of cached reports.
func (c *resultCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

func (i Intervals) clone() Intervals {
	return Intervals{
		Releases:          slices.Clone(i.Releases),
		Matches:           slices.Clone(i.Matches),
		ClearanceRequests: slices.Clone(i.ClearanceRequests),
		Notifications:     slices.Clone(i.Notifications),
	}
}
