package aggregation

import "time"

// fillGaps returns a dense ascending series: one bucket per aligned step from
// floor(from, unit) up to and including to, with zero summaries where no data exists.
func fillGaps[S any](buckets []Bucket[S], from, to time.Time, unit Unit) []Bucket[S] {
	found := make(map[int64]Bucket[S], len(buckets))
	for _, bucket := range buckets {
		found[bucket.Bucket.UnixMilli()] = bucket
	}

	step := unit.Duration()
	filled := make([]Bucket[S], 0, BucketCount(from, to, unit))
	for at := unit.Floor(from); !at.After(to); at = at.Add(step) {
		if bucket, ok := found[at.UnixMilli()]; ok {
			filled = append(filled, bucket)
			continue
		}
		var zero S
		filled = append(filled, Bucket[S]{Bucket: at, Summary: zero})
	}
	return filled
}

// BucketCount is the number of buckets a gap-filled series over [from, to] holds.
func BucketCount(from, to time.Time, unit Unit) int {
	if to.Before(from) {
		return 0
	}
	start := unit.Floor(from)
	return int(to.Sub(start)/unit.Duration()) + 1
}
