package report

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/aggregation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Summary is the four-category overview of one window.
type Summary struct {
	Releases          aggregation.ReleasesSummary          `json:"releases"`
	Matches           aggregation.MatchesSummary           `json:"matches"`
	ClearanceRequests aggregation.ClearanceRequestsSummary `json:"clearanceRequests"`
	Notifications     aggregation.NotificationsSummary     `json:"notifications"`
}

// Intervals holds the four gap-filled bucket series of one window.
type Intervals struct {
	Releases          []aggregation.Bucket[aggregation.ReleasesSummary]         `json:"releases"`
	Matches           []aggregation.Bucket[aggregation.MatchesSummary]          `json:"matches"`
	ClearanceRequests []aggregation.Bucket[aggregation.ClearanceRequestsBucket] `json:"clearanceRequests"`
	Notifications     []aggregation.Bucket[aggregation.NotificationsSummary]    `json:"notifications"`
}

// LastReceived reports the most recent request and finalisation; either may be nil.
type LastReceived struct {
	Request      *aggregation.LastReceived `json:"request"`
	Finalisation *aggregation.LastReceived `json:"finalisation"`
}

func (s *Service) closed(to time.Time) bool {
	return !to.After(s.clock())
}

// lookup serves a cached report for a closed window when no fact has been written since it
// was computed. On a miss it returns the watermark a fresh report must be stored under; the
// watermark is read before the report so a write racing the computation forces a recompute.
func lookup[V any](ctx context.Context, s *Service, key string, to time.Time) (V, *aggregation.Watermark, bool, error) {
	var zero V
	if s.cache == nil || !s.closed(to) {
		return zero, nil, false, nil
	}
	mark, err := s.queries.Watermark(ctx)
	if err != nil {
		return zero, nil, false, err
	}
	if result, ok := cached[V](s.cache, key, mark); ok {
		return result, nil, true, nil
	}
	return zero, &mark, false, nil
}

// Summary runs the four category summaries for [from, to) concurrently.
func (s *Service) Summary(ctx context.Context, from, to time.Time) (Summary, error) {
	if err := aggregation.ValidateWindow(from, to); err != nil {
		return Summary{}, newServiceError(opSummary, reasonInvalidParameters, err)
	}
	key := cacheKey("summary", from, to, "")
	result, mark, hit, err := lookup[Summary](ctx, s, key, to)
	if err != nil {
		return Summary{}, s.fail(opSummary, err, windowFields(from, to)...)
	}
	if hit {
		return result, nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		summary, err := s.queries.ReleasesSummary(groupCtx, from, to)
		result.Releases = summary
		return err
	})
	group.Go(func() error {
		summary, err := s.queries.MatchesSummary(groupCtx, from, to)
		result.Matches = summary
		return err
	})
	group.Go(func() error {
		summary, err := s.queries.ClearanceRequestsSummary(groupCtx, from, to)
		result.ClearanceRequests = summary
		return err
	})
	group.Go(func() error {
		summary, err := s.queries.NotificationsSummary(groupCtx, from, to)
		result.Notifications = summary
		return err
	})
	if err := group.Wait(); err != nil {
		return Summary{}, s.fail(opSummary, err, windowFields(from, to)...)
	}

	if mark != nil {
		store(s.cache, key, *mark, result)
	}
	return result, nil
}

// Intervals runs the four bucketed queries for [from, to) concurrently.
func (s *Service) Intervals(ctx context.Context, from, to time.Time, unit aggregation.Unit) (Intervals, error) {
	if err := aggregation.ValidateBuckets(from, to, unit); err != nil {
		return Intervals{}, newServiceError(opIntervals, reasonInvalidParameters, err)
	}
	key := cacheKey("intervals", from, to, string(unit))
	result, mark, hit, err := lookup[Intervals](ctx, s, key, to)
	if err != nil {
		return Intervals{}, s.fail(opIntervals, err, append(windowFields(from, to), zap.String("unit", string(unit)))...)
	}
	if hit {
		return result, nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		buckets, err := s.queries.ReleasesBuckets(groupCtx, from, to, unit)
		result.Releases = buckets
		return err
	})
	group.Go(func() error {
		buckets, err := s.queries.MatchesBuckets(groupCtx, from, to, unit)
		result.Matches = buckets
		return err
	})
	group.Go(func() error {
		buckets, err := s.queries.ClearanceRequestsBuckets(groupCtx, from, to, unit)
		result.ClearanceRequests = buckets
		return err
	})
	group.Go(func() error {
		buckets, err := s.queries.NotificationsBuckets(groupCtx, from, to, unit)
		result.Notifications = buckets
		return err
	})
	if err := group.Wait(); err != nil {
		fields := append(windowFields(from, to), zap.String("unit", string(unit)))
		return Intervals{}, s.fail(opIntervals, err, fields...)
	}

	if mark != nil {
		store(s.cache, key, *mark, result)
	}
	return result, nil
}

// LastReceived reports the most recent request and finalisation. It is never cached.
func (s *Service) LastReceived(ctx context.Context) (LastReceived, error) {
	var result LastReceived
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		latest, err := s.queries.LatestRequest(groupCtx)
		result.Request = latest
		return err
	})
	group.Go(func() error {
		latest, err := s.queries.LatestFinalisation(groupCtx)
		result.Finalisation = latest
		return err
	})
	if err := group.Wait(); err != nil {
		return LastReceived{}, s.fail(opLastReceived, err)
	}
	return result, nil
}
