package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
)

type releasesRow struct {
	Bucket    int64 `gorm:"column:bucket"`
	Automatic int64 `gorm:"column:automatic"`
	Manual    int64 `gorm:"column:manual"`
	Total     int64 `gorm:"column:total"`
}

func (r releasesRow) summary() ReleasesSummary {
	return ReleasesSummary{Automatic: int(r.Automatic), Manual: int(r.Manual), Total: int(r.Total)}
}

func (e *Engine) releasedFilter() (string, []any) {
	return fmt.Sprintf("%s IN ?", e.columns.releaseType),
		[]any{[]string{string(entity.ReleaseTypeAutomatic), string(entity.ReleaseTypeManual)}}
}

func (e *Engine) releasesCounts() string {
	return fmt.Sprintf(
		"COALESCE(SUM(CASE WHEN %[1]s = ? THEN 1 ELSE 0 END), 0) AS automatic, "+
			"COALESCE(SUM(CASE WHEN %[1]s = ? THEN 1 ELSE 0 END), 0) AS manual, "+
			"COUNT(*) AS total",
		e.columns.releaseType)
}

// ReleasesSummary counts the latest released finalisation per MRN in [from, to).
func (e *Engine) ReleasesSummary(ctx context.Context, from, to time.Time) (ReleasesSummary, error) {
	if err := ValidateWindow(from, to); err != nil {
		return ReleasesSummary{}, err
	}
	filter, filterArgs := e.releasedFilter()
	cte, args := e.finalisations.latestQuery(from, to, "", filter, filterArgs...)
	query := cte + "SELECT " + e.releasesCounts() + " FROM latest WHERE rn = 1"
	args = append(args, string(entity.ReleaseTypeAutomatic), string(entity.ReleaseTypeManual))

	var row releasesRow
	if err := e.scan(ctx, &row, query, args...); err != nil {
		return ReleasesSummary{}, fmt.Errorf("aggregation: releases summary: %w", err)
	}
	return row.summary(), nil
}

// ReleasesBuckets splits the releases summary into gap-filled UTC buckets.
func (e *Engine) ReleasesBuckets(ctx context.Context, from, to time.Time, unit Unit) ([]Bucket[ReleasesSummary], error) {
	if err := ValidateBuckets(from, to, unit); err != nil {
		return nil, err
	}
	filter, filterArgs := e.releasedFilter()
	cte, args := e.finalisations.latestQuery(from, to, unit, filter, filterArgs...)
	query := cte + "SELECT bucket, " + e.releasesCounts() + " FROM latest WHERE rn = 1 GROUP BY bucket ORDER BY bucket"
	args = append(args, string(entity.ReleaseTypeAutomatic), string(entity.ReleaseTypeManual))

	var rows []releasesRow
	if err := e.scan(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("aggregation: releases buckets: %w", err)
	}
	buckets := make([]Bucket[ReleasesSummary], 0, len(rows))
	for _, row := range rows {
		buckets = append(buckets, Bucket[ReleasesSummary]{Bucket: bucketTime(row.Bucket), Summary: row.summary()})
	}
	return fillGaps(buckets, from, to, unit), nil
}

// ReleasesData returns the latest released finalisation per MRN in [from, to) whose
// release type equals releaseType, ordered by timestamp.
func (e *Engine) ReleasesData(ctx context.Context, from, to time.Time, releaseType entity.ReleaseType) ([]entity.Finalisation, error) {
	if err := ValidateWindow(from, to); err != nil {
		return nil, err
	}
	if !releaseType.Released() {
		return nil, newValidationError(FieldError{Field: "releaseType", Reason: "must be one of Automatic, Manual"})
	}
	filter, filterArgs := e.releasedFilter()
	cte, args := e.finalisations.latestQuery(from, to, "", filter, filterArgs...)
	query := cte + fmt.Sprintf("SELECT * FROM latest WHERE rn = 1 AND %s = ? ORDER BY %s, %s",
		e.columns.releaseType, e.finalisations.order, e.finalisations.id)
	args = append(args, string(releaseType))

	records := make([]entity.Finalisation, 0)
	if err := e.scan(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("aggregation: releases data: %w", err)
	}
	return records, nil
}
