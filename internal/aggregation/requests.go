package aggregation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
	"gorm.io/gorm"
)

type requestsRow struct {
	Bucket int64 `gorm:"column:bucket"`
	Unique int64 `gorm:"column:unique_count"`
	Total  int64 `gorm:"column:total"`
}

// ClearanceRequestsSummary counts distinct MRNs and raw request messages in [from, to).
func (e *Engine) ClearanceRequestsSummary(ctx context.Context, from, to time.Time) (ClearanceRequestsSummary, error) {
	if err := ValidateWindow(from, to); err != nil {
		return ClearanceRequestsSummary{}, err
	}
	cte, args := e.requests.latestQuery(from, to, "", "")
	query := cte + "SELECT COALESCE(SUM(CASE WHEN rn = 1 THEN 1 ELSE 0 END), 0) AS unique_count, COUNT(*) AS total FROM latest"

	var row requestsRow
	if err := e.scan(ctx, &row, query, args...); err != nil {
		return ClearanceRequestsSummary{}, fmt.Errorf("aggregation: clearance requests summary: %w", err)
	}
	return ClearanceRequestsSummary{Unique: int(row.Unique), Total: int(row.Total)}, nil
}

// ClearanceRequestsBuckets reports distinct MRNs per gap-filled UTC bucket.
func (e *Engine) ClearanceRequestsBuckets(ctx context.Context, from, to time.Time, unit Unit) ([]Bucket[ClearanceRequestsBucket], error) {
	if err := ValidateBuckets(from, to, unit); err != nil {
		return nil, err
	}
	cte, args := e.requests.latestQuery(from, to, unit, "")
	query := cte + "SELECT bucket, COUNT(*) AS unique_count FROM latest WHERE rn = 1 GROUP BY bucket ORDER BY bucket"

	var rows []requestsRow
	if err := e.scan(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("aggregation: clearance requests buckets: %w", err)
	}
	buckets := make([]Bucket[ClearanceRequestsBucket], 0, len(rows))
	for _, row := range rows {
		buckets = append(buckets, Bucket[ClearanceRequestsBucket]{
			Bucket:  bucketTime(row.Bucket),
			Summary: ClearanceRequestsBucket{Unique: int(row.Unique)},
		})
	}
	return fillGaps(buckets, from, to, unit), nil
}

// ClearanceRequestsData returns the latest request per MRN in [from, to), ordered by timestamp.
func (e *Engine) ClearanceRequestsData(ctx context.Context, from, to time.Time) ([]entity.Request, error) {
	if err := ValidateWindow(from, to); err != nil {
		return nil, err
	}
	cte, args := e.requests.latestQuery(from, to, "", "")
	query := cte + fmt.Sprintf("SELECT * FROM latest WHERE rn = 1 ORDER BY %s, %s", e.requests.order, e.requests.id)

	records := make([]entity.Request, 0)
	if err := e.scan(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("aggregation: clearance requests data: %w", err)
	}
	return records, nil
}

// LatestRequest returns the most recent request regardless of window, or nil when none exist.
func (e *Engine) LatestRequest(ctx context.Context) (*LastReceived, error) {
	var record entity.Request
	if err := e.latest(ctx, e.requests, &record); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("aggregation: latest request: %w", err)
	}
	return &LastReceived{Timestamp: record.Timestamp.Time(), Mrn: record.Mrn}, nil
}

// LatestFinalisation returns the most recent finalisation regardless of window, or nil when
// none exist.
func (e *Engine) LatestFinalisation(ctx context.Context) (*LastReceived, error) {
	var record entity.Finalisation
	if err := e.latest(ctx, e.finalisations, &record); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("aggregation: latest finalisation: %w", err)
	}
	return &LastReceived{Timestamp: record.Timestamp.Time(), Mrn: record.Mrn}, nil
}

func (e *Engine) latest(ctx context.Context, r reduction, dest any) error {
	return e.db.WithContext(ctx).
		Order(r.order + " DESC, " + r.id + " DESC").
		Take(dest).Error
}
