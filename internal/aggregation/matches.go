package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
)

type matchesRow struct {
	Bucket  int64 `gorm:"column:bucket"`
	Match   int64 `gorm:"column:match_count"`
	NoMatch int64 `gorm:"column:no_match_count"`
	Total   int64 `gorm:"column:total"`
}

func (r matchesRow) summary() MatchesSummary {
	return MatchesSummary{Match: int(r.Match), NoMatch: int(r.NoMatch), Total: int(r.Total)}
}

func (e *Engine) matchesCounts() string {
	return fmt.Sprintf(
		"COALESCE(SUM(CASE WHEN %[1]s = ? THEN 1 ELSE 0 END), 0) AS match_count, "+
			"COALESCE(SUM(CASE WHEN %[1]s = ? THEN 0 ELSE 1 END), 0) AS no_match_count, "+
			"COUNT(*) AS total",
		e.columns.match)
}

// MatchesSummary counts the latest decision per MRN for declarations created in [from, to).
func (e *Engine) MatchesSummary(ctx context.Context, from, to time.Time) (MatchesSummary, error) {
	if err := ValidateWindow(from, to); err != nil {
		return MatchesSummary{}, err
	}
	cte, args := e.decisions.latestQuery(from, to, "", "")
	query := cte + "SELECT " + e.matchesCounts() + " FROM latest WHERE rn = 1"
	args = append(args, true, true)

	var row matchesRow
	if err := e.scan(ctx, &row, query, args...); err != nil {
		return MatchesSummary{}, fmt.Errorf("aggregation: matches summary: %w", err)
	}
	return row.summary(), nil
}

// MatchesBuckets splits the matches summary into gap-filled UTC buckets of MRN creation time.
func (e *Engine) MatchesBuckets(ctx context.Context, from, to time.Time, unit Unit) ([]Bucket[MatchesSummary], error) {
	if err := ValidateBuckets(from, to, unit); err != nil {
		return nil, err
	}
	cte, args := e.decisions.latestQuery(from, to, unit, "")
	query := cte + "SELECT bucket, " + e.matchesCounts() + " FROM latest WHERE rn = 1 GROUP BY bucket ORDER BY bucket"
	args = append(args, true, true)

	var rows []matchesRow
	if err := e.scan(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("aggregation: matches buckets: %w", err)
	}
	buckets := make([]Bucket[MatchesSummary], 0, len(rows))
	for _, row := range rows {
		buckets = append(buckets, Bucket[MatchesSummary]{Bucket: bucketTime(row.Bucket), Summary: row.summary()})
	}
	return fillGaps(buckets, from, to, unit), nil
}

// MatchesData returns the latest decision per MRN created in [from, to) whose outcome equals
// match, ordered by decision timestamp.
func (e *Engine) MatchesData(ctx context.Context, from, to time.Time, match bool) ([]entity.Decision, error) {
	if err := ValidateWindow(from, to); err != nil {
		return nil, err
	}
	cte, args := e.decisions.latestQuery(from, to, "", "")
	query := cte + fmt.Sprintf("SELECT * FROM latest WHERE rn = 1 AND %s = ? ORDER BY %s, %s",
		e.columns.match, e.decisions.order, e.decisions.id)
	args = append(args, match)

	records := make([]entity.Decision, 0)
	if err := e.scan(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("aggregation: matches data: %w", err)
	}
	return records, nil
}
