package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
)

type notificationsRow struct {
	Bucket int64 `gorm:"column:bucket"`
	ChedA  int64 `gorm:"column:ched_a"`
	ChedP  int64 `gorm:"column:ched_p"`
	ChedPp int64 `gorm:"column:ched_pp"`
	ChedD  int64 `gorm:"column:ched_d"`
	Total  int64 `gorm:"column:total"`
}

func (r notificationsRow) summary() NotificationsSummary {
	return NotificationsSummary{
		ChedA:  int(r.ChedA),
		ChedP:  int(r.ChedP),
		ChedPp: int(r.ChedPp),
		ChedD:  int(r.ChedD),
		Total:  int(r.Total),
	}
}

func (e *Engine) notificationsCounts() (string, []any) {
	selection := fmt.Sprintf(
		"COALESCE(SUM(CASE WHEN %[1]s = ? THEN 1 ELSE 0 END), 0) AS ched_a, "+
			"COALESCE(SUM(CASE WHEN %[1]s = ? THEN 1 ELSE 0 END), 0) AS ched_p, "+
			"COALESCE(SUM(CASE WHEN %[1]s = ? THEN 1 ELSE 0 END), 0) AS ched_pp, "+
			"COALESCE(SUM(CASE WHEN %[1]s = ? THEN 1 ELSE 0 END), 0) AS ched_d, "+
			"COUNT(*) AS total",
		e.columns.notificationType)
	args := []any{
		string(entity.NotificationTypeChedA),
		string(entity.NotificationTypeChedP),
		string(entity.NotificationTypeChedPP),
		string(entity.NotificationTypeChedD),
	}
	return selection, args
}

// NotificationsSummary counts the latest notification per reference number for
// notifications created in [from, to).
func (e *Engine) NotificationsSummary(ctx context.Context, from, to time.Time) (NotificationsSummary, error) {
	if err := ValidateWindow(from, to); err != nil {
		return NotificationsSummary{}, err
	}
	cte, args := e.notifications.latestQuery(from, to, "", "")
	selection, countArgs := e.notificationsCounts()
	query := cte + "SELECT " + selection + " FROM latest WHERE rn = 1"
	args = append(args, countArgs...)

	var row notificationsRow
	if err := e.scan(ctx, &row, query, args...); err != nil {
		return NotificationsSummary{}, fmt.Errorf("aggregation: notifications summary: %w", err)
	}
	return row.summary(), nil
}

// NotificationsBuckets splits the notifications summary into gap-filled UTC buckets of
// notification creation time.
func (e *Engine) NotificationsBuckets(ctx context.Context, from, to time.Time, unit Unit) ([]Bucket[NotificationsSummary], error) {
	if err := ValidateBuckets(from, to, unit); err != nil {
		return nil, err
	}
	cte, args := e.notifications.latestQuery(from, to, unit, "")
	selection, countArgs := e.notificationsCounts()
	query := cte + "SELECT bucket, " + selection + " FROM latest WHERE rn = 1 GROUP BY bucket ORDER BY bucket"
	args = append(args, countArgs...)

	var rows []notificationsRow
	if err := e.scan(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("aggregation: notifications buckets: %w", err)
	}
	buckets := make([]Bucket[NotificationsSummary], 0, len(rows))
	for _, row := range rows {
		buckets = append(buckets, Bucket[NotificationsSummary]{Bucket: bucketTime(row.Bucket), Summary: row.summary()})
	}
	return fillGaps(buckets, from, to, unit), nil
}

// NotificationsData returns the latest notification per reference number created in
// [from, to), restricted to types when any are given, ordered by timestamp.
func (e *Engine) NotificationsData(ctx context.Context, from, to time.Time, types ...entity.NotificationType) ([]entity.Notification, error) {
	if err := ValidateWindow(from, to); err != nil {
		return nil, err
	}
	cte, args := e.notifications.latestQuery(from, to, "", "")
	query := cte + "SELECT * FROM latest WHERE rn = 1"
	if len(types) > 0 {
		codes := make([]string, 0, len(types))
		for _, notificationType := range types {
			if notificationType == entity.NotificationTypeUnknown {
				return nil, newValidationError(FieldError{Field: "chedType", Reason: "must be a known notification type"})
			}
			codes = append(codes, string(notificationType))
		}
		query += fmt.Sprintf(" AND %s IN ?", e.columns.notificationType)
		args = append(args, codes)
	}
	query += fmt.Sprintf(" ORDER BY %s, %s", e.notifications.order, e.notifications.id)

	records := make([]entity.Notification, 0)
	if err := e.scan(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("aggregation: notifications data: %w", err)
	}
	return records, nil
}
