package aggregation

import (
	"context"
	"fmt"
	"strings"
)

// Watermark fingerprints the contents of the fact collections. Facts are append-only, so any
// committed insert changes the row count of its collection; the greatest id guards against a
// delete and an insert cancelling out. Two equal watermarks mean no fact was written in between.
type Watermark struct {
	Requests      CollectionMark
	Decisions     CollectionMark
	Finalisations CollectionMark
	Notifications CollectionMark
}

// CollectionMark is the row count and greatest id of one collection.
type CollectionMark struct {
	Count int64
	MaxID string
}

type watermarkRow struct {
	RequestsCount      int64  `gorm:"column:requests_count"`
	RequestsMax        string `gorm:"column:requests_max"`
	DecisionsCount     int64  `gorm:"column:decisions_count"`
	DecisionsMax       string `gorm:"column:decisions_max"`
	FinalisationsCount int64  `gorm:"column:finalisations_count"`
	FinalisationsMax   string `gorm:"column:finalisations_max"`
	NotificationsCount int64  `gorm:"column:notifications_count"`
	NotificationsMax   string `gorm:"column:notifications_max"`
}

func (r reduction) markColumns(alias string) string {
	return fmt.Sprintf("(SELECT COUNT(*) FROM %[1]s) AS %[3]s_count, (SELECT COALESCE(MAX(%[2]s), '') FROM %[1]s) AS %[3]s_max",
		r.table, r.id, alias)
}

// Watermark reads the current fingerprint of every fact collection in one statement.
func (e *Engine) Watermark(ctx context.Context) (Watermark, error) {
	columns := []string{
		e.requests.markColumns("requests"),
		e.decisions.markColumns("decisions"),
		e.finalisations.markColumns("finalisations"),
		e.notifications.markColumns("notifications"),
	}
	query := "SELECT " + strings.Join(columns, ", ")

	var row watermarkRow
	if err := e.scan(ctx, &row, query); err != nil {
		return Watermark{}, fmt.Errorf("aggregation: watermark: %w", err)
	}
	return Watermark{
		Requests:      CollectionMark{Count: row.RequestsCount, MaxID: row.RequestsMax},
		Decisions:     CollectionMark{Count: row.DecisionsCount, MaxID: row.DecisionsMax},
		Finalisations: CollectionMark{Count: row.FinalisationsCount, MaxID: row.FinalisationsMax},
		Notifications: CollectionMark{Count: row.NotificationsCount, MaxID: row.NotificationsMax},
	}, nil
}
