package database

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PruneRawMessages deletes raw messages received before cutoff and reports how many were removed.
func PruneRawMessages(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	column, err := columnName(db, &entity.RawMessage{}, "Received")
	if err != nil {
		return 0, err
	}
	result := db.WithContext(ctx).
		Where(clause.Lt{Column: clause.Column{Name: column}, Value: entity.MillisOf(cutoff).Int64()}).
		Delete(&entity.RawMessage{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune raw messages: %w", result.Error)
	}
	return result.RowsAffected, nil
}
