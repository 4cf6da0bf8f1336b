package ingestion

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
	"github.com/MarcoPoloResearchLab/clearance-reports/internal/store"
	"gorm.io/gorm"
)

// statusChange applies an event to the MRN status, recording every changed field in patch.
type statusChange func(status *entity.MrnStatus, patch *store.Patch)

func countEvent(status *entity.MrnStatus, patch *store.Patch) {
	status.Events++
	patch.Set("Events", status.Events)
}

func requestReceived(timestamp entity.Millis) statusChange {
	return func(status *entity.MrnStatus, patch *store.Patch) {
		countEvent(status, patch)
		if timestamp > status.LastRequest {
			status.LastRequest = timestamp
			patch.Set("LastRequest", timestamp)
		}
	}
}

func decisionReceived(timestamp entity.Millis, match bool) statusChange {
	return func(status *entity.MrnStatus, patch *store.Patch) {
		countEvent(status, patch)
		if timestamp >= status.LastDecision {
			status.LastDecision = timestamp
			status.Match = &match
			patch.Set("LastDecision", timestamp).Set("Match", status.Match)
		}
	}
}

func finalisationReceived(timestamp entity.Millis, releaseType entity.ReleaseType) statusChange {
	return func(status *entity.MrnStatus, patch *store.Patch) {
		countEvent(status, patch)
		if timestamp >= status.LastFinalisation {
			status.LastFinalisation = timestamp
			status.ReleaseType = releaseType
			patch.Set("LastFinalisation", timestamp).Set("ReleaseType", releaseType)
		}
	}
}

// applyStatus inserts the status for a new MRN or patches the existing one against the ETag
// it was read with.
func (s *Service) applyStatus(ctx context.Context, tx *gorm.DB, mrn string, change statusChange) error {
	unit := store.New[*entity.MrnStatus](s.storeConfig())

	var existing entity.MrnStatus
	err := tx.WithContext(ctx).Where(&entity.MrnStatus{Mrn: mrn}).Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		status := &entity.MrnStatus{Mrn: mrn}
		change(status, store.NewPatch())
		if err := unit.Insert(status); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		expectedETag := existing.ETag
		patch := store.NewPatch()
		change(&existing, patch)
		if err := unit.Patch(&existing, patch, expectedETag); err != nil {
			return err
		}
	}
	return unit.Save(ctx, tx)
}

// MrnStatus returns the current status view of one declaration, or nil when none exists.
func (s *Service) MrnStatus(ctx context.Context, mrn string) (*entity.MrnStatus, error) {
	var status entity.MrnStatus
	err := s.db.WithContext(ctx).Where(&entity.MrnStatus{Mrn: mrn}).Take(&status).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opMrnStatus, "select_failed", err)
		return nil, newServiceError(opMrnStatus, "select_failed", err)
	}
	return &status, nil
}
