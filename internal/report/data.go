package report

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
	"go.uber.org/zap"
)

// ReleasesData exports the latest released finalisation per MRN of the given type.
func (s *Service) ReleasesData(ctx context.Context, from, to time.Time, releaseType entity.ReleaseType) ([]entity.Finalisation, error) {
	records, err := s.queries.ReleasesData(ctx, from, to, releaseType)
	if err != nil {
		return nil, s.fail(opReleasesData, err, append(windowFields(from, to), zap.String("release_type", string(releaseType)))...)
	}
	return records, nil
}

// MatchesData exports the latest decision per MRN with the given outcome.
func (s *Service) MatchesData(ctx context.Context, from, to time.Time, match bool) ([]entity.Decision, error) {
	records, err := s.queries.MatchesData(ctx, from, to, match)
	if err != nil {
		return nil, s.fail(opMatchesData, err, append(windowFields(from, to), zap.Bool("match", match))...)
	}
	return records, nil
}

// ClearanceRequestsData exports the latest request per MRN.
func (s *Service) ClearanceRequestsData(ctx context.Context, from, to time.Time) ([]entity.Request, error) {
	records, err := s.queries.ClearanceRequestsData(ctx, from, to)
	if err != nil {
		return nil, s.fail(opRequestsData, err, windowFields(from, to)...)
	}
	return records, nil
}

// NotificationsData exports the latest notification per reference number, optionally
// restricted to some notification types.
func (s *Service) NotificationsData(ctx context.Context, from, to time.Time, types ...entity.NotificationType) ([]entity.Notification, error) {
	records, err := s.queries.NotificationsData(ctx, from, to, types...)
	if err != nil {
		return nil, s.fail(opNotificationsData, err, append(windowFields(from, to), zap.Int("types", len(types)))...)
	}
	return records, nil
}
