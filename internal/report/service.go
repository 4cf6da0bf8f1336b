package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/aggregation"
	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
	"go.uber.org/zap"
)

var (
	errMissingQueries = errors.New("aggregation queries are required")
	noOpLogger        = zap.NewNop()
)

// ServiceError carries an operation.reason code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew        = "report.service.new"
	opSummary           = "report.summary"
	opIntervals         = "report.intervals"
	opLastReceived      = "report.last_received"
	opReleasesData      = "report.releases_data"
	opMatchesData       = "report.matches_data"
	opRequestsData      = "report.clearance_requests_data"
	opNotificationsData = "report.notifications_data"

	reasonInvalidParameters = "invalid_parameters"
	reasonQueryFailed       = "query_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Queries is the read surface of the aggregation engine.
type Queries interface {
	ReleasesSummary(ctx context.Context, from, to time.Time) (aggregation.ReleasesSummary, error)
	ReleasesBuckets(ctx context.Context, from, to time.Time, unit aggregation.Unit) ([]aggregation.Bucket[aggregation.ReleasesSummary], error)
	ReleasesData(ctx context.Context, from, to time.Time, releaseType entity.ReleaseType) ([]entity.Finalisation, error)
	MatchesSummary(ctx context.Context, from, to time.Time) (aggregation.MatchesSummary, error)
	MatchesBuckets(ctx context.Context, from, to time.Time, unit aggregation.Unit) ([]aggregation.Bucket[aggregation.MatchesSummary], error)
	MatchesData(ctx context.Context, from, to time.Time, match bool) ([]entity.Decision, error)
	ClearanceRequestsSummary(ctx context.Context, from, to time.Time) (aggregation.ClearanceRequestsSummary, error)
	ClearanceRequestsBuckets(ctx context.Context, from, to time.Time, unit aggregation.Unit) ([]aggregation.Bucket[aggregation.ClearanceRequestsBucket], error)
	ClearanceRequestsData(ctx context.Context, from, to time.Time) ([]entity.Request, error)
	NotificationsSummary(ctx context.Context, from, to time.Time) (aggregation.NotificationsSummary, error)
	NotificationsBuckets(ctx context.Context, from, to time.Time, unit aggregation.Unit) ([]aggregation.Bucket[aggregation.NotificationsSummary], error)
	NotificationsData(ctx context.Context, from, to time.Time, types ...entity.NotificationType) ([]entity.Notification, error)
	LatestRequest(ctx context.Context) (*aggregation.LastReceived, error)
	LatestFinalisation(ctx context.Context) (*aggregation.LastReceived, error)
	Watermark(ctx context.Context) (aggregation.Watermark, error)
}

// ServiceConfig describes the collaborators of the report service.
type ServiceConfig struct {
	Queries   Queries
	Clock     func() time.Time
	CacheSize int
	CacheTTL  time.Duration
	Logger    *zap.Logger
}

// Service composes the per-category queries into report responses.
type Service struct {
	queries Queries
	clock   func() time.Time
	cache   *resultCache
	logger  *zap.Logger
}

// NewService validates the configuration and constructs a Service. A zero CacheSize
// disables result caching.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Queries == nil {
		return nil, newServiceError(opServiceNew, "missing_queries", errMissingQueries)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		queries: cfg.Queries,
		clock:   clock,
		cache:   newResultCache(cfg.CacheSize, cfg.CacheTTL),
		logger:  logger,
	}, nil
}

// fail classifies err, logging everything except caller mistakes.
func (s *Service) fail(operation string, err error, fields ...zap.Field) error {
	if errors.Is(err, aggregation.ErrInvalidParameters) {
		return newServiceError(operation, reasonInvalidParameters, err)
	}
	if errors.Is(err, context.Canceled) {
		return newServiceError(operation, "canceled", err)
	}
	s.logError(operation, reasonQueryFailed, err, fields...)
	return newServiceError(operation, reasonQueryFailed, err)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("report service error", attrs...)
}

func windowFields(from, to time.Time) []zap.Field {
	return []zap.Field{zap.Time("from", from), zap.Time("to", to)}
}
