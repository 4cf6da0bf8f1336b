package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
	"github.com/MarcoPoloResearchLab/clearance-reports/internal/store"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultMaxAttempts = 5

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
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
	opServiceNew          = "ingestion.service.new"
	opClearanceRequest    = "ingestion.clearance_request"
	opClearanceDecision   = "ingestion.clearance_decision"
	opFinalisation        = "ingestion.finalisation"
	opImportNotification  = "ingestion.import_notification"
	opMrnStatus           = "ingestion.mrn_status"
	reasonInvalidEvent    = "invalid_event"
	reasonRetriesExceeded = "conflict_retries_exhausted"
	reasonWriteFailed     = "write_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the collaborators of the ingestion service.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDProvider  store.IDProvider
	MaxAttempts int
	Logger      *zap.Logger
}

// Service persists decoded events as fact records, raw messages and MRN status updates.
type Service struct {
	db          *gorm.DB
	clock       func() time.Time
	idProvider  store.IDProvider
	maxAttempts int
	logger      *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = store.NewUUIDProvider()
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:          cfg.Database,
		clock:       clock,
		idProvider:  idProvider,
		maxAttempts: maxAttempts,
		logger:      logger,
	}, nil
}

func (s *Service) storeConfig() store.Config {
	return store.Config{Clock: s.clock, IDProvider: s.idProvider}
}

// HandleClearanceRequest stores a request fact and advances the MRN status.
func (s *Service) HandleClearanceRequest(ctx context.Context, event ClearanceRequestEvent) (Outcome, error) {
	record, err := entity.NewRequest(event.Mrn, event.Timestamp)
	if err != nil {
		s.logError(opClearanceRequest, reasonInvalidEvent, err, zap.String("mrn", event.Mrn))
		return Outcome{}, newServiceError(opClearanceRequest, reasonInvalidEvent, err)
	}
	return s.persist(ctx, opClearanceRequest, record.Mrn, func(tx *gorm.DB) error {
		if err := s.saveRaw(ctx, tx, MessageTypeClearanceRequest, record.Mrn, event.Payload); err != nil {
			return err
		}
		fact := record
		if err := insert(ctx, tx, s.storeConfig(), &fact); err != nil {
			return err
		}
		return s.applyStatus(ctx, tx, record.Mrn, requestReceived(record.Timestamp))
	})
}

// HandleClearanceDecision stores a decision fact and advances the MRN status.
func (s *Service) HandleClearanceDecision(ctx context.Context, event ClearanceDecisionEvent) (Outcome, error) {
	record, err := entity.NewDecision(event.Mrn, event.MrnCreated, event.Timestamp, event.Items)
	if err != nil {
		s.logError(opClearanceDecision, reasonInvalidEvent, err, zap.String("mrn", event.Mrn))
		return Outcome{}, newServiceError(opClearanceDecision, reasonInvalidEvent, err)
	}
	return s.persist(ctx, opClearanceDecision, record.Mrn, func(tx *gorm.DB) error {
		if err := s.saveRaw(ctx, tx, MessageTypeClearanceDecision, record.Mrn, event.Payload); err != nil {
			return err
		}
		fact := record
		if err := insert(ctx, tx, s.storeConfig(), &fact); err != nil {
			return err
		}
		return s.applyStatus(ctx, tx, record.Mrn, decisionReceived(record.Timestamp, record.Match))
	})
}

// HandleFinalisation stores a finalisation fact and advances the MRN status. Finalisations
// whose release type cannot be derived are logged in the raw message log only.
func (s *Service) HandleFinalisation(ctx context.Context, event FinalisationEvent) (Outcome, error) {
	record, ok, err := entity.NewFinalisation(event.Mrn, event.Timestamp, event.IsManualRelease, event.FinalState)
	if err != nil {
		s.logError(opFinalisation, reasonInvalidEvent, err, zap.String("mrn", event.Mrn))
		return Outcome{}, newServiceError(opFinalisation, reasonInvalidEvent, err)
	}
	mrn := event.Mrn
	if ok {
		mrn = record.Mrn
	}
	outcome, err := s.persist(ctx, opFinalisation, mrn, func(tx *gorm.DB) error {
		if err := s.saveRaw(ctx, tx, MessageTypeFinalisation, mrn, event.Payload); err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fact := record
		if err := insert(ctx, tx, s.storeConfig(), &fact); err != nil {
			return err
		}
		return s.applyStatus(ctx, tx, record.Mrn, finalisationReceived(record.Timestamp, record.ReleaseType))
	})
	if err == nil && !ok {
		outcome.Dropped = true
		s.logger.Info("finalisation dropped", zap.String("mrn", mrn), zap.String("reason", "unknown_release_type"))
	}
	return outcome, err
}

// HandleImportNotification stores a notification fact. Notifications with an unknown type
// are logged in the raw message log only.
func (s *Service) HandleImportNotification(ctx context.Context, event ImportNotificationEvent) (Outcome, error) {
	record, ok, err := entity.NewNotification(event.ReferenceNumber, event.Created, event.Timestamp, event.ImportNotificationType)
	if err != nil {
		s.logError(opImportNotification, reasonInvalidEvent, err, zap.String("reference_number", event.ReferenceNumber))
		return Outcome{}, newServiceError(opImportNotification, reasonInvalidEvent, err)
	}
	reference := event.ReferenceNumber
	if ok {
		reference = record.ReferenceNumber
	}
	outcome, err := s.persist(ctx, opImportNotification, reference, func(tx *gorm.DB) error {
		if err := s.saveRaw(ctx, tx, MessageTypeImportNotification, reference, event.Payload); err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fact := record
		return insert(ctx, tx, s.storeConfig(), &fact)
	})
	if err == nil && !ok {
		outcome.Dropped = true
		s.logger.Info("notification dropped",
			zap.String("reference_number", reference),
			zap.String("type", event.ImportNotificationType))
	}
	return outcome, err
}

// persist runs write inside a fresh transaction, retrying the whole operation when another
// writer wins a version check.
func (s *Service) persist(ctx context.Context, operation, key string, write func(tx *gorm.DB) error) (Outcome, error) {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{Attempts: attempt - 1}, newServiceError(operation, "canceled", ctxErr)
		}
		err = s.db.WithContext(ctx).Transaction(write)
		if err == nil {
			return Outcome{Attempts: attempt}, nil
		}
		if !errors.Is(err, store.ErrConcurrency) {
			s.logError(operation, reasonWriteFailed, err, zap.String("key", key), zap.Int("attempt", attempt))
			return Outcome{Attempts: attempt}, newServiceError(operation, reasonWriteFailed, err)
		}
		s.logger.Warn("ingestion conflict, retrying",
			zap.String("operation", operation),
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	s.logError(operation, reasonRetriesExceeded, err, zap.String("key", key), zap.Int("attempts", s.maxAttempts))
	return Outcome{Attempts: s.maxAttempts}, newServiceError(operation, reasonRetriesExceeded, err)
}

func (s *Service) saveRaw(ctx context.Context, tx *gorm.DB, messageType, resourceID string, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	message := &entity.RawMessage{
		MessageType: messageType,
		ResourceID:  resourceID,
		Received:    entity.MillisOf(s.clock()),
		Payload:     datatypes.JSON(payload),
	}
	return insert(ctx, tx, s.storeConfig(), message)
}

func insert[T entity.Entity](ctx context.Context, tx *gorm.DB, cfg store.Config, record T) error {
	unit := store.New[T](cfg)
	if err := unit.Insert(record); err != nil {
		return err
	}
	return unit.Save(ctx, tx)
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
	s.logger.Error("ingestion service error", attrs...)
}
