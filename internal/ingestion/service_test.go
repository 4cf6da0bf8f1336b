package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/database"
	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

var testNow = time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("id-%05d", p.next), nil
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(database.Config{
		Driver:      database.DriverSQLite,
		DSN:         filepath.Join(t.TempDir(), "ingestion.db"),
		FieldNaming: database.NamingSnake,
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(context.Background(), db, zap.NewNop()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, logger *zap.Logger, maxAttempts int) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:    db,
		Clock:       func() time.Time { return testNow },
		IDProvider:  &sequenceIDProvider{},
		MaxAttempts: maxAttempts,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("failed to construct ingestion service: %v", err)
	}
	return service
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 5, 1, hour, minute, 0, 0, time.UTC)
}

func boolPointer(value bool) *bool {
	return &value
}

func mustCount(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	return count
}

func mustStatus(t *testing.T, service *Service, mrn string) *entity.MrnStatus {
	t.Helper()
	status, err := service.MrnStatus(context.Background(), mrn)
	if err != nil {
		t.Fatalf("failed to load status: %v", err)
	}
	if status == nil {
		t.Fatalf("expected status for %s", mrn)
	}
	return status
}

// stealETag rewrites the status etag before the next updates so that the version check fails.
func stealETag(t *testing.T, db *gorm.DB, times int) {
	t.Helper()
	remaining := times
	err := db.Callback().Update().Before("gorm:update").Register("test:steal_etag", func(tx *gorm.DB) {
		if remaining == 0 || tx.Statement.Table != entity.CollectionMrnStatus {
			return
		}
		remaining--
		column := tx.Statement.Schema.LookUpField("ETag").DBName
		statement := fmt.Sprintf("UPDATE %s SET %s = ?", entity.CollectionMrnStatus, column)
		tx.Session(&gorm.Session{NewDB: true}).Exec(statement, "foreign")
	})
	if err != nil {
		t.Fatalf("failed to register callback: %v", err)
	}
}

func TestHandleClearanceRequestStoresFactRawMessageAndStatus(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, nil, 3)

	outcome, err := service.HandleClearanceRequest(context.Background(), ClearanceRequestEvent{
		Mrn:       " MRN-1 ",
		Timestamp: at(16, 8),
		Payload:   json.RawMessage(`{"header":{"entryReference":"MRN-1"}}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Dropped || outcome.Attempts != 1 {
		t.Fatalf("unexpected outcome: %#v", outcome)
	}

	var requests []entity.Request
	if err := db.Find(&requests).Error; err != nil {
		t.Fatalf("failed to load requests: %v", err)
	}
	if len(requests) != 1 || requests[0].Mrn != "MRN-1" || requests[0].Timestamp != entity.MillisOf(at(16, 8)) {
		t.Fatalf("unexpected requests: %#v", requests)
	}

	var messages []entity.RawMessage
	if err := db.Find(&messages).Error; err != nil {
		t.Fatalf("failed to load raw messages: %v", err)
	}
	if len(messages) != 1 || messages[0].MessageType != MessageTypeClearanceRequest || messages[0].ResourceID != "MRN-1" {
		t.Fatalf("unexpected raw messages: %#v", messages)
	}
	if messages[0].Received != entity.MillisOf(testNow) {
		t.Fatalf("expected received stamp from clock, got %v", messages[0].Received)
	}

	status := mustStatus(t, service, "MRN-1")
	if status.Events != 1 || status.LastRequest != entity.MillisOf(at(16, 8)) {
		t.Fatalf("unexpected status: %#v", status)
	}
}

func TestStatusFollowsLifecycle(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, nil, 3)
	ctx := context.Background()

	if _, err := service.HandleClearanceRequest(ctx, ClearanceRequestEvent{Mrn: "MRN-2", Timestamp: at(10, 0)}); err != nil {
		t.Fatalf("request: %v", err)
	}
	_, err := service.HandleClearanceDecision(ctx, ClearanceDecisionEvent{
		Mrn:        "MRN-2",
		MrnCreated: at(9, 0),
		Timestamp:  at(10, 5),
		Items: []entity.DecisionItem{{ItemNumber: 1, Checks: []entity.DecisionCheck{
			{CheckCode: "H222", DecisionCode: entity.DecisionCodeNoMatch},
		}}},
	})
	if err != nil {
		t.Fatalf("decision: %v", err)
	}
	_, err = service.HandleFinalisation(ctx, FinalisationEvent{
		Mrn:             "MRN-2",
		Timestamp:       at(11, 0),
		IsManualRelease: boolPointer(true),
	})
	if err != nil {
		t.Fatalf("finalisation: %v", err)
	}

	status := mustStatus(t, service, "MRN-2")
	if status.Events != 3 {
		t.Fatalf("expected 3 events, got %d", status.Events)
	}
	if status.Match == nil || *status.Match {
		t.Fatalf("expected recorded no-match, got %v", status.Match)
	}
	if status.ReleaseType != entity.ReleaseTypeManual || status.LastFinalisation != entity.MillisOf(at(11, 0)) {
		t.Fatalf("unexpected finalisation state: %#v", status)
	}
	if mustCount(t, db, &entity.RawMessage{}) != 3 {
		t.Fatalf("expected one raw message per event")
	}
}

func TestOlderDecisionDoesNotOverwriteStatus(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, nil, 3)
	ctx := context.Background()

	matched := ClearanceDecisionEvent{Mrn: "MRN-3", MrnCreated: at(9, 0), Timestamp: at(12, 0)}
	if _, err := service.HandleClearanceDecision(ctx, matched); err != nil {
		t.Fatalf("decision: %v", err)
	}
	stale := ClearanceDecisionEvent{
		Mrn:        "MRN-3",
		MrnCreated: at(9, 0),
		Timestamp:  at(11, 0),
		Items:      []entity.DecisionItem{{Checks: []entity.DecisionCheck{{DecisionCode: "X00"}}}},
	}
	if _, err := service.HandleClearanceDecision(ctx, stale); err != nil {
		t.Fatalf("decision: %v", err)
	}

	status := mustStatus(t, service, "MRN-3")
	if status.Match == nil || !*status.Match || status.LastDecision != entity.MillisOf(at(12, 0)) {
		t.Fatalf("expected newest decision to win, got %#v", status)
	}
	if status.Events != 2 {
		t.Fatalf("expected both events counted, got %d", status.Events)
	}
	if mustCount(t, db, &entity.Decision{}) != 2 {
		t.Fatalf("expected both decision facts to be stored")
	}
}

func TestUnknownReleaseTypeIsDropped(t *testing.T) {
	db := openTestDatabase(t)
	core, recorded := observer.New(zap.InfoLevel)
	service := newTestService(t, db, zap.New(core), 3)

	outcome, err := service.HandleFinalisation(context.Background(), FinalisationEvent{Mrn: "MRN-4", Timestamp: at(9, 0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Dropped {
		t.Fatalf("expected dropped outcome")
	}
	if mustCount(t, db, &entity.Finalisation{}) != 0 {
		t.Fatalf("expected no finalisation fact")
	}
	if mustCount(t, db, &entity.RawMessage{}) != 1 {
		t.Fatalf("expected the raw message to be kept")
	}
	status, err := service.MrnStatus(context.Background(), "MRN-4")
	if err != nil || status != nil {
		t.Fatalf("expected no status, got %#v (%v)", status, err)
	}
	if recorded.FilterMessage("finalisation dropped").Len() != 1 {
		t.Fatalf("expected drop to be logged")
	}
}

func TestHandleImportNotification(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, nil, 3)
	ctx := context.Background()

	outcome, err := service.HandleImportNotification(ctx, ImportNotificationEvent{
		ReferenceNumber:        "CHEDA.GB.2024.0000001",
		Created:                at(8, 0),
		Timestamp:              at(8, 30),
		ImportNotificationType: "cveda",
	})
	if err != nil || outcome.Dropped {
		t.Fatalf("unexpected result: %#v (%v)", outcome, err)
	}
	var stored entity.Notification
	if err := db.Take(&stored).Error; err != nil {
		t.Fatalf("failed to load notification: %v", err)
	}
	if stored.NotificationType != entity.NotificationTypeChedA || stored.NotificationCreated != entity.MillisOf(at(8, 0)) {
		t.Fatalf("unexpected notification: %#v", stored)
	}

	outcome, err = service.HandleImportNotification(ctx, ImportNotificationEvent{
		ReferenceNumber:        "X.1",
		Created:                at(8, 0),
		Timestamp:              at(8, 30),
		ImportNotificationType: "IMP",
	})
	if err != nil || !outcome.Dropped {
		t.Fatalf("expected unknown type to be dropped: %#v (%v)", outcome, err)
	}
	if mustCount(t, db, &entity.Notification{}) != 1 || mustCount(t, db, &entity.MrnStatus{}) != 0 {
		t.Fatalf("unexpected stored rows")
	}
}

func TestInvalidEventIsRejectedWithoutWrites(t *testing.T) {
	db := openTestDatabase(t)
	core, recorded := observer.New(zap.ErrorLevel)
	service := newTestService(t, db, zap.New(core), 3)

	tests := []struct {
		name string
		run  func() error
		code string
	}{
		{
			name: "empty mrn",
			run: func() error {
				_, err := service.HandleClearanceRequest(context.Background(), ClearanceRequestEvent{Mrn: "  ", Timestamp: at(1, 0)})
				return err
			},
			code: "ingestion.clearance_request.invalid_event",
		},
		{
			name: "non utc timestamp",
			run: func() error {
				local := time.Date(2024, 5, 1, 1, 0, 0, 0, time.FixedZone("CET", 3600))
				_, err := service.HandleFinalisation(context.Background(), FinalisationEvent{Mrn: "MRN-5", Timestamp: local})
				return err
			},
			code: "ingestion.finalisation.invalid_event",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			err := testCase.run()
			var serviceErr *ServiceError
			if !errors.As(err, &serviceErr) || serviceErr.Code() != testCase.code {
				t.Fatalf("expected %s, got %v", testCase.code, err)
			}
		})
	}
	if mustCount(t, db, &entity.RawMessage{}) != 0 {
		t.Fatalf("expected no writes for invalid events")
	}
	if recorded.Len() != len(tests) {
		t.Fatalf("expected %d logged errors, got %d", len(tests), recorded.Len())
	}
}

func TestConflictIsRetriedInFreshTransaction(t *testing.T) {
	db := openTestDatabase(t)
	core, recorded := observer.New(zap.WarnLevel)
	service := newTestService(t, db, zap.New(core), 3)
	ctx := context.Background()

	if _, err := service.HandleClearanceRequest(ctx, ClearanceRequestEvent{Mrn: "MRN-6", Timestamp: at(10, 0)}); err != nil {
		t.Fatalf("request: %v", err)
	}
	stealETag(t, db, 1)

	outcome, err := service.HandleClearanceRequest(ctx, ClearanceRequestEvent{Mrn: "MRN-6", Timestamp: at(10, 30)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Attempts != 2 {
		t.Fatalf("expected second attempt to succeed, got %d", outcome.Attempts)
	}
	if mustCount(t, db, &entity.Request{}) != 2 || mustCount(t, db, &entity.RawMessage{}) != 2 {
		t.Fatalf("expected the failed attempt to be rolled back")
	}
	status := mustStatus(t, service, "MRN-6")
	if status.Events != 2 || status.LastRequest != entity.MillisOf(at(10, 30)) {
		t.Fatalf("unexpected status: %#v", status)
	}
	if recorded.FilterMessage("ingestion conflict, retrying").Len() != 1 {
		t.Fatalf("expected one retry warning, got %d", recorded.Len())
	}
}

func TestConflictRetriesAreBounded(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, nil, 2)
	ctx := context.Background()

	if _, err := service.HandleClearanceRequest(ctx, ClearanceRequestEvent{Mrn: "MRN-7", Timestamp: at(10, 0)}); err != nil {
		t.Fatalf("request: %v", err)
	}
	stealETag(t, db, 10)

	outcome, err := service.HandleClearanceRequest(ctx, ClearanceRequestEvent{Mrn: "MRN-7", Timestamp: at(11, 0)})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "ingestion.clearance_request.conflict_retries_exhausted" {
		t.Fatalf("expected exhausted retries, got %v", err)
	}
	if outcome.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", outcome.Attempts)
	}
	if mustCount(t, db, &entity.Request{}) != 1 {
		t.Fatalf("expected no partial writes")
	}
}

func TestCanceledContextStopsBeforeWriting(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, nil, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.HandleClearanceRequest(ctx, ClearanceRequestEvent{Mrn: "MRN-8", Timestamp: at(10, 0)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if mustCount(t, db, &entity.RawMessage{}) != 0 {
		t.Fatalf("expected no writes")
	}
}

func TestNewServiceRequiresDatabase(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
