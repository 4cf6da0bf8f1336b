package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/aggregation"
	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
	"github.com/MarcoPoloResearchLab/clearance-reports/internal/report"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubReports struct {
	err               error
	calls             int
	lastFrom, lastTo  time.Time
	lastUnit          aggregation.Unit
	lastReleaseType   entity.ReleaseType
	lastMatch         bool
	lastTypes         []entity.NotificationType
	finalisations     []entity.Finalisation
	latestRequestMrn  string
	summaryReleases   int
	intervalsReleases int
}

func (s *stubReports) record(from, to time.Time) {
	s.calls++
	s.lastFrom, s.lastTo = from, to
}

func (s *stubReports) Summary(ctx context.Context, from, to time.Time) (report.Summary, error) {
	s.record(from, to)
	if s.err != nil {
		return report.Summary{}, s.err
	}
	return report.Summary{Releases: aggregation.ReleasesSummary{Total: s.summaryReleases}}, nil
}

func (s *stubReports) Intervals(ctx context.Context, from, to time.Time, unit aggregation.Unit) (report.Intervals, error) {
	s.record(from, to)
	s.lastUnit = unit
	buckets := make([]aggregation.Bucket[aggregation.ReleasesSummary], s.intervalsReleases)
	return report.Intervals{Releases: buckets}, s.err
}

func (s *stubReports) LastReceived(ctx context.Context) (report.LastReceived, error) {
	s.calls++
	if s.latestRequestMrn == "" {
		return report.LastReceived{}, s.err
	}
	return report.LastReceived{Request: &aggregation.LastReceived{Mrn: s.latestRequestMrn}}, s.err
}

func (s *stubReports) ReleasesData(ctx context.Context, from, to time.Time, releaseType entity.ReleaseType) ([]entity.Finalisation, error) {
	s.record(from, to)
	s.lastReleaseType = releaseType
	return s.finalisations, s.err
}

func (s *stubReports) MatchesData(ctx context.Context, from, to time.Time, match bool) ([]entity.Decision, error) {
	s.record(from, to)
	s.lastMatch = match
	return nil, s.err
}

func (s *stubReports) ClearanceRequestsData(ctx context.Context, from, to time.Time) ([]entity.Request, error) {
	s.record(from, to)
	return nil, s.err
}

func (s *stubReports) NotificationsData(ctx context.Context, from, to time.Time, types ...entity.NotificationType) ([]entity.Notification, error) {
	s.record(from, to)
	s.lastTypes = types
	return nil, s.err
}

func newTestHandler(t *testing.T, reports ReportService, logger *zap.Logger) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(Dependencies{Reports: reports, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func serve(handler http.Handler, target string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

const window = "from=2024-05-01T00:00:00Z&to=2024-05-02T00:00:00Z"

func TestSummaryParsesWindow(t *testing.T) {
	reports := &stubReports{summaryReleases: 7}
	handler := newTestHandler(t, reports, nil)

	recorder := serve(handler, "/summary?"+window)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	expectedFrom := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if !reports.lastFrom.Equal(expectedFrom) || reports.lastFrom.Location() != time.UTC {
		t.Fatalf("unexpected from: %v", reports.lastFrom)
	}
	var body report.Summary
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Releases.Total != 7 {
		t.Fatalf("unexpected body: %s", recorder.Body.String())
	}
}

func TestInvalidParametersReturnBadRequest(t *testing.T) {
	tests := []struct {
		name   string
		target string
		field  string
	}{
		{name: "missing from", target: "/summary?to=2024-05-02T00:00:00Z", field: "from"},
		{name: "bad to", target: "/intervals?from=2024-05-01T00:00:00Z&to=yesterday&unit=hour", field: "to"},
		{name: "bad unit", target: "/intervals?" + window + "&unit=minute", field: "unit"},
		{name: "bad release type", target: "/releases/data?" + window + "&releaseType=Cancelled", field: "releaseType"},
		{name: "bad match", target: "/matches/data?" + window + "&match=maybe", field: "match"},
		{name: "bad ched type", target: "/notifications/data?" + window + "&chedType=ChedX", field: "chedType"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			reports := &stubReports{}
			recorder := serve(newTestHandler(t, reports, nil), testCase.target)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", recorder.Code)
			}
			var body errorResponse
			if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Error != "invalid_parameters" || len(body.Fields) == 0 || body.Fields[0].Field != testCase.field {
				t.Fatalf("unexpected body: %s", recorder.Body.String())
			}
			if reports.calls != 0 {
				t.Fatalf("expected no service call")
			}
		})
	}
}

func TestServiceValidationErrorsReturnBadRequest(t *testing.T) {
	validation := &aggregation.ValidationError{Fields: []aggregation.FieldError{{Field: "to", Reason: "must not be before from"}}}
	reports := &stubReports{err: fmt.Errorf("report.summary.invalid_parameters: %w", validation)}

	recorder := serve(newTestHandler(t, reports, nil), "/summary?"+window)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"field":"to"`) {
		t.Fatalf("expected field details, got %s", recorder.Body.String())
	}
}

func TestQueryFailuresReturnServerError(t *testing.T) {
	core, recorded := observer.New(zap.ErrorLevel)
	reports := &stubReports{err: errors.New("connection reset")}

	recorder := serve(newTestHandler(t, reports, zap.New(core)), "/clearance-requests/data?"+window)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	if recorder.Body.String() != `{"error":"query_failed"}` {
		t.Fatalf("unexpected body: %s", recorder.Body.String())
	}
	if recorded.Len() != 1 {
		t.Fatalf("expected failure to be logged")
	}
}

func TestIntervalsPassesUnit(t *testing.T) {
	reports := &stubReports{intervalsReleases: 25}
	recorder := serve(newTestHandler(t, reports, nil), "/intervals?"+window+"&unit=hour")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if reports.lastUnit != aggregation.UnitHour {
		t.Fatalf("unexpected unit %q", reports.lastUnit)
	}
}

func TestLastReceivedRendersNulls(t *testing.T) {
	reports := &stubReports{latestRequestMrn: "MRN-1"}
	recorder := serve(newTestHandler(t, reports, nil), "/last-received")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"finalisation":null`) || !strings.Contains(recorder.Body.String(), `"mrn":"MRN-1"`) {
		t.Fatalf("unexpected body: %s", recorder.Body.String())
	}
}

func TestReleasesDataRendersJSONAndCSV(t *testing.T) {
	timestamp := time.Date(2024, 5, 1, 16, 8, 0, 0, time.UTC)
	reports := &stubReports{finalisations: []entity.Finalisation{{
		Versioned:   entity.Versioned{ID: "f1"},
		Mrn:         "MRN-1",
		Timestamp:   entity.MillisOf(timestamp),
		ReleaseType: entity.ReleaseTypeManual,
	}}}
	handler := newTestHandler(t, reports, nil)

	recorder := serve(handler, "/releases/data?"+window+"&releaseType=Manual")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if reports.lastReleaseType != entity.ReleaseTypeManual {
		t.Fatalf("unexpected release type %q", reports.lastReleaseType)
	}
	var records []finalisationPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &records); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(records) != 1 || records[0].Mrn != "MRN-1" || !records[0].Timestamp.Equal(timestamp) {
		t.Fatalf("unexpected records: %#v", records)
	}

	recorder = serve(handler, "/releases/data?"+window+"&releaseType=Manual&format=csv")
	if !strings.HasPrefix(recorder.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected content type %q", recorder.Header().Get("Content-Type"))
	}
	rows, err := csv.NewReader(recorder.Body).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse csv: %v", err)
	}
	if len(rows) != 2 || rows[0][1] != "mrn" || rows[1][2] != "2024-05-01T16:08:00Z" || rows[1][3] != "Manual" {
		t.Fatalf("unexpected csv: %v", rows)
	}
}

func TestDataFiltersAreParsed(t *testing.T) {
	reports := &stubReports{}
	handler := newTestHandler(t, reports, nil)

	if recorder := serve(handler, "/matches/data?"+window+"&match=false"); recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if reports.lastMatch {
		t.Fatalf("expected match=false")
	}

	recorder := serve(handler, "/notifications/data?"+window+"&chedType=cheda,ChedPp&chedType=ChedD")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	expected := []entity.NotificationType{entity.NotificationTypeChedA, entity.NotificationTypeChedPP, entity.NotificationTypeChedD}
	if fmt.Sprint(reports.lastTypes) != fmt.Sprint(expected) {
		t.Fatalf("unexpected types %v", reports.lastTypes)
	}
	if recorder.Body.String() != "[]" {
		t.Fatalf("expected empty array, got %s", recorder.Body.String())
	}
}

func TestHealthReportsCheckFailures(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(Dependencies{
		Reports:     &stubReports{},
		HealthCheck: func(context.Context) error { return errors.New("database is down") },
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	if recorder := serve(handler, "/health"); recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
	if recorder := serve(newTestHandler(t, &stubReports{}, nil), "/health"); recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestNewHTTPHandlerRequiresReports(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingReportService) {
		t.Fatalf("expected missing dependency error, got %v", err)
	}
}
