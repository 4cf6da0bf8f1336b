package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/aggregation"
	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
	"github.com/MarcoPoloResearchLab/clearance-reports/internal/report"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errMissingReportService = errors.New("report service dependency required")

// ReportService is the read surface the HTTP layer renders.
type ReportService interface {
	Summary(ctx context.Context, from, to time.Time) (report.Summary, error)
	Intervals(ctx context.Context, from, to time.Time, unit aggregation.Unit) (report.Intervals, error)
	LastReceived(ctx context.Context) (report.LastReceived, error)
	ReleasesData(ctx context.Context, from, to time.Time, releaseType entity.ReleaseType) ([]entity.Finalisation, error)
	MatchesData(ctx context.Context, from, to time.Time, match bool) ([]entity.Decision, error)
	ClearanceRequestsData(ctx context.Context, from, to time.Time) ([]entity.Request, error)
	NotificationsData(ctx context.Context, from, to time.Time, types ...entity.NotificationType) ([]entity.Notification, error)
}

type Dependencies struct {
	Reports        ReportService
	AllowedOrigins []string
	// HealthCheck is optional; a failure turns /health into 503.
	HealthCheck func(ctx context.Context) error
	Logger      *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Reports == nil {
		return nil, errMissingReportService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.Use(requestLogger(logger))

	handler := &httpHandler{
		reports:     deps.Reports,
		healthCheck: deps.HealthCheck,
		logger:      logger,
	}

	router.GET("/health", handler.handleHealth)
	router.GET("/summary", handler.handleSummary)
	router.GET("/intervals", handler.handleIntervals)
	router.GET("/last-received", handler.handleLastReceived)
	router.GET("/releases/data", handler.handleReleasesData)
	router.GET("/matches/data", handler.handleMatchesData)
	router.GET("/clearance-requests/data", handler.handleClearanceRequestsData)
	router.GET("/notifications/data", handler.handleNotificationsData)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Accept", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(started)))
	}
}

type httpHandler struct {
	reports     ReportService
	healthCheck func(ctx context.Context) error
	logger      *zap.Logger
}

type errorResponse struct {
	Error  string                   `json:"error"`
	Fields []aggregation.FieldError `json:"fields,omitempty"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.healthCheck != nil {
		if err := h.healthCheck(c.Request.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleSummary(c *gin.Context) {
	from, to, err := parseWindow(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	summary, err := h.reports.Summary(c.Request.Context(), from, to)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *httpHandler) handleIntervals(c *gin.Context) {
	from, to, unit, err := parseBucketWindow(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	intervals, err := h.reports.Intervals(c.Request.Context(), from, to, unit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, intervals)
}

func (h *httpHandler) handleLastReceived(c *gin.Context) {
	latest, err := h.reports.LastReceived(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, latest)
}

func (h *httpHandler) handleReleasesData(c *gin.Context) {
	from, to, err := parseWindow(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	releaseType, err := parseReleaseType(c.Query("releaseType"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	records, err := h.reports.ReleasesData(c.Request.Context(), from, to, releaseType)
	if err != nil {
		h.respondError(c, err)
		return
	}
	renderData(c, "releases", finalisationTable, records)
}

func (h *httpHandler) handleMatchesData(c *gin.Context) {
	from, to, err := parseWindow(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	match, err := parseMatch(c.Query("match"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	records, err := h.reports.MatchesData(c.Request.Context(), from, to, match)
	if err != nil {
		h.respondError(c, err)
		return
	}
	renderData(c, "matches", decisionTable, records)
}

func (h *httpHandler) handleClearanceRequestsData(c *gin.Context) {
	from, to, err := parseWindow(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	records, err := h.reports.ClearanceRequestsData(c.Request.Context(), from, to)
	if err != nil {
		h.respondError(c, err)
		return
	}
	renderData(c, "clearance-requests", requestTable, records)
}

func (h *httpHandler) handleNotificationsData(c *gin.Context) {
	from, to, err := parseWindow(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	types, err := parseNotificationTypes(c.QueryArray("chedType"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	records, err := h.reports.NotificationsData(c.Request.Context(), from, to, types...)
	if err != nil {
		h.respondError(c, err)
		return
	}
	renderData(c, "notifications", notificationTable, records)
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	var validationErr *aggregation.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_parameters", Fields: validationErr.Fields})
		return
	}
	h.logger.Error("report request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "query_failed"})
}
