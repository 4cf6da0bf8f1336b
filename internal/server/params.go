package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/aggregation"
	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
	"github.com/gin-gonic/gin"
)

const reasonTimestamp = "must be an RFC3339 timestamp"

func invalid(fields ...aggregation.FieldError) error {
	return &aggregation.ValidationError{Fields: fields}
}

// parseWindow reads from and to. Range rules are left to the report service.
func parseWindow(c *gin.Context) (time.Time, time.Time, error) {
	var fields []aggregation.FieldError
	from, err := time.Parse(time.RFC3339Nano, c.Query("from"))
	if err != nil {
		fields = append(fields, aggregation.FieldError{Field: "from", Reason: reasonTimestamp})
	}
	to, err := time.Parse(time.RFC3339Nano, c.Query("to"))
	if err != nil {
		fields = append(fields, aggregation.FieldError{Field: "to", Reason: reasonTimestamp})
	}
	if len(fields) > 0 {
		return time.Time{}, time.Time{}, invalid(fields...)
	}
	return from, to, nil
}

func parseBucketWindow(c *gin.Context) (time.Time, time.Time, aggregation.Unit, error) {
	from, to, err := parseWindow(c)
	if err != nil {
		return time.Time{}, time.Time{}, "", err
	}
	unit, err := aggregation.ParseUnit(c.Query("unit"))
	if err != nil {
		return time.Time{}, time.Time{}, "", err
	}
	return from, to, unit, nil
}

func parseReleaseType(value string) (entity.ReleaseType, error) {
	releaseType := entity.ReleaseType(value)
	if !releaseType.Released() {
		return "", invalid(aggregation.FieldError{Field: "releaseType", Reason: "must be one of Automatic, Manual"})
	}
	return releaseType, nil
}

func parseMatch(value string) (bool, error) {
	match, err := strconv.ParseBool(value)
	if err != nil {
		return false, invalid(aggregation.FieldError{Field: "match", Reason: "must be true or false"})
	}
	return match, nil
}

// parseNotificationTypes accepts repeated or comma-separated chedType values; none means all.
func parseNotificationTypes(values []string) ([]entity.NotificationType, error) {
	known := entity.KnownNotificationTypes()
	var types []entity.NotificationType
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			name := strings.TrimSpace(part)
			if name == "" {
				continue
			}
			matched := false
			for _, candidate := range known {
				if strings.EqualFold(name, string(candidate)) {
					types = append(types, candidate)
					matched = true
					break
				}
			}
			if !matched {
				return nil, invalid(aggregation.FieldError{Field: "chedType", Reason: "must be one of ChedA, ChedP, ChedPp, ChedD"})
			}
		}
	}
	return types, nil
}
