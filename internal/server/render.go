package server

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
	"github.com/gin-gonic/gin"
)

const formatCSV = "csv"

// table describes how one record type is exported.
type table[T any] struct {
	header []string
	row    func(T) []string
	json   func(T) any
}

type finalisationPayload struct {
	ID          string    `json:"id"`
	Mrn         string    `json:"mrn"`
	Timestamp   time.Time `json:"timestamp"`
	ReleaseType string    `json:"releaseType"`
}

type decisionPayload struct {
	ID         string    `json:"id"`
	Mrn        string    `json:"mrn"`
	MrnCreated time.Time `json:"mrnCreated"`
	Timestamp  time.Time `json:"timestamp"`
	Match      bool      `json:"match"`
}

type requestPayload struct {
	ID        string    `json:"id"`
	Mrn       string    `json:"mrn"`
	Timestamp time.Time `json:"timestamp"`
}

type notificationPayload struct {
	ID                  string    `json:"id"`
	ReferenceNumber     string    `json:"referenceNumber"`
	NotificationCreated time.Time `json:"notificationCreated"`
	Timestamp           time.Time `json:"timestamp"`
	NotificationType    string    `json:"notificationType"`
}

var finalisationTable = table[entity.Finalisation]{
	header: []string{"id", "mrn", "timestamp", "releaseType"},
	row: func(record entity.Finalisation) []string {
		return []string{record.ID, record.Mrn, formatMillis(record.Timestamp), string(record.ReleaseType)}
	},
	json: func(record entity.Finalisation) any {
		return finalisationPayload{
			ID:          record.ID,
			Mrn:         record.Mrn,
			Timestamp:   record.Timestamp.Time(),
			ReleaseType: string(record.ReleaseType),
		}
	},
}

var decisionTable = table[entity.Decision]{
	header: []string{"id", "mrn", "mrnCreated", "timestamp", "match"},
	row: func(record entity.Decision) []string {
		return []string{
			record.ID,
			record.Mrn,
			formatMillis(record.MrnCreated),
			formatMillis(record.Timestamp),
			strconv.FormatBool(record.Match),
		}
	},
	json: func(record entity.Decision) any {
		return decisionPayload{
			ID:         record.ID,
			Mrn:        record.Mrn,
			MrnCreated: record.MrnCreated.Time(),
			Timestamp:  record.Timestamp.Time(),
			Match:      record.Match,
		}
	},
}

var requestTable = table[entity.Request]{
	header: []string{"id", "mrn", "timestamp"},
	row: func(record entity.Request) []string {
		return []string{record.ID, record.Mrn, formatMillis(record.Timestamp)}
	},
	json: func(record entity.Request) any {
		return requestPayload{ID: record.ID, Mrn: record.Mrn, Timestamp: record.Timestamp.Time()}
	},
}

var notificationTable = table[entity.Notification]{
	header: []string{"id", "referenceNumber", "notificationCreated", "timestamp", "notificationType"},
	row: func(record entity.Notification) []string {
		return []string{
			record.ID,
			record.ReferenceNumber,
			formatMillis(record.NotificationCreated),
			formatMillis(record.Timestamp),
			string(record.NotificationType),
		}
	},
	json: func(record entity.Notification) any {
		return notificationPayload{
			ID:                  record.ID,
			ReferenceNumber:     record.ReferenceNumber,
			NotificationCreated: record.NotificationCreated.Time(),
			Timestamp:           record.Timestamp.Time(),
			NotificationType:    string(record.NotificationType),
		}
	},
}

func formatMillis(value entity.Millis) string {
	return value.Time().Format(time.RFC3339Nano)
}

// renderData writes records as JSON, or as a CSV attachment when format=csv.
func renderData[T any](c *gin.Context, name string, layout table[T], records []T) {
	if c.Query("format") != formatCSV {
		payload := make([]any, 0, len(records))
		for _, record := range records {
			payload = append(payload, layout.json(record))
		}
		c.JSON(http.StatusOK, payload)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, name))
	c.Status(http.StatusOK)
	writer := csv.NewWriter(c.Writer)
	_ = writer.Write(layout.header)
	for _, record := range records {
		_ = writer.Write(layout.row(record))
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		_ = c.Error(err)
	}
}
