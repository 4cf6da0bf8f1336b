package ingestion

import (
	"encoding/json"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
)

// Message types recorded in the raw message log.
const (
	MessageTypeClearanceRequest   = "ClearanceRequest"
	MessageTypeClearanceDecision  = "ClearanceDecision"
	MessageTypeFinalisation       = "Finalisation"
	MessageTypeImportNotification = "ImportNotification"
)

// ClearanceRequestEvent is a decoded clearance request for one declaration.
type ClearanceRequestEvent struct {
	Mrn       string          `json:"mrn"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"-"`
}

// ClearanceDecisionEvent is a decoded clearance decision with its per-item check outcomes.
type ClearanceDecisionEvent struct {
	Mrn        string                `json:"mrn"`
	MrnCreated time.Time             `json:"mrnCreated"`
	Timestamp  time.Time             `json:"timestamp"`
	Items      []entity.DecisionItem `json:"items"`
	Payload    json.RawMessage       `json:"-"`
}

// FinalisationEvent is a decoded finalisation. A nil IsManualRelease means the source did
// not say how the declaration was released.
type FinalisationEvent struct {
	Mrn             string          `json:"mrn"`
	Timestamp       time.Time       `json:"timestamp"`
	IsManualRelease *bool           `json:"isManualRelease"`
	FinalState      string          `json:"finalState"`
	Payload         json.RawMessage `json:"-"`
}

// ImportNotificationEvent is a decoded import notification update.
type ImportNotificationEvent struct {
	ReferenceNumber        string          `json:"referenceNumber"`
	Created                time.Time       `json:"created"`
	Timestamp              time.Time       `json:"timestamp"`
	ImportNotificationType string          `json:"importNotificationType"`
	Payload                json.RawMessage `json:"-"`
}

// Outcome describes how an event was handled.
type Outcome struct {
	// Dropped is true when the event mapped to an unknown type and no fact was stored.
	Dropped  bool
	Attempts int
}
