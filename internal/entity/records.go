package entity

import (
	"fmt"
	"strings"
	"time"
)

const maxKeyLength = 64

// Request records one clearance-request message.
type Request struct {
	Versioned
	Timestamp Millis `gorm:"not null;index:idx_clearance_requests_timestamp;index:idx_clearance_requests_mrn,priority:2"`
	Mrn       string `gorm:"size:64;not null;index:idx_clearance_requests_mrn,priority:1"`
}

// NewRequest builds a Request from a decoded clearance request.
func NewRequest(mrn string, timestamp time.Time) (Request, error) {
	key, err := normalizeKey(mrn)
	if err != nil {
		return Request{}, err
	}
	if err := RequireUTC("timestamp", timestamp); err != nil {
		return Request{}, err
	}
	return Request{Timestamp: MillisOf(timestamp), Mrn: key}, nil
}

// OnSave keeps the business key trimmed.
func (r *Request) OnSave() {
	r.Mrn = strings.TrimSpace(r.Mrn)
}

// Decision records one clearance-decision message.
type Decision struct {
	Versioned
	MrnCreated Millis `gorm:"not null;index:idx_clearance_decisions_mrn_created"`
	Timestamp  Millis `gorm:"not null;index:idx_clearance_decisions_mrn,priority:2"`
	Mrn        string `gorm:"size:64;not null;index:idx_clearance_decisions_mrn,priority:1"`
	Match      bool   `gorm:"not null;default:false"`
}

// NewDecision builds a Decision; Match is derived from the decision items.
func NewDecision(mrn string, mrnCreated, timestamp time.Time, items []DecisionItem) (Decision, error) {
	key, err := normalizeKey(mrn)
	if err != nil {
		return Decision{}, err
	}
	if err := RequireUTC("mrnCreated", mrnCreated); err != nil {
		return Decision{}, err
	}
	if err := RequireUTC("timestamp", timestamp); err != nil {
		return Decision{}, err
	}
	return Decision{
		MrnCreated: MillisOf(mrnCreated),
		Timestamp:  MillisOf(timestamp),
		Mrn:        key,
		Match:      DecisionMatches(items),
	}, nil
}

// OnSave keeps the business key trimmed.
func (d *Decision) OnSave() {
	d.Mrn = strings.TrimSpace(d.Mrn)
}

// Finalisation records one finalisation message.
type Finalisation struct {
	Versioned
	Timestamp   Millis      `gorm:"not null;index:idx_finalisations_timestamp;index:idx_finalisations_mrn,priority:2"`
	Mrn         string      `gorm:"size:64;not null;index:idx_finalisations_mrn,priority:1"`
	ReleaseType ReleaseType `gorm:"size:16;not null"`
}

// NewFinalisation builds a Finalisation. The boolean result is false when the release type
// is unknown, in which case the record must not be persisted.
func NewFinalisation(mrn string, timestamp time.Time, isManualRelease *bool, finalState string) (Finalisation, bool, error) {
	key, err := normalizeKey(mrn)
	if err != nil {
		return Finalisation{}, false, err
	}
	if err := RequireUTC("timestamp", timestamp); err != nil {
		return Finalisation{}, false, err
	}
	releaseType := DeriveReleaseType(isManualRelease, finalState)
	if releaseType == ReleaseTypeUnknown {
		return Finalisation{}, false, nil
	}
	return Finalisation{Timestamp: MillisOf(timestamp), Mrn: key, ReleaseType: releaseType}, true, nil
}

// OnSave keeps the business key trimmed.
func (f *Finalisation) OnSave() {
	f.Mrn = strings.TrimSpace(f.Mrn)
}

// Notification records one import notification update.
type Notification struct {
	Versioned
	NotificationCreated Millis           `gorm:"not null;index:idx_notifications_created"`
	Timestamp           Millis           `gorm:"not null;index:idx_notifications_reference,priority:2"`
	ReferenceNumber     string           `gorm:"size:64;not null;index:idx_notifications_reference,priority:1"`
	NotificationType    NotificationType `gorm:"size:16;not null"`
}

// NewNotification builds a Notification. The boolean result is false when the source code
// does not map to a known notification type.
func NewNotification(referenceNumber string, created, timestamp time.Time, typeCode string) (Notification, bool, error) {
	key, err := normalizeKey(referenceNumber)
	if err != nil {
		return Notification{}, false, err
	}
	if err := RequireUTC("notificationCreated", created); err != nil {
		return Notification{}, false, err
	}
	if err := RequireUTC("timestamp", timestamp); err != nil {
		return Notification{}, false, err
	}
	notificationType := ParseNotificationType(typeCode)
	if notificationType == NotificationTypeUnknown {
		return Notification{}, false, nil
	}
	return Notification{
		NotificationCreated: MillisOf(created),
		Timestamp:           MillisOf(timestamp),
		ReferenceNumber:     key,
		NotificationType:    notificationType,
	}, true, nil
}

// OnSave keeps the business key trimmed.
func (n *Notification) OnSave() {
	n.ReferenceNumber = strings.TrimSpace(n.ReferenceNumber)
}

func normalizeKey(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(trimmed) > maxKeyLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidKey, maxKeyLength)
	}
	return trimmed, nil
}
