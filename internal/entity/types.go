package entity

import "strings"

// ReleaseType classifies how a customs declaration was finalised.
type ReleaseType string

const (
	ReleaseTypeAutomatic ReleaseType = "Automatic"
	ReleaseTypeManual    ReleaseType = "Manual"
	ReleaseTypeCancelled ReleaseType = "Cancelled"
	ReleaseTypeUnknown   ReleaseType = "Unknown"
)

// Final states that mark a declaration as cancelled rather than released.
const (
	finalStateCancelledAfterArrival   = "1"
	finalStateCancelledWhilePreLodged = "2"
)

// DeriveReleaseType maps the finalisation flags onto a ReleaseType.
// A missing manual-release flag cannot be classified and yields ReleaseTypeUnknown.
func DeriveReleaseType(isManualRelease *bool, finalState string) ReleaseType {
	if isManualRelease == nil {
		return ReleaseTypeUnknown
	}
	if *isManualRelease {
		return ReleaseTypeManual
	}
	switch strings.TrimSpace(finalState) {
	case finalStateCancelledAfterArrival, finalStateCancelledWhilePreLodged:
		return ReleaseTypeCancelled
	default:
		return ReleaseTypeAutomatic
	}
}

// Released reports whether the type counts towards release reporting.
func (t ReleaseType) Released() bool {
	return t == ReleaseTypeAutomatic || t == ReleaseTypeManual
}

// NotificationType is the CHED category of an import notification.
type NotificationType string

const (
	NotificationTypeChedA   NotificationType = "ChedA"
	NotificationTypeChedP   NotificationType = "ChedP"
	NotificationTypeChedPP  NotificationType = "ChedPp"
	NotificationTypeChedD   NotificationType = "ChedD"
	NotificationTypeUnknown NotificationType = "Unknown"
)

var notificationTypeCodes = map[string]NotificationType{
	"CVEDA":  NotificationTypeChedA,
	"CVEDP":  NotificationTypeChedP,
	"CHEDPP": NotificationTypeChedPP,
	"CED":    NotificationTypeChedD,
}

// KnownNotificationTypes lists the reportable notification types in display order.
func KnownNotificationTypes() []NotificationType {
	return []NotificationType{
		NotificationTypeChedA,
		NotificationTypeChedP,
		NotificationTypeChedPP,
		NotificationTypeChedD,
	}
}

// ParseNotificationType maps a source system code onto a NotificationType.
func ParseNotificationType(code string) NotificationType {
	if notificationType, ok := notificationTypeCodes[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return notificationType
	}
	return NotificationTypeUnknown
}

// DecisionCodeNoMatch marks a check that could not be matched to a notification.
const DecisionCodeNoMatch = "X00"

// DecisionCheck is a single check outcome inside a clearance decision item.
type DecisionCheck struct {
	CheckCode    string
	DecisionCode string
}

// DecisionItem groups the check outcomes for one declaration item.
type DecisionItem struct {
	ItemNumber int
	Checks     []DecisionCheck
}

// DecisionMatches is true only if no check across any item is a no-match outcome.
func DecisionMatches(items []DecisionItem) bool {
	for _, item := range items {
		for _, check := range item.Checks {
			if strings.EqualFold(strings.TrimSpace(check.DecisionCode), DecisionCodeNoMatch) {
				return false
			}
		}
	}
	return true
}
