package entity

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDeriveReleaseType(t *testing.T) {
	manual, automatic := true, false
	tests := []struct {
		name       string
		flag       *bool
		finalState string
		expected   ReleaseType
	}{
		{name: "missing flag", flag: nil, finalState: "0", expected: ReleaseTypeUnknown},
		{name: "manual", flag: &manual, finalState: "1", expected: ReleaseTypeManual},
		{name: "automatic", flag: &automatic, finalState: "0", expected: ReleaseTypeAutomatic},
		{name: "cancelled after arrival", flag: &automatic, finalState: "1", expected: ReleaseTypeCancelled},
		{name: "cancelled while pre-lodged", flag: &automatic, finalState: " 2 ", expected: ReleaseTypeCancelled},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			if got := DeriveReleaseType(testCase.flag, testCase.finalState); got != testCase.expected {
				t.Fatalf("expected %s, got %s", testCase.expected, got)
			}
		})
	}
}

func TestParseNotificationType(t *testing.T) {
	tests := map[string]NotificationType{
		"CVEDA":  NotificationTypeChedA,
		"cvedp":  NotificationTypeChedP,
		"CHEDPP": NotificationTypeChedPP,
		" CED ":  NotificationTypeChedD,
		"IMP":    NotificationTypeUnknown,
		"":       NotificationTypeUnknown,
	}
	for code, expected := range tests {
		if got := ParseNotificationType(code); got != expected {
			t.Fatalf("code %q: expected %s, got %s", code, expected, got)
		}
	}
}

func TestDecisionMatches(t *testing.T) {
	matched := []DecisionItem{{ItemNumber: 1, Checks: []DecisionCheck{{CheckCode: "H222", DecisionCode: "C03"}}}}
	if !DecisionMatches(matched) {
		t.Fatalf("expected match")
	}
	if !DecisionMatches(nil) {
		t.Fatalf("expected a decision without items to match")
	}
	unmatched := append(matched, DecisionItem{ItemNumber: 2, Checks: []DecisionCheck{{DecisionCode: "x00"}}})
	if DecisionMatches(unmatched) {
		t.Fatalf("expected no-match when any check is X00")
	}
}

func TestRequireUTCRejectsZeroOffsetZones(t *testing.T) {
	if err := RequireUTC("timestamp", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	zeroOffset := time.Date(2024, 5, 1, 0, 0, 0, 0, time.FixedZone("GMT", 0))
	err := RequireUTC("timestamp", zeroOffset)
	if !errors.Is(err, ErrNonUTCTimestamp) || !strings.Contains(err.Error(), "timestamp") {
		t.Fatalf("expected non-utc error naming the field, got %v", err)
	}
}

func TestNewNotificationDropsUnknownTypes(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	if _, ok, err := NewNotification("REF-1", at, at, "IMP"); err != nil || ok {
		t.Fatalf("expected dropped notification, got ok=%v err=%v", ok, err)
	}
	record, ok, err := NewNotification("  REF-1 ", at, at, "CVEDA")
	if err != nil || !ok || record.ReferenceNumber != "REF-1" {
		t.Fatalf("unexpected record %#v ok=%v err=%v", record, ok, err)
	}
	if _, err := NewRequest(strings.Repeat("M", maxKeyLength+1), at); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}
