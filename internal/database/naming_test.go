package database

import (
	"errors"
	"testing"
)

func TestNamingResolvesColumns(t *testing.T) {
	tests := []struct {
		convention string
		field      string
		expected   string
	}{
		{convention: NamingSnake, field: "NotificationCreated", expected: "notification_created"},
		{convention: NamingCamel, field: "NotificationCreated", expected: "notificationCreated"},
		{convention: NamingCamel, field: "ID", expected: "id"},
		{convention: NamingCamel, field: "MrnCreated", expected: "mrnCreated"},
		{convention: "", field: "ReleaseType", expected: "release_type"},
	}
	for _, testCase := range tests {
		naming, err := Naming(testCase.convention)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", testCase.convention, err)
		}
		if got := naming.ColumnName("finalisations", testCase.field); got != testCase.expected {
			t.Fatalf("%s/%s: expected %q, got %q", testCase.convention, testCase.field, testCase.expected, got)
		}
	}
}

func TestNamingRejectsUnknownConvention(t *testing.T) {
	if _, err := Naming("kebab"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle", DSN: "x"})
	if !errors.Is(err, ErrUnsupportedDriver) {
		t.Fatalf("expected ErrUnsupportedDriver, got %v", err)
	}
}
