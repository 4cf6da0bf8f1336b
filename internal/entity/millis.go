package entity

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNonUTCTimestamp indicates that a timestamp does not carry the UTC location.
	ErrNonUTCTimestamp = errors.New("entity: timestamp is not utc")
	// ErrInvalidKey indicates that a business key (mrn or reference number) is empty.
	ErrInvalidKey = errors.New("entity: invalid business key")
)

// Millis is a UTC instant persisted as unix milliseconds.
type Millis int64

// MillisOf converts a time value into Millis.
func MillisOf(value time.Time) Millis {
	return Millis(value.UnixMilli())
}

// Time returns the instant in the UTC location.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

// Int64 exposes the raw millisecond value.
func (m Millis) Int64() int64 {
	return int64(m)
}

// RequireUTC rejects timestamps whose location is not time.UTC, even when the offset is zero.
func RequireUTC(field string, value time.Time) error {
	if value.Location() != time.UTC {
		return fmt.Errorf("%w: %s has location %q", ErrNonUTCTimestamp, field, value.Location().String())
	}
	return nil
}
