package aggregation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// MaxSpan is the widest window any report query may cover.
const MaxSpan = 122 * 24 * time.Hour

// Unit is the width of a report bucket.
type Unit string

const (
	UnitHour Unit = "hour"
	UnitDay  Unit = "day"
)

// ParseUnit accepts exactly "hour" or "day".
func ParseUnit(value string) (Unit, error) {
	switch Unit(value) {
	case UnitHour, UnitDay:
		return Unit(value), nil
	default:
		return "", newValidationError(FieldError{Field: "unit", Reason: reasonFor("oneof")})
	}
}

// Duration returns the bucket width.
func (u Unit) Duration() time.Duration {
	if u == UnitDay {
		return 24 * time.Hour
	}
	return time.Hour
}

func (u Unit) millis() int64 {
	return u.Duration().Milliseconds()
}

// Floor truncates value to the start of its UTC bucket.
func (u Unit) Floor(value time.Time) time.Time {
	return value.UTC().Truncate(u.Duration())
}

// ErrInvalidParameters matches every *ValidationError.
var ErrInvalidParameters = errors.New("aggregation: invalid parameters")

// FieldError names one rejected parameter.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every rejected parameter of a query.
type ValidationError struct {
	Fields []FieldError
}

func newValidationError(fields ...FieldError) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		parts = append(parts, field.Field+": "+field.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidParameters.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidParameters
}

type windowQuery struct {
	From time.Time `json:"from" validate:"utc"`
	To   time.Time `json:"to" validate:"utc,gtefield=From"`
}

type bucketQuery struct {
	From time.Time `json:"from" validate:"utc"`
	To   time.Time `json:"to" validate:"utc,gtefield=From"`
	Unit Unit      `json:"unit" validate:"required,oneof=hour day"`
}

var (
	validatorOnce     sync.Once
	validatorInstance *validator.Validate
)

func queryValidator() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
		_ = v.RegisterValidation("utc", func(fl validator.FieldLevel) bool {
			value, ok := fl.Field().Interface().(time.Time)
			return ok && value.Location() == time.UTC
		})
		v.RegisterStructValidation(func(sl validator.StructLevel) {
			query := sl.Current().Interface().(windowQuery)
			checkSpan(sl, query.From, query.To)
		}, windowQuery{})
		v.RegisterStructValidation(func(sl validator.StructLevel) {
			query := sl.Current().Interface().(bucketQuery)
			checkSpan(sl, query.From, query.To)
		}, bucketQuery{})
		validatorInstance = v
	})
	return validatorInstance
}

func checkSpan(sl validator.StructLevel, from, to time.Time) {
	if to.Sub(from) > MaxSpan {
		sl.ReportError(to, "to", "To", "maxspan", "")
	}
}

// ValidateWindow checks a summary or data window before any query runs.
func ValidateWindow(from, to time.Time) error {
	return translateValidation(queryValidator().Struct(windowQuery{From: from, To: to}))
}

// ValidateBuckets checks a bucketed window before any query runs.
func ValidateBuckets(from, to time.Time, unit Unit) error {
	return translateValidation(queryValidator().Struct(bucketQuery{From: from, To: to, Unit: unit}))
}

func translateValidation(err error) error {
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	fields := make([]FieldError, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		fields = append(fields, FieldError{Field: fieldErr.Field(), Reason: reasonFor(fieldErr.Tag())})
	}
	return newValidationError(fields...)
}

func reasonFor(tag string) string {
	switch tag {
	case "utc":
		return "must be a UTC timestamp"
	case "gtefield":
		return "must not be before from"
	case "maxspan":
		return fmt.Sprintf("window must not exceed %d days", int(MaxSpan.Hours()/24))
	case "required", "oneof":
		return "must be one of hour, day"
	default:
		return "is invalid"
	}
}
