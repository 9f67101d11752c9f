package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error categories. Typed errors below match exactly one of them via errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrResolution  = errors.New("resolution error")
	ErrUpstream    = errors.New("upstream error")
	ErrComputation = errors.New("computation error")
	ErrNotFound    = errors.New("not found")
)

// ValidationError reports malformed input for a single field.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid is shorthand for a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// OutOfRangeError is a ValidationError for numeric values outside [Min, Max].
type OutOfRangeError struct {
	Field string  `json:"field"`
	Value float64 `json:"value"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s %g out of range [%g, %g]", e.Field, e.Value, e.Min, e.Max)
}

func (e *OutOfRangeError) Is(target error) bool { return target == ErrValidation }

// CheckRange returns an OutOfRangeError when v is outside [min, max] or not a number.
func CheckRange(field string, v, min, max float64) error {
	if v != v || v < min || v > max {
		return &OutOfRangeError{Field: field, Value: v, Min: min, Max: max}
	}
	return nil
}

// UnresolvedAddressError is returned when a free-text address matches no known coordinates.
type UnresolvedAddressError struct {
	Address string `json:"address"`
}

func (e *UnresolvedAddressError) Error() string {
	return fmt.Sprintf("address %q could not be resolved", e.Address)
}

func (e *UnresolvedAddressError) Is(target error) bool { return target == ErrResolution }

// UpstreamError wraps a failure of an external collaborator (geocoder, weather feed, chatbot).
type UpstreamError struct {
	Source string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Source, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Upstream wraps err as an UpstreamError unless it already is one.
func Upstream(source string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Source: source, Err: err}
}

// ComputationError signals a defect: valid input produced an invalid result.
type ComputationError struct {
	Op     string
	Detail string
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("computation failed in %s: %s", e.Op, e.Detail)
}

func (e *ComputationError) Is(target error) bool { return target == ErrComputation }

// HTTPStatus maps an error category to a response status.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrResolution):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Kind returns a short label for the error category, used in API responses and logs.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrResolution):
		return "resolution"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case errors.Is(err, ErrComputation):
		return "computation"
	default:
		return "internal"
	}
}
