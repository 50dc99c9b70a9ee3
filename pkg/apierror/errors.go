// Package apierror defines the error taxonomy shared by the connector packages.
//
// Every failure leaving the dispatcher is an *ItemError wrapping one of the
// typed errors below, so callers can attribute it to an input item and still
// use errors.As to find out what went wrong.
package apierror

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError reports an unknown endpoint, field or field type, or a
// missing mandatory field. It is never retried.
type ConfigurationError struct {
	Service  string
	Endpoint string
	Field    string
	Message  string
}

func (e *ConfigurationError) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration error")
	if e.Service != "" || e.Endpoint != "" {
		fmt.Fprintf(&sb, " (%s/%s)", e.Service, e.Endpoint)
	}
	if e.Field != "" {
		fmt.Fprintf(&sb, " field '%s'", e.Field)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	return sb.String()
}

// Configurationf builds a ConfigurationError with a formatted message.
func Configurationf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransportError reports a non-2xx HTTP response.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	// Message is the error text extracted from the Exact error envelope, if any.
	Message string
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("Exact Online API error (status %d) %s %s: %s", e.StatusCode, e.Method, e.URL, e.Message)
	}
	return fmt.Sprintf("Exact Online API error (status %d) %s %s: %s", e.StatusCode, e.Method, e.URL, strings.TrimSpace(e.Body))
}

// ValidationError reports malformed caller input or a malformed response body.
type ValidationError struct {
	Field   string
	Message string
	// Raw holds the offending payload for diagnostics.
	Raw string
	Err error
}

func (e *ValidationError) Error() string {
	msg := "validation error"
	if e.Field != "" {
		msg += fmt.Sprintf(" field '%s'", e.Field)
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validationf builds a ValidationError with a formatted message.
func Validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ReconciliationRejection reports that the XML upload was refused, either by
// error-like messages or by an acknowledged count that differs from the
// number of submitted match sets.
type ReconciliationRejection struct {
	Topic        string
	Submitted    int
	Acknowledged int
	Descriptions []string
}

func (e *ReconciliationRejection) Error() string {
	if len(e.Descriptions) == 0 {
		return fmt.Sprintf("reconciliation '%s' rejected: submitted %d match sets, server acknowledged %d",
			e.Topic, e.Submitted, e.Acknowledged)
	}
	return fmt.Sprintf("reconciliation '%s' rejected: %s", e.Topic, strings.Join(e.Descriptions, "; "))
}

// ItemError attaches the index of the originating input item to an error.
type ItemError struct {
	Index int
	Err   error
}

// AtItem wraps err with the item index. A nil err yields nil.
func AtItem(index int, err error) *ItemError {
	if err == nil {
		return nil
	}
	var existing *ItemError
	if errors.As(err, &existing) {
		return &ItemError{Index: index, Err: existing.Err}
	}
	return &ItemError{Index: index, Err: err}
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Kind returns a short name for the wrapped error class.
func Kind(err error) string {
	var (
		cfgErr *ConfigurationError
		trErr  *TransportError
		valErr *ValidationError
		rejErr *ReconciliationRejection
	)
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &trErr):
		return "transport"
	case errors.As(err, &valErr):
		return "validation"
	case errors.As(err, &rejErr):
		return "reconciliation"
	default:
		return "unknown"
	}
}
