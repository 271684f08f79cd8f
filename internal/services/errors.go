package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalService = errors.New("external service error")
	ErrValidation      = errors.New("validation error")
	ErrConfiguration   = errors.New("configuration error")
	ErrNotFound        = errors.New("not found")
	ErrTimeout         = errors.New("timeout")
	ErrTransient       = errors.New("transient failure")
	// ErrInvariant marks failures that would corrupt the archive or the
	// metadata audit trail if recovered from. The driver always halts on it.
	ErrInvariant = errors.New("invariant violation")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorDetails summarizes a wrapped error for journal rows and notifications.
type ErrorDetails struct {
	Kind    string
	Message string
}

// Details extracts the marker kind and the human readable message from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	kind := "infrastructure"
	switch {
	case errors.Is(err, ErrInvariant):
		kind = "invariant"
	case errors.Is(err, ErrValidation):
		kind = "validation"
	case errors.Is(err, ErrConfiguration):
		kind = "configuration"
	case errors.Is(err, ErrNotFound):
		kind = "not_found"
	case errors.Is(err, ErrTimeout):
		kind = "timeout"
	case errors.Is(err, ErrExternalService):
		kind = "external_service"
	}
	return ErrorDetails{Kind: kind, Message: strings.TrimSpace(err.Error())}
}

// IsInvariant reports whether err carries the invariant marker.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrInvariant)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
