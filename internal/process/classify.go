package process

import (
	"context"
	"errors"
	"strings"

	"github.com/RhythrosaLabs/loom/pkg/schema"
)

// Classify maps an error onto the failure types reported in run events.
func Classify(err error) schema.FailureType {
	if err == nil {
		return ""
	}

	var (
		submitErr *SubmissionError
		failedErr *FailedError
		validErr  *ValidationError
	)
	switch {
	case errors.As(err, &validErr):
		return schema.FailureTypeValidation
	case errors.Is(err, ErrUnsupported):
		return schema.FailureTypeUnsupported
	case errors.Is(err, ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return schema.FailureTypeTimeout
	case errors.As(err, &submitErr):
		return schema.FailureTypeValidation
	case errors.As(err, &failedErr), errors.Is(err, ErrNoValidSegments):
		return schema.FailureTypePermanent
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") {
		return schema.FailureTypeRetryable
	}

	if strings.Contains(errStr, "no such file") ||
		strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "invalid data found") {
		return schema.FailureTypePermanent
	}

	return schema.FailureTypeRetryable
}
