// Package classify implements the Error Classifier (C1): a pure, idempotent
// mapping from a raw provider error to core.ClassifiedError{category,
// severity, retryable}.
//
// Grounded on the teacher's HandleError/isRetryableError status-code
// dispatch in ai/providers/base.go and the resilience package's
// DefaultErrorClassifier, generalized into the full ten-category table of
// spec §4.1.
package classify

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/cogniforge/qpipeline/core"
)

// HTTPStatusError is implemented by provider errors that carry a status
// code, letting Classify dispatch on status first and message substrings
// second.
type HTTPStatusError interface {
	error
	StatusCode() int
}

// Classify maps a raw error into a core.ClassifiedError. It is pure: the
// same (err, provider) always yields an equal result (§8 round-trip law).
func Classify(err error, provider string) *core.ClassifiedError {
	if err == nil {
		return nil
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	category, severity, retryable := classifyOne(err, lower)

	return &core.ClassifiedError{
		Category:    category,
		Severity:    severity,
		IsRetryable: retryable,
		Message:     msg,
		Provider:    provider,
		OriginalErr: err,
	}
}

func classifyOne(err error, lower string) (core.ErrorCategory, core.ErrorSeverity, bool) {
	if statusErr, ok := err.(HTTPStatusError); ok {
		if cat, sev, retry, matched := classifyStatus(statusErr.StatusCode()); matched {
			return cat, sev, retry
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.CategoryTimeout, core.SeverityMedium, true
	}

	switch {
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return core.CategoryRateLimit, core.SeverityMedium, true
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return core.CategoryTimeout, core.SeverityMedium, true
	case strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "eof") ||
		errors.Is(err, context.DeadlineExceeded):
		return core.CategoryConnection, core.SeverityHigh, true
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") || strings.Contains(lower, "504") ||
		strings.Contains(lower, "service temporarily unavailable"):
		return core.CategoryServer, core.SeverityHigh, true
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") ||
		strings.Contains(lower, "invalid api key") || strings.Contains(lower, "invalid or missing api key"):
		return core.CategoryAuthentication, core.SeverityCritical, false
	case strings.Contains(lower, "quota exceeded") || strings.Contains(lower, "insufficient credit") ||
		strings.Contains(lower, "insufficient_quota"):
		return core.CategoryQuota, core.SeverityCritical, false
	case strings.Contains(lower, "400") || strings.Contains(lower, "invalid parameter") ||
		strings.Contains(lower, "invalid request"):
		return core.CategoryInvalidRequest, core.SeverityMedium, false
	case strings.Contains(lower, "content policy") || strings.Contains(lower, "safety"):
		return core.CategoryContentFilter, core.SeverityLow, false
	case strings.Contains(lower, "(4"): // any other 4xx recorded as "(4xx)"
		return core.CategoryClient, core.SeverityMedium, false
	default:
		return core.CategoryUnknown, core.SeverityMedium, false
	}
}

func classifyStatus(status int) (core.ErrorCategory, core.ErrorSeverity, bool, bool) {
	switch {
	case status == 429:
		return core.CategoryRateLimit, core.SeverityMedium, true, true
	case status == 401 || status == 403:
		return core.CategoryAuthentication, core.SeverityCritical, false, true
	case status == 400:
		return core.CategoryInvalidRequest, core.SeverityMedium, false, true
	case status >= 500:
		return core.CategoryServer, core.SeverityHigh, true, true
	case status >= 400:
		return core.CategoryClient, core.SeverityMedium, false, true
	default:
		return "", "", false, false
	}
}
