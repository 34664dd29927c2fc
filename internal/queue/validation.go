// Package queue provides validation utilities for queue operations.
// This file contains validation and sanitization functions.
package queue

import (
	"strings"
	"time"
)

// SanitizeReason reduces an error message to something safe to store in a
// sidecar: the first line only, truncated to 256 bytes.
func SanitizeReason(reason string) string {
	const maxLength = 256

	// Keep only the first line (the actual error message)
	sanitized, _, _ := strings.Cut(reason, "\n")

	// Truncate if too long
	if len(sanitized) > maxLength {
		sanitized = sanitized[:maxLength-3] + "..."
	}

	return sanitized
}

// CalculateBackoff calculates exponential backoff duration based on retry count.
// Consumers use it between failed claim attempts.
// The backoff duration increases exponentially: base * 2^retryCount, capped at maxBackoff.
//
// Returns the calculated backoff duration, always between baseDelay and maxBackoff.
func CalculateBackoff(retryCount int, baseDelay, maxBackoff time.Duration) time.Duration {
	if retryCount <= 0 || baseDelay <= 0 {
		return baseDelay
	}
	if retryCount > 62 {
		retryCount = 62
	}

	// Calculate exponential backoff: baseDelay * 2^retryCount
	multiplier := int64(1) << uint(retryCount)

	// Prevent overflow by checking if multiplier would be too large
	maxMultiplier := int64(maxBackoff / baseDelay)
	if multiplier > maxMultiplier {
		multiplier = maxMultiplier
	}

	backoff := time.Duration(multiplier) * baseDelay

	// Ensure we don't exceed the maximum backoff
	if backoff > maxBackoff {
		return maxBackoff
	}

	// Ensure we don't go below the base delay
	if backoff < baseDelay {
		return baseDelay
	}

	return backoff
}
