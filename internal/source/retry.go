package source

import (
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/lodestone-labs/lodestone/pkg/config"
)

// Transient reports whether a source error is worth retrying. Anything
// that looks like a network hiccup, a rate limit or a temporary server
// condition qualifies.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNotYetProduced) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	// Network errors
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Connection errors
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection pool") ||
		strings.Contains(errStr, "no available connection") {
		return true
	}

	// Timeout errors
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}

	// Rate limiting
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit") {
		return true
	}

	// Temporary server errors
	if strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return true
	}

	return false
}

// Backoff computes the wait before retry number attempt, with jitter.
// Attempt 1 is the first retry.
func Backoff(attempt int, cfg *config.RetryConfig) time.Duration {
	if attempt < 1 {
		return 0
	}

	// Calculate exponential backoff
	backoff := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))

	// Cap at max backoff
	if backoff > float64(cfg.MaxBackoff.Duration) {
		backoff = float64(cfg.MaxBackoff.Duration)
	}

	// Add jitter (±25%)
	jitterRange := backoff * 0.25
	jitter := (rand.Float64() * 2 * jitterRange) - jitterRange
	backoff += jitter

	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}
