// Package recovery computes backoff delays and restart eligibility for failed
// runtime workers. Every function is pure: callers own the failure counters.
package recovery

import (
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBackoffEnv holds a comma-separated list of app-level auto-recovery
	// delays in seconds, e.g. "1,3,10".
	DefaultBackoffEnv = "TURNPOOL_AUTO_RECOVERY_BACKOFF_SECONDS"

	// MaxAppAutoRecoveryAttempts bounds the parsed override sequence.
	MaxAppAutoRecoveryAttempts = 8

	// DefaultMaxConsecutiveWorkerFailures is the restart budget before a
	// worker is declared terminal.
	DefaultMaxConsecutiveWorkerFailures = 4

	maxRestartBackoffExponent = 3
)

// DefaultAppAutoRecoveryBackoffSeconds is used when no valid override exists.
var DefaultAppAutoRecoveryBackoffSeconds = []uint64{1, 2, 4, 8}

// AppAutoRecoveryBackoffSeconds parses a comma-separated override. Entries that
// are not non-negative integers are skipped; if nothing survives, fallback is
// returned. The result holds at most maxAttempts entries (minimum 1).
func AppAutoRecoveryBackoffSeconds(override string, fallback []uint64, maxAttempts int) []uint64 {
	if strings.TrimSpace(override) == "" {
		return fallback
	}

	var parsed []uint64
	for _, chunk := range strings.Split(override, ",") {
		v, err := strconv.ParseUint(strings.TrimSpace(chunk), 10, 64)
		if err != nil {
			continue
		}
		parsed = append(parsed, v)
	}
	if len(parsed) == 0 {
		return fallback
	}

	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if len(parsed) > maxAttempts {
		parsed = parsed[:maxAttempts]
	}
	return parsed
}

// DefaultAppAutoRecoveryBackoff applies the default fallback and attempt cap
// and converts the result to durations.
func DefaultAppAutoRecoveryBackoff(override string) []time.Duration {
	seconds := AppAutoRecoveryBackoffSeconds(override, DefaultAppAutoRecoveryBackoffSeconds, MaxAppAutoRecoveryAttempts)
	out := make([]time.Duration, len(seconds))
	for i, s := range seconds {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

// WorkerRestartBackoffSeconds returns 2^min(3, max(0, n-1)): 1,2,4,8,8,...
func WorkerRestartBackoffSeconds(consecutiveFailureCount int) uint64 {
	exp := consecutiveFailureCount - 1
	if exp < 0 {
		exp = 0
	}
	if exp > maxRestartBackoffExponent {
		exp = maxRestartBackoffExponent
	}
	return 1 << uint(exp)
}

// WorkerRestartBackoff is WorkerRestartBackoffSeconds as a duration.
func WorkerRestartBackoff(consecutiveFailureCount int) time.Duration {
	return time.Duration(WorkerRestartBackoffSeconds(consecutiveFailureCount)) * time.Second
}

// ShouldAttemptWorkerRestart reports whether the failure streak is still within
// budget. Counts and budgets below 1 are treated as 1.
func ShouldAttemptWorkerRestart(consecutiveFailureCount, maxConsecutiveFailures int) bool {
	return max(1, consecutiveFailureCount) <= max(1, maxConsecutiveFailures)
}

// NextConsecutiveWorkerFailureCount resets the streak on recovery and
// increments it otherwise.
func NextConsecutiveWorkerFailureCount(previous int, didRecover bool) int {
	if didRecover {
		return 0
	}
	return max(0, previous) + 1
}
