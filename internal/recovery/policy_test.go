package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAppAutoRecoveryBackoffSeconds(t *testing.T) {
	fallback := []uint64{1, 2, 4, 8}

	tests := []struct {
		name        string
		override    string
		maxAttempts int
		want        []uint64
	}{
		{"empty uses fallback", "", 8, fallback},
		{"whitespace uses fallback", "   \n", 8, fallback},
		{"all invalid uses fallback", "a, b, -1", 8, fallback},
		{"parses and trims", " 3, 5 ,9", 8, []uint64{3, 5, 9}},
		{"skips invalid entries", "2,x,6", 8, []uint64{2, 6}},
		{"truncates to max attempts", "1,1,1,1,1", 3, []uint64{1, 1, 1}},
		{"max attempts floor is one", "7,8", 0, []uint64{7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AppAutoRecoveryBackoffSeconds(tt.override, fallback, tt.maxAttempts)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultAppAutoRecoveryBackoff(t *testing.T) {
	assert.Equal(t,
		[]time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second},
		DefaultAppAutoRecoveryBackoff(""))

	got := DefaultAppAutoRecoveryBackoff("1,2,3,4,5,6,7,8,9,10")
	assert.Len(t, got, MaxAppAutoRecoveryAttempts)
}

func TestWorkerRestartBackoffSeconds(t *testing.T) {
	var got []uint64
	for n := 1; n <= 5; n++ {
		got = append(got, WorkerRestartBackoffSeconds(n))
	}
	assert.Equal(t, []uint64{1, 2, 4, 8, 8}, got)

	assert.Equal(t, uint64(1), WorkerRestartBackoffSeconds(0))
	assert.Equal(t, uint64(1), WorkerRestartBackoffSeconds(-3))
	assert.Equal(t, uint64(8), WorkerRestartBackoffSeconds(100))
	assert.Equal(t, 4*time.Second, WorkerRestartBackoff(3))
}

func TestShouldAttemptWorkerRestart(t *testing.T) {
	max := DefaultMaxConsecutiveWorkerFailures
	assert.True(t, ShouldAttemptWorkerRestart(1, max))
	assert.True(t, ShouldAttemptWorkerRestart(4, max))
	assert.False(t, ShouldAttemptWorkerRestart(5, max))
	assert.True(t, ShouldAttemptWorkerRestart(0, max))
	assert.True(t, ShouldAttemptWorkerRestart(1, 0))
	assert.False(t, ShouldAttemptWorkerRestart(2, 0))
}

func TestNextConsecutiveWorkerFailureCount(t *testing.T) {
	assert.Equal(t, 0, NextConsecutiveWorkerFailureCount(3, true))
	assert.Equal(t, 4, NextConsecutiveWorkerFailureCount(3, false))
	assert.Equal(t, 1, NextConsecutiveWorkerFailureCount(-2, false))
}
