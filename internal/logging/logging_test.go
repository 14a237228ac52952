package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(prev)
		SetLevel(LevelInfo)
	})
	return &buf
}

func decodeEvents(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var events []Event
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("failed to parse output as JSON: %v (line: %s)", err, line)
		}
		events = append(events, e)
	}
	return events
}

func TestLoggerCreation(t *testing.T) {
	os.Setenv("TURNPOOL_WORKER_ID", "w1")
	defer os.Unsetenv("TURNPOOL_WORKER_ID")

	logger := New("test-component")

	if logger.component != "test-component" {
		t.Errorf("expected component 'test-component', got '%s'", logger.component)
	}
	if logger.worker != "w1" {
		t.Errorf("expected worker 'w1', got '%s'", logger.worker)
	}
}

func TestLoggerWithThread(t *testing.T) {
	logger := New("component").WithWorker("w3").WithThread("thread-9")

	if logger.thread != "thread-9" {
		t.Errorf("expected thread 'thread-9', got '%s'", logger.thread)
	}
	if logger.worker != "w3" {
		t.Errorf("expected worker 'w3' to survive WithThread, got '%s'", logger.worker)
	}
}

func TestEventSerialization(t *testing.T) {
	event := Event{
		Timestamp: "2024-01-01T00:00:00Z",
		Level:     LevelInfo,
		Component: "test",
		Event:     "test_event",
		Worker:    "w1",
		Duration:  100,
		Extra: map[string]interface{}{
			"key": "value",
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}

	if parsed["level"] != "info" {
		t.Errorf("expected level 'info', got '%v'", parsed["level"])
	}
	if parsed["duration_ms"].(float64) != 100 {
		t.Errorf("expected duration_ms 100, got '%v'", parsed["duration_ms"])
	}
	if _, ok := parsed["thread"]; ok {
		t.Error("empty thread should be omitted")
	}
}

func TestLoggerLevels(t *testing.T) {
	buf := captureOutput(t)
	logger := New("persistence").WithThread("t1")

	logger.Debug("dropped", nil)
	logger.Info("flush", map[string]interface{}{"jobs": 3})
	logger.Error("handler_failed", nil, errors.New("disk full"))

	events := decodeEvents(t, buf)
	if len(events) != 2 {
		t.Fatalf("expected 2 events (debug filtered), got %d", len(events))
	}
	if events[0].Event != "flush" || events[0].Thread != "t1" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].Level != LevelError || events[1].Error != "disk full" {
		t.Errorf("unexpected error event: %+v", events[1])
	}
}

func TestSetLevelDebug(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(LevelDebug)
	SetLevel(Level("bogus"))

	New("c").Debug("visible", nil)

	events := decodeEvents(t, buf)
	if len(events) != 1 || events[0].Level != LevelDebug {
		t.Fatalf("expected one debug event, got %+v", events)
	}
}

func TestTimedEvent(t *testing.T) {
	buf := captureOutput(t)

	New("archive").TimedEvent("checkpoint", time.Now().Add(-250*time.Millisecond), nil)

	events := decodeEvents(t, buf)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Duration < 250 {
		t.Errorf("expected duration >= 250ms, got %d", events[0].Duration)
	}
}

func TestHealthEvent(t *testing.T) {
	tests := []struct {
		name     string
		healthy  bool
		expected Level
	}{
		{"healthy", true, LevelInfo},
		{"unhealthy", false, LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureOutput(t)

			HealthEvent("w1", "degraded", tt.healthy, 2)

			events := decodeEvents(t, buf)
			if len(events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(events))
			}
			if events[0].Level != tt.expected {
				t.Errorf("expected level '%s', got '%s'", tt.expected, events[0].Level)
			}
			if events[0].Worker != "w1" {
				t.Errorf("expected worker 'w1', got '%s'", events[0].Worker)
			}
		})
	}
}
