// Package logging provides structured JSON logging for turnpool components.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Event represents a structured log event
type Event struct {
	Timestamp string                 `json:"ts"`
	Level     Level                  `json:"level"`
	Component string                 `json:"component"`
	Event     string                 `json:"event"`
	Worker    string                 `json:"worker,omitempty"`
	Thread    string                 `json:"thread,omitempty"`
	Duration  int64                  `json:"duration_ms,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

var (
	outMu    sync.Mutex
	out      io.Writer = os.Stderr
	minLevel           = LevelInfo
)

// SetOutput redirects every logger to w. Returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	prev := out
	out = w
	return prev
}

// SetLevel drops events below level. Unknown levels are ignored.
func SetLevel(level Level) {
	if _, ok := levelRank[level]; !ok {
		return
	}
	outMu.Lock()
	minLevel = level
	outMu.Unlock()
}

// Logger provides structured logging
type Logger struct {
	component string
	worker    string
	thread    string
}

// New creates a new logger for a component
func New(component string) *Logger {
	return &Logger{
		component: component,
		worker:    os.Getenv("TURNPOOL_WORKER_ID"),
	}
}

// WithWorker sets the worker context
func (l *Logger) WithWorker(worker string) *Logger {
	return &Logger{
		component: l.component,
		worker:    worker,
		thread:    l.thread,
	}
}

// WithThread sets the conversation thread context
func (l *Logger) WithThread(thread string) *Logger {
	return &Logger{
		component: l.component,
		worker:    l.worker,
		thread:    thread,
	}
}

func (l *Logger) event(level Level, event string, extra map[string]interface{}, err error) Event {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Component: l.component,
		Event:     event,
		Worker:    l.worker,
		Thread:    l.thread,
		Extra:     extra,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// log emits a structured log event
func (l *Logger) log(level Level, event string, extra map[string]interface{}, err error) {
	emit(l.event(level, event, extra, err))
}

func emit(e Event) {
	data, _ := json.Marshal(e)

	outMu.Lock()
	defer outMu.Unlock()
	if levelRank[e.Level] < levelRank[minLevel] {
		return
	}
	fmt.Fprintln(out, string(data))
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]interface{}) {
	l.log(LevelDebug, event, extra, nil)
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]interface{}) {
	l.log(LevelInfo, event, extra, nil)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]interface{}, err error) {
	l.log(LevelWarn, event, extra, err)
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]interface{}, err error) {
	l.log(LevelError, event, extra, err)
}

// TimedEvent logs an event with duration
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]interface{}) {
	e := l.event(LevelInfo, event, extra, nil)
	e.Duration = time.Since(start).Milliseconds()
	emit(e)
}

// HealthEvent logs a worker health transition. Unhealthy states log at warn.
func HealthEvent(worker, health string, healthy bool, failures int) {
	level := LevelInfo
	if !healthy {
		level = LevelWarn
	}

	emit(Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Component: "health",
		Event:     "transition",
		Worker:    worker,
		Extra: map[string]interface{}{
			"health":   health,
			"healthy":  healthy,
			"failures": failures,
		},
	})
}
