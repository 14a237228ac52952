package logging

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/joss/turnpool/internal/alerts"
)

// PanicError is returned by WrapError when fn panicked.
type PanicError struct {
	Component string
	Value     interface{}
	Stack     string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Component, e.Value)
}

// Unwrap exposes a panicked error value to errors.Is / errors.As.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsPanic reports whether err came from a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}

// RecoveryHandler turns panics in coordinator goroutines into logged events
// and a critical alert.
type RecoveryHandler struct {
	Component string
	OnPanic   func(err interface{}, stack string)
}

// NewRecoveryHandler creates a recovery handler for a component
func NewRecoveryHandler(component string) *RecoveryHandler {
	return &RecoveryHandler{Component: component}
}

// Wrap executes fn with panic recovery
func (r *RecoveryHandler) Wrap(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.handlePanic(rec, string(debug.Stack()))
		}
	}()
	fn()
}

// WrapError executes fn with panic recovery. A panic becomes a *PanicError.
func (r *RecoveryHandler) WrapError(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = r.handlePanic(rec, string(debug.Stack()))
		}
	}()
	return fn()
}

func (r *RecoveryHandler) handlePanic(rec interface{}, stack string) *PanicError {
	pe := &PanicError{Component: r.Component, Value: rec, Stack: stack}
	ts := time.Now().UTC().Format(time.RFC3339)

	emit(Event{
		Timestamp: ts,
		Level:     LevelError,
		Component: r.Component,
		Event:     "panic_recovered",
		Error:     fmt.Sprintf("%v", rec),
		Extra:     map[string]interface{}{"stack": stack},
	})

	alerts.Critical(r.Component, "Panic Recovered", pe.Error(), map[string]interface{}{
		"stack":     stack,
		"timestamp": ts,
	})

	if r.OnPanic != nil {
		r.OnPanic(rec, stack)
	}
	return pe
}

// SafeGo launches a goroutine with panic recovery
func SafeGo(component string, fn func()) {
	go NewRecoveryHandler(component).Wrap(fn)
}

// SafeGoWithCallback launches a goroutine with panic recovery and callback
func SafeGoWithCallback(component string, fn func(), onPanic func(err interface{}, stack string)) {
	h := NewRecoveryHandler(component)
	h.OnPanic = onPanic
	go h.Wrap(fn)
}
