package logging

import (
	"errors"
	"strings"
	"testing"
)

func TestRecoveryHandler_Wrap(t *testing.T) {
	handler := NewRecoveryHandler("test-component")

	executed := false
	handler.Wrap(func() {
		executed = true
	})

	if !executed {
		t.Error("function was not executed")
	}
}

func TestRecoveryHandler_WrapPanic(t *testing.T) {
	captureOutput(t)
	handler := NewRecoveryHandler("test-component")

	var capturedErr interface{}
	var capturedStack string

	handler.OnPanic = func(err interface{}, stack string) {
		capturedErr = err
		capturedStack = stack
	}

	handler.Wrap(func() {
		panic("test panic")
	})

	if capturedErr != "test panic" {
		t.Errorf("expected 'test panic', got %v", capturedErr)
	}

	if !strings.Contains(capturedStack, "TestRecoveryHandler_WrapPanic") {
		t.Error("stack trace should contain test function name")
	}
}

func TestRecoveryHandler_WrapError(t *testing.T) {
	buf := captureOutput(t)
	handler := NewRecoveryHandler("test-component")

	err := handler.WrapError(func() error {
		return nil
	})
	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	err = handler.WrapError(func() error {
		panic("wrapped panic")
	})
	if err == nil {
		t.Fatal("expected error from panic")
	}
	if !strings.Contains(err.Error(), "wrapped panic") {
		t.Errorf("error should contain panic message, got: %v", err)
	}

	events := decodeEvents(t, buf)
	if len(events) != 1 || events[0].Event != "panic_recovered" {
		t.Errorf("expected one panic_recovered event, got %+v", events)
	}
}

func TestSafeGo(t *testing.T) {
	captureOutput(t)
	done := make(chan bool, 1)

	SafeGo("test-goroutine", func() {
		defer func() { done <- true }()
		panic("goroutine panic")
	})

	<-done
}

func TestSafeGoWithCallback(t *testing.T) {
	captureOutput(t)
	got := make(chan interface{}, 1)

	SafeGoWithCallback("cb", func() {
		panic("boom")
	}, func(err interface{}, _ string) {
		got <- err
	})

	if v := <-got; v != "boom" {
		t.Errorf("expected 'boom', got %v", v)
	}
}

func TestPanicErrorUnwrapsErrorValues(t *testing.T) {
	captureOutput(t)
	handler := NewRecoveryHandler("unwrap")
	sentinel := errors.New("sentinel")

	err := handler.WrapError(func() error {
		panic(sentinel)
	})
	if !IsPanic(err) {
		t.Fatalf("expected a PanicError, got %T", err)
	}
	if !errors.Is(err, sentinel) {
		t.Error("panic value should be reachable through errors.Is")
	}

	var pe *PanicError
	if !errors.As(err, &pe) || pe.Component != "unwrap" || pe.Stack == "" {
		t.Errorf("unexpected panic error: %+v", pe)
	}
	if IsPanic(errors.New("plain")) {
		t.Error("ordinary errors are not panics")
	}
}
