package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_Development(t *testing.T) {
	log, err := New(true)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if log == nil {
		t.Fatal("expected non-nil logger")
	}

	// Should not panic
	log.Info("test message")
}

func TestNew_Production(t *testing.T) {
	log, err := New(false)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if log == nil {
		t.Fatal("expected non-nil logger")
	}
	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("production logger should not log debug")
	}
}

func TestNewWithLevel(t *testing.T) {
	log, err := NewWithLevel("debug", false)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug to be enabled")
	}

	log, err = NewWithLevel("warn", true)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if log.Core().Enabled(zapcore.InfoLevel) {
		t.Error("expected info to be disabled at warn")
	}

	if _, err := NewWithLevel("chatty", false); err == nil {
		t.Error("expected error for unknown level")
	}
}
