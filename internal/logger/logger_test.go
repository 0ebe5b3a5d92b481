package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewConfig(t *testing.T) {
	cfg := newConfig(false, false)
	if cfg.Encoding != "console" {
		t.Fatalf("expected console encoding, got %q", cfg.Encoding)
	}
	if cfg.Level.Level() != zapcore.InfoLevel {
		t.Fatalf("expected info level, got %s", cfg.Level.Level())
	}
	if len(cfg.OutputPaths) != 1 || cfg.OutputPaths[0] != "stderr" {
		t.Fatalf("expected logs on stderr, got %v", cfg.OutputPaths)
	}

	cfg = newConfig(true, true)
	if cfg.Encoding != "json" {
		t.Fatalf("expected json encoding, got %q", cfg.Encoding)
	}
	if cfg.Level.Level() != zapcore.DebugLevel {
		t.Fatalf("expected debug level, got %s", cfg.Level.Level())
	}
}

func TestStringFields(t *testing.T) {
	fields := StringFields(
		StringField{Key: "  provider  ", Value: "  Gemini  "},
		StringField{Key: "ignored", Value: "   "},
		StringField{Key: "   ", Value: "empty key"},
	)

	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(fields))
	}

	if fields[0].Key != "provider" || fields[0].String != "Gemini" {
		t.Fatalf("unexpected provider field: %+v", fields[0])
	}

	if empty := StringFields(); len(empty) != 0 {
		t.Fatalf("expected empty fields, got %d", len(empty))
	}
}

func TestWithFieldsNilLogger(t *testing.T) {
	enriched := WithFields(nil, zap.String("baz", "qux"))
	if enriched == nil {
		t.Fatalf("expected fallback logger when nil provided")
	}

	enriched.Info("another log")
}

func TestProviderFields(t *testing.T) {
	fields := ProviderFields("  openai  ", "")
	if len(fields) != 1 {
		t.Fatalf("expected the empty model to be dropped, got %d fields", len(fields))
	}
	if fields[0].Key != FieldProvider || fields[0].String != "openai" {
		t.Fatalf("unexpected provider field: %+v", fields[0])
	}
}

func TestWithProviderAndSession(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	WithSession(WithProvider(logger, "gemini", "text-embedding-004"), "b7f0c1d2").Info("test log")

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	ctx := entries[0].ContextMap()
	if ctx[FieldProvider] != "gemini" {
		t.Fatalf("expected provider field to be gemini, got %q", ctx[FieldProvider])
	}
	if ctx[FieldModel] != "text-embedding-004" {
		t.Fatalf("unexpected model field %q", ctx[FieldModel])
	}
	if ctx[FieldSession] != "b7f0c1d2" {
		t.Fatalf("unexpected session field %q", ctx[FieldSession])
	}

	WithSession(logger, "  ").Info("no session")
	if _, ok := observed.All()[1].ContextMap()[FieldSession]; ok {
		t.Fatalf("blank session id must not be logged")
	}
}
