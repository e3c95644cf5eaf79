package observability

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/spec-kit/visit-engine/internal/config"
)

func TestNewLoggerFormats(t *testing.T) {
	app := config.AppConfig{Name: "visit-engine", Env: "test", Version: "dev"}
	for _, format := range []string{"", "json", "console"} {
		logger, err := NewLogger(config.LoggerConfig{Level: "debug", Format: format}, app)
		if err != nil {
			t.Fatalf("format %q: %v", format, err)
		}
		if !logger.Core().Enabled(zapcore.DebugLevel) {
			t.Fatalf("format %q: expected debug level enabled", format)
		}
	}
}

func TestNewLoggerRejectsBadSettings(t *testing.T) {
	app := config.AppConfig{Name: "visit-engine"}
	if _, err := NewLogger(config.LoggerConfig{Level: "loud"}, app); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := NewLogger(config.LoggerConfig{Level: "info", Format: "xml"}, app); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
