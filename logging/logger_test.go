package logging

import (
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
		errMsg  string
	}{
		{name: "json at debug", level: "debug", format: "json"},
		{name: "json at info", level: "info", format: "json"},
		{name: "json at warn", level: "warn", format: "json"},
		{name: "json at error", level: "error", format: "json"},
		{name: "console at debug", level: "debug", format: "console"},
		{name: "unknown level", level: "verbose", format: "json", wantErr: true, errMsg: "invalid log level"},
		{name: "unknown format", level: "info", format: "logfmt", wantErr: true, errMsg: "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("New(%q, %q) error = nil, want substring %q", tt.level, tt.format, tt.errMsg)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Fatalf("New(%q, %q) error = %v, want substring %q", tt.level, tt.format, err, tt.errMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("New(%q, %q) error = %v", tt.level, tt.format, err)
			}
			if logger == nil {
				t.Fatalf("New(%q, %q) returned nil logger", tt.level, tt.format)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level   string
		want    slog.Level
		wantErr bool
	}{
		{level: "debug", want: slog.LevelDebug},
		{level: "info", want: slog.LevelInfo},
		{level: "warn", want: slog.LevelWarn},
		{level: "error", want: slog.LevelError},
		{level: "trace", wantErr: true},
		{level: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got, err := parseLevel(tt.level)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseLevel(%q) error = nil, want error", tt.level)
				}
				return
			}

			if err != nil {
				t.Fatalf("parseLevel(%q) error = %v", tt.level, err)
			}
			if got != tt.want {
				t.Fatalf("parseLevel(%q) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestLoggerOutput(t *testing.T) {
	logger, err := New("info", "json")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("Room over threshold", "room", "kitchen", "watts", 1720.5)
	logger.Debug("Plug reading", "entity", "sensor.counter_power") // Below level, must not panic
	logger.Warn("Announcement skipped", "player", "media_player.kitchen")
	logger.Error("Failed to flush energy ledger", "error", "store unavailable")
}
