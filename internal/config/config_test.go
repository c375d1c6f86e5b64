package config

import (
	"log/slog"
	"testing"
	"time"
)

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(mapLookup(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != DefaultPort {
		t.Fatalf("Port=%d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.ListenAddr() != ":8080" {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr(), ":8080")
	}
	if cfg.TLSConfigured() {
		t.Fatalf("TLSConfigured=true with no cert paths")
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("Mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("LogFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("MaxSignalingMessageBytes=%d", cfg.MaxSignalingMessageBytes)
	}
	if cfg.SignalingWSPingInterval != DefaultSignalingWSPingInterval {
		t.Fatalf("SignalingWSPingInterval=%v", cfg.SignalingWSPingInterval)
	}
	if cfg.MaxConnections != DefaultMaxConnections {
		t.Fatalf("MaxConnections=%d, want %d", cfg.MaxConnections, DefaultMaxConnections)
	}
}

func TestLoad_ProdModeDerivesLogDefaults(t *testing.T) {
	cfg, err := load(mapLookup(map[string]string{"MODE": "prod"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("LogFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel=%v, want info", cfg.LogLevel)
	}
}

func TestLoad_ExplicitValues(t *testing.T) {
	cfg, err := load(mapLookup(map[string]string{
		"PORT":                              "9443",
		"SSL_KEY_PATH":                      "/etc/beamdesk/key.pem",
		"SSL_CERT_PATH":                     "/etc/beamdesk/cert.pem",
		"SHUTDOWN_TIMEOUT":                  "5s",
		"MAX_SIGNALING_MESSAGE_BYTES":       "1024",
		"MAX_SIGNALING_MESSAGES_PER_SECOND": "10",
		"SIGNALING_WS_IDLE_TIMEOUT":         "30s",
		"SIGNALING_WS_PING_INTERVAL":        "10s",
		"SEND_QUEUE_MESSAGES":               "8",
		"MAX_CONNECTIONS":                   "500",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != 9443 {
		t.Fatalf("Port=%d, want 9443", cfg.Port)
	}
	if !cfg.TLSConfigured() {
		t.Fatalf("TLSConfigured=false with both cert paths set")
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("ShutdownTimeout=%v", cfg.ShutdownTimeout)
	}
	if cfg.MaxSignalingMessageBytes != 1024 {
		t.Fatalf("MaxSignalingMessageBytes=%d", cfg.MaxSignalingMessageBytes)
	}
	if cfg.MaxSignalingMessagesPerSecond != 10 {
		t.Fatalf("MaxSignalingMessagesPerSecond=%d", cfg.MaxSignalingMessagesPerSecond)
	}
	if cfg.SignalingWSIdleTimeout != 30*time.Second {
		t.Fatalf("SignalingWSIdleTimeout=%v", cfg.SignalingWSIdleTimeout)
	}
	if cfg.SendQueueMessages != 8 {
		t.Fatalf("SendQueueMessages=%d", cfg.SendQueueMessages)
	}
	if cfg.MaxConnections != 500 {
		t.Fatalf("MaxConnections=%d, want 500", cfg.MaxConnections)
	}
}

func TestLoad_KeyPathAloneDoesNotEnableTLS(t *testing.T) {
	cfg, err := load(mapLookup(map[string]string{"SSL_KEY_PATH": "/etc/beamdesk/key.pem"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TLSConfigured() {
		t.Fatalf("TLSConfigured=true with only a key path")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad port":     {"PORT": "not-a-port"},
		"port range":   {"PORT": "70000"},
		"bad mode":     {"MODE": "staging"},
		"bad format":   {"LOG_FORMAT": "yaml"},
		"bad level":    {"LOG_LEVEL": "loud"},
		"bad duration": {"SHUTDOWN_TIMEOUT": "soon"},
	}

	for name, env := range cases {
		if _, err := load(mapLookup(env)); err == nil {
			t.Errorf("%s: expected error for %v", name, env)
		}
	}
}

func TestNewLogger_FormatSelection(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		logger, err := NewLogger(Config{LogFormat: format})
		if err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
		if logger == nil {
			t.Fatalf("NewLogger(%q) returned nil", format)
		}
	}

	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
