package main

import (
	"log/slog"

	"github.com/beamdesk/signaling/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config, usingTLS bool) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.TLSConfigured() && !usingTLS {
		logger.Warn("startup security warning: TLS was configured but could not be enabled; signaling traffic is plaintext",
			"warning_code", "tls_fallback_plaintext",
			"cert_path", cfg.SSLCertPath,
			"key_path", cfg.SSLKeyPath,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && !usingTLS {
		logger.Warn("startup security warning: serving plaintext WebSocket signaling in prod (set SSL_KEY_PATH and SSL_CERT_PATH)",
			"warning_code", "plaintext_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGES_PER_SECOND is unset/0 (unlimited inbound message rate)",
			"warning_code", "signaling_rate_unlimited",
			"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxConnections <= 0 {
		logger.Warn("startup security warning: MAX_CONNECTIONS is unset/0 in prod (unbounded concurrent connections)",
			"warning_code", "max_connections_unlimited_in_prod",
			"max_connections", cfg.MaxConnections,
			"mode", cfg.Mode,
		)
	}

	// Oversized frame hardening depends on this cap; warn when it is raised far
	// beyond what an SDP or candidate payload could plausibly need.
	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}
}
