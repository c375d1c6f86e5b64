package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/beamdesk/signaling/internal/config"
	"github.com/beamdesk/signaling/internal/httpserver"
	"github.com/beamdesk/signaling/internal/metrics"
	"github.com/beamdesk/signaling/internal/registry"
	"github.com/beamdesk/signaling/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting beamdesk-signaling",
		"listen_addr", cfg.ListenAddr(),
		"mode", cfg.Mode,
		"tls_configured", cfg.TLSConfigured(),
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"ws_idle_timeout", cfg.SignalingWSIdleTimeout,
		"ws_ping_interval", cfg.SignalingWSPingInterval,
		"send_queue_messages", cfg.SendQueueMessages,
		"max_connections", cfg.MaxConnections,
	)

	ln, usingTLS := listen(cfg, logger)

	logStartupSecurityWarnings(logger, cfg, usingTLS)

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	m := metrics.New()
	sig := signaling.NewServer(signaling.Config{
		Registry: registry.New(nil),
		Metrics:  m,
		Logger:   logger,

		MaxMessageBytes:   cfg.MaxSignalingMessageBytes,
		MessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		MaxConnections:    cfg.MaxConnections,
		IdleTimeout:       cfg.SignalingWSIdleTimeout,
		PingInterval:      cfg.SignalingWSPingInterval,
		SendQueueMessages: cfg.SendQueueMessages,
	})
	sig.RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		sig.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	sig.Close()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// listen binds the service port, upgrading to TLS when a key/cert pair is
// configured. A pair that fails to load falls back to plaintext so a bad
// certificate rollout degrades the deployment instead of taking it down.
func listen(cfg config.Config, logger *slog.Logger) (net.Listener, bool) {
	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	if !cfg.TLSConfigured() {
		return ln, false
	}

	cert, err := tls.LoadX509KeyPair(cfg.SSLCertPath, cfg.SSLKeyPath)
	if err != nil {
		logger.Warn("failed to load TLS key pair, serving plaintext",
			"err", err,
			"cert_path", cfg.SSLCertPath,
			"key_path", cfg.SSLKeyPath,
		)
		return ln, false
	}

	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), true
}

func resolveBuildInfo(commit, built string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}

	return commit, built
}
