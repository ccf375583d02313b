package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/sarichat/chat-relay/internal/config"
	"github.com/sarichat/chat-relay/internal/httpserver"
	"github.com/sarichat/chat-relay/internal/hub"
	"github.com/sarichat/chat-relay/internal/media"
	"github.com/sarichat/chat-relay/internal/metrics"
	"github.com/sarichat/chat-relay/internal/preview"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	// Construct the WebRTC API early so misconfigurations are caught on
	// startup. ICE sockets are only created once transports are allocated.
	api, err := media.NewAPI(cfg, logger)
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	logger.Info("starting chat-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"max_sessions", cfg.MaxSessions,
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
		"ws_idle_timeout", cfg.WSIdleTimeout,
		"preview_timeout", cfg.PreviewTimeout,
		"ice_servers", len(cfg.ICEServers),
	)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	relayHub := hub.New(cfg.MaxSessions, logger, m)

	srv := httpserver.New(cfg, logger, resolveBuildInfo(buildCommit, buildTime))

	srv.Mux().Handle("GET /chat", hub.NewWSServer(cfg, relayHub, logger))

	previewHandler := preview.NewHandler(
		preview.NewFetcher(&http.Client{Timeout: cfg.PreviewTimeout}, cfg.PreviewMaxBodyBytes),
		cfg.PreviewTimeout,
		logger,
		m,
	)
	srv.Mux().HandleFunc("GET /preview", srv.WithOriginPolicy(previewHandler.ServeHTTP))

	allocator := media.NewAllocator(api, cfg, logger, m)
	media.NewHandler(allocator).Register(srv.Mux(), srv.WithOriginPolicy)

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
		allocator.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	relayHub.NotifyAll("Server", "The server is shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	allocator.Close()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) httpserver.BuildInfo {
	// Prefer ldflags-injected values (production builds) but fall back to the
	// Go build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}
}
