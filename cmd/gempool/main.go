package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/use-agent/gempool/api"
	"github.com/use-agent/gempool/browser"
	"github.com/use-agent/gempool/config"
	"github.com/use-agent/gempool/pool"
	"github.com/use-agent/gempool/slot"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfgPath := config.Path()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Logging)
	slog.Info("session pool starting",
		"config", cfgPath,
		"slots", cfg.Pool.Size,
		"inactivity_timeout_s", cfg.Pool.InactivityTimeoutS,
		"queue_max", cfg.Pool.MaxQueueDepth,
		"headless", cfg.Browser.Headless,
	)

	// ── 3. Launch Chrome on the persistent profile ──────────────────
	br := browser.New(cfg.Browser)
	if err := br.Start(); err != nil {
		slog.Error("failed to start browser", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// ── 4. Login check on the startup tab ───────────────────────────
	// The main app URL is used first: the interactive sign-in flow is more
	// reliable there than on a Gem URL.
	first := br.InitialPage()
	if err := br.NavigateToBase(ctx, first); err != nil {
		slog.Warn("initial navigation failed", "error", err)
	}
	br.DismissCookieConsent(first)

	loggedIn := br.IsLoggedIn(first)
	if !loggedIn {
		slog.Warn("not logged in, please complete the Google sign-in in the browser window")
		if err := br.WaitForLogin(ctx, first); err != nil {
			slog.Error("login not detected, starting anyway; sends will fail until login",
				"error", err)
		} else {
			loggedIn = true
		}
	}
	enterprise := false
	if loggedIn {
		enterprise = br.IsEnterprise(first)
		slog.Info("login ok", "enterprise", enterprise)
	}

	// ── 5. Warm up slots ────────────────────────────────────────────
	slog.Info("warming up slots",
		"count", cfg.Pool.Size,
		"target", cfg.Browser.TargetURL,
		"model", cfg.Browser.PreferredModel)

	if err := br.NavigateToNewChat(ctx, first); err != nil {
		slog.Warn("slot 0 target navigation failed", "error", err)
	} else if err := br.EnsurePreferredModel(first); err != nil {
		slog.Warn("model selection failed", "error", err)
	}
	slots := []*slot.Slot{slot.New(0, first, cfg.Browser)}

	for id := 1; id < cfg.Pool.Size; id++ {
		page, err := br.CreateSlotPage(ctx)
		s := slot.New(id, page, cfg.Browser)
		if err != nil {
			slog.Error("slot warmup failed", "slot", id, "error", err)
			s.MarkError()
		} else {
			slog.Info("slot ready", "slot", id)
		}
		slots = append(slots, s)
	}

	// ── 6. Create pool and start monitors ───────────────────────────
	p := pool.New(slots, cfg.Pool, cfg.Health, cfg.Browser, br)
	p.SetEnterprise(enterprise)
	p.StartMonitors()

	free := p.Status().Free
	slog.Info("pool ready", "available", free)

	// ── 7. Start HTTP server ────────────────────────────────────────
	apiStop := make(chan struct{}, 1)
	router := api.NewRouter(p, cfg, func() {
		select {
		case apiStop <- struct{}{}:
		default:
		}
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		slog.Info("REST API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 8. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig.String())
	case <-apiStop:
		slog.Info("shutdown requested via REST API")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	p.Shutdown()
	slog.Info("session pool stopped")
}

// initLogger configures slog: rotating file plus stderr, JSON or text.
func initLogger(cfg config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	dir := cfg.ResolvedDir()
	var out io.Writer = os.Stderr
	if err := os.MkdirAll(dir, 0o755); err == nil {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   filepath.Join(dir, "gempool.log"),
			MaxSize:    cfg.MaxFileSizeMB,
			MaxBackups: cfg.BackupCount,
		})
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
}
