// The main package for the fetchd executable.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mediafetch/fetchd/internal/api"
	"github.com/mediafetch/fetchd/internal/captcha"
	"github.com/mediafetch/fetchd/internal/clock/system"
	"github.com/mediafetch/fetchd/internal/config"
	"github.com/mediafetch/fetchd/internal/fetch"
	"github.com/mediafetch/fetchd/internal/hash/sha256"
	"github.com/mediafetch/fetchd/internal/id/uuid"
	"github.com/mediafetch/fetchd/internal/job"
	"github.com/mediafetch/fetchd/internal/logging"
	"github.com/mediafetch/fetchd/internal/metrics"
	"github.com/mediafetch/fetchd/internal/progress"
	"github.com/mediafetch/fetchd/internal/progress/sinks"
	"github.com/mediafetch/fetchd/internal/ratelimit"
	"github.com/mediafetch/fetchd/internal/retention"
	"github.com/mediafetch/fetchd/internal/ytdlp"
)

// limiterTable adapts the rate limiter's pruning to the sweeper interface.
type limiterTable struct {
	l *ratelimit.Limiter
}

func (t limiterTable) Sweep() { t.l.Prune() }

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "fetchd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	extractor := ytdlp.New(ytdlp.Options{
		CookiesFromBrowser: cfg.Fetch.CookiesFromBrowser,
		FragmentRetries:    cfg.Fetch.FragmentRetries,
	}, logger)

	clk := system.New()
	idGen := uuid.NewGenerator()

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLogSink(logger),
		promSink,
	)

	gate := captcha.NewGate(captcha.Config{
		CodeLength:   cfg.Captcha.CodeLength,
		ChallengeTTL: time.Duration(cfg.Captcha.ChallengeTTLSec) * time.Second,
		SessionTTL:   time.Duration(cfg.Captcha.SessionTTLSec) * time.Second,
		MaxAttempts:  cfg.Captcha.MaxAttempts,
		HMACKey:      cfg.Captcha.HMACKey,
	}, captcha.NewDigitRenderer(cfg.Captcha.CodeLength), clk, idGen, logger)

	manager := job.NewManager(job.Config{
		PoolSize:       cfg.Pool.Size,
		WorkDirRoot:    cfg.Fetch.WorkDirRoot,
		MinOutputBytes: cfg.Fetch.MinOutputBytes,
		Retry: fetch.RetryPolicy{
			MaxAttempts: cfg.Fetch.MaxAttempts,
			BaseDelay:   cfg.BackoffBase(),
			MaxDelay:    cfg.BackoffMax(),
		},
		ProbeTimeout:  cfg.ProbeTimeout(),
		CookiesPath:   cfg.Fetch.CookiesPath,
		UserAgent:     cfg.Fetch.UserAgent,
		AudioBitrate:  cfg.Fetch.AudioBitrate,
		RateLimitMBps: cfg.Fetch.RateLimitMBps,
		Hasher:        sha256.New(),
	}, extractor, clk, idGen, hub, logger)

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Server.RateLimitRPS,
		DefaultBurst: cfg.Server.RateLimitBurst,
	})

	sweeper := retention.New(retention.Config{
		Interval: time.Duration(cfg.Retention.SweepIntervalSec) * time.Second,
		Grace:    time.Duration(cfg.Retention.GraceWindowSec) * time.Second,
		MaxAge:   time.Duration(cfg.Retention.MaxAgeSec) * time.Second,
	}, manager, logger, gate, limiterTable{limiter})

	server := api.NewServer(manager, gate, api.Config{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RequestTimeout:    time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		PostDeliveryDelay: time.Duration(cfg.Retention.PostDeliveryDelaySec) * time.Second,
		Limiter:           limiter,
	}, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-sigCtx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("manager shutdown", zap.Error(err))
	}
	if err := sweeper.Close(shutdownCtx); err != nil {
		logger.Warn("sweeper close", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("hub close", zap.Error(err))
	}
	logger.Info("stopped")
	return nil
}
