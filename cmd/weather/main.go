package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	httpadapter "github.com/tinglebot/weather-service/internal/adapter/http"
	kafkaadapter "github.com/tinglebot/weather-service/internal/adapter/kafka"
	"github.com/tinglebot/weather-service/internal/announce"
	"github.com/tinglebot/weather-service/internal/app"
	"github.com/tinglebot/weather-service/internal/banner"
	"github.com/tinglebot/weather-service/internal/config"
	"github.com/tinglebot/weather-service/internal/forecast"
	"github.com/tinglebot/weather-service/internal/observability"
	"github.com/tinglebot/weather-service/internal/weather"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tables, err := app.Tables(cfg)
	if err != nil {
		logger.Error("failed to load weather tables", "error", err)
		os.Exit(1)
	}
	for _, f := range tables.Audit() {
		logger.Warn("weather table finding", "village", f.Village, "season", f.Season, "dimension", f.Dimension, "message", f.Message)
	}

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open weather store", "error", err)
		os.Exit(1)
	}

	clock := clockwork.NewRealClock()
	gen := forecast.NewGenerator(tables, nil, logger, metrics)
	svc := weather.NewService(store, gen, clock, logger, metrics)

	ready := httpadapter.AllReady{svc}
	var (
		publisher *kafkaadapter.Publisher
		done      = make(chan struct{})
	)
	if cfg.AnnounceEnabled {
		publisher = kafkaadapter.NewPublisher(cfg, logger)
		banners := banner.NewSelector(nil, cfg.BannerCacheTTL)
		a := announce.New(svc, publisher, banners, clock, cfg.AnnouncePMOffset, logger, metrics)
		ready = append(ready, a)

		go func() {
			defer close(done)
			if err := a.Run(ctx); err != nil {
				logger.Error("announcer error", "error", err)
			}
		}()
	} else {
		close(done)
		logger.Info("announcements disabled")
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.APIRateLimit), cfg.APIRateBurst)
	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, ready, limiter, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("announcer did not stop before shutdown timeout")
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Error("weather store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
