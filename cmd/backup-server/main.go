package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"AvailWallet/internal/config"
	"AvailWallet/internal/handlers"
	"AvailWallet/internal/middleware"
	"AvailWallet/internal/repo"
	"AvailWallet/internal/service"
)

func main() {
	cfg := config.NewConfig()

	// создаём предустановленный регистратор zap
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}

	// делаем регистратор SugaredLogger
	sugar := logger.Sugar()
	middleware.SetLogger(sugar) // передаём логгер в middleware
	//сброс буфера логгера
	defer func() {
		if err := logger.Sync(); err != nil {
			sugar.Errorw("Failed to sync logger", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gormDB, err := repo.InitDB(cfg.DatabaseDSN)
	if err != nil {
		sugar.Fatalw("failed to initialize database", "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	authService := service.NewAuthService(repo.NewChallengeRepository(gormDB))
	backupService := service.NewBackupService(
		repo.NewRowRepository(gormDB),
		repo.NewMessageRepository(gormDB),
		reg,
		sugar.Named("backup"),
	)

	// /metrics на основном адресе, если отдельный не задан
	var gatherer prometheus.Gatherer = reg
	if cfg.MetricsAddr != "" {
		gatherer = nil
		go serveMetrics(cfg.MetricsAddr, reg, sugar)
	}
	h := handlers.NewHandler(authService, backupService, gatherer, sugar, cfg)

	go purgeChallenges(ctx, authService, sugar)

	addr := cfg.BaseURL
	srv := &http.Server{Addr: addr, Handler: h.Router, ReadHeaderTimeout: 10 * time.Second}

	sugar.Infow(
		"Starting server",
		"addr", addr,
	)

	sugar.Infow("Config",
		"BaseURL", cfg.BaseURL,
		"EnableHTTPS", cfg.EnableHTTPS,
		"MetricsAddr", cfg.MetricsAddr,
	)

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		sugar.Fatalw("Server failed", "error", err)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, sugar *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	sugar.Infow("Serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		sugar.Errorw("Metrics server failed", "error", err)
	}
}

func purgeChallenges(ctx context.Context, s *service.AuthService, sugar *zap.SugaredLogger) {
	t := time.NewTicker(service.ChallengeTTL)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := s.PurgeExpired(ctx); err != nil {
				sugar.Warnw("challenge purge failed", "error", err)
			} else if n > 0 {
				sugar.Debugw("expired challenges purged", "count", n)
			}
		}
	}
}
