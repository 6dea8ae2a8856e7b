package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beyproweb/beypro-pos-sub005/internal/cache"
	"github.com/beyproweb/beypro-pos-sub005/internal/config"
	"github.com/beyproweb/beypro-pos-sub005/internal/handler"
	"github.com/beyproweb/beypro-pos-sub005/internal/infra"
	"github.com/beyproweb/beypro-pos-sub005/internal/repository"
	"github.com/beyproweb/beypro-pos-sub005/internal/router"
	"github.com/beyproweb/beypro-pos-sub005/internal/service"
	"github.com/beyproweb/beypro-pos-sub005/internal/worker"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Structured logger — dev: pretty, prod: JSON
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	rdb, err := infra.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Infrastructure ───────────────────────────────────────────────────────
	reportsClient := infra.NewReportsClient(cfg.POSBackendURL, cfg.POSServiceToken)
	ocrCB := infra.NewCircuitBreaker(infra.DefaultCBConfig())
	ocrClient := infra.NewOCRClient(cfg.OCRServiceURL, ocrCB)
	broadcaster := infra.NewBroadcaster(rdb)
	mailer := infra.NewMailer(cfg)
	store := cache.New()

	// ── Repositories ─────────────────────────────────────────────────────────
	closeRepo := repository.NewCloseReceiptRepository(db)
	terminalRepo := repository.NewTerminalReceiptRepository(db)

	// ── Services ─────────────────────────────────────────────────────────────
	dispatcher := worker.NewDispatcher(rdb)
	statusSvc := service.NewStatusService(reportsClient, store)
	timelineSvc := service.NewTimelineService(reportsClient, store)
	reconSvc := service.NewReconciliationService(reportsClient, store, statusSvc,
		cfg.CashDiffThreshold, cfg.CardDiffThreshold, cfg.RiskScoreLimit,
		cfg.ReconRefineDelay(), cfg.ReconPollInterval())
	stockSvc := service.NewStockService(reportsClient, store)
	zreportSvc := service.NewZReportService(ocrClient, terminalRepo, cfg.PreviewStoragePath)
	registerSvc := service.NewRegisterService(reportsClient, statusSvc, reconSvc,
		timelineSvc, stockSvc, zreportSvc, closeRepo, broadcaster, dispatcher)
	authSvc := service.NewAuthService(cfg)

	// Worker handlers are wired here (composition root) so the pool has full
	// access to all infrastructure dependencies.
	handlers := &worker.Handlers{
		CloseOut: worker.NewCloseOutWorker(dispatcher, cfg.PDFStoragePath, cfg.CloseReportEmail),
		Email:    worker.NewEmailWorker(mailer),
	}
	worker.StartWorkerPool(ctx, rdb, cfg.WorkerPoolSize, handlers)

	// Live reconciliation polling while the register is open
	go reconSvc.RunPolling(ctx)

	// Warm the session mirror so the first status request is served hot
	go func() {
		warmCtx, warmCancel := context.WithTimeout(ctx, 15*time.Second)
		defer warmCancel()
		if _, err := statusSvc.RefreshStatus(warmCtx, false); err != nil {
			log.Warn().Err(err).Msg("initial status refresh failed")
		}
	}()

	r := router.New(cfg, db, rdb, router.Handlers{
		Auth: handler.NewAuthHandler(authSvc),
		Register: handler.NewRegisterHandler(registerSvc, statusSvc, timelineSvc,
			reconSvc, stockSvc, zreportSvc),
		ZReport: handler.NewZReportHandler(zreportSvc, statusSvc, reconSvc),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	go func() {
		log.Info().Msgf("register close-out service listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}

	// Preview artifacts are session-scoped; drop them on the way out.
	zreportSvc.Reset()
	log.Info().Msg("server exited")
}
