// Command server starts the feedback analyzer HTTP server, the upstream
// ingestion bridge and the worker pool.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/ai/openai"
	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/ai/stub"
	httpserver "github.com/fairyhunter13/feedback-analyzer/internal/adapter/httpserver"
	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/queue/inmem"
	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/repo/jsonfile"
	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/ws"
	"github.com/fairyhunter13/feedback-analyzer/internal/app"
	"github.com/fairyhunter13/feedback-analyzer/internal/config"
	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
	"github.com/fairyhunter13/feedback-analyzer/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Repositories
	records := jsonfile.NewRecordStore(cfg.FeedbackFile)
	cursors := jsonfile.NewCursorStore(cfg.CursorFile)

	// AI client: a missing key selects the deterministic offline client so
	// the service stays usable in local development.
	var aicl domain.AIClient
	if cfg.AIAPIKey != "" {
		aicl = openai.New(cfg)
		slog.Info("AI client initialized", slog.String("model", cfg.AIModel))
	} else {
		aicl = stub.New()
		slog.Warn("AI_API_KEY not set, using deterministic stub client")
	}

	// Usecases
	analyzer := usecase.NewAnalyzer(aicl, cfg.AIMaxTokens)
	feedbackSvc := usecase.NewFeedbackService(records, analyzer)
	metricsSvc := usecase.NewMetricsService(records)
	bulkSvc := usecase.NewBulkService(records, analyzer)

	// Event pipeline: bridge feeds the queue, the pool drains it and the
	// broadcaster fans results out to dashboard clients.
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	broadcaster := ws.NewBroadcaster()
	queue := inmem.NewQueue(cfg.WSInboundQueueSize)
	pool := inmem.NewPool(queue, records, cursors, broadcaster, cfg.WSWorkerCount)
	pool.Start(rootCtx)

	bridge := ws.NewBridge(cfg.StubWSURL, cursors, queue, cfg.WSReconnectBaseDelay, cfg.WSReconnectMaxDelay)
	go bridge.Run(rootCtx)

	storeCheck := func(ctx domain.Context) error {
		_, err := records.ReadAll(ctx)
		return err
	}

	srv := httpserver.NewServer(cfg, feedbackSvc, metricsSvc, bulkSvc, broadcaster, storeCheck)
	handler := app.BuildRouter(cfg, srv, broadcaster)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)

	cancelRoot()
	pool.Wait()
}
