package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/queryhub/queryhub/internal/answer"
	"github.com/queryhub/queryhub/internal/api"
	"github.com/queryhub/queryhub/internal/auth"
	"github.com/queryhub/queryhub/internal/cache"
	catalogpostgres "github.com/queryhub/queryhub/internal/catalog/postgres"
	"github.com/queryhub/queryhub/internal/completion"
	"github.com/queryhub/queryhub/internal/config"
	"github.com/queryhub/queryhub/internal/executor"
	"github.com/queryhub/queryhub/internal/ingest"
	"github.com/queryhub/queryhub/internal/intent"
	metaindexpostgres "github.com/queryhub/queryhub/internal/metaindex/postgres"
	"github.com/queryhub/queryhub/internal/observability"
	"github.com/queryhub/queryhub/internal/orchestrator"
	"github.com/queryhub/queryhub/internal/resolve"
	"github.com/queryhub/queryhub/internal/sqlgen"
	s3store "github.com/queryhub/queryhub/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("queryhub-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	db, err := catalogpostgres.Open(context.Background(), catalogpostgres.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	catalogRepo := catalogpostgres.NewRepository(db)
	metadataIndex := metaindexpostgres.NewStore(db)

	objectStore, err := s3store.New(context.Background(), s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	completionClient, err := completion.NewOpenAIClient(completion.OpenAIConfig{
		BaseURL:        cfg.Completion.BaseURL,
		APIKey:         cfg.Completion.APIKey,
		Model:          cfg.Completion.Model,
		EmbeddingModel: cfg.Completion.EmbeddingModel,
		Temperature:    cfg.Completion.Temperature,
		Timeout:        cfg.Completion.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize completion client", slog.Any("error", err))
		os.Exit(1)
	}

	classifier, err := intent.NewModelClassifier(completionClient)
	if err != nil {
		logger.Error("failed to initialize intent classifier", slog.Any("error", err))
		os.Exit(1)
	}

	resolver, err := resolve.NewResolver(catalogRepo, metadataIndex, completionClient, resolve.Config{
		SearchK:       cfg.Resolver.SearchK,
		MinSimilarity: cfg.Resolver.MinSimilarity,
	})
	if err != nil {
		logger.Error("failed to initialize resolver", slog.Any("error", err))
		os.Exit(1)
	}

	generator, err := sqlgen.NewCompletionGenerator(completionClient)
	if err != nil {
		logger.Error("failed to initialize sql generator", slog.Any("error", err))
		os.Exit(1)
	}

	queryExecutor, err := executor.New(catalogRepo, objectStore, executor.Config{
		RowLimit:       cfg.Executor.RowLimit,
		QueryTimeout:   cfg.Executor.QueryTimeout,
		MaxConcurrency: cfg.Executor.MaxConcurrency,
	})
	if err != nil {
		logger.Error("failed to initialize executor", slog.Any("error", err))
		os.Exit(1)
	}

	formatter, err := answer.NewCompletionFormatter(completionClient)
	if err != nil {
		logger.Error("failed to initialize answer formatter", slog.Any("error", err))
		os.Exit(1)
	}

	localCache := cache.NewLocalStore(cfg.Cache.TTL, uint64(cfg.Cache.LocalCapacity))
	defer localCache.Stop()
	answerCache := cache.NewFailoverStore(cache.NewPostgresStore(db), localCache, logger)

	pipeline, err := orchestrator.New(orchestrator.Dependencies{
		Classifier: classifier,
		Resolver:   resolver,
		Generator:  generator,
		Executor:   queryExecutor,
		Formatter:  formatter,
		Cache:      answerCache,
		Logger:     logger,
	}, orchestrator.Config{
		MaxAttempts:       cfg.Generation.MaxAttempts,
		GenerationTimeout: cfg.Generation.Timeout,
		CacheTTL:          cfg.Cache.TTL,
	})
	if err != nil {
		logger.Error("failed to initialize orchestrator", slog.Any("error", err))
		os.Exit(1)
	}

	ingestService, err := ingest.NewService(catalogRepo, objectStore, metadataIndex, completionClient, answerCache, logger, ingest.Config{
		SampleRows:  cfg.Ingest.SampleRows,
		MaxFileSize: cfg.Ingest.MaxFileSize,
	})
	if err != nil {
		logger.Error("failed to initialize ingest service", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:       logger,
		CatalogRepo:  catalogRepo,
		Orchestrator: pipeline,
		Ingest:       ingestService,
		Readiness: api.CombineReadinessChecks(
			catalogRepo.HealthCheck,
			api.CheckObjectStoreConfig(cfg),
			api.CheckCompletionConfig(cfg),
		),
		DependencyTimeout: time.Second,
		MaxUploadBytes:    cfg.Ingest.MaxFileSize,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
