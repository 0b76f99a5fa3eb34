package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/queryhub/queryhub/internal/answer"
	"github.com/queryhub/queryhub/internal/auth"
	"github.com/queryhub/queryhub/internal/cache"
	catalogpostgres "github.com/queryhub/queryhub/internal/catalog/postgres"
	"github.com/queryhub/queryhub/internal/completion"
	"github.com/queryhub/queryhub/internal/config"
	"github.com/queryhub/queryhub/internal/executor"
	"github.com/queryhub/queryhub/internal/ingest"
	"github.com/queryhub/queryhub/internal/intent"
	"github.com/queryhub/queryhub/internal/mcp"
	metaindexpostgres "github.com/queryhub/queryhub/internal/metaindex/postgres"
	"github.com/queryhub/queryhub/internal/observability"
	"github.com/queryhub/queryhub/internal/orchestrator"
	"github.com/queryhub/queryhub/internal/resolve"
	"github.com/queryhub/queryhub/internal/sqlgen"
	s3store "github.com/queryhub/queryhub/internal/storage/s3"
)

// tableAdmin joins catalog reads with ingest-owned deletion so the MCP
// tools see one table admin surface.
type tableAdmin struct {
	*catalogpostgres.Repository
	*ingest.Service
}

func main() {
	cfg, err := config.LoadFromEnv("queryhub-mcp")
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

	serverCfg := mcp.Config{
		ListenAddr:      cfg.MCP.Address,
		Version:         "1.0.0",
		ShutdownTimeout: cfg.MCP.ShutdownTimeout,
		Logger:          logger,
		Orchestrator:    pipeline,
		Tables:          tableAdmin{catalogRepo, ingestService},
		Uploads:         ingestService,
	}
	if cfg.MCP.AllowedTokens != "" {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.MCP.AllowedTokens)
		if err != nil {
			logger.Error("failed to parse mcp tokens", slog.Any("error", err))
			os.Exit(1)
		}
		serverCfg.Validator = validator
	}

	server, err := mcp.New(serverCfg)
	if err != nil {
		logger.Error("failed to initialize mcp server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logger.Error("mcp server failed", slog.Any("error", err))
		os.Exit(1)
	}
}
