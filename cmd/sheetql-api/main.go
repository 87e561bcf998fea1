package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sheetql/sheetql/internal/api"
	"github.com/sheetql/sheetql/internal/auth"
	"github.com/sheetql/sheetql/internal/catalog"
	"github.com/sheetql/sheetql/internal/chat"
	"github.com/sheetql/sheetql/internal/config"
	"github.com/sheetql/sheetql/internal/ingest"
	"github.com/sheetql/sheetql/internal/llm"
	"github.com/sheetql/sheetql/internal/migrations"
	"github.com/sheetql/sheetql/internal/observability"
	"github.com/sheetql/sheetql/internal/sqlguard"
	"github.com/sheetql/sheetql/internal/storage"
	s3store "github.com/sheetql/sheetql/internal/storage/s3"
	"github.com/sheetql/sheetql/internal/store"
	storepostgres "github.com/sheetql/sheetql/internal/store/postgres"
	storesqlite "github.com/sheetql/sheetql/internal/store/sqlite"
	"github.com/sheetql/sheetql/internal/tools"
)

func main() {
	cfg, err := config.LoadFromEnv("sheetql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	tableCatalog := catalog.New(st, st, cfg.Query.PreviewRows)
	if err := tableCatalog.Load(ctx); err != nil {
		logger.Error("failed to load table catalog", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("table catalog loaded", slog.Int("tables", len(tableCatalog.List())))

	pipeline := &ingest.Pipeline{
		Catalog: tableCatalog,
		Writer:  st,
		Limits: ingest.Limits{
			MaxRows:    cfg.Ingest.MaxRows,
			MaxColumns: cfg.Ingest.MaxColumns,
		},
		Logger: logger,
	}
	readiness := []api.ReadinessCheck{st.HealthCheck}
	if cfg.Archive.Enabled {
		objectStore, err := s3store.New(ctx, cfg.ObjectStore)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		pipeline.Archiver = &storage.Archiver{
			Store:     objectStore,
			Snapshots: cfg.Archive.Snapshots,
			Logger:    logger,
		}
		readiness = append(readiness, objectStore.HealthCheck)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Ingestor:          pipeline,
		Catalog:           tableCatalog,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: 2 * time.Second,
	}

	model, err := newChatModel(cfg)
	switch {
	case err != nil:
		logger.Error("failed to initialize chat model", slog.Any("error", err))
		os.Exit(1)
	case model == nil:
		logger.Warn("chat disabled: SHEETQL_AI_API_KEY is not set")
	default:
		registry := &tools.Registry{
			Catalog:      tableCatalog,
			Runner:       st,
			Validator:    sqlguard.NewValidator(cfg.Query.RowCap),
			QueryTimeout: cfg.Query.Timeout,
			Logger:       logger,
		}
		orchestrator := chat.New(model, registry, tableCatalog, chat.Options{
			Dialect:       promptDialect(cfg.Store.Driver),
			MaxIterations: cfg.Chat.MaxIterations,
			ModelTimeout:  cfg.Chat.ModelTimeout,
			ToolTimeout:   cfg.Chat.ToolTimeout,
			SessionTTL:    cfg.Chat.SessionTTL,
			Logger:        logger,
		})
		go evictIdleSessions(ctx, orchestrator, cfg.Chat.SessionTTL, logger)
		deps.Chat = orchestrator
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

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("store_driver", cfg.Store.Driver),
			slog.String("ai_provider", cfg.AI.Provider),
		)
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

func openStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	opts := store.Options{InsertBatch: cfg.Ingest.InsertBatch, QueryTimeout: cfg.Query.Timeout}
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		db, err := storepostgres.Open(ctx, storepostgres.DBConfig{
			DSN:             cfg.Store.DSN,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		if err := autoMigrate(ctx, cfg, migrations.DialectPostgres, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return store.New(db, db, storepostgres.Dialect{}, opts), nil
	default:
		db, err := storesqlite.Open(ctx, storesqlite.DBConfig{
			Path:            cfg.Store.Path,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, err
		}
		if err := autoMigrate(ctx, cfg, migrations.DialectSQLite, db.Writer); err != nil {
			_ = db.Close()
			return nil, err
		}
		return store.New(db.Writer, db.Reader, storesqlite.Dialect{}, opts), nil
	}
}

func autoMigrate(ctx context.Context, cfg config.Config, dialect migrations.Dialect, db *sql.DB) error {
	if !cfg.Store.AutoMigrate {
		return nil
	}
	runner, err := migrations.NewRunner(dialect)
	if err != nil {
		return err
	}
	if _, err := runner.Up(ctx, db, 0); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	return nil
}

// newChatModel returns nil without an API key so the API still serves
// uploads and tables.
func newChatModel(cfg config.Config) (llm.ChatModel, error) {
	if cfg.AI.APIKey == "" {
		return nil, nil
	}
	switch cfg.AI.Provider {
	case config.AIProviderAnthropic:
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
			Timeout:     cfg.Chat.ModelTimeout,
		})
	default:
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			AppName:     cfg.AI.AppName,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
			Timeout:     cfg.Chat.ModelTimeout,
		})
	}
}

func promptDialect(driver string) string {
	if driver == config.StoreDriverPostgres {
		return "PostgreSQL"
	}
	return "SQLite"
}

func evictIdleSessions(ctx context.Context, orchestrator *chat.Orchestrator, ttl time.Duration, logger *slog.Logger) {
	if ttl <= 0 {
		return
	}
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := orchestrator.EvictIdle(); n > 0 {
				logger.Info("evicted idle chat sessions", slog.Int("sessions", n))
			}
		}
	}
}
