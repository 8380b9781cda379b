package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/steward/internal/agent"
	"github.com/haasonsaas/steward/internal/agent/providers"
	"github.com/haasonsaas/steward/internal/approval"
	"github.com/haasonsaas/steward/internal/audit"
	"github.com/haasonsaas/steward/internal/chat"
	"github.com/haasonsaas/steward/internal/config"
	"github.com/haasonsaas/steward/internal/observability"
	"github.com/haasonsaas/steward/internal/sessions"
	"github.com/haasonsaas/steward/internal/tools"
	"github.com/haasonsaas/steward/internal/tools/accounts"
	"github.com/haasonsaas/steward/internal/tools/catalog"
	"github.com/haasonsaas/steward/internal/web"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the steward server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Storage backends.
	var (
		sessionStore  sessions.Store
		approvalStore approval.Store
		auditSink     audit.Sink
	)
	switch cfg.Storage.Driver {
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		// modernc sqlite serializes writes through a single connection.
		db.SetMaxOpenConns(1)

		sessionStore, err = sessions.NewSQLiteStoreFromDB(db)
		if err != nil {
			return fmt.Errorf("failed to init session store: %w", err)
		}
		approvalStore, err = approval.NewSQLiteStoreFromDB(db)
		if err != nil {
			return fmt.Errorf("failed to init approval store: %w", err)
		}
		auditSink, err = audit.NewSQLiteSinkFromDB(db)
		if err != nil {
			return fmt.Errorf("failed to init audit sink: %w", err)
		}
		logger.Info("using sqlite storage", "path", cfg.Storage.Path)
	default:
		sessionStore = sessions.NewMemoryStore()
		approvalStore = approval.NewMemoryStore()
		auditSink = audit.NewMemorySink()
		logger.Warn("using in-memory storage, state is lost on restart")
	}
	auditSink = audit.NewLoggingSink(auditSink, logger)

	metrics := observability.NewMetrics()

	// Tools.
	registry := tools.NewRegistry()
	accountStore := accounts.NewStore(defaultAccounts())
	for _, tool := range []tools.Tool{
		catalog.NewSearchTool(defaultCatalog(), 0),
		accounts.NewGetTool(accountStore),
		accounts.NewManageTool(accountStore),
		accounts.NewDeleteTool(accountStore),
	} {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name(), err)
		}
	}
	executor := tools.NewExecutor(registry, nil)

	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		return err
	}

	controller := agent.NewController(
		provider,
		registry,
		executor,
		sessionStore,
		approvalStore,
		auditSink,
		metrics,
		logger,
		&agent.Config{
			MaxIterations: cfg.Chat.MaxIterations,
			MaxTokens:     cfg.LLM.MaxTokens,
			ApprovalTTL:   cfg.Approval.TTL,
		},
	)

	locks := sessions.NewSessionLockManager(0)
	chatService := chat.NewService(controller, sessionStore, approvalStore, auditSink, locks, logger, &chat.Config{
		SystemPrompt: cfg.Chat.SystemPrompt,
		Model:        cfg.LLM.Model,
		WindowSize:   cfg.Chat.WindowSize,
		TurnTimeout:  cfg.Chat.TurnTimeout,
	})

	sweeper := approval.NewSweeper(approvalStore, cfg.Approval.SweepInterval, cfg.Approval.RetentionGrace, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	server := web.NewServer(&web.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, chatService, auditSink, metrics, logger)
	if err := server.Start(); err != nil {
		return err
	}

	logger.Info("steward started",
		"provider", provider.Name(),
		"model", cfg.LLM.Model,
		"tools", registry.Len(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func buildProvider(cfg config.LLMConfig) (agent.LLMProvider, error) {
	switch cfg.Provider {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
	case "openai":
		return providers.NewOpenAIProvider(cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
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

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// defaultCatalog seeds the demo media catalog.
func defaultCatalog() []catalog.Item {
	return []catalog.Item{
		{ID: "m-001", Title: "The Long Voyage", Genre: "drama", Year: 2019, Score: 8.1},
		{ID: "m-002", Title: "Voyage to the Deep", Genre: "documentary", Year: 2021, Score: 7.6},
		{ID: "m-003", Title: "Midnight Static", Genre: "thriller", Year: 2020, Score: 7.9},
		{ID: "m-004", Title: "Garden of Hours", Genre: "drama", Year: 2022, Score: 8.4},
		{ID: "m-005", Title: "Signal Lost", Genre: "thriller", Year: 2018, Score: 6.8},
		{ID: "m-006", Title: "The Cartographer", Genre: "documentary", Year: 2023, Score: 8.0},
	}
}

// defaultAccounts seeds the demo account store.
func defaultAccounts() []accounts.Account {
	now := time.Now()
	return []accounts.Account{
		{ID: "acct-1001", Email: "ada@example.com", Name: "Ada Lovelace", Plan: "premium", Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: "acct-1002", Email: "grace@example.com", Name: "Grace Hopper", Plan: "basic", Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: "acct-1003", Email: "alan@example.com", Name: "Alan Turing", Plan: "basic", Active: false, CreatedAt: now, UpdatedAt: now},
	}
}
