package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"biochat/internal/agent"
	"biochat/internal/config"
	"biochat/internal/domain"
	"biochat/internal/embedding/openai"
	"biochat/internal/logging"
	"biochat/internal/router"
	"biochat/internal/service"
	"biochat/internal/session"
	"biochat/internal/tui"
	"biochat/internal/vectorstore"
)

const defaultLogFile = "biochat.log"

var logFile string

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the Paul Allen biography agent",
	Long: `Chat starts an interactive terminal session with an agent that answers
questions about Paul Allen from the ingested knowledge base.

Messages are routed first; anything outside Paul Allen questions, greetings,
farewells and thanks is politely declined. Run ingest before chatting.`,
	SilenceUsage: true,
	RunE:         runChat,
}

func init() {
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "log file (default LOG_FILE or "+defaultLogFile+")")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	config.LoadDotEnv()

	// Configuration problems are reported on stderr before the UI takes the terminal.
	boot, err := logging.New("warn", "")
	if err != nil {
		return err
	}
	cfg, err := config.Load(config.ModeChat, boot)
	if err != nil {
		boot.Error("configuration error", zap.Error(err))
		return err
	}

	if logFile == "" {
		logFile = cfg.Log.File
	}
	if logFile == "" {
		logFile = defaultLogFile
	}
	log, err := logging.New(cfg.Log.Level, logFile)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	embedder, err := openai.NewClient(openai.Config{
		APIKey:    cfg.OpenAI.APIKey,
		BaseURL:   cfg.OpenAI.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		BatchSize: cfg.Embedding.BatchSize,
		Logger:    log,
	})
	if err != nil {
		boot.Error("failed to initialize embedder", zap.Error(err))
		return err
	}

	branding := session.DefaultBranding()
	if cfg.Chat.ImagePath != "" {
		branding.ImagePath = cfg.Chat.ImagePath
	}
	if _, err := os.Stat(branding.ImagePath); err != nil {
		log.Warn("portrait image not found; a placeholder is shown", zap.String("path", branding.ImagePath))
	}

	presenter := tui.NewPresenter()
	sess := session.New(session.Config{
		Branding:   branding,
		Classifier: newClassifier(ctx, cfg, embedder, log),
		Allowed:    router.DefaultAllowed,
		NewAgent:   agentFactory(cfg, embedder, log),
		Logger:     log,
	}, presenter)

	program := tea.NewProgram(tui.New(ctx, sess), tea.WithAltScreen(), tea.WithContext(ctx))
	presenter.Attach(program)
	log.Info("chat started", zap.String("model", cfg.OpenAI.ChatModel))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		log.Error("terminal UI failed", zap.Error(err))
		return fmt.Errorf("run ui: %w", err)
	}
	log.Info("chat ended")
	return nil
}

// newClassifier builds the semantic router. A failure is logged and leaves the
// session without a classifier, which then answers every message with a notice.
func newClassifier(ctx context.Context, cfg *config.AppConfig, embedder domain.Embedder, log *zap.Logger) domain.IntentClassifier {
	routes, err := router.LoadRoutes(cfg.Router.RoutesFile)
	if err != nil {
		log.Error("failed to load routes", zap.String("file", cfg.Router.RoutesFile), zap.Error(err))
		return nil
	}
	r, err := router.New(ctx, routes, embedder,
		router.WithThreshold(cfg.Router.Threshold),
		router.WithTopK(cfg.Router.TopK),
		router.WithAggregation(router.Aggregation(cfg.Router.Aggregation)),
		router.WithLogger(log),
	)
	if err != nil {
		log.Error("failed to initialize semantic router", zap.Error(err))
		return nil
	}
	log.Info("semantic router initialized", zap.Strings("routes", r.Routes()))
	return r
}

func agentFactory(cfg *config.AppConfig, embedder domain.Embedder, log *zap.Logger) session.AgentFactory {
	return func(ctx context.Context) (domain.Agent, error) {
		store, err := vectorstore.New(cfg, log)
		if err != nil {
			return nil, err
		}
		if err := vectorstore.Connect(ctx, store); err != nil {
			return nil, fmt.Errorf("connect vector store: %w", err)
		}
		clientCfg := goopenai.DefaultConfig(cfg.OpenAI.APIKey)
		if cfg.OpenAI.BaseURL != "" {
			clientCfg.BaseURL = cfg.OpenAI.BaseURL
		}
		tool := agent.NewRetrievalTool(service.NewRetriever(embedder, store), cfg.Agent.TopK)
		return agent.New(goopenai.NewClientWithConfig(clientCfg), tool, agent.NewMemory(cfg.Agent.MemoryTurns), agent.Config{
			Model:    cfg.OpenAI.ChatModel,
			MaxSteps: cfg.Agent.MaxSteps,
			Logger:   log,
		}), nil
	}
}
