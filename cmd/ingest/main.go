package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"biochat/internal/chunker"
	"biochat/internal/config"
	"biochat/internal/domain"
	"biochat/internal/embedding/openai"
	"biochat/internal/logging"
	"biochat/internal/service"
	"biochat/internal/vectorstore"
)

const defaultInputFile = "./data_ingest/paul_allen_data.txt"

var (
	inputFile string
	logFile   string
)

var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Build the Paul Allen knowledge base index",
	Long: `Ingest reads the biography text file, splits it into overlapping chunks,
embeds every chunk and replaces the vector index with the result.

Running it twice on the same input leaves an index with the same contents.`,
	SilenceUsage: true,
	RunE:         runIngest,
}

func init() {
	rootCmd.Flags().StringVar(&inputFile, "input-file", defaultInputFile, "path to the source text file")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runIngest(cmd *cobra.Command, _ []string) error {
	config.LoadDotEnv()

	boot, err := logging.New("info", logFile)
	if err != nil {
		return err
	}
	cfg, err := config.Load(config.ModeIngest, boot)
	if err != nil {
		boot.Error("configuration error", zap.Error(err))
		return err
	}
	log := boot
	if cfg.Log.Level != "info" || (logFile == "" && cfg.Log.File != "") {
		if logFile == "" {
			logFile = cfg.Log.File
		}
		if log, err = logging.New(cfg.Log.Level, logFile); err != nil {
			return err
		}
	}
	defer func() { _ = log.Sync() }()

	switch cfg.VectorStore.Type {
	case config.StoreLocal:
		log.Info("configuration loaded", zap.String("store", "local"), zap.String("dir", cfg.VectorStore.LocalDir))
	default:
		log.Info("configuration loaded", zap.String("store", "pinecone"), zap.String("index", cfg.Pinecone.IndexName))
	}

	embedder, err := openai.NewClient(openai.Config{
		APIKey:    cfg.OpenAI.APIKey,
		BaseURL:   cfg.OpenAI.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		BatchSize: cfg.Embedding.BatchSize,
		Logger:    log,
	})
	if err != nil {
		log.Error("failed to initialize embedder", zap.Error(err))
		return err
	}
	store, err := vectorstore.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize vector store", zap.Error(err))
		return err
	}

	svc := service.NewIngestService(chunker.NewSentenceChunker(cfg.Chunker.Size, cfg.Chunker.Overlap), embedder, store, log)
	report, err := svc.Ingest(cmd.Context(), inputFile)
	switch {
	case errors.Is(err, domain.ErrInputNotFound):
		log.Error("input file not found", zap.String("path", inputFile))
		return err
	case errors.Is(err, domain.ErrEmptyInput):
		log.Error("no text found in input file", zap.String("path", inputFile))
		return err
	case err != nil:
		log.Error("ingestion failed", zap.Error(err))
		return err
	}

	log.Info("ingestion complete",
		zap.String("path", report.Path),
		zap.Int("chunks", report.Chunks),
		zap.Int("dimension", report.Dimension),
		zap.Duration("elapsed", report.Elapsed))
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d chunks from %s in %s\n", report.Chunks, report.Path, report.Elapsed.Round(time.Millisecond))
	return nil
}
