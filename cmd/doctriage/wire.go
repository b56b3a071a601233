package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"doctriage/internal/classify"
	"doctriage/internal/config"
	"doctriage/internal/embedding"
	"doctriage/internal/embedding/local"
	"doctriage/internal/embedding/openai"
	"doctriage/internal/extract"
	"doctriage/internal/gemini"
	"doctriage/internal/organize"
	"doctriage/internal/service"
	"doctriage/internal/vectorstore"
	"doctriage/internal/vectorstore/bolt"
	"doctriage/internal/vectorstore/memory"
	"doctriage/internal/vectorstore/pgvector"
	"doctriage/internal/vectorstore/qdrant"
	"doctriage/internal/vectorstore/sqlite"
)

// App holds the assembled agent and the resources that must be released.
type App struct {
	Agent *service.Agent
	store vectorstore.Storage
}

func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("store.close_error", "error", err)
		}
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// assemble builds every collaborator from cfg. The Gemini client is only
// required when the command generates text or the embedder is Gemini.
func assemble(ctx context.Context, cfg *config.AppConfig, generation bool, logger *slog.Logger) (*App, error) {
	var client *gemini.Client
	if generation || cfg.Embedder.Type == "gemini" {
		c, err := gemini.NewClient(gemini.Config{
			APIKey:         cfg.Gemini.APIKey,
			APIKeyEnv:      cfg.Gemini.APIKeyEnv,
			BaseURL:        cfg.Gemini.BaseURL,
			Timeout:        cfg.Gemini.Timeout(),
			EmbeddingModel: cfg.Gemini.EmbeddingModel,
		}, logger)
		if err != nil {
			return nil, err
		}
		client = c
	}

	emb, err := newEmbedder(cfg, client, logger)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}

	deps := service.Deps{
		Extractor: extract.NewPDFExtractor(extract.Config{
			Pdftotext: cfg.Extractor.Pdftotext,
			MaxPages:  cfg.Extractor.MaxPages,
		}, logger),
		Organizer: organize.New(cfg.Organizer.Root, logger),
		Embedder:  emb,
		Store:     store,
		Progress:  os.Stdout,
		Logger:    logger,
	}
	if client != nil {
		deps.Classifier = classify.New(classify.Config{
			Candidates: candidates(cfg.Gemini.ClassifyModels),
			MaxRetries: cfg.Classifier.Retries(),
			RetryDelay: cfg.Classifier.RetryDelay(),
			TextLimit:  cfg.Classifier.TextLimit,
		}, client, classify.Sleep, logger)
		deps.Describer = client
	}

	agent := service.NewAgent(service.Config{
		Topics:       cfg.Classifier.Topics,
		MinChars:     cfg.Extractor.MinChars,
		SnippetChars: cfg.Extractor.SnippetChars,
		ScanPause:    cfg.Scan.Pause(),
		TopK:         cfg.Search.TopK,
		VisionModel:  cfg.Gemini.VisionModel,
	}, deps)

	logger.Info("app.ready",
		"embedder", emb.Name(),
		"store", cfg.VectorStore.Type,
		"organizer_root", cfg.Organizer.Root,
	)
	return &App{Agent: agent, store: store}, nil
}

func candidates(models []config.ModelCandidate) []classify.Candidate {
	out := make([]classify.Candidate, 0, len(models))
	for _, m := range models {
		if strings.TrimSpace(m.Model) == "" {
			continue
		}
		out = append(out, classify.Candidate{Model: m.Model, StructuredOutput: m.StructuredOutputEnabled()})
	}
	return out
}

func newEmbedder(cfg *config.AppConfig, client *gemini.Client, logger *slog.Logger) (embedding.Embedder, error) {
	switch strings.ToLower(cfg.Embedder.Type) {
	case "gemini":
		if client == nil {
			return nil, fmt.Errorf("gemini embedder requires a gemini client")
		}
		return client, nil
	case "openai":
		oc := cfg.Embedder.OpenAI
		if oc == nil {
			oc = &config.OpenAIEmbedderConfig{}
		}
		return openai.NewClient(openai.Config{
			BaseURL:   oc.BaseURL,
			APIKeyEnv: oc.APIKeyEnv,
			Model:     oc.Model,
			Timeout:   time.Duration(oc.TimeoutSecs) * time.Second,
		}, logger)
	case "local":
		dim := 0
		if cfg.Embedder.Local != nil {
			dim = cfg.Embedder.Local.Dimension
		}
		return local.NewEmbedder(dim), nil
	default:
		return nil, fmt.Errorf("unknown embedder type %q", cfg.Embedder.Type)
	}
}

func openStore(ctx context.Context, cfg config.VectorStoreConfig) (vectorstore.Storage, error) {
	switch strings.ToLower(cfg.Type) {
	case "bolt":
		return bolt.Open(cfg.Path)
	case "sqlite":
		return sqlite.Open(ctx, cfg.Path)
	case "memory":
		return memory.NewStorage(), nil
	case "qdrant":
		if cfg.Qdrant == nil || cfg.Qdrant.URL == "" {
			return nil, fmt.Errorf("vector_store.qdrant.url is required")
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:     cfg.Qdrant.URL,
			APIKey:  cfg.Qdrant.APIKey,
			Prefix:  cfg.Qdrant.CollectionPrefix,
			Timeout: time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	case "pgvector":
		pc := cfg.PGVector
		if pc == nil {
			pc = &config.PGVectorConfig{DSNEnv: "DOCTRIAGE_PG_DSN"}
		}
		return pgvector.Open(ctx, pgvector.Config{
			DSN:      pc.DSNValue(),
			Table:    pc.Table,
			MaxConns: pc.MaxConns,
		})
	default:
		return nil, fmt.Errorf("unknown vector store type %q", cfg.Type)
	}
}
