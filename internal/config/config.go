package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// GeminiConfig holds credentials and model choices for the Generative Language API.
type GeminiConfig struct {
	APIKey         string           `yaml:"api_key,omitempty"`
	APIKeyEnv      string           `yaml:"api_key_env"`
	BaseURL        string           `yaml:"base_url"`
	TimeoutSecs    int              `yaml:"timeout_secs"`
	EmbeddingModel string           `yaml:"embedding_model"`
	VisionModel    string           `yaml:"vision_model"`
	ClassifyModels []ModelCandidate `yaml:"classify_models"`
}

// ModelCandidate is one entry of the prioritized classification model list.
type ModelCandidate struct {
	Model            string `yaml:"model"`
	StructuredOutput *bool  `yaml:"structured_output,omitempty"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// LocalEmbedderConfig configures the offline hashing embedder.
type LocalEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
	Local  *LocalEmbedderConfig  `yaml:"local,omitempty"`
}

// ClassifierConfig configures paper classification.
type ClassifierConfig struct {
	Topics         []string `yaml:"topics"`
	MaxRetries     *int     `yaml:"max_retries,omitempty"`
	RetryDelaySecs int      `yaml:"retry_delay_secs"`
	TextLimit      int      `yaml:"text_limit"`
}

// ExtractorConfig configures PDF text extraction.
type ExtractorConfig struct {
	Pdftotext    string `yaml:"pdftotext"`
	MaxPages     int    `yaml:"max_pages"`
	MinChars     int    `yaml:"min_chars"`
	SnippetChars int    `yaml:"snippet_chars"`
}

// OrganizerConfig sets where classified papers are filed.
type OrganizerConfig struct {
	Root string `yaml:"root"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type     string          `yaml:"type"`
	Path     string          `yaml:"path"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty"`
	PGVector *PGVectorConfig `yaml:"pgvector,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL              string `yaml:"url"`
	APIKey           string `yaml:"api_key"`
	CollectionPrefix string `yaml:"collection_prefix"`
	TimeoutSecs      int    `yaml:"timeout_secs"`
}

// PGVectorConfig contains connection details for Postgres with pgvector.
type PGVectorConfig struct {
	DSN      string `yaml:"dsn"`
	DSNEnv   string `yaml:"dsn_env"`
	Table    string `yaml:"table"`
	MaxConns int32  `yaml:"max_conns"`
}

// ScanConfig paces batch ingestion.
type ScanConfig struct {
	PauseSecs int `yaml:"pause_secs"`
}

// SearchConfig configures result count.
type SearchConfig struct {
	TopK int `yaml:"top_k"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// InboxRoot bounds the paths accepted by the ingestion endpoints.
	InboxRoot string `yaml:"inbox_root"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Gemini      GeminiConfig      `yaml:"gemini"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Extractor   ExtractorConfig   `yaml:"extractor"`
	Organizer   OrganizerConfig   `yaml:"organizer"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Scan        ScanConfig        `yaml:"scan"`
	Search      SearchConfig      `yaml:"search"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/doctriage/config.yaml.
// If neither exists, it writes defaults to ~/.config/doctriage/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "doctriage", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	g := &cfg.Gemini
	if g.APIKeyEnv == "" {
		g.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if g.BaseURL == "" {
		g.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if g.TimeoutSecs == 0 {
		g.TimeoutSecs = 60
	}
	if g.EmbeddingModel == "" {
		g.EmbeddingModel = "text-embedding-004"
	}
	if g.VisionModel == "" {
		g.VisionModel = "gemini-2.5-flash"
	}
	if len(g.ClassifyModels) == 0 {
		g.ClassifyModels = []ModelCandidate{
			{Model: "gemini-2.5-flash"},
			{Model: "gemini-1.5-flash-latest"},
			{Model: "gemini-1.5-flash-002"},
		}
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "gemini"
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}

	c := &cfg.Classifier
	if len(c.Topics) == 0 {
		c.Topics = []string{
			"Computer Vision", "NLP", "Image Deblurring", "Operating Systems",
			"Continual Learning", "Recommendation Systems",
		}
	}
	if c.MaxRetries == nil {
		n := 2
		c.MaxRetries = &n
	}
	if c.RetryDelaySecs == 0 {
		c.RetryDelaySecs = 10
	}
	if c.TextLimit == 0 {
		c.TextLimit = 5000
	}

	e := &cfg.Extractor
	if e.Pdftotext == "" {
		e.Pdftotext = "pdftotext"
	}
	if e.MaxPages == 0 {
		e.MaxPages = 3
	}
	if e.MinChars == 0 {
		e.MinChars = 50
	}
	if e.SnippetChars == 0 {
		e.SnippetChars = 3000
	}

	if cfg.Organizer.Root == "" {
		cfg.Organizer.Root = "./paper"
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "bolt"
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = "./db"
	}
	if cfg.VectorStore.Type == "pgvector" && cfg.VectorStore.PGVector != nil {
		if cfg.VectorStore.PGVector.DSN == "" && cfg.VectorStore.PGVector.DSNEnv == "" {
			cfg.VectorStore.PGVector.DSNEnv = "DOCTRIAGE_PG_DSN"
		}
	}
	if cfg.Scan.PauseSecs == 0 {
		cfg.Scan.PauseSecs = 7
	}
	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 3
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
	if cfg.Server.InboxRoot == "" {
		cfg.Server.InboxRoot = "."
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// StructuredOutputEnabled reports whether the candidate accepts JSON response mode.
// Unset means yes.
func (m ModelCandidate) StructuredOutputEnabled() bool {
	return m.StructuredOutput == nil || *m.StructuredOutput
}

// RetryDelay is the sleep before restarting classification after a rate limit.
func (c ClassifierConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySecs) * time.Second
}

// Retries returns the configured rate-limit retry budget.
func (c ClassifierConfig) Retries() int {
	if c.MaxRetries == nil {
		return 2
	}
	return *c.MaxRetries
}

// Pause is the delay between files of a directory scan.
func (s ScanConfig) Pause() time.Duration {
	if s.PauseSecs < 0 {
		return 0
	}
	return time.Duration(s.PauseSecs) * time.Second
}

// Timeout returns the HTTP timeout for Gemini calls.
func (g GeminiConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSecs) * time.Second
}

// DSNValue resolves the DSN, preferring the literal value over the env var.
func (p PGVectorConfig) DSNValue() string {
	if p.DSN != "" {
		return p.DSN
	}
	if p.DSNEnv != "" {
		return os.Getenv(p.DSNEnv)
	}
	return ""
}
