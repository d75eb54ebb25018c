package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/pkg/chunker"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Retrieval RetrievalConfig
	Ingest    IngestConfig
	Timeouts  TimeoutConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	AdminJWTSecret string
}

type LLMConfig struct {
	OpenAIKey        string
	OpenAIBaseURL    string // OpenAI-compatible endpoint, e.g. DeepSeek
	AnthropicKey     string
	OllamaURL        string
	DefaultProvider  string
	DefaultModel     string
	FallbackProvider string
	MaxRetries       int
	SummaryModel     string
}

type EmbeddingConfig struct {
	Provider   string // "openai" or "ollama"
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	CacheTTL   time.Duration // 0 disables the redis cache
}

type RetrievalConfig struct {
	TopK         int
	HistoryLimit int
	MinScore     float64 // 0 disables thresholding
}

type IngestConfig struct {
	ChunkSize       int
	ChunkOverlap    int
	Strategy        string // "recursive" or "fixed"
	SourceDirectory string
	Concurrency     int
}

// TimeoutConfig bounds every external call made while answering a query.
type TimeoutConfig struct {
	Embed    time.Duration
	Retrieve time.Duration
	Generate time.Duration
	Persist  time.Duration
}

type LogConfig struct {
	Level slog.Level
}

// Load reads configuration from the environment. Values in .env.local and
// .env are applied first when those files exist; real environment variables
// always win.
func Load() (*Config, error) {
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return nil, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}

	var errs []string
	intVar := func(key string, fallback int) int {
		v, err := getEnvInt(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	durVar := func(key string, fallback time.Duration) time.Duration {
		v, err := getEnvDuration(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}

	minScore, err := getEnvFloat("RETRIEVAL_MIN_SCORE", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RETRIEVAL_MIN_SCORE: %v", err))
	}

	rps, err := getEnvFloat("RATE_LIMIT_RPS", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RATE_LIMIT_RPS: %v", err))
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Sprintf("invalid LOG_LEVEL: %v", err))
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           intVar("SERVER_PORT", 8080),
			AllowedOrigins: strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ","),
			RateLimitRPS:   rps,
			RateLimitBurst: intVar("RATE_LIMIT_BURST", 20),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       intVar("DB_MAX_CONNS", 20),
			MinConns:       intVar("DB_MIN_CONNS", 2),
			MigrationsPath: getEnv("MIGRATIONS_PATH", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       intVar("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		},
		LLM: LLMConfig{
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
			AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
			OllamaURL:        getEnv("OLLAMA_URL", ""),
			DefaultProvider:  getEnv("LLM_DEFAULT_PROVIDER", "openai"),
			DefaultModel:     getEnv("LLM_DEFAULT_MODEL", "gpt-4o-mini"),
			FallbackProvider: getEnv("LLM_FALLBACK_PROVIDER", ""),
			MaxRetries:       intVar("LLM_MAX_RETRIES", 2),
			SummaryModel:     getEnv("LLM_SUMMARY_MODEL", ""),
		},
		Embedding: EmbeddingConfig{
			Provider:   getEnv("EMBEDDING_PROVIDER", "openai"),
			APIKey:     getEnv("EMBEDDING_API_KEY", getEnv("OPENAI_API_KEY", "")),
			BaseURL:    getEnv("EMBEDDING_BASE_URL", ""),
			Model:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimensions: intVar("EMBEDDING_DIMENSIONS", 1536),
			CacheTTL:   durVar("EMBEDDING_CACHE_TTL", 24*time.Hour),
		},
		Retrieval: RetrievalConfig{
			TopK:         intVar("RETRIEVAL_TOP_K", 3),
			HistoryLimit: intVar("HISTORY_LIMIT", 10),
			MinScore:     minScore,
		},
		Ingest: IngestConfig{
			ChunkSize:       intVar("CHUNK_SIZE", 500),
			ChunkOverlap:    intVar("CHUNK_OVERLAP", 50),
			Strategy:        getEnv("CHUNK_STRATEGY", chunker.StrategyRecursive),
			SourceDirectory: getEnv("SOURCE_DIRECTORY", "content/posts"),
			Concurrency:     intVar("INGEST_CONCURRENCY", 4),
		},
		Timeouts: TimeoutConfig{
			Embed:    durVar("EMBED_TIMEOUT", 15*time.Second),
			Retrieve: durVar("RETRIEVE_TIMEOUT", 10*time.Second),
			Generate: durVar("GENERATE_TIMEOUT", 2*time.Minute),
			Persist:  durVar("PERSIST_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{Level: level},
	}

	if cfg.Embedding.Provider == "ollama" && cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = cfg.LLM.OllamaURL
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrConfiguration, strings.Join(errs, "; "))
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ValidateIngest checks everything ingestion needs before any source is read:
// embedding credentials, the vector index database and sane chunk options.
func (c *Config) ValidateIngest() error {
	missing := c.embeddingMissing()
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Ingest.SourceDirectory == "" {
		missing = append(missing, "SOURCE_DIRECTORY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required env vars: %s", models.ErrConfiguration, strings.Join(missing, ", "))
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrConfiguration, c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d",
			models.ErrConfiguration, c.Ingest.ChunkSize, c.Ingest.ChunkOverlap)
	}
	if c.Ingest.Strategy == "" || !chunker.ValidStrategy(c.Ingest.Strategy) {
		return fmt.Errorf("%w: unknown chunk strategy %q", models.ErrConfiguration, c.Ingest.Strategy)
	}
	return nil
}

// ValidateServe checks what the query server needs: storage, embeddings and
// a generation provider.
func (c *Config) ValidateServe() error {
	missing := c.embeddingMissing()
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	switch c.LLM.DefaultProvider {
	case "openai":
		if c.LLM.OpenAIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	case "anthropic":
		if c.LLM.AnthropicKey == "" {
			missing = append(missing, "ANTHROPIC_API_KEY")
		}
	case "ollama":
		if c.LLM.OllamaURL == "" {
			missing = append(missing, "OLLAMA_URL")
		}
	default:
		return fmt.Errorf("%w: unknown LLM_DEFAULT_PROVIDER %q", models.ErrConfiguration, c.LLM.DefaultProvider)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required env vars: %s", models.ErrConfiguration, strings.Join(dedupe(missing), ", "))
	}
	return nil
}

func (c *Config) embeddingMissing() []string {
	var missing []string
	switch c.Embedding.Provider {
	case "ollama":
		if c.Embedding.BaseURL == "" {
			missing = append(missing, "EMBEDDING_BASE_URL or OLLAMA_URL")
		}
	default:
		if c.Embedding.APIKey == "" {
			missing = append(missing, "EMBEDDING_API_KEY or OPENAI_API_KEY")
		}
	}
	return missing
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}
