// Package config loads docrag configuration from .env, an optional YAML file
// and environment variables, in that order of precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/raphaelgruber/docrag/internal/provider"
	"gopkg.in/yaml.v3"
)

// Provider identifies an embedding or completion backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

// Backend names for pluggable infrastructure.
const (
	StoreSurrealDB = "surrealdb"
	StoreMemory    = "memory"
	QueueMemory    = "memory"
	QueueRabbitMQ  = "rabbitmq"
)

// Config holds all configuration values.
type Config struct {
	// Persistent store
	StoreBackend       string `yaml:"store_backend"`
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// Embedding provider
	EmbedProvider  Provider `yaml:"embed_provider"`
	EmbedModel     string   `yaml:"embed_model"`
	EmbedDimension int      `yaml:"embed_dimension"`
	EmbedRetries   int      `yaml:"embed_retries"`

	// Completion provider
	LLMProvider Provider `yaml:"llm_provider"`
	LLMModel    string   `yaml:"llm_model"`

	// Provider credentials and endpoints
	OpenAIAPIKey    string        `yaml:"-"`
	OpenAIBaseURL   string        `yaml:"openai_base_url"`
	AnthropicAPIKey string        `yaml:"-"`
	OllamaHost      string        `yaml:"ollama_host"`
	AWSRegion       string        `yaml:"aws_region"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`

	// Chunking and retrieval
	ChunkSize     int  `yaml:"chunk_size"`
	ChunkOverlap  int  `yaml:"chunk_overlap"`
	InitialK      int  `yaml:"initial_k"`
	FinalK        int  `yaml:"final_k"`
	RerankEnabled bool `yaml:"rerank_enabled"`

	// Ingestion
	QueueBackend     string `yaml:"queue_backend"`
	RabbitMQURL      string `yaml:"rabbitmq_url"`
	QueueName        string `yaml:"queue_name"`
	Workers          int    `yaml:"workers"`
	TempDir          string `yaml:"temp_dir"`
	MaxUploadBytes   int64  `yaml:"max_upload_bytes"`
	JobRetentionDays int    `yaml:"job_retention_days"`

	// Document blob storage (disabled when MinIOEndpoint is empty)
	MinIOEndpoint  string `yaml:"minio_endpoint"`
	MinIOAccessKey string `yaml:"minio_access_key"`
	MinIOSecretKey string `yaml:"-"`
	MinIOBucket    string `yaml:"minio_bucket"`
	MinIOUseSSL    bool   `yaml:"minio_use_ssl"`

	// OAuth state tokens
	OAuthAuthorizeURL string        `yaml:"oauth_authorize_url"`
	OAuthClientID     string        `yaml:"oauth_client_id"`
	OAuthCallbackURL  string        `yaml:"oauth_callback_url"`
	OAuthStateTTL     time.Duration `yaml:"oauth_state_ttl"`

	// HTTP
	ServerPort string `yaml:"server_port"`
	ServerURL  string `yaml:"server_url"`

	// Logging
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		StoreBackend:       StoreSurrealDB,
		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "docrag",
		SurrealDBDatabase:  "docrag",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		EmbedProvider:  ProviderOpenAI,
		EmbedModel:     "text-embedding-3-small",
		EmbedDimension: 1536,

		LLMProvider: ProviderOpenAI,
		LLMModel:    "gpt-4o-mini",

		OpenAIBaseURL:   "https://api.openai.com/v1",
		OllamaHost:      "http://localhost:11434",
		AWSRegion:       "us-east-1",
		ProviderTimeout: 60 * time.Second,

		ChunkSize:     1000,
		ChunkOverlap:  200,
		InitialK:      50,
		FinalK:        10,
		RerankEnabled: true,

		QueueBackend:     QueueMemory,
		QueueName:        "docrag.ingest",
		Workers:          4,
		MaxUploadBytes:   64 << 20,
		JobRetentionDays: 30,

		MinIOBucket: "docrag-documents",

		OAuthStateTTL: 10 * time.Minute,

		ServerPort: "8484",
		ServerURL:  "http://localhost:8484",

		LogFile:  "/tmp/docrag.log",
		LogLevel: "INFO",
	}
}

// Load reads configuration. A missing .env file is not an error; a
// DOCRAG_CONFIG path that cannot be read or parsed is.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("DOCRAG_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %s does not exist", path)
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.StoreBackend = getEnv("DOCRAG_STORE", cfg.StoreBackend)
	cfg.SurrealDBURL = getEnv("SURREALDB_URL", cfg.SurrealDBURL)
	cfg.SurrealDBNamespace = getEnv("SURREALDB_NAMESPACE", cfg.SurrealDBNamespace)
	cfg.SurrealDBDatabase = getEnv("SURREALDB_DATABASE", cfg.SurrealDBDatabase)
	cfg.SurrealDBUser = getEnv("SURREALDB_USER", cfg.SurrealDBUser)
	cfg.SurrealDBPass = getEnv("SURREALDB_PASS", cfg.SurrealDBPass)
	cfg.SurrealDBAuthLevel = getEnv("SURREALDB_AUTH_LEVEL", cfg.SurrealDBAuthLevel)

	cfg.EmbedProvider = Provider(getEnv("DOCRAG_EMBED_PROVIDER", string(cfg.EmbedProvider)))
	cfg.EmbedModel = getEnv("DOCRAG_EMBED_MODEL", cfg.EmbedModel)
	cfg.EmbedDimension = getEnvInt("DOCRAG_EMBED_DIMENSION", cfg.EmbedDimension)
	cfg.EmbedRetries = getEnvInt("DOCRAG_EMBED_RETRIES", cfg.EmbedRetries)
	cfg.LLMProvider = Provider(getEnv("DOCRAG_LLM_PROVIDER", string(cfg.LLMProvider)))
	cfg.LLMModel = getEnv("DOCRAG_LLM_MODEL", cfg.LLMModel)

	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.AWSRegion = getEnv("AWS_REGION", cfg.AWSRegion)
	cfg.ProviderTimeout = getEnvDuration("DOCRAG_PROVIDER_TIMEOUT", cfg.ProviderTimeout)

	cfg.ChunkSize = getEnvInt("DOCRAG_CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = getEnvInt("DOCRAG_CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.InitialK = getEnvInt("DOCRAG_INITIAL_K", cfg.InitialK)
	cfg.FinalK = getEnvInt("DOCRAG_FINAL_K", cfg.FinalK)
	cfg.RerankEnabled = getEnvBool("DOCRAG_RERANK", cfg.RerankEnabled)

	cfg.QueueBackend = getEnv("DOCRAG_QUEUE", cfg.QueueBackend)
	cfg.RabbitMQURL = getEnv("RABBITMQ_URL", cfg.RabbitMQURL)
	cfg.QueueName = getEnv("DOCRAG_QUEUE_NAME", cfg.QueueName)
	cfg.Workers = getEnvInt("DOCRAG_WORKERS", cfg.Workers)
	cfg.TempDir = getEnv("DOCRAG_TEMP_DIR", cfg.TempDir)
	cfg.MaxUploadBytes = int64(getEnvInt("DOCRAG_MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes)))
	cfg.JobRetentionDays = getEnvInt("DOCRAG_JOB_RETENTION_DAYS", cfg.JobRetentionDays)

	cfg.MinIOEndpoint = getEnv("MINIO_ENDPOINT", cfg.MinIOEndpoint)
	cfg.MinIOAccessKey = getEnv("MINIO_ACCESS_KEY", cfg.MinIOAccessKey)
	cfg.MinIOSecretKey = getEnv("MINIO_SECRET_KEY", cfg.MinIOSecretKey)
	cfg.MinIOBucket = getEnv("MINIO_BUCKET", cfg.MinIOBucket)
	cfg.MinIOUseSSL = getEnvBool("MINIO_USE_SSL", cfg.MinIOUseSSL)

	cfg.OAuthAuthorizeURL = getEnv("OAUTH_AUTHORIZE_URL", cfg.OAuthAuthorizeURL)
	cfg.OAuthClientID = getEnv("OAUTH_CLIENT_ID", cfg.OAuthClientID)
	cfg.OAuthCallbackURL = getEnv("OAUTH_CALLBACK_URL", cfg.OAuthCallbackURL)
	cfg.OAuthStateTTL = getEnvDuration("OAUTH_STATE_TTL", cfg.OAuthStateTTL)

	cfg.ServerPort = getEnv("DOCRAG_SERVER_PORT", cfg.ServerPort)
	cfg.ServerURL = getEnv("DOCRAG_SERVER_URL", cfg.ServerURL)

	cfg.LogFile = getEnv("DOCRAG_LOG_FILE", cfg.LogFile)
	cfg.LogLevel = getEnv("DOCRAG_LOG_LEVEL", cfg.LogLevel)
}

// Validate checks that the selected providers and backends have what they
// need. Missing credentials are reported as *provider.ConfigurationError.
func (c Config) Validate() error {
	needsOpenAIKey := c.EmbedProvider == ProviderOpenAI || c.LLMProvider == ProviderOpenAI
	if needsOpenAIKey && c.OpenAIAPIKey == "" {
		return &provider.ConfigurationError{Provider: string(ProviderOpenAI), Setting: "OPENAI_API_KEY"}
	}
	if c.LLMProvider == ProviderAnthropic && c.AnthropicAPIKey == "" {
		return &provider.ConfigurationError{Provider: string(ProviderAnthropic), Setting: "ANTHROPIC_API_KEY"}
	}
	switch c.EmbedProvider {
	case ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unsupported embedding provider: %s", c.EmbedProvider)
	}
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderOllama, ProviderAnthropic, ProviderBedrock:
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLMProvider)
	}
	if c.EmbedDimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.EmbedDimension)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be in [0, %d)", c.ChunkOverlap, c.ChunkSize)
	}
	if c.FinalK <= 0 || c.InitialK < c.FinalK {
		return fmt.Errorf("retrieval sizes invalid: initial_k=%d final_k=%d", c.InitialK, c.FinalK)
	}
	switch c.QueueBackend {
	case QueueMemory:
	case QueueRabbitMQ:
		if c.RabbitMQURL == "" {
			return &provider.ConfigurationError{Provider: "rabbitmq", Setting: "RABBITMQ_URL"}
		}
	default:
		return fmt.Errorf("unsupported queue backend: %s", c.QueueBackend)
	}
	switch c.StoreBackend {
	case StoreSurrealDB, StoreMemory:
	default:
		return fmt.Errorf("unsupported store backend: %s", c.StoreBackend)
	}
	if c.MinIOEndpoint != "" && (c.MinIOAccessKey == "" || c.MinIOSecretKey == "") {
		return &provider.ConfigurationError{Provider: "minio", Setting: "MINIO_ACCESS_KEY/MINIO_SECRET_KEY"}
	}
	return nil
}

// Level returns the configured slog level.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("ignoring invalid integer setting", "key", key, "value", val)
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		slog.Warn("ignoring invalid boolean setting", "key", key, "value", val)
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("ignoring invalid duration setting", "key", key, "value", val)
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
