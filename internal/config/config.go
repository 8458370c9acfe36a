// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override, NUTRIKB_ prefix; DATABASE_URL)
//  2. Config file (~/.nutrikb/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, chat model, embedder model
//   - Storage: PostgreSQL connection (see storage.go), blob directory, file index path
//   - Ingestion: segment delimiter, chunking, timeouts, embed rate limit, batch workers
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidDelimiter indicates the segment delimiter is unusable for splitting.
	ErrInvalidDelimiter = errors.New("invalid segment delimiter")

	// ErrInvalidWorkerCount indicates the batch worker count is out of range.
	ErrInvalidWorkerCount = errors.New("invalid worker count")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const (
	// DefaultModelName is the default chat model used for segmentation and translation.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultEmbedderModel is the default Gemini embedder model.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultSegmentDelimiter is the sentinel the segmenter asks the LLM to
	// place between paragraphs. Kept configurable because the split is a
	// literal string match on model output.
	DefaultSegmentDelimiter = ";;"

	// DefaultMinSegmentLength is the length floor (in runes) below which a
	// candidate segment is dropped as non-informational.
	DefaultMinSegmentLength = 10

	// DefaultChunkSize is the rune window used by the fallback chunker.
	DefaultChunkSize = 800

	// DefaultChunkOverlap is the rune overlap between adjacent fallback chunks.
	DefaultChunkOverlap = 80

	// DefaultBatchWorkers bounds concurrent document ingestion in a batch run.
	DefaultBatchWorkers = 2

	// MaxBatchWorkers is the absolute worker ceiling.
	MaxBatchWorkers = 16
)

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider"`       // "gemini" (default), "ollama", "openai"
	ModelName     string `mapstructure:"model_name"`     // chat model for segmentation/translation
	EmbedderModel string `mapstructure:"embedder_model"` // embedding model
	OllamaHost    string `mapstructure:"ollama_host"`    // ollama server address

	// PostgreSQL (pgvector passage store)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Storage
	BlobDir   string `mapstructure:"blob_dir"`   // local blob storage root
	CacheDir  string `mapstructure:"cache_dir"`  // downloaded document cache
	IndexPath string `mapstructure:"index_path"` // file index JSON ledger

	// Layout parsing service
	ParserURL    string `mapstructure:"parser_url"`
	ParserAPIKey string `mapstructure:"parser_api_key"`

	// Ingestion
	SegmentDelimiter string        `mapstructure:"segment_delimiter"`
	MinSegmentLength int           `mapstructure:"min_segment_length"`
	ChunkSize        int           `mapstructure:"chunk_size"`
	ChunkOverlap     int           `mapstructure:"chunk_overlap"`
	ParseTimeout     time.Duration `mapstructure:"parse_timeout"`
	SegmentTimeout   time.Duration `mapstructure:"segment_timeout"`
	EmbedTimeout     time.Duration `mapstructure:"embed_timeout"`
	TranslateTimeout time.Duration `mapstructure:"translate_timeout"`
	EmbedRateLimit   float64       `mapstructure:"embed_rate_limit"` // embeds per second, 0 = unlimited
	BatchWorkers     int           `mapstructure:"batch_workers"`
}

// Dir returns the nutrikb configuration directory (~/.nutrikb).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".nutrikb"), nil
}

// Load reads configuration from file and environment.
// Missing config file is not an error; defaults and env apply.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	dir, err := Dir()
	if err == nil {
		v.AddConfigPath(dir)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("NUTRIKB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "nutrikb")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_dbname", "nutrikb")
	v.SetDefault("postgres_sslmode", "disable")

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".nutrikb")
	v.SetDefault("blob_dir", filepath.Join(base, "blobs"))
	v.SetDefault("cache_dir", filepath.Join(base, "cache"))
	v.SetDefault("index_path", filepath.Join(base, "file_index.json"))

	v.SetDefault("parser_url", "")
	v.SetDefault("parser_api_key", "")

	v.SetDefault("segment_delimiter", DefaultSegmentDelimiter)
	v.SetDefault("min_segment_length", DefaultMinSegmentLength)
	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)
	v.SetDefault("parse_timeout", 2*time.Minute)
	v.SetDefault("segment_timeout", 2*time.Minute)
	v.SetDefault("embed_timeout", 30*time.Second)
	v.SetDefault("translate_timeout", 30*time.Second)
	v.SetDefault("embed_rate_limit", 10.0)
	v.SetDefault("batch_workers", DefaultBatchWorkers)
}
