// Package config loads the service configuration from environment
// variables with sensible defaults. A .env file in the working directory
// is honored when present so local runs and containers share one format.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all settings for the document processing service.
type Config struct {
	Database  DatabaseConfig
	Object    ObjectStoreConfig
	Graph     GraphConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Workers   WorkerConfig
	Chunker   ChunkerConfig
	Parser    ParserConfig
	OCR       OCRConfig
	Server    ServerConfig
	LogLevel  string // debug, info, warn, error (default: info)
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string // default: localhost
	Port     int    // default: 5432
	Name     string // default: documents
	User     string // default: postgres
	Password string
	SSLMode  string // default: disable
}

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// ObjectStoreConfig contains MinIO / S3 settings for source file downloads.
type ObjectStoreConfig struct {
	Endpoint  string // default: localhost:9000
	AccessKey string
	SecretKey string
	Bucket    string // default: documents
	UseSSL    bool   // default: false
}

// GraphConfig contains Neo4j settings. The graph store is opt-in: unless
// NEO4J_ENABLED is true and a URI is configured, relation extraction is
// skipped entirely.
type GraphConfig struct {
	Enabled  bool // default: false
	URI      string
	User     string // default: neo4j
	Password string
}

// Active reports whether the graph store should be used.
func (g GraphConfig) Active() bool { return g.Enabled && g.URI != "" }

// LLMConfig contains chat-completion provider settings for the metadata
// and relation extraction stages.
type LLMConfig struct {
	Provider       string        // openai, vllm, ollama (default: openai)
	APIBase        string        // default: http://localhost:8000
	Model          string        // default: llama3
	RequestTimeout time.Duration // default: 300s
	VLLMPriority   string        // request priority for the vllm dialect (default: low)
}

// EmbeddingConfig contains embedding generation settings.
type EmbeddingConfig struct {
	Mode         string        // local or api (default: local)
	APIBase      string        // required when Mode is api
	ModelName    string        // required, part of the persisted embedding identity
	Generator    string        // wire dialect: service or ollama (default: service)
	BatchSize    int           // default: 32
	APITimeout   time.Duration // default: 120s
	LocalCommand string        // sidecar binary for local mode (default: universal-embedder)
	LocalPort    int           // loopback port the sidecar serves on (default: 8601)
	Device       string        // device the sidecar loads the model on (default: cuda)
}

// WorkerConfig contains polling and concurrency settings for the worker
// pools.
type WorkerConfig struct {
	PollInterval          time.Duration // default: 10s
	EnrichmentBatchSize   int           // chunks claimed per enrichment cycle (default: 10)
	LLMMaxConcurrency     int           // parallel LLM calls per batch (default: 2)
	UploadWorkerCount     int           // default: 2
	EnrichmentWorkerCount int           // default: 1
	DeletionWorkerCount   int           // default: 1
	MigrationBatchSize    int           // chunks re-embedded per migration cycle (default: 128)
}

// ChunkerConfig contains token budgets for document chunking.
type ChunkerConfig struct {
	ChunkTokens         int    // default: 500
	OverlapTokens       int    // default: 80
	SectionLimit        int    // default: 2000
	DocLimit            int    // default: 3000
	ListLimit           int    // default: 1500
	TableLimit          int    // default: 2000
	TableRowGroupTokens int    // 0 derives the group budget from ChunkTokens
	TableRowOverlap     int    // 0 uses token-based row overlap
	Encoding            string // tiktoken encoding name (default: cl100k_base)
}

// ParserConfig contains settings for the document parsers.
type ParserConfig struct {
	ExcelRowBatchSize int // spreadsheet rows per table_rows_group block (default: 10)
}

// OCRConfig contains settings for image text extraction inside parsers.
type OCRConfig struct {
	Enabled bool   // default: false
	Lang    string // tesseract language spec (default: rus+eng)
	Backend string // default: tesseract
}

// ServerConfig contains the HTTP health/metrics listener settings.
type ServerConfig struct {
	Port int    // default: 8010
	Host string // default: 0.0.0.0
}

// Load reads configuration from the environment, applying defaults and
// validating required fields. A .env file is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "documents"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Object: ObjectStoreConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET_NAME", "documents"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		Graph: GraphConfig{
			Enabled:  getEnvBool("NEO4J_ENABLED", false),
			URI:      getEnv("NEO4J_URI", ""),
			User:     getEnv("NEO4J_USER", "neo4j"),
			Password: getEnv("NEO4J_PASSWORD", ""),
		},
		LLM: LLMConfig{
			Provider:       getEnv("LLM_PROVIDER", "openai"),
			APIBase:        getEnv("LLM_API_BASE", "http://localhost:8000"),
			Model:          getEnv("LLM_MODEL", "llama3"),
			RequestTimeout: getEnvSeconds("LLM_REQUEST_TIMEOUT", 300),
			VLLMPriority:   getEnv("VLLM_REQUEST_PRIORITY", "low"),
		},
		Embedding: EmbeddingConfig{
			Mode:         getEnv("EMBEDDING_MODE", "local"),
			APIBase:      getEnv("EMBEDDING_API_BASE", ""),
			ModelName:    getEnv("EMBEDDING_MODEL_NAME", ""),
			Generator:    getEnv("EMBEDDING_GENERATOR", "service"),
			BatchSize:    getEnvInt("EMBEDDING_BATCH_SIZE", 32),
			APITimeout:   getEnvSeconds("EMBEDDING_API_TIMEOUT", 120),
			LocalCommand: getEnv("EMBEDDING_LOCAL_COMMAND", "universal-embedder"),
			LocalPort:    getEnvInt("EMBEDDING_LOCAL_PORT", 8601),
			Device:       getEnv("EMBEDDING_DEVICE", "cuda"),
		},
		Workers: WorkerConfig{
			PollInterval:          getEnvSeconds("POLL_INTERVAL", 10),
			EnrichmentBatchSize:   getEnvInt("ENRICHMENT_BATCH_SIZE", 10),
			LLMMaxConcurrency:     getEnvInt("LLM_MAX_CONCURRENCY", 2),
			UploadWorkerCount:     getEnvInt("UPLOAD_WORKER_COUNT", 2),
			EnrichmentWorkerCount: getEnvInt("ENRICHMENT_WORKER_COUNT", 1),
			DeletionWorkerCount:   getEnvInt("DELETION_WORKER_COUNT", 1),
			MigrationBatchSize:    getEnvInt("MIGRATION_BATCH_SIZE", 128),
		},
		Chunker: ChunkerConfig{
			ChunkTokens:         getEnvInt("CHUNKER_CHUNK_TOKENS", 500),
			OverlapTokens:       getEnvInt("CHUNKER_OVERLAP_TOKENS", 80),
			SectionLimit:        getEnvInt("CHUNKER_SECTION_LIMIT", 2000),
			DocLimit:            getEnvInt("CHUNKER_DOC_LIMIT", 3000),
			ListLimit:           getEnvInt("CHUNKER_LIST_LIMIT", 1500),
			TableLimit:          getEnvInt("CHUNKER_TABLE_LIMIT", 2000),
			TableRowGroupTokens: getEnvInt("CHUNKER_TABLE_ROW_GROUP_TOKENS", 0),
			TableRowOverlap:     getEnvInt("CHUNKER_TABLE_ROW_OVERLAP", 0),
			Encoding:            getEnv("CHUNKER_ENCODING", "cl100k_base"),
		},
		Parser: ParserConfig{
			ExcelRowBatchSize: getEnvInt("EXCEL_ROW_BATCH_SIZE", 10),
		},
		OCR: OCRConfig{
			Enabled: getEnvBool("OCR_ENABLED", false),
			Lang:    getEnv("OCR_LANG", "rus+eng"),
			Backend: getEnv("OCR_BACKEND", "tesseract"),
		},
		Server: ServerConfig{
			Port: getEnvInt("HTTP_PORT", 8010),
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "openai", "vllm", "ollama":
	default:
		return fmt.Errorf("config: unsupported LLM_PROVIDER %q (expected openai, vllm or ollama)", c.LLM.Provider)
	}

	switch c.Embedding.Mode {
	case "local", "api":
	default:
		return fmt.Errorf("config: unsupported EMBEDDING_MODE %q (expected local or api)", c.Embedding.Mode)
	}
	if c.Embedding.ModelName == "" {
		return fmt.Errorf("config: EMBEDDING_MODEL_NAME is required")
	}
	if c.Embedding.Mode == "api" && c.Embedding.APIBase == "" {
		return fmt.Errorf("config: EMBEDDING_API_BASE is required when EMBEDDING_MODE=api")
	}
	switch c.Embedding.Generator {
	case "service", "ollama":
	default:
		return fmt.Errorf("config: unsupported EMBEDDING_GENERATOR %q (expected service or ollama)", c.Embedding.Generator)
	}

	if c.Workers.EnrichmentBatchSize < 1 {
		return fmt.Errorf("config: ENRICHMENT_BATCH_SIZE must be at least 1")
	}
	if c.Workers.LLMMaxConcurrency < 1 {
		return fmt.Errorf("config: LLM_MAX_CONCURRENCY must be at least 1")
	}
	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("config: EMBEDDING_BATCH_SIZE must be at least 1")
	}

	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. Accepts the forms understood by strconv.ParseBool.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvSeconds retrieves an integer number of seconds as a duration.
func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}
