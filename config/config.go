package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration. Components receive the pieces
// they need at construction; nothing reads it globally.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Embedder  EmbedderConfig  `mapstructure:"embedder"`
	LLM       LLMConfig       `mapstructure:"llm"`
	WebSearch WebSearchConfig `mapstructure:"web_search"`
	Patients  PatientsConfig  `mapstructure:"patients"`
	Intake    IntakeConfig    `mapstructure:"intake"`
	Session   SessionConfig   `mapstructure:"session"`
	Redis     RedisConfig     `mapstructure:"redis"`
	PGVector  PGVectorConfig  `mapstructure:"pgvector"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Timeouts  TimeoutConfig   `mapstructure:"timeouts"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RAGConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Store            string  `mapstructure:"store"`
	IndexPath        string  `mapstructure:"index_path"`
	TopK             int     `mapstructure:"top_k"`
	MinScore         float64 `mapstructure:"min_score"`
	ContextChunks    int     `mapstructure:"context_chunks"`
	ChunkSize        int     `mapstructure:"chunk_size"`
	ChunkOverlap     int     `mapstructure:"chunk_overlap"`
	EmbedBatchSize   int     `mapstructure:"embed_batch_size"`
	EmbedConcurrency int     `mapstructure:"embed_concurrency"`
	MaxEmbedTokens   int     `mapstructure:"max_embed_tokens"`
	QueryCacheSize   int     `mapstructure:"query_cache_size"`
}

type EmbedderConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
}

// BackendConfig describes one generation backend slot.
type BackendConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

type LLMConfig struct {
	Primary     BackendConfig `mapstructure:"primary"`
	Fallback    BackendConfig `mapstructure:"fallback"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type WebSearchConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Provider   string        `mapstructure:"provider"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type PatientsConfig struct {
	Dir   string `mapstructure:"dir"`
	Fuzzy bool   `mapstructure:"fuzzy"`
}

type IntakeConfig struct {
	ClinicalKeywords []string `mapstructure:"clinical_keywords"`
	ExplicitPhrases  []string `mapstructure:"explicit_phrases"`
}

type SessionConfig struct {
	Store string        `mapstructure:"store"`
	TTL   time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type PGVectorConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

type AuditConfig struct {
	Sink   string `mapstructure:"sink"`
	Buffer int    `mapstructure:"buffer"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type TimeoutConfig struct {
	Lookup time.Duration `mapstructure:"lookup"`
	Embed  time.Duration `mapstructure:"embed"`
	Search time.Duration `mapstructure:"search"`
}

// DefaultClinicalKeywords is the tunable list used to route an unidentified
// message straight to the clinical agent.
var DefaultClinicalKeywords = []string{
	"symptom", "pain", "swelling", "fever", "nausea", "headache",
	"kidney", "disease", "infection", "dysfunction", "failure",
	"chronic", "acute", "diagnosis", "condition",
	"what is", "what are", "how does", "why", "explain",
	"treatment", "medication", "side effect", "warning sign",
	"blood pressure", "dialysis", "creatinine", "gfr",
	"latest", "current", "guideline", "recommendation",
}

// DefaultExplicitPhrases trigger an explicit handoff to the clinical agent.
var DefaultExplicitPhrases = []string{
	"talk to a doctor", "clinical agent", "medical question", "speak to a nurse",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("rag.enabled", true)
	v.SetDefault("rag.store", "memory")
	v.SetDefault("rag.index_path", "data/index.json")
	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.min_score", 0.3)
	v.SetDefault("rag.context_chunks", 3)
	v.SetDefault("rag.chunk_size", 512)
	v.SetDefault("rag.chunk_overlap", 150)
	v.SetDefault("rag.embed_batch_size", 32)
	v.SetDefault("rag.embed_concurrency", 4)
	v.SetDefault("rag.max_embed_tokens", 8191)
	v.SetDefault("rag.query_cache_size", 256)

	v.SetDefault("embedder.provider", "hashing")
	v.SetDefault("embedder.model", "text-embedding-3-small")
	v.SetDefault("embedder.dimension", 384)

	v.SetDefault("llm.primary.provider", "gemini")
	v.SetDefault("llm.primary.model", "gemini-2.5-flash")
	v.SetDefault("llm.fallback.provider", "groq")
	v.SetDefault("llm.fallback.model", "llama-3.1-8b-instant")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", 30*time.Second)

	v.SetDefault("web_search.enabled", true)
	v.SetDefault("web_search.provider", "tavily")
	v.SetDefault("web_search.max_results", 5)
	v.SetDefault("web_search.timeout", 10*time.Second)

	v.SetDefault("patients.dir", "data/patients")
	v.SetDefault("patients.fuzzy", true)

	v.SetDefault("intake.clinical_keywords", DefaultClinicalKeywords)
	v.SetDefault("intake.explicit_phrases", DefaultExplicitPhrases)

	v.SetDefault("session.store", "memory")
	v.SetDefault("session.ttl", 60*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "carebridge:session:")

	v.SetDefault("pgvector.dsn", "postgres://postgres@localhost:5432/carebridge?sslmode=disable")
	v.SetDefault("pgvector.table", "reference_chunks")

	v.SetDefault("audit.sink", "log")
	v.SetDefault("audit.buffer", 256)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "carebridge")
	v.SetDefault("mongo.collection", "events")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "carebridge")

	v.SetDefault("timeouts.lookup", 5*time.Second)
	v.SetDefault("timeouts.embed", 10*time.Second)
	v.SetDefault("timeouts.search", 5*time.Second)

	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range []string{
		"embedder.api_key", "embedder.base_url",
		"llm.primary.api_key", "llm.primary.base_url",
		"llm.fallback.api_key", "llm.fallback.base_url",
		"web_search.api_key", "web_search.base_url",
		"redis.password", "telemetry.endpoint",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Load reads configuration from an optional file and CAREBRIDGE_* environment
// variables (e.g. CAREBRIDGE_RAG_MIN_SCORE). An empty path searches ./config
// and the working directory for config.{yaml,json}; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CAREBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	v := NewValidator()

	v.ValidateOneOf("log.format", strings.ToLower(c.Log.Format), "json", "text")

	v.ValidateOneOf("rag.store", c.RAG.Store, "memory", "pgvector")
	if c.RAG.Store == "memory" {
		v.RequireNonEmpty("rag.index_path", c.RAG.IndexPath)
	}
	v.RequirePositive("rag.top_k", c.RAG.TopK)
	v.ValidateFloatRange("rag.min_score", c.RAG.MinScore, 0, 1)
	v.RequirePositive("rag.context_chunks", c.RAG.ContextChunks)
	v.RequirePositive("rag.chunk_size", c.RAG.ChunkSize)
	v.ValidateRange("rag.chunk_overlap", c.RAG.ChunkOverlap, 0, c.RAG.ChunkSize-1)
	v.RequirePositive("rag.embed_batch_size", c.RAG.EmbedBatchSize)
	v.RequirePositive("rag.embed_concurrency", c.RAG.EmbedConcurrency)

	v.ValidateOneOf("embedder.provider", c.Embedder.Provider, "hashing", "openai")
	v.ValidateRange("embedder.dimension", c.Embedder.Dimension, 1, 65535)

	v.ValidateOneOf("llm.primary.provider", c.LLM.Primary.Provider, "gemini", "claude", "openai", "groq", "none")
	v.ValidateOneOf("llm.fallback.provider", c.LLM.Fallback.Provider, "gemini", "claude", "openai", "groq", "none")
	v.ValidateFloatRange("llm.temperature", c.LLM.Temperature, 0, 2)
	v.RequirePositive("llm.max_tokens", c.LLM.MaxTokens)
	v.RequirePositiveDuration("llm.timeout", c.LLM.Timeout)

	if c.WebSearch.Enabled {
		v.ValidateOneOf("web_search.provider", c.WebSearch.Provider, "tavily", "serper")
		v.ValidateRange("web_search.max_results", c.WebSearch.MaxResults, 1, 20)
		v.RequirePositiveDuration("web_search.timeout", c.WebSearch.Timeout)
	}

	v.ValidateOneOf("session.store", c.Session.Store, "memory", "redis")
	if c.Session.Store == "redis" {
		v.RequireNonEmpty("redis.addr", c.Redis.Addr)
		v.ValidateDBNumber("redis.db", c.Redis.DB)
		v.RequireNonEmpty("redis.prefix", c.Redis.Prefix)
	}
	if c.RAG.Store == "pgvector" {
		v.RequireNonEmpty("pgvector.dsn", c.PGVector.DSN)
		v.RequireIdentifier("pgvector.table", c.PGVector.Table)
	}

	v.ValidateOneOf("audit.sink", c.Audit.Sink, "log", "mongo", "none")
	v.RequirePositive("audit.buffer", c.Audit.Buffer)
	if c.Audit.Sink == "mongo" {
		v.RequireNonEmpty("mongo.uri", c.Mongo.URI)
		v.RequireNonEmpty("mongo.database", c.Mongo.Database)
		v.RequireNonEmpty("mongo.collection", c.Mongo.Collection)
	}

	v.RequirePositiveDuration("timeouts.lookup", c.Timeouts.Lookup)
	v.RequirePositiveDuration("timeouts.embed", c.Timeouts.Embed)
	v.RequirePositiveDuration("timeouts.search", c.Timeouts.Search)

	return v.Error()
}
