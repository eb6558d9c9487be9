package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full orchestrator configuration loaded from YAML with
// environment overrides.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Postgres     PostgresConfig     `mapstructure:"postgres"`
	Temporal     TemporalConfig     `mapstructure:"temporal"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Vector       VectorConfig       `mapstructure:"vector"`
	Retrieval    RetrievalConfig    `mapstructure:"retrieval"`
	Research     ResearchConfig     `mapstructure:"research"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port        int `mapstructure:"port"`
	MetricsPort int `mapstructure:"metrics_port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
	Enabled  bool   `mapstructure:"enabled"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type VectorConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
	// Embedding service (shares the LLM service endpoint by default)
	EmbeddingBaseURL string `mapstructure:"embedding_base_url"`
	EmbeddingModel   string `mapstructure:"embedding_model"`
}

type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`
	// RecommendationTopK widens the candidate set for recommendation turns.
	RecommendationTopK int `mapstructure:"recommendation_top_k"`
	// Threshold gates hit/miss and therefore web-search escalation. The
	// single most important tunable in the system; keep it configurable.
	Threshold float64 `mapstructure:"threshold"`
}

type ResearchConfig struct {
	SearchURL       string        `mapstructure:"search_url"`
	MaxQueries      int           `mapstructure:"max_queries"`
	Timeout         time.Duration `mapstructure:"timeout"`
	QueriesPerSec   float64       `mapstructure:"queries_per_sec"`
	CredibilityFile string        `mapstructure:"credibility_file"`
}

type ConversationConfig struct {
	IdleTTL    time.Duration `mapstructure:"idle_ttl"`
	MaxThreads int           `mapstructure:"max_threads"`
	MaxTurns   int           `mapstructure:"max_turns"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Load reads configuration from CONFIG_PATH (default config/orchestrator.yaml)
// and applies environment overrides of the form KEDIAMAN_SECTION_KEY.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/orchestrator.yaml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("KEDIAMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is tolerated; defaults plus env carry the process.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 2112)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "property-inquiry")
	v.SetDefault("llm.base_url", "http://llm-service:8000")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.max_attempts", 2)
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6333)
	v.SetDefault("vector.collection", "properties")
	v.SetDefault("vector.timeout", 5*time.Second)
	v.SetDefault("vector.embedding_model", "text-embedding-3-small")
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.recommendation_top_k", 10)
	v.SetDefault("retrieval.threshold", 0.75)
	v.SetDefault("research.max_queries", 3)
	v.SetDefault("research.timeout", 20*time.Second)
	v.SetDefault("research.queries_per_sec", 2.0)
	v.SetDefault("research.credibility_file", "config/credibility.yaml")
	v.SetDefault("conversation.idle_ttl", 24*time.Hour)
	v.SetDefault("conversation.max_threads", 10000)
	v.SetDefault("conversation.max_turns", 100)
	v.SetDefault("tracing.service_name", "kediaman-orchestrator")
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval.threshold must be in [0,1], got %v", c.Retrieval.Threshold)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Research.MaxQueries <= 0 {
		return fmt.Errorf("research.max_queries must be positive, got %d", c.Research.MaxQueries)
	}
	return nil
}
