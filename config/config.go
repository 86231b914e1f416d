package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research agent system
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Server      ServerConfig      `mapstructure:"server"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Tools       ToolsConfig       `mapstructure:"tools"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Storage     StorageConfig     `mapstructure:"storage"`
	SourceStore SourceStoreConfig `mapstructure:"source_store"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type           string              `mapstructure:"type"` // openai for now
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Models         map[string]LLMModel `mapstructure:"models"`
	EmbeddingModel string              `mapstructure:"embedding_model"`
	MaxRetries     int                 `mapstructure:"max_retries"`
	Timeout        time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for each pipeline stage
type LLMRoutingConfig struct {
	Planning  string `mapstructure:"planning"`
	Research  string `mapstructure:"research"`
	Synthesis string `mapstructure:"synthesis"`
	Fallback  string `mapstructure:"fallback"`
}

// ToolsConfig configures the executor tool capabilities
type ToolsConfig struct {
	WebSearch WebSearchConfig `mapstructure:"web_search"`
	WebFetch  WebFetchConfig  `mapstructure:"web_fetch"`
}

// WebSearchConfig selects and configures the search_engine capability
type WebSearchConfig struct {
	Provider     string `mapstructure:"provider"` // serper or brave
	SerperAPIKey string `mapstructure:"serper_api_key"`
	BraveAPIKey  string `mapstructure:"brave_api_key"`
	MaxResults   int    `mapstructure:"max_results"`
}

// WebFetchConfig configures the scrape_as_markdown capability
type WebFetchConfig struct {
	Fetcher   string        `mapstructure:"fetcher"` // chromedp
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxChars  int           `mapstructure:"max_chars"`
	UserAgent string        `mapstructure:"user_agent"`
}

// PipelineConfig tunes orchestrator behaviour
type PipelineConfig struct {
	MaxConcurrentAgents int           `mapstructure:"max_concurrent_agents"`
	ExecutorMaxRetries  int           `mapstructure:"executor_max_retries"`
	ExecutorMaxSteps    int           `mapstructure:"executor_max_steps"`
	StageTimeout        time.Duration `mapstructure:"stage_timeout"`
	FailOnZeroScrapes   bool          `mapstructure:"fail_on_zero_scrapes"`
	TaskMaxAttempts     int           `mapstructure:"task_max_attempts"`
}

// StorageConfig contains Postgres and Redis settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig contains Redis connection settings for the scrape cache
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// SourceStoreConfig tunes chunking and the vector index
type SourceStoreConfig struct {
	Collection     string `mapstructure:"collection"`
	ChunkSize      int    `mapstructure:"chunk_size"`
	ChunkOverlap   int    `mapstructure:"chunk_overlap"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	SearchLimit    int    `mapstructure:"search_limit"`
}

// TelemetryConfig contains monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// Validate checks invariants that would otherwise surface deep in the pipeline.
func (c *Config) Validate() error {
	if c.SourceStore.ChunkSize <= 0 {
		return fmt.Errorf("source_store.chunk_size must be > 0")
	}
	if c.SourceStore.ChunkOverlap < 0 || c.SourceStore.ChunkOverlap >= c.SourceStore.ChunkSize {
		return fmt.Errorf("source_store.chunk_overlap must be in [0, chunk_size)")
	}
	if c.Pipeline.MaxConcurrentAgents <= 0 {
		return fmt.Errorf("pipeline.max_concurrent_agents must be > 0")
	}
	if c.Pipeline.TaskMaxAttempts <= 0 {
		return fmt.Errorf("pipeline.task_max_attempts must be > 0")
	}
	return nil
}

// LoadConfig reads configuration from the given path (or the working
// directory when empty), with environment variable overrides.
func LoadConfig(cfgPath string) *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("DECIPHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "config: read error: %v\n", err)
			os.Exit(1)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: unmarshal error: %v\n", err)
		os.Exit(1)
	}

	applyEnvSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", "60s")
	v.SetDefault("server.address", ":8001")
	v.SetDefault("tools.web_search.provider", "serper")
	v.SetDefault("tools.web_search.max_results", 10)
	v.SetDefault("tools.web_fetch.fetcher", "chromedp")
	v.SetDefault("tools.web_fetch.timeout", "15s")
	v.SetDefault("tools.web_fetch.max_chars", 20000)
	v.SetDefault("pipeline.max_concurrent_agents", 8)
	v.SetDefault("pipeline.executor_max_retries", 5)
	v.SetDefault("pipeline.executor_max_steps", 50)
	v.SetDefault("pipeline.stage_timeout", "10m")
	v.SetDefault("pipeline.fail_on_zero_scrapes", true)
	v.SetDefault("pipeline.task_max_attempts", 1)
	v.SetDefault("storage.redis.ttl", "48h")
	v.SetDefault("source_store.collection", "notebook_sources")
	v.SetDefault("source_store.chunk_size", 512)
	v.SetDefault("source_store.chunk_overlap", 50)
	v.SetDefault("source_store.embedding_model", "text-embedding-3-small")
	v.SetDefault("source_store.search_limit", 5)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.cost_tracking", true)
}

// applyEnvSecrets lets bare environment variables fill credential fields so
// deployments do not need them in the config file.
func applyEnvSecrets(cfg *Config) {
	for name, p := range cfg.LLM.Providers {
		if p.APIKey == "" {
			p.APIKey = os.Getenv("OPENAI_API_KEY")
			cfg.LLM.Providers[name] = p
		}
	}
	if cfg.Tools.WebSearch.SerperAPIKey == "" {
		cfg.Tools.WebSearch.SerperAPIKey = os.Getenv("SERPER_API_KEY")
	}
	if cfg.Tools.WebSearch.BraveAPIKey == "" {
		cfg.Tools.WebSearch.BraveAPIKey = os.Getenv("BRAVE_API_KEY")
	}
	if cfg.Server.JWTSecret == "" {
		cfg.Server.JWTSecret = os.Getenv("JWT_SECRET")
	}
}
