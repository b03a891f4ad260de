package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/propadvisor/orchestrator/internal/tracing"
)

// DefaultPath is used when CONFIG_PATH is unset
const DefaultPath = "/app/config/advisor.yaml"

type LLMConfig struct {
	Provider          string        `mapstructure:"provider"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	APIVersion        string        `mapstructure:"api_version"`
	ChatModel         string        `mapstructure:"chat_model"`
	EmbedModel        string        `mapstructure:"embed_model"`
	EmbedDim          int           `mapstructure:"embed_dim"`
	Temperature       float32       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type Neo4jConfig struct {
	URI          string        `mapstructure:"url"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	Database     string        `mapstructure:"database"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

type PostgresConfig struct {
	DSN            string `mapstructure:"dsn"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Database       string `mapstructure:"db"`
	SSLMode        string `mapstructure:"sslmode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	ConversationTTL time.Duration `mapstructure:"conversation_ttl"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
}

type GatewayConfig struct {
	Port              int           `mapstructure:"port"`
	TurnTimeout       time.Duration `mapstructure:"turn_timeout"`
	LockWait          time.Duration `mapstructure:"lock_wait"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

type WorkerConfig struct {
	TaskQueue           string `mapstructure:"task_queue"`
	ActivityConcurrency int    `mapstructure:"activity_concurrency"`
	WorkflowConcurrency int    `mapstructure:"workflow_concurrency"`
	RetrievalLimit      int    `mapstructure:"retrieval_limit"`
}

type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Health struct {
		Port          int           `mapstructure:"port"`
		CheckInterval time.Duration `mapstructure:"check_interval"`
	} `mapstructure:"health"`
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// Config is the full advisor configuration shared by the worker, the
// gateway and the CLI
type Config struct {
	LLM           LLMConfig           `mapstructure:"llm"`
	Neo4j         Neo4jConfig         `mapstructure:"neo4j"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Temporal      TemporalConfig      `mapstructure:"temporal"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`

	// Path is the file the config was read from, empty when running on defaults
	Path string `mapstructure:"-"`
}

// envBindings maps config keys to the environment variables that override them
var envBindings = map[string][]string{
	"llm.provider":                        {"LLM_PROVIDER"},
	"llm.base_url":                        {"LLM_BASE_URL", "AZURE_OPENAI_ENDPOINT"},
	"llm.api_key":                         {"OPENAI_API_KEY", "AZURE_OPENAI_API_KEY"},
	"llm.api_version":                     {"AZURE_OPENAI_API_VERSION"},
	"llm.chat_model":                      {"LLM_CHAT_MODEL", "AZURE_OPENAI_CHAT_DEPLOYMENT"},
	"llm.embed_model":                     {"LLM_EMBED_MODEL", "AZURE_OPENAI_EMBED_DEPLOYMENT"},
	"llm.embed_dim":                       {"EMBED_DIM"},
	"llm.requests_per_second":             {"LLM_REQUESTS_PER_SECOND"},
	"neo4j.url":                           {"NEO4J_URL", "NEO4J_URI"},
	"neo4j.username":                      {"NEO4J_USERNAME"},
	"neo4j.password":                      {"NEO4J_PASSWORD"},
	"neo4j.database":                      {"NEO4J_DATABASE"},
	"postgres.dsn":                        {"DATABASE_URL"},
	"postgres.host":                       {"POSTGRES_HOST"},
	"postgres.port":                       {"POSTGRES_PORT"},
	"postgres.user":                       {"POSTGRES_USER"},
	"postgres.password":                   {"POSTGRES_PASSWORD"},
	"postgres.db":                         {"POSTGRES_DB"},
	"postgres.sslmode":                    {"POSTGRES_SSLMODE"},
	"redis.addr":                          {"REDIS_ADDR"},
	"redis.password":                      {"REDIS_PASSWORD"},
	"redis.db":                            {"REDIS_DB"},
	"temporal.host":                       {"TEMPORAL_HOST"},
	"temporal.namespace":                  {"TEMPORAL_NAMESPACE"},
	"gateway.port":                        {"GATEWAY_PORT", "PORT"},
	"worker.task_queue":                   {"TASK_QUEUE"},
	"worker.activity_concurrency":         {"WORKER_ACT"},
	"worker.workflow_concurrency":         {"WORKER_WF"},
	"observability.metrics.port":          {"METRICS_PORT"},
	"observability.health.port":           {"HEALTH_PORT"},
	"observability.logging.level":         {"LOG_LEVEL"},
	"observability.tracing.enabled":       {"TRACING_ENABLED"},
	"observability.tracing.otlp_endpoint": {"OTEL_EXPORTER_OTLP_ENDPOINT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.chat_model", "gpt-4o-mini")
	v.SetDefault("llm.embed_model", "text-embedding-3-small")
	v.SetDefault("llm.embed_dim", 1536)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.requests_per_second", 5.0)
	v.SetDefault("llm.burst", 10)

	v.SetDefault("neo4j.url", "neo4j://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.query_timeout", "15s")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "advisor")
	v.SetDefault("postgres.db", "properties")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_connections", 25)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.conversation_ttl", "168h")

	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")

	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.turn_timeout", "2m")
	v.SetDefault("gateway.lock_wait", "30s")
	v.SetDefault("gateway.lock_ttl", "3m")
	v.SetDefault("gateway.requests_per_minute", 30)

	v.SetDefault("worker.task_queue", "advisor-turns")
	v.SetDefault("worker.activity_concurrency", 10)
	v.SetDefault("worker.workflow_concurrency", 10)
	v.SetDefault("worker.retrieval_limit", 10)

	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 2112)
	v.SetDefault("observability.health.port", 8081)
	v.SetDefault("observability.health.check_interval", "30s")
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "advisor-orchestrator")
}

// Load reads the YAML file at CONFIG_PATH (or DefaultPath), applies
// environment overrides and returns the merged configuration. A missing
// file is not an error; the defaults and environment still apply.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile is Load for an explicit path
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	readFrom := ""
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			readFrom = path
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Path = readFrom
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings no component can run with
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "azure":
	default:
		return fmt.Errorf("llm.provider must be openai or azure, got %q", c.LLM.Provider)
	}
	if strings.EqualFold(c.LLM.Provider, "azure") && c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required for the azure provider")
	}
	if c.LLM.EmbedDim <= 0 {
		return fmt.Errorf("llm.embed_dim must be positive, got %d", c.LLM.EmbedDim)
	}
	if c.LLM.RequestsPerSecond < 0 {
		return fmt.Errorf("llm.requests_per_second must not be negative")
	}
	if c.Worker.RetrievalLimit <= 0 {
		return fmt.Errorf("worker.retrieval_limit must be positive, got %d", c.Worker.RetrievalLimit)
	}
	return nil
}
