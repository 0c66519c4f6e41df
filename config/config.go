package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the newsflow pipeline and its HTTP surface.
type Config struct {
	General   GeneralConfig   `mapstructure:"general" json:"general"`
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	LLM       LLMConfig       `mapstructure:"llm" json:"llm"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" json:"pipeline"`
	Agent     AgentConfig     `mapstructure:"agent" json:"agent"`
	Plugins   PluginsConfig   `mapstructure:"plugins" json:"plugins"`
	Storage   StorageConfig   `mapstructure:"storage" json:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" json:"scheduler"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" json:"telemetry"`
	Index     IndexConfig     `mapstructure:"index" json:"index"`
	Streams   StreamsConfig   `mapstructure:"streams" json:"streams"`
}

type GeneralConfig struct {
	Debug        bool   `mapstructure:"debug" json:"debug"`
	LogLevel     string `mapstructure:"log_level" json:"log_level"`
	DefaultTopic string `mapstructure:"default_topic" json:"default_topic"`
}

func (c *GeneralConfig) Validate() error {
	if c.DefaultTopic == "" {
		return fmt.Errorf("general.default_topic is required")
	}
	return nil
}

type ServerConfig struct {
	Address   string `mapstructure:"address" json:"address"`
	JWTSecret string `mapstructure:"jwt_secret" json:"jwt_secret"`
}

func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	return nil
}

// LLMConfig names the available model providers and which one each agent
// phase routes to. Routing entries reference keys of Providers.
type LLMConfig struct {
	Providers map[string]LLMProviderConfig `mapstructure:"providers" json:"providers"`
	Routing   LLMRoutingConfig             `mapstructure:"routing" json:"routing"`
}

type LLMProviderConfig struct {
	Type            string        `mapstructure:"type" json:"type"`
	APIKey          string        `mapstructure:"api_key" json:"api_key"`
	BaseURL         string        `mapstructure:"base_url" json:"base_url"`
	Model           string        `mapstructure:"model" json:"model"`
	MaxTokens       int           `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature     float64       `mapstructure:"temperature" json:"temperature"`
	Timeout         time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries" json:"max_retries"`
	CostPer1KInput  float64       `mapstructure:"cost_per_1k_input" json:"cost_per_1k_input"`
	CostPer1KOutput float64       `mapstructure:"cost_per_1k_output" json:"cost_per_1k_output"`
}

type LLMRoutingConfig struct {
	Planning   string `mapstructure:"planning" json:"planning"`
	Generation string `mapstructure:"generation" json:"generation"`
	Validation string `mapstructure:"validation" json:"validation"`
	Fallback   string `mapstructure:"fallback" json:"fallback"`
}

func (c *LLMConfig) Validate() error {
	for name, p := range c.Providers {
		switch p.Type {
		case "openai", "ollama":
		default:
			return fmt.Errorf("llm.providers.%s: unsupported type %q", name, p.Type)
		}
		if p.Model == "" {
			return fmt.Errorf("llm.providers.%s: model is required", name)
		}
	}
	for phase, ref := range map[string]string{
		"planning":   c.Routing.Planning,
		"generation": c.Routing.Generation,
		"validation": c.Routing.Validation,
		"fallback":   c.Routing.Fallback,
	} {
		if ref == "" {
			continue
		}
		if _, ok := c.Providers[ref]; !ok {
			return fmt.Errorf("llm.routing.%s references unknown provider %q", phase, ref)
		}
	}
	return nil
}

type PipelineConfig struct {
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout" json:"fetch_timeout"`
	FetchRetries         int           `mapstructure:"fetch_retries" json:"fetch_retries"`
	RetryBackoff         time.Duration `mapstructure:"retry_backoff" json:"retry_backoff"`
	FetchConcurrency     int           `mapstructure:"fetch_concurrency" json:"fetch_concurrency"`
	SummarizeConcurrency int           `mapstructure:"summarize_concurrency" json:"summarize_concurrency"`
	SummarizeTimeout     time.Duration `mapstructure:"summarize_timeout" json:"summarize_timeout"`
	DeliveryTimeout      time.Duration `mapstructure:"delivery_timeout" json:"delivery_timeout"`
	MaxBodyChars         int           `mapstructure:"max_body_chars" json:"max_body_chars"`
}

func (c *PipelineConfig) Validate() error {
	if c.FetchConcurrency < 1 {
		return fmt.Errorf("pipeline.fetch_concurrency must be at least 1")
	}
	if c.SummarizeConcurrency < 1 {
		return fmt.Errorf("pipeline.summarize_concurrency must be at least 1")
	}
	if c.FetchRetries < 0 {
		return fmt.Errorf("pipeline.fetch_retries must not be negative")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("pipeline.fetch_timeout must be positive")
	}
	if c.SummarizeTimeout <= 0 {
		return fmt.Errorf("pipeline.summarize_timeout must be positive")
	}
	return nil
}

type AgentConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" json:"max_attempts"`
	PlanTimeout time.Duration `mapstructure:"plan_timeout" json:"plan_timeout"`
	TestTimeout time.Duration `mapstructure:"test_timeout" json:"test_timeout"`
	SampleLimit int           `mapstructure:"sample_limit" json:"sample_limit"`
}

func (c *AgentConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("agent.max_attempts must be at least 1")
	}
	return nil
}

// PluginEntry mirrors a registry descriptor as it appears in the config file.
// Ordering is significant: enabled sources fetch and dedup in list order.
type PluginEntry struct {
	Name    string            `mapstructure:"name" json:"name"`
	Module  string            `mapstructure:"module" json:"module"`
	Enabled bool              `mapstructure:"enabled" json:"enabled"`
	Topics  []string          `mapstructure:"topics" json:"topics"`
	Config  map[string]string `mapstructure:"config" json:"config"`
}

type PluginsConfig struct {
	Sources     []PluginEntry `mapstructure:"sources" json:"sources"`
	Summarizers []PluginEntry `mapstructure:"summarizers" json:"summarizers"`
	Channels    []PluginEntry `mapstructure:"channels" json:"channels"`
}

func (c *PluginsConfig) Validate() error {
	for section, entries := range map[string][]PluginEntry{
		"sources":     c.Sources,
		"summarizers": c.Summarizers,
		"channels":    c.Channels,
	} {
		seen := map[string]bool{}
		for _, e := range entries {
			if e.Name == "" {
				return fmt.Errorf("plugins.%s: entry without a name", section)
			}
			if e.Module == "" {
				return fmt.Errorf("plugins.%s.%s: module is required", section, e.Name)
			}
			if seen[e.Name] {
				return fmt.Errorf("plugins.%s: duplicate name %q", section, e.Name)
			}
			seen[e.Name] = true
		}
	}
	return nil
}

type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres" json:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis" json:"redis"`
}

type PostgresConfig struct {
	URL      string        `mapstructure:"url" json:"url"`
	Host     string        `mapstructure:"host" json:"host"`
	Port     string        `mapstructure:"port" json:"port"`
	User     string        `mapstructure:"user" json:"user"`
	Password string        `mapstructure:"password" json:"password"`
	DBName   string        `mapstructure:"dbname" json:"dbname"`
	SSLMode  string        `mapstructure:"sslmode" json:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

// Enabled reports whether a postgres target is configured at all. The store
// is an optional collaborator: an empty section disables persistence.
func (c *PostgresConfig) Enabled() bool {
	return c.URL != "" || c.Host != ""
}

func (c *PostgresConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.URL != "" {
		return nil
	}
	if c.Port == "" {
		return fmt.Errorf("storage.postgres.port is required")
	}
	if c.DBName == "" {
		return fmt.Errorf("storage.postgres.dbname is required")
	}
	return nil
}

func (c *PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, sslMode)
}

type RedisConfig struct {
	Host     string        `mapstructure:"host" json:"host"`
	Port     string        `mapstructure:"port" json:"port"`
	Password string        `mapstructure:"password" json:"password"`
	DB       int           `mapstructure:"db" json:"db"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

func (c *RedisConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Port == "" {
		return fmt.Errorf("storage.redis.port is required")
	}
	return nil
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

type SchedulerConfig struct {
	Enabled bool          `mapstructure:"enabled" json:"enabled"`
	Cron    string        `mapstructure:"cron" json:"cron"`
	LockTTL time.Duration `mapstructure:"lock_ttl" json:"lock_ttl"`
}

func (c *SchedulerConfig) Validate() error {
	if c.Enabled && c.Cron == "" {
		return fmt.Errorf("scheduler.cron is required when the scheduler is enabled")
	}
	return nil
}

type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled" json:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking" json:"cost_tracking"`
}

type IndexConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" json:"path"`
}

func (c *IndexConfig) Validate() error {
	if c.Enabled && c.Path == "" {
		return fmt.Errorf("index.path is required when the index is enabled")
	}
	return nil
}

type StreamsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Stream  string `mapstructure:"stream" json:"stream"`
	MaxLen  int64  `mapstructure:"max_len" json:"max_len"`
}

func (c *StreamsConfig) Validate() error {
	if c.Enabled && c.Stream == "" {
		return fmt.Errorf("streams.stream is required when streams are enabled")
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.General.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if err := c.Agent.Validate(); err != nil {
		return err
	}
	if err := c.Plugins.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Postgres.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Redis.Validate(); err != nil {
		return err
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	if err := c.Index.Validate(); err != nil {
		return err
	}
	if err := c.Streams.Validate(); err != nil {
		return err
	}
	if c.Scheduler.Enabled && !c.Storage.Redis.Enabled() {
		return fmt.Errorf("scheduler requires storage.redis to be configured")
	}
	if c.Streams.Enabled && !c.Storage.Redis.Enabled() {
		return fmt.Errorf("streams require storage.redis to be configured")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_topic", "general")

	viper.SetDefault("server.address", ":8080")

	viper.SetDefault("pipeline.fetch_timeout", "30s")
	viper.SetDefault("pipeline.fetch_retries", 2)
	viper.SetDefault("pipeline.retry_backoff", "2s")
	viper.SetDefault("pipeline.fetch_concurrency", 8)
	viper.SetDefault("pipeline.summarize_concurrency", 4)
	viper.SetDefault("pipeline.summarize_timeout", "60s")
	viper.SetDefault("pipeline.delivery_timeout", "30s")
	viper.SetDefault("pipeline.max_body_chars", 4000)

	viper.SetDefault("agent.max_attempts", 3)
	viper.SetDefault("agent.plan_timeout", "45s")
	viper.SetDefault("agent.test_timeout", "20s")
	viper.SetDefault("agent.sample_limit", 5)

	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("storage.postgres.timeout", "5s")
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.timeout", "5s")

	viper.SetDefault("scheduler.enabled", false)
	viper.SetDefault("scheduler.cron", "0 */6 * * *")
	viper.SetDefault("scheduler.lock_ttl", "2m")

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)

	viper.SetDefault("index.enabled", false)
	viper.SetDefault("index.path", "data/index.bleve")

	viper.SetDefault("streams.enabled", false)
	viper.SetDefault("streams.stream", "newsflow:events")
	viper.SetDefault("streams.max_len", 10000)
}

// LoadConfig reads the JSON config file, layers NEWSFLOW_* environment
// variables on top and validates the result. Configuration errors are fatal
// for the process, so any failure here panics.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	setDefaults()

	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		if exePath, err := os.Executable(); err == nil {
			viper.AddConfigPath(filepath.Dir(exePath))
		}
	}

	viper.SetEnvPrefix("NEWSFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("reading config: %w", err))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unmarshalling config: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Errorf("validating config: %w", err))
	}
	return &cfg
}
