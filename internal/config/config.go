package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Keystore  KeystoreConfig  `mapstructure:"keystore"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig selects and configures the session persister
type StorageConfig struct {
	Backend     string         `mapstructure:"backend"`
	Key         string         `mapstructure:"key"`
	FlushDelay  time.Duration  `mapstructure:"flush_delay"`
	SaveTimeout time.Duration  `mapstructure:"save_timeout"`
	File        FileConfig     `mapstructure:"file"`
	SQLite      SQLiteConfig   `mapstructure:"sqlite"`
	Postgres    DatabaseConfig `mapstructure:"postgres"`
	MySQL       MySQLConfig    `mapstructure:"mysql"`
	Mongo       MongoConfig    `mapstructure:"mongo"`
}

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
)

var backends = []string{BackendMemory, BackendFile, BackendSQLite, BackendPostgres, BackendMySQL, BackendRedis, BackendMongo}

type FileConfig struct {
	Path string `mapstructure:"path"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MongoConfig struct {
	URI        string        `mapstructure:"uri"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig enables bearer auth on the editor API when JWTSecret is set
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LLMConfig struct {
	DefaultProvider string          `mapstructure:"default_provider"`
	Timeout         time.Duration   `mapstructure:"timeout"`
	OpenAI          OpenAIConfig    `mapstructure:"openai"`
	Anthropic       AnthropicConfig `mapstructure:"anthropic"`
	Ollama          OllamaConfig    `mapstructure:"ollama"`
	DeepSeek        DeepSeekConfig  `mapstructure:"deepseek"`
	Gemini          GeminiConfig    `mapstructure:"gemini"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type OllamaConfig struct {
	Host         string `mapstructure:"host"`
	DefaultModel string `mapstructure:"default_model"`
}

type DeepSeekConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Providers lists every provider tag the router knows
var Providers = []string{"openai", "anthropic", "deepseek", "gemini", "ollama", "local"}

// AgentConfig bounds the fix orchestrator
type AgentConfig struct {
	MaxAttempts      int    `mapstructure:"max_attempts"`
	ContextPadding   int    `mapstructure:"context_padding"`
	ProposerProvider string `mapstructure:"proposer_provider"`
	ApprovalProvider string `mapstructure:"approval_provider"`
}

type KeystoreConfig struct {
	Path       string `mapstructure:"path"`
	Passphrase string `mapstructure:"passphrase"`
}

type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig enables a rotating log file next to the console output
type LogFileConfig struct {
	Path         string        `mapstructure:"path"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file path
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the runtime cannot start with
func (c *Config) Validate() error {
	if !contains(Providers, c.LLM.DefaultProvider) {
		return fmt.Errorf("invalid llm.default_provider %q (expected one of %s)", c.LLM.DefaultProvider, strings.Join(Providers, ", "))
	}
	for key, name := range map[string]string{
		"agent.proposer_provider": c.Agent.ProposerProvider,
		"agent.approval_provider": c.Agent.ApprovalProvider,
	} {
		if name != "" && !contains(Providers, name) {
			return fmt.Errorf("invalid %s %q", key, name)
		}
	}
	if !contains(backends, c.Storage.Backend) {
		return fmt.Errorf("invalid storage.backend %q (expected one of %s)", c.Storage.Backend, strings.Join(backends, ", "))
	}
	if c.Agent.MaxAttempts < 1 || c.Agent.MaxAttempts > 5 {
		return fmt.Errorf("agent.max_attempts must be between 1 and 5, got %d", c.Agent.MaxAttempts)
	}
	if c.Agent.ContextPadding < 0 {
		return fmt.Errorf("agent.context_padding must not be negative, got %d", c.Agent.ContextPadding)
	}
	if c.Storage.Backend == BackendRedis && !c.Redis.Enabled {
		return fmt.Errorf("storage.backend redis requires redis.enabled")
	}
	if c.Storage.Backend == BackendMySQL && c.Storage.MySQL.DSN == "" {
		return fmt.Errorf("storage.mysql.dsn is required for the mysql backend")
	}
	if c.Storage.Backend == BackendMongo && c.Storage.Mongo.URI == "" {
		return fmt.Errorf("storage.mongo.uri is required for the mongo backend")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.allowed_origins", []string{"vscode-webview://*", "http://localhost:*", "http://127.0.0.1:*"})

	// Storage
	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.key", "default")
	v.SetDefault("storage.flush_delay", "250ms")
	v.SetDefault("storage.save_timeout", "5s")
	v.SetDefault("storage.file.path", "./data/sessions.json")
	v.SetDefault("storage.sqlite.path", "./data/secassist.db")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "secassist")
	v.SetDefault("storage.postgres.database", "secassist")
	v.SetDefault("storage.postgres.ssl_mode", "disable")
	v.SetDefault("storage.postgres.max_conns", 5)
	v.SetDefault("storage.postgres.min_conns", 1)
	v.SetDefault("storage.mongo.database", "secassist")
	v.SetDefault("storage.mongo.collection", "chat_state")
	v.SetDefault("storage.mongo.timeout", "10s")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Auth
	v.SetDefault("auth.token_ttl", "720h")

	// LLM
	v.SetDefault("llm.default_provider", "local")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.ollama.host", "http://localhost:11434")
	v.SetDefault("llm.ollama.default_model", "qwen2.5-coder:7b")

	// Agent
	v.SetDefault("agent.max_attempts", 3)
	v.SetDefault("agent.context_padding", 6)

	// Keystore
	v.SetDefault("keystore.path", "./data/keys.enc")

	// Workspace
	v.SetDefault("workspace.root", ".")

	// Security
	v.SetDefault("security.rate_limit.requests_per_minute", 30)
	v.SetDefault("security.rate_limit.burst", 10)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_age", "168h")
	v.SetDefault("logging.file.rotation_time", "24h")
}

func bindEnvVars(v *viper.Viper) {
	// Storage
	v.BindEnv("storage.postgres.password", "POSTGRES_PASSWORD")
	v.BindEnv("storage.mysql.dsn", "MYSQL_DSN")
	v.BindEnv("storage.mongo.uri", "MONGO_URI")

	// Redis
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Auth
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")

	// Keystore
	v.BindEnv("keystore.passphrase", "KEYSTORE_PASSPHRASE")

	// LLM API Keys
	v.BindEnv("llm.openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("llm.anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("llm.deepseek.api_key", "DEEPSEEK_API_KEY")
	v.BindEnv("llm.gemini.api_key", "GEMINI_API_KEY")
	v.BindEnv("llm.ollama.host", "OLLAMA_HOST")
}
