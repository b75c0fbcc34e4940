package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Upstreams    UpstreamsConfig    `mapstructure:"upstreams"`
	AI           AIConfig           `mapstructure:"ai"`
	Store        StoreConfig        `mapstructure:"store"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Polling      PollingConfig      `mapstructure:"polling"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	I18n         I18nConfig         `mapstructure:"i18n"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	AdminToken   string        `mapstructure:"admin_token"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type UpstreamsConfig struct {
	QuoteBaseURL   string        `mapstructure:"quote_base_url"`
	HistoryBaseURL string        `mapstructure:"history_base_url"`
	NewsBaseURL    string        `mapstructure:"news_base_url"`
	NewsPageSize   int           `mapstructure:"news_page_size"`
	NewsFeedID     int           `mapstructure:"news_feed_id"`
	Timeout        time.Duration `mapstructure:"timeout"`
	// Requests per second allowed towards each upstream host.
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Indices           []IndexSymbol `mapstructure:"indices"`
}

// IndexSymbol pairs an Eastmoney secid with its display name.
type IndexSymbol struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

type AIConfig struct {
	Provider          string        `mapstructure:"provider"` // "gemini" or "openai"
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Temperature       float64       `mapstructure:"temperature"`
	Grounding         bool          `mapstructure:"grounding"`
	SystemInstruction string        `mapstructure:"system_instruction"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type StoreConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	Backend   string        `mapstructure:"backend"` // "memory" or "redis"
	TTL       time.Duration `mapstructure:"ttl"`
	Retention time.Duration `mapstructure:"retention"`
	Redis     RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type PollingConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type ConnectivityConfig struct {
	ProbeURL      string        `mapstructure:"probe_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
}

// setDefaults registers values used when neither the file nor the
// environment provides one.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("upstreams.quote_base_url", "https://push2.eastmoney.com")
	v.SetDefault("upstreams.history_base_url", "https://push2his.eastmoney.com")
	v.SetDefault("upstreams.news_base_url", "https://zhibo.sina.com.cn")
	v.SetDefault("upstreams.news_page_size", 20)
	v.SetDefault("upstreams.news_feed_id", 152)
	v.SetDefault("upstreams.timeout", 10*time.Second)
	v.SetDefault("upstreams.requests_per_second", 5.0)
	v.SetDefault("upstreams.burst", 6)
	v.SetDefault("upstreams.indices", []map[string]string{
		{"id": "1.000001", "name": "上证指数"},
		{"id": "0.399001", "name": "深证成指"},
		{"id": "0.399006", "name": "创业板指"},
		{"id": "100.HSI", "name": "恒生指数"},
		{"id": "103.ym_m_CN00Y", "name": "富时A50"},
		{"id": "100.NDX", "name": "纳斯达克"},
	})

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("ai.model", "gemini-2.0-flash")
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.grounding", true)
	v.SetDefault("ai.system_instruction", "你是一个专业的财富管理助手。请结合最新的市场数据回答，保持专业、严谨、客观，使用 Markdown 格式。")
	v.SetDefault("ai.timeout", 60*time.Second)

	v.SetDefault("store.timeout", 10*time.Second)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.retention", 24*time.Hour)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.key_prefix", "marketsync:")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", 8*time.Second)

	v.SetDefault("polling.interval", 30*time.Second)

	v.SetDefault("connectivity.probe_url", "https://push2.eastmoney.com")
	v.SetDefault("connectivity.probe_interval", 10*time.Second)
	v.SetDefault("connectivity.probe_timeout", 3*time.Second)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 120)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitoring.metrics.enabled", true)
	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "zh")
}

// LoadConfig loads configuration from file and environment variables.
// An empty path or a missing file yields the defaults plus environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.BindEnv("server.admin_token", "ADMIN_TOKEN")
	v.BindEnv("store.url", "SUPABASE_URL")
	v.BindEnv("store.api_key", "SUPABASE_ANON_KEY")
	v.BindEnv("cache.redis.password", "REDIS_PASSWORD")
	v.BindEnv("cache.redis.db", "REDIS_DB")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := v.GetString("REDIS_HOST"); redisHost != "" {
		redisPort := v.GetString("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Cache.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	// The AI key follows the selected provider
	if config.AI.APIKey == "" {
		switch config.AI.Provider {
		case "gemini":
			config.AI.APIKey = v.GetString("GEMINI_API_KEY")
		case "openai":
			config.AI.APIKey = v.GetString("GROQ_API_KEY")
			if config.AI.APIKey == "" {
				config.AI.APIKey = v.GetString("OPENAI_API_KEY")
			}
		}
	}

	// Gemini defaults make no sense for an OpenAI-compatible provider
	if config.AI.Provider == "openai" {
		if !v.InConfig("ai.base_url") && !isEnvSet("AI_BASE_URL") {
			config.AI.BaseURL = defaultOpenAIBaseURL
		}
		if !v.InConfig("ai.model") && !isEnvSet("AI_MODEL") {
			config.AI.Model = defaultOpenAIModel
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

const (
	defaultOpenAIBaseURL = "https://api.groq.com/openai/v1"
	defaultOpenAIModel   = "llama-3.3-70b-versatile"
)

func isEnvSet(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

func isMissingFile(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func validateConfig(cfg *Config) error {
	if cfg.Polling.Interval <= 0 {
		return fmt.Errorf("polling interval must be positive")
	}
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if cfg.Cache.Retention < cfg.Cache.TTL {
		return fmt.Errorf("cache retention (%s) must not be shorter than ttl (%s)", cfg.Cache.Retention, cfg.Cache.TTL)
	}
	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	switch cfg.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
	switch cfg.AI.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unsupported ai provider: %s", cfg.AI.Provider)
	}
	return nil
}

// StoreConfigured reports whether the content store credentials are present.
func (c *Config) StoreConfigured() bool {
	return c.Store.URL != "" && c.Store.APIKey != ""
}
