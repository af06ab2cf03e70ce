package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Engine       EngineConfig       `mapstructure:"engine"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Integrations IntegrationsConfig `mapstructure:"integrations"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	LogLevel     string             `mapstructure:"log_level"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	RequireAuth bool   `mapstructure:"require_auth"`
}

type EngineConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffCap       time.Duration `mapstructure:"backoff_cap"`
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
	EventChannels    []string      `mapstructure:"event_channels"`
}

type RateLimitConfig struct {
	Strategy string                 `mapstructure:"strategy"`
	Limit    int                    `mapstructure:"limit"`
	Window   time.Duration          `mapstructure:"window"`
	Tiers    map[string]TierLimit   `mapstructure:"tiers"`
}

type TierLimit struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type IntegrationsConfig struct {
	MessagingURL     string        `mapstructure:"messaging_url"`
	CRMURL           string        `mapstructure:"crm_url"`
	SpreadsheetURL   string        `mapstructure:"spreadsheet_url"`
	ConversationURL  string        `mapstructure:"conversation_url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxRPSPerAdapter int           `mapstructure:"max_rps_per_adapter"`
}

type MonitoringConfig struct {
	MetricsPath     string        `mapstructure:"metrics_path"`
	SampleWindow    time.Duration `mapstructure:"sample_window"`
	DefaultCooldown time.Duration `mapstructure:"default_cooldown"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("AUTOMATION")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideWithEnv(&config)

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8096)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.name", "automation_service_db")
	viper.SetDefault("database.ssl_mode", "disable")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("auth.require_auth", true)

	viper.SetDefault("engine.max_retries", 3)
	viper.SetDefault("engine.backoff_base", "1s")
	viper.SetDefault("engine.backoff_cap", "5m")
	viper.SetDefault("engine.execution_timeout", "2m")
	viper.SetDefault("engine.event_channels", []string{
		"chatlet:events:conversation",
		"chatlet:events:message",
		"chatlet:events:lead",
		"chatlet:events:upload",
	})

	viper.SetDefault("rate_limit.strategy", "fixed_window")
	viper.SetDefault("rate_limit.limit", 60)
	viper.SetDefault("rate_limit.window", "1m")

	viper.SetDefault("integrations.messaging_url", "http://localhost:8110")
	viper.SetDefault("integrations.crm_url", "http://localhost:8111")
	viper.SetDefault("integrations.spreadsheet_url", "http://localhost:8112")
	viper.SetDefault("integrations.conversation_url", "http://localhost:8113")
	viper.SetDefault("integrations.request_timeout", "30s")
	viper.SetDefault("integrations.max_rps_per_adapter", 10)

	viper.SetDefault("monitoring.metrics_path", "/metrics")
	viper.SetDefault("monitoring.sample_window", "1h")
	viper.SetDefault("monitoring.default_cooldown", "5m")

	viper.SetDefault("log_level", "info")
}

func overrideWithEnv(config *Config) {
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		config.Auth.JWTSecret = jwtSecret
	}

	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}

	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		config.Database.Password = dbPassword
	}

	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		config.Redis.Host = redisHost
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}
