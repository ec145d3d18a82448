package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Limits   LimitsConfig   `mapstructure:"limits"`
}

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type RateWindowConfig struct {
	Requests int64         `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type LimitsConfig struct {
	Conversation RateWindowConfig `mapstructure:"conversation"`
	Deepening    RateWindowConfig `mapstructure:"deepening"`
	Global       RateWindowConfig `mapstructure:"global"`
	// MonthlyCostCap is the per-user dollar cap on AI usage per calendar
	// month.
	MonthlyCostCap float64 `mapstructure:"monthly_cost_cap"`
	// WarnFraction of the cap at which a one-time warning is broadcast.
	WarnFraction float64 `mapstructure:"warn_fraction"`
	// QueueSize bounds the pending generation units.
	QueueSize int `mapstructure:"queue_size"`
	// Workers is the generation pool size.
	Workers int `mapstructure:"workers"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("openai.model", "gpt-4.1-nano")
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("limits.conversation.requests", 10)
	v.SetDefault("limits.conversation.window", time.Minute)
	v.SetDefault("limits.deepening.requests", 5)
	v.SetDefault("limits.deepening.window", time.Minute)
	v.SetDefault("limits.global.requests", 50)
	v.SetDefault("limits.global.window", time.Hour)
	v.SetDefault("limits.monthly_cost_cap", 10.0)
	v.SetDefault("limits.warn_fraction", 0.8)
	v.SetDefault("limits.queue_size", 256)
	v.SetDefault("limits.workers", 4)

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if redisURL := v.GetString("REDIS_URL"); redisURL != "" {
		addr, password, db, err := parseRedisURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %v", err)
		}
		config.Redis = RedisConfig{Addr: addr, Password: password, DB: db}
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if secret := v.GetString("JWT_SECRET"); secret != "" {
		config.Server.JWTSecret = secret
	}

	return &config, nil
}

func parseRedisURL(redisURL string) (addr, password string, db int, err error) {
	u, err := url.Parse(redisURL)
	if err != nil {
		return "", "", 0, err
	}

	addr = u.Host
	if u.User != nil {
		password, _ = u.User.Password()
	}
	if path := strings.TrimPrefix(u.Path, "/"); path != "" {
		fmt.Sscanf(path, "%d", &db)
	}
	return addr, password, db, nil
}
