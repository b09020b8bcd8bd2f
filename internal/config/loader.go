package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/tabledeck/importd/internal/db"
)

// Config is the full application configuration.
type Config struct {
	Database db.Config
	Server   ServerConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Webhook  WebhookConfig
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// StorageConfig controls where uploaded files are kept.
type StorageConfig struct {
	Dir string
}

// RedisConfig controls the background task queue. When Addr is empty the
// in-process queue is used instead.
type RedisConfig struct {
	Addr     string
	Password string
	QueueKey string
}

// WebhookConfig controls outbound webhook delivery.
type WebhookConfig struct {
	Timeout time.Duration
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Storage: StorageConfig{Dir: "./data/uploads"},
		Redis:   RedisConfig{QueueKey: "importd:tasks"},
		Webhook: WebhookConfig{Timeout: 30 * time.Second},
	}
}

// Load reads config.yaml from the given path with environment overrides.
func Load(configPath string) (Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()          // allow environment overrides
	v.SetEnvPrefix("IMPORTD") // map env vars like IMPORTD_DATABASE.HOST

	// Optional: Map nested keys to flat env vars
	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("storage.dir")
	v.BindEnv("redis.addr")
	v.BindEnv("redis.password")
	v.BindEnv("webhook.timeout")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	// Override defaults if values exist
	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("storage.dir") {
		cfg.Storage.Dir = v.GetString("storage.dir")
	}
	if v.IsSet("redis.addr") {
		cfg.Redis.Addr = v.GetString("redis.addr")
	}
	if v.IsSet("redis.password") {
		cfg.Redis.Password = v.GetString("redis.password")
	}
	if v.IsSet("redis.queue_key") {
		cfg.Redis.QueueKey = v.GetString("redis.queue_key")
	}
	if v.IsSet("webhook.timeout") {
		cfg.Webhook.Timeout = v.GetDuration("webhook.timeout")
	}

	return cfg, nil
}
