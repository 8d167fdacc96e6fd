package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ShortfallClamp  = "clamp"
	ShortfallStrict = "strict"
)

type Config struct {
	Port          string
	AllowedOrigin string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StoreID       string
	LogLevel      string
	LogFormat     string
	AuthSecret    string

	KafkaBrokers []string
	KafkaTopic   string

	SweepInterval       time.Duration
	ValidationChunkSize int
	RulesFile           string
	ShortfallPolicy     string
	InventoryCacheTTL   time.Duration
	MetricsEnabled      bool
}

// Load reads configuration from the environment, optionally layered over the
// file named by CONFIG_FILE. Environment variables always win.
func Load() (Config, error) {
	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DEFAULT_STORE_ID", "main-store")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("KAFKA_TOPIC", "dapurstok.sales")
	v.SetDefault("SWEEP_INTERVAL", "15m")
	v.SetDefault("VALIDATION_CHUNK_SIZE", 10)
	v.SetDefault("DEDUCTION_SHORTFALL_POLICY", ShortfallClamp)
	v.SetDefault("INVENTORY_CACHE_TTL", "30s")
	v.SetDefault("METRICS_ENABLED", true)
	for _, key := range []string{"DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "AUTH_SECRET", "KAFKA_BROKERS", "RULES_FILE", "CONFIG_FILE"} {
		v.SetDefault(key, "")
	}
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		Port:                v.GetString("PORT"),
		AllowedOrigin:       v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:         strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:           strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:       v.GetString("REDIS_PASSWORD"),
		RedisDB:             v.GetInt("REDIS_DB"),
		StoreID:             v.GetString("DEFAULT_STORE_ID"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFormat:           v.GetString("LOG_FORMAT"),
		AuthSecret:          strings.TrimSpace(v.GetString("AUTH_SECRET")),
		KafkaBrokers:        splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:          v.GetString("KAFKA_TOPIC"),
		SweepInterval:       v.GetDuration("SWEEP_INTERVAL"),
		ValidationChunkSize: v.GetInt("VALIDATION_CHUNK_SIZE"),
		RulesFile:           strings.TrimSpace(v.GetString("RULES_FILE")),
		ShortfallPolicy:     strings.ToLower(strings.TrimSpace(v.GetString("DEDUCTION_SHORTFALL_POLICY"))),
		InventoryCacheTTL:   v.GetDuration("INVENTORY_CACHE_TTL"),
		MetricsEnabled:      v.GetBool("METRICS_ENABLED"),
	}

	if cfg.ValidationChunkSize < 1 {
		cfg.ValidationChunkSize = 10
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Minute
	}
	if cfg.InventoryCacheTTL <= 0 {
		cfg.InventoryCacheTTL = 30 * time.Second
	}
	if cfg.ShortfallPolicy != ShortfallStrict {
		cfg.ShortfallPolicy = ShortfallClamp
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
