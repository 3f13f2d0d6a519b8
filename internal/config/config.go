package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

type Config struct {
	Port                  string        `mapstructure:"PORT"`
	Env                   string        `mapstructure:"ENV"`
	ModelPath             string        `mapstructure:"MODEL_PATH"`
	VectorizerPath        string        `mapstructure:"VECTORIZER_PATH"`
	SessionSecret         string        `mapstructure:"SESSION_SECRET"`
	SessionTTL            time.Duration `mapstructure:"SESSION_TTL"`
	SessionStore          string        `mapstructure:"SESSION_STORE"`
	RedisURL              string        `mapstructure:"REDIS_URL"`
	MaxUploadSize         string        `mapstructure:"MAX_UPLOAD_SIZE"`
	MedicationSummarySize int           `mapstructure:"MEDICATION_SUMMARY_SIZE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("MODEL_PATH", "models/disease_predictor.json")
	v.SetDefault("VECTORIZER_PATH", "models/vectorizer.json")
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("SESSION_STORE", SessionStoreMemory)
	v.SetDefault("MAX_UPLOAD_SIZE", "10M")
	v.SetDefault("MEDICATION_SUMMARY_SIZE", 3)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("MODEL_PATH")
	v.BindEnv("VECTORIZER_PATH")
	v.BindEnv("SESSION_SECRET")
	v.BindEnv("SESSION_TTL")
	v.BindEnv("SESSION_STORE")
	v.BindEnv("REDIS_URL")
	v.BindEnv("MAX_UPLOAD_SIZE")
	v.BindEnv("MEDICATION_SUMMARY_SIZE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.IsDev() && cfg.SessionSecret == "" {
		log.Println("WARNING: SESSION_SECRET is not set; a random key will be generated.")
		log.Println("WARNING: Session cookies will not survive a restart.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is usable before any component is
// built from it.
func (c *Config) Validate() error {
	switch c.SessionStore {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_STORE is %q", SessionStoreRedis)
		}
	default:
		return fmt.Errorf("SESSION_STORE must be %q or %q, got %q", SessionStoreMemory, SessionStoreRedis, c.SessionStore)
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}

	if c.SessionSecret != "" {
		key, err := hex.DecodeString(c.SessionSecret)
		if err != nil {
			return fmt.Errorf("SESSION_SECRET is not valid hex: %w", err)
		}
		if len(key) < 32 {
			return fmt.Errorf("SESSION_SECRET must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
		}
	}

	if c.ModelPath == "" || c.VectorizerPath == "" {
		return fmt.Errorf("MODEL_PATH and VECTORIZER_PATH are required")
	}

	if c.MedicationSummarySize <= 0 {
		return fmt.Errorf("MEDICATION_SUMMARY_SIZE must be positive, got %d", c.MedicationSummarySize)
	}

	return nil
}
