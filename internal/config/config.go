package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage modes accepted by STORAGE_MODE.
const (
	StorageModeMemory      = "memory"
	StorageModeGCS         = "gcs"
	StorageModeGCSEmulator = "gcs_emulator"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	JWTSecret   string   `mapstructure:"JWT_SECRET"`
	JWTIssuer   string   `mapstructure:"JWT_ISSUER"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	StorageMode         string `mapstructure:"STORAGE_MODE"`
	StorageBucket       string `mapstructure:"STORAGE_BUCKET"`
	StoragePublicDomain string `mapstructure:"STORAGE_PUBLIC_DOMAIN"`
	StoragePrefix       string `mapstructure:"STORAGE_PREFIX"`
	StorageEmulatorHost string `mapstructure:"STORAGE_EMULATOR_HOST"`
	GoogleCredentials   string `mapstructure:"GOOGLE_APPLICATION_CREDENTIALS"`
	GoogleCredentialsJS string `mapstructure:"GOOGLE_APPLICATION_CREDENTIALS_JSON"`

	InferenceURL            string        `mapstructure:"INFERENCE_URL"`
	InferenceConnectTimeout time.Duration `mapstructure:"INFERENCE_CONNECT_TIMEOUT"`
	InferenceReadTimeout    time.Duration `mapstructure:"INFERENCE_READ_TIMEOUT"`

	MaxUploadSize           string        `mapstructure:"MAX_UPLOAD_SIZE"`
	PrincipalCacheTTL       time.Duration `mapstructure:"PRINCIPAL_CACHE_TTL"`
	EnforcePatientOwnership bool          `mapstructure:"ENFORCE_PATIENT_OWNERSHIP"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"JWT_SECRET", "JWT_ISSUER", "CORS_ORIGINS",
	"STORAGE_MODE", "STORAGE_BUCKET", "STORAGE_PUBLIC_DOMAIN", "STORAGE_PREFIX", "STORAGE_EMULATOR_HOST",
	"GOOGLE_APPLICATION_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS_JSON",
	"INFERENCE_URL", "INFERENCE_CONNECT_TIMEOUT", "INFERENCE_READ_TIMEOUT",
	"MAX_UPLOAD_SIZE", "PRINCIPAL_CACHE_TTL", "ENFORCE_PATIENT_OWNERSHIP",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("STORAGE_MODE", StorageModeMemory)
	v.SetDefault("STORAGE_PUBLIC_DOMAIN", "firebasestorage.googleapis.com")
	v.SetDefault("STORAGE_PREFIX", "xray-images")
	v.SetDefault("INFERENCE_CONNECT_TIMEOUT", 5*time.Second)
	v.SetDefault("INFERENCE_READ_TIMEOUT", 120*time.Second)
	v.SetDefault("MAX_UPLOAD_SIZE", "20M")
	v.SetDefault("PRINCIPAL_CACHE_TTL", 5*time.Minute)
	v.SetDefault("ENFORCE_PATIENT_OWNERSHIP", false)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); unauthenticated requests act as the dev principal")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required outside development (ENV=%q)", c.Env)
	}
	if c.InferenceURL == "" {
		return fmt.Errorf("INFERENCE_URL is required")
	}
	if c.InferenceConnectTimeout <= 0 || c.InferenceReadTimeout <= 0 {
		return fmt.Errorf("inference timeouts must be positive")
	}

	switch c.StorageMode {
	case StorageModeMemory:
		if !c.IsDev() {
			return fmt.Errorf("STORAGE_MODE=memory is only allowed in development")
		}
	case StorageModeGCS:
		if c.StorageBucket == "" {
			return fmt.Errorf("STORAGE_BUCKET is required when STORAGE_MODE=%s", c.StorageMode)
		}
	case StorageModeGCSEmulator:
		if c.StorageBucket == "" {
			return fmt.Errorf("STORAGE_BUCKET is required when STORAGE_MODE=%s", c.StorageMode)
		}
		if c.StorageEmulatorHost == "" {
			return fmt.Errorf("STORAGE_EMULATOR_HOST is required when STORAGE_MODE=%s", c.StorageMode)
		}
	default:
		return fmt.Errorf("STORAGE_MODE must be %q, %q or %q, got %q",
			StorageModeMemory, StorageModeGCS, StorageModeGCSEmulator, c.StorageMode)
	}

	return nil
}
