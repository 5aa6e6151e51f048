package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultChunkSize is the fixed chunk size handed out at registration.
const DefaultChunkSize = 5 * 1024 * 1024

// Config holds application configuration
type Config struct {
	Port        string
	StorageRoot string
	PublicURL   string

	ChunkSize     int64
	MaxChunkBytes int64

	UploadIdleTimeout time.Duration
	SweepInterval     time.Duration

	LogLevel  string
	LogPretty bool
	Debug     bool

	RateLimitRPS   int
	AllowedOrigins []string

	JWTSecret              string
	ProvisioningSecretHash string
	TokenTTL               time.Duration

	RedisURL     string
	RedisChannel string

	DatabaseURL string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

// Load reads configuration from the environment and, when CONFIG_FILE is
// set, from that file. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:        v.GetString("PORT"),
		StorageRoot: v.GetString("STORAGE_ROOT"),
		PublicURL:   v.GetString("PUBLIC_URL"),

		ChunkSize:     v.GetInt64("CHUNK_SIZE"),
		MaxChunkBytes: v.GetInt64("MAX_CHUNK_BYTES"),

		UploadIdleTimeout: v.GetDuration("UPLOAD_IDLE_TIMEOUT"),
		SweepInterval:     v.GetDuration("SWEEP_INTERVAL"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogPretty: v.GetBool("LOG_PRETTY"),
		Debug:     v.GetBool("DEBUG"),

		RateLimitRPS: v.GetInt("RATE_LIMIT_RPS"),

		JWTSecret:              v.GetString("JWT_SECRET"),
		ProvisioningSecretHash: v.GetString("PROVISIONING_SECRET_HASH"),
		TokenTTL:               v.GetDuration("TOKEN_TTL"),

		RedisURL:     v.GetString("REDIS_URL"),
		RedisChannel: v.GetString("REDIS_CHANNEL"),

		DatabaseURL: v.GetString("DATABASE_URL"),

		MinioEndpoint:  v.GetString("MINIO_ENDPOINT"),
		MinioAccessKey: v.GetString("MINIO_ACCESS_KEY"),
		MinioSecretKey: v.GetString("MINIO_SECRET_KEY"),
		MinioBucket:    v.GetString("MINIO_BUCKET"),
		MinioUseSSL:    v.GetBool("MINIO_USE_SSL"),
	}

	if cfg.MaxChunkBytes == 0 {
		cfg.MaxChunkBytes = 2 * cfg.ChunkSize
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = "http://localhost:" + cfg.Port
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	if cfg.Debug {
		cfg.AllowedOrigins = []string{"*"}
	} else {
		cfg.AllowedOrigins = splitList(v.GetString("ALLOWED_ORIGINS"))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "3000")
	v.SetDefault("STORAGE_ROOT", "./storage")
	v.SetDefault("CHUNK_SIZE", DefaultChunkSize)
	v.SetDefault("MAX_CHUNK_BYTES", 0)
	v.SetDefault("UPLOAD_IDLE_TIMEOUT", time.Duration(0))
	v.SetDefault("SWEEP_INTERVAL", time.Minute)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("RATE_LIMIT_RPS", 0)
	v.SetDefault("TOKEN_TTL", 24*time.Hour)
	v.SetDefault("REDIS_CHANNEL", "dashcam:uploads")
	v.SetDefault("MINIO_BUCKET", "recordings")
}

// Validate checks the values that would make the tracker misbehave.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.MaxChunkBytes < c.ChunkSize {
		return fmt.Errorf("MAX_CHUNK_BYTES (%d) must be at least CHUNK_SIZE (%d)", c.MaxChunkBytes, c.ChunkSize)
	}
	if c.StorageRoot == "" {
		return fmt.Errorf("STORAGE_ROOT must not be empty")
	}
	if c.UploadIdleTimeout < 0 {
		return fmt.Errorf("UPLOAD_IDLE_TIMEOUT must not be negative")
	}
	if c.UploadIdleTimeout > 0 && c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive when UPLOAD_IDLE_TIMEOUT is set")
	}
	return nil
}

// AuthEnabled reports whether upload routes require a device token.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
