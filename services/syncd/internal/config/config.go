package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location relative to the working directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	CanvasBaseURL string `yaml:"canvasBaseURL"`
	CanvasToken   string `yaml:"canvasToken"`
	UserID        string `yaml:"userID"`
	ActAsUserID   string `yaml:"actAsUserID"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	CacheTTL      string `yaml:"cacheTTL"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	UploadStream     string `yaml:"uploadStream"`
	UploadGroup      string `yaml:"uploadGroup"`
	UploadWorkers    int    `yaml:"uploadWorkers"`
	StagingDir       string `yaml:"stagingDir"`
	MinioEndpoint    string `yaml:"minioEndpoint"`
	MinioAccessKey   string `yaml:"minioAccessKey"`
	MinioSecretKey   string `yaml:"minioSecretKey"`
	MinioBucket      string `yaml:"minioBucket"`
	MinioUseSSL      bool   `yaml:"minioUseSSL"`
	RefreshRateLimit int    `yaml:"refreshRateLimit"`
	RefreshRateWin   string `yaml:"refreshRateWindow"`

	// TrustedProxies lists proxy IPs/CIDRs whose forwarded headers are trusted.
	TrustedProxies []string `yaml:"trustedProxies"`

	ServiceJWTAudience  string   `yaml:"serviceJWTAudience"`
	ServiceJWTIssuers   []string `yaml:"serviceJWTIssuers"`
	ServiceJWTPublicKey string   `yaml:"serviceJWTPublicKey"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("CANVAS_TOKEN"); v != "" {
		cfg.CanvasToken = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseCacheTTL parses the configured TTL; empty means the package default.
func ParseCacheTTL(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid cacheTTL %q: %w", raw, err)
	}
	return d, nil
}

// ParseRefreshWindow parses the force-refresh rate window, defaulting to one
// minute.
func ParseRefreshWindow(raw string) (time.Duration, error) {
	if raw == "" {
		return time.Minute, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid refreshRateWindow %q: %w", raw, err)
	}
	return d, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.CanvasBaseURL == "" {
		return errors.New("config: canvasBaseURL is required (set in config.yaml)")
	}
	if cfg.CanvasToken == "" {
		return errors.New("config: canvasToken is required (set in config.yaml or CANVAS_TOKEN)")
	}
	if cfg.UserID == "" {
		return errors.New("config: userID is required (set in config.yaml)")
	}
	if cfg.MinioEndpoint == "" && cfg.StagingDir == "" {
		return errors.New("config: stagingDir or minioEndpoint is required (set in config.yaml)")
	}
	if cfg.ServiceJWTPublicKey != "" && cfg.ServiceJWTAudience == "" {
		return errors.New("config: serviceJWTAudience is required when serviceJWTPublicKey is set")
	}
	return nil
}
