package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"copysensei/internal/util"
	"copysensei/pkg/classify"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	DatabaseURL    string   `yaml:"databaseURL"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	TrustedProxies []string `yaml:"trustedProxies"`

	// Local cache. Without redisAddr the cache lives in process memory.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	CachePrefix   string `yaml:"cachePrefix"`
	CacheTTL      string `yaml:"cacheTTL"`

	// User tokens.
	JWTSecret   string `yaml:"jwtSecret"`
	JWKSURL     string `yaml:"jwksURL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	// Function services.
	CopyServiceURL         string `yaml:"copyServiceURL"`
	ResearchServiceURL     string `yaml:"researchServiceURL"`
	ServiceTokenSecret     string `yaml:"serviceTokenSecret"`
	ServiceTokenIssuer     string `yaml:"serviceTokenIssuer"`
	CopyTimeoutSeconds     int    `yaml:"copyTimeoutSeconds"`
	ResearchTimeoutSeconds int    `yaml:"researchTimeoutSeconds"`

	// Chat behaviour.
	DefaultCredits         int    `yaml:"defaultCredits"`
	HistoryLimit           int    `yaml:"historyLimit"`
	LowValuePolicy         string `yaml:"lowValuePolicy"`
	SendRateLimitPerMinute int    `yaml:"sendRateLimitPerMinute"`

	// Research queue (needs redisAddr).
	QueueEnabled     bool   `yaml:"queueEnabled"`
	QueueStream      string `yaml:"queueStream"`
	QueueGroup       string `yaml:"queueGroup"`
	QueueConcurrency int    `yaml:"queueConcurrency"`
	QueueMaxRetries  int    `yaml:"queueMaxRetries"`

	// Document archive.
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	// Credit events.
	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`
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
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("COPYSENSEI_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("COPYSENSEI_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	if v := os.Getenv("COPYSENSEI_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("COPYSENSEI_JWKS_URL"); v != "" {
		cfg.JWKSURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("COPYSENSEI_COPY_SERVICE_URL"); v != "" {
		cfg.CopyServiceURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("COPYSENSEI_RESEARCH_SERVICE_URL"); v != "" {
		cfg.ResearchServiceURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("COPYSENSEI_SERVICE_TOKEN_SECRET"); v != "" {
		cfg.ServiceTokenSecret = v
	}
	if v := os.Getenv("COPYSENSEI_DEFAULT_CREDITS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.DefaultCredits = n
		}
	}
	if v := os.Getenv("COPYSENSEI_HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.HistoryLimit = n
		}
	}
	if v := os.Getenv("COPYSENSEI_LOW_VALUE_POLICY"); v != "" {
		cfg.LowValuePolicy = strings.TrimSpace(v)
	}
	if v := os.Getenv("COPYSENSEI_SEND_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.SendRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("COPYSENSEI_QUEUE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.QueueEnabled = b
		}
	}
	if v := os.Getenv("COPYSENSEI_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" && strings.TrimSpace(cfg.JWKSURL) == "" {
		return errors.New("config: jwtSecret or jwksURL is required (set in config.yaml or COPYSENSEI_JWT_SECRET)")
	}
	if cfg.CopyServiceURL == "" {
		return errors.New("config: copyServiceURL is required (set in config.yaml)")
	}
	if cfg.ServiceTokenSecret != "" && len(cfg.ServiceTokenSecret) < 32 {
		return errors.New("config: serviceTokenSecret must be at least 32 bytes")
	}
	if cfg.DefaultCredits < 0 {
		return errors.New("config: defaultCredits must be >= 0")
	}
	if cfg.SendRateLimitPerMinute < 0 {
		return errors.New("config: sendRateLimitPerMinute must be >= 0")
	}
	if _, err := classify.ParsePolicy(cfg.LowValuePolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.QueueEnabled {
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required when queueEnabled is true")
		}
		if cfg.ResearchServiceURL == "" {
			return errors.New("config: researchServiceURL is required when queueEnabled is true")
		}
		if cfg.QueueConcurrency < 0 {
			return errors.New("config: queueConcurrency must be >= 0")
		}
	}
	if _, err := util.NewTrustedProxies(cfg.TrustedProxies); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.MinioEndpoint != "" && cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	if _, err := ParseDuration("jwtLeeway", cfg.JWTLeeway); err != nil {
		return err
	}
	if _, err := ParseDuration("cacheTTL", cfg.CacheTTL); err != nil {
		return err
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseDuration parses an optional duration setting. Empty means zero.
func ParseDuration(name, value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", name, err)
	}
	return dur, nil
}
