package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"baseURL"`
	APIKey      string  `yaml:"apiKey"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"topP"`
	MaxTokens   int     `yaml:"maxTokens"`

	// Page snapshot fetched before prompting the model.
	SkipPageSnapshot     bool   `yaml:"skipPageSnapshot"`
	SnapshotTimeout      string `yaml:"snapshotTimeout"`
	SnapshotMaxBytes     int64  `yaml:"snapshotMaxBytes"`
	AllowPrivateNetworks bool   `yaml:"allowPrivateNetworks"`

	ServiceTokenSecret string   `yaml:"serviceTokenSecret"`
	AllowedIssuers     []string `yaml:"allowedIssuers"`
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
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PERPLEXITY_API_KEY"); v != "" {
		cfg.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("RESEARCH_PROVIDER"); v != "" {
		cfg.Provider = strings.TrimSpace(v)
	}
	if v := os.Getenv("RESEARCH_BASE_URL"); v != "" {
		cfg.BaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("RESEARCH_MODEL"); v != "" {
		cfg.Model = strings.TrimSpace(v)
	}
	if v := os.Getenv("RESEARCH_SKIP_PAGE_SNAPSHOT"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.SkipPageSnapshot = b
		}
	}
	if v := os.Getenv("COPYSENSEI_SERVICE_TOKEN_SECRET"); v != "" {
		cfg.ServiceTokenSecret = v
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Provider == "" {
		cfg.Provider = "perplexity"
	}
	if cfg.BaseURL == "" && strings.EqualFold(cfg.Provider, "perplexity") {
		cfg.BaseURL = "https://api.perplexity.ai"
	}
	if cfg.Model == "" {
		cfg.Model = "sonar"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.TopP == 0 {
		cfg.TopP = 0.9
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 6000
	}
	if cfg.SnapshotTimeout == "" {
		cfg.SnapshotTimeout = "10s"
	}
	if cfg.SnapshotMaxBytes == 0 {
		cfg.SnapshotMaxBytes = 2 << 20
	}
	if len(cfg.AllowedIssuers) == 0 {
		cfg.AllowedIssuers = []string{"chat"}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "perplexity", "openai", "openai-compat", "gemini":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return errors.New("config: apiKey is required (set in config.yaml or PERPLEXITY_API_KEY)")
		}
	case "ollama":
	default:
		return fmt.Errorf("config: unknown provider %q", cfg.Provider)
	}
	if cfg.TopP < 0 || cfg.TopP > 1 {
		return errors.New("config: topP must be between 0 and 1")
	}
	if cfg.MaxTokens < 0 {
		return errors.New("config: maxTokens must be >= 0")
	}
	if _, err := SnapshotTimeout(cfg); err != nil {
		return err
	}
	if cfg.ServiceTokenSecret != "" && len(cfg.ServiceTokenSecret) < 32 {
		return errors.New("config: serviceTokenSecret must be at least 32 bytes")
	}
	return nil
}

// SnapshotTimeout parses the page fetch timeout.
func SnapshotTimeout(cfg FileConfig) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(cfg.SnapshotTimeout))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: invalid snapshotTimeout %q", cfg.SnapshotTimeout)
	}
	return d, nil
}
