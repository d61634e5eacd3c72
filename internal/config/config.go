package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relaywatch/correlator/internal/engine"
	"github.com/relaywatch/correlator/internal/models"
)

// Config captures the settings required to boot the correlator service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Directory   DirectoryConfig   `yaml:"directory"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Logging     LoggingConfig     `yaml:"logging"`
	Cache       CacheConfig       `yaml:"cache"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// DirectoryConfig configures access to the public relay directory.
type DirectoryConfig struct {
	BaseURL    string        `yaml:"baseURL"`
	Timeout    time.Duration `yaml:"timeout"`
	FetchLimit int           `yaml:"fetchLimit"`
	CacheTTL   time.Duration `yaml:"cacheTTL"`
}

// CorrelationConfig holds every engine knob.
type CorrelationConfig struct {
	WindowSeconds             float64        `yaml:"windowSeconds"`
	MinConfidenceThreshold    float64        `yaml:"minConfidenceThreshold"`
	MinClusterObservations    int            `yaml:"minClusterObservations"`
	EnableRepetitionWeighting bool           `yaml:"enableRepetitionWeighting"`
	MinRepetitionsForBoost    int            `yaml:"minRepetitionsForBoost"`
	RepetitionBoostFactor     float64        `yaml:"repetitionBoostFactor"`
	MaxRepetitionBoost        float64        `yaml:"maxRepetitionBoost"`
	StrictRelayValidation     bool           `yaml:"strictRelayValidation"`
	DefaultWeightProfile      string         `yaml:"defaultWeightProfile"`
	CustomWeights             *CustomWeights `yaml:"customWeights,omitempty"`
}

// CustomWeights is the inline weight triple for the custom profile.
type CustomWeights struct {
	Time    float64 `yaml:"time"`
	Volume  float64 `yaml:"volume"`
	Pattern float64 `yaml:"pattern"`
	CaseID  string  `yaml:"caseId"`
	Creator string  `yaml:"creator"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Valkey-backed caching of directory fetches.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CORRELATOR_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Directory: DirectoryConfig{
			BaseURL:  "https://onionoo.torproject.org",
			Timeout:  30 * time.Second,
			CacheTTL: time.Hour,
		},
		Correlation: CorrelationConfig{
			WindowSeconds:             300,
			MinConfidenceThreshold:    30,
			MinClusterObservations:    3,
			EnableRepetitionWeighting: true,
			MinRepetitionsForBoost:    2,
			RepetitionBoostFactor:     1.5,
			MaxRepetitionBoost:        2.0,
			DefaultWeightProfile:      string(models.ProfileStandard),
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
	}
}

// Validate checks cross-field constraints up front so the engine never sees
// a malformed configuration.
func (c *Config) Validate() error {
	if c.Correlation.WindowSeconds <= 0 {
		return fmt.Errorf("correlation window must be positive, got %.1f", c.Correlation.WindowSeconds)
	}
	if c.Correlation.MinConfidenceThreshold < 0 || c.Correlation.MinConfidenceThreshold > 100 {
		return fmt.Errorf("confidence threshold must be in [0,100], got %.1f", c.Correlation.MinConfidenceThreshold)
	}
	if c.Correlation.MinClusterObservations < 1 {
		return fmt.Errorf("min cluster observations must be at least 1, got %d", c.Correlation.MinClusterObservations)
	}
	if c.Correlation.MaxRepetitionBoost < 1 {
		return fmt.Errorf("max repetition boost must be at least 1.0, got %.2f", c.Correlation.MaxRepetitionBoost)
	}
	if _, err := c.Profile(); err != nil {
		return err
	}
	return nil
}

// EngineConfig maps the correlation section onto the engine's run config.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		WindowSeconds:          c.Correlation.WindowSeconds,
		MinConfidence:          c.Correlation.MinConfidenceThreshold,
		MinClusterObservations: c.Correlation.MinClusterObservations,
		StrictRelays:           c.Correlation.StrictRelayValidation,
		Repetition: engine.RepetitionConfig{
			Enabled:        c.Correlation.EnableRepetitionWeighting,
			MinRepetitions: c.Correlation.MinRepetitionsForBoost,
			BoostFactor:    c.Correlation.RepetitionBoostFactor,
			MaxBoost:       c.Correlation.MaxRepetitionBoost,
		},
	}
}

// Profile resolves the configured default weight profile.
func (c *Config) Profile() (models.WeightProfile, error) {
	profileType := models.ProfileType(c.Correlation.DefaultWeightProfile)
	if profileType != models.ProfileCustom {
		return models.Profile(profileType)
	}
	if c.Correlation.CustomWeights == nil {
		return models.WeightProfile{}, fmt.Errorf("custom profile selected but customWeights not set")
	}
	w := c.Correlation.CustomWeights
	return models.NewCustomProfile(
		"custom", "Configured Custom Profile",
		w.Time, w.Volume, w.Pattern,
		w.CaseID, w.Creator, "profile configured at startup")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CORRELATOR_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("CORRELATOR_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("CORRELATOR_DIRECTORY_URL"); v != "" {
		cfg.Directory.BaseURL = v
	}
	if v := os.Getenv("CORRELATOR_DIRECTORY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Directory.Timeout = d
		}
	}
	if v := os.Getenv("CORRELATOR_DIRECTORY_FETCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Directory.FetchLimit = n
		}
	}
	if v := os.Getenv("CORRELATOR_WINDOW_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Correlation.WindowSeconds = f
		}
	}
	if v := os.Getenv("CORRELATOR_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Correlation.MinConfidenceThreshold = f
		}
	}
	if v := os.Getenv("CORRELATOR_MIN_CLUSTER_OBSERVATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Correlation.MinClusterObservations = n
		}
	}
	if v := os.Getenv("CORRELATOR_REPETITION_WEIGHTING"); v != "" {
		cfg.Correlation.EnableRepetitionWeighting = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("CORRELATOR_STRICT_RELAYS"); v != "" {
		cfg.Correlation.StrictRelayValidation = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("CORRELATOR_WEIGHT_PROFILE"); v != "" {
		cfg.Correlation.DefaultWeightProfile = v
	}
	if v := os.Getenv("CORRELATOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CORRELATOR_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("CORRELATOR_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("CORRELATOR_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("CORRELATOR_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("CORRELATOR_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("CORRELATOR_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("CORRELATOR_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
}
