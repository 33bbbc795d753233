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

	"github.com/platformbuilds/alertcorr/internal/utils"
)

// Config captures the minimal settings required to boot the correlation
// service.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Rules    RulesConfig    `yaml:"rules"`
	Cache    CacheConfig    `yaml:"cache"`
	History  HistoryConfig  `yaml:"history"`
}

// PipelineConfig holds the tunables that drive every pipeline stage: window
// and hop sizing, dedup/episode/situation timing, and the per-entity rate
// limit.
type PipelineConfig struct {
	WindowMs               int64          `yaml:"windowMs"`
	HopMs                  int64          `yaml:"hopMs"`
	DedupTTLMs             int64          `yaml:"dedupTtlMs"`
	DedupMaxAgeMs          int64          `yaml:"dedupMaxAgeMs"`
	EpisodeGapMs           int64          `yaml:"episodeGapMs"`
	MaxLeadMs              int64          `yaml:"maxLeadMs"`
	MaxSituationLifetimeMs int64          `yaml:"maxSituationLifetimeMs"`
	QuietThresholdMs       int64          `yaml:"quietThresholdMs"`
	MaxAlertsPerMinute     int            `yaml:"maxAlertsPerMinute"`
	FlapDropThreshold      int            `yaml:"flapDropThreshold"`
	SeverityWeights        map[string]int `yaml:"severityWeights"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls rule-pack loading for the Threshold Engine.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls Valkey-backed caching of recurring-signature lookups.
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
	SignatureTTL time.Duration `yaml:"signatureTTL"`
}

// HistoryConfig controls the optional situation-history sink.
type HistoryConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"apiKey"`
	Timeout    time.Duration `yaml:"timeout"`
	BufferSize int           `yaml:"bufferSize"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ALERTCORR_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, utils.NewAppError("config.Load", fmt.Sprintf("config file %s not found", path), err)
			}
			return nil, utils.NewAppError("config.Load", "read config", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, utils.NewAppError("config.Load", "parse config", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, utils.NewAppError("config.Load", "invalid pipeline config", err)
	}

	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Pipeline: PipelineConfig{
			WindowMs:               30 * 60 * 1000,
			HopMs:                  1000,
			DedupTTLMs:             120 * 1000,
			DedupMaxAgeMs:          10 * 60 * 1000,
			EpisodeGapMs:           2 * 60 * 1000,
			MaxLeadMs:              90 * 1000,
			MaxSituationLifetimeMs: 90 * 60 * 1000,
			QuietThresholdMs:       15 * 60 * 1000,
			MaxAlertsPerMinute:     100,
			FlapDropThreshold:      3,
			SeverityWeights: map[string]int{
				"critical": 4,
				"high":     3,
				"medium":   2,
				"low":      1,
			},
		},
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Cache: CacheConfig{
			Enabled:      false,
			SignatureTTL: 10 * time.Minute,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		History: HistoryConfig{
			Timeout:    5 * time.Second,
			BufferSize: 500,
		},
	}
}

// Validate rejects a pipeline configuration that would leave a stage
// undefined (e.g. a non-positive hop or window). Called by Load and by
// PipelineConfig.Merge before a partial update is accepted.
func (c PipelineConfig) Validate() error {
	if c.HopMs <= 0 {
		return errors.New("hopMs must be positive")
	}
	if c.WindowMs <= 0 {
		return errors.New("windowMs must be positive")
	}
	if c.DedupTTLMs < 0 {
		return errors.New("dedupTtlMs must be non-negative")
	}
	if c.EpisodeGapMs <= 0 {
		return errors.New("episodeGapMs must be positive")
	}
	if c.MaxLeadMs < 0 {
		return errors.New("maxLeadMs must be non-negative")
	}
	if c.MaxSituationLifetimeMs <= 0 {
		return errors.New("maxSituationLifetimeMs must be positive")
	}
	if c.QuietThresholdMs <= 0 {
		return errors.New("quietThresholdMs must be positive")
	}
	if c.MaxAlertsPerMinute <= 0 {
		return errors.New("maxAlertsPerMinute must be positive")
	}
	if c.FlapDropThreshold < 0 {
		return errors.New("flapDropThreshold must be non-negative")
	}
	return nil
}

// PartialConfig carries an update_config request: nil fields are left
// unchanged by Merge.
type PartialConfig struct {
	WindowMs               *int64
	HopMs                  *int64
	DedupTTLMs             *int64
	EpisodeGapMs           *int64
	MaxLeadMs              *int64
	MaxSituationLifetimeMs *int64
	QuietThresholdMs       *int64
	MaxAlertsPerMinute     *int
	FlapDropThreshold      *int
}

// Merge applies a partial update on top of c and validates the result,
// returning c unchanged if the result would be invalid. The Driver calls
// this only at a tick boundary, never mid-tick.
func (c PipelineConfig) Merge(p PartialConfig) (PipelineConfig, error) {
	next := c
	if p.WindowMs != nil {
		next.WindowMs = *p.WindowMs
	}
	if p.HopMs != nil {
		next.HopMs = *p.HopMs
	}
	if p.DedupTTLMs != nil {
		next.DedupTTLMs = *p.DedupTTLMs
	}
	if p.EpisodeGapMs != nil {
		next.EpisodeGapMs = *p.EpisodeGapMs
	}
	if p.MaxLeadMs != nil {
		next.MaxLeadMs = *p.MaxLeadMs
	}
	if p.MaxSituationLifetimeMs != nil {
		next.MaxSituationLifetimeMs = *p.MaxSituationLifetimeMs
	}
	if p.QuietThresholdMs != nil {
		next.QuietThresholdMs = *p.QuietThresholdMs
	}
	if p.MaxAlertsPerMinute != nil {
		next.MaxAlertsPerMinute = *p.MaxAlertsPerMinute
	}
	if p.FlapDropThreshold != nil {
		next.FlapDropThreshold = *p.FlapDropThreshold
	}
	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALERTCORR_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("ALERTCORR_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("ALERTCORR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ALERTCORR_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("ALERTCORR_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("ALERTCORR_HISTORY_ENDPOINT"); v != "" {
		cfg.History.Endpoint = v
	}
	if v := os.Getenv("ALERTCORR_HISTORY_API_KEY"); v != "" {
		cfg.History.APIKey = v
	}
	if v := os.Getenv("ALERTCORR_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("ALERTCORR_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("ALERTCORR_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("ALERTCORR_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("ALERTCORR_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("ALERTCORR_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("ALERTCORR_CACHE_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.DialTimeout = d
		}
	}
	if v := os.Getenv("ALERTCORR_CACHE_MAX_RETRIES"); v != "" {
		if retry, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxRetries = retry
		}
	}
	if v := os.Getenv("ALERTCORR_WINDOW_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Pipeline.WindowMs = n
		}
	}
	if v := os.Getenv("ALERTCORR_HOP_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Pipeline.HopMs = n
		}
	}
	if v := os.Getenv("ALERTCORR_DEDUP_TTL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Pipeline.DedupTTLMs = n
		}
	}
	if v := os.Getenv("ALERTCORR_EPISODE_GAP_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Pipeline.EpisodeGapMs = n
		}
	}
	if v := os.Getenv("ALERTCORR_MAX_ALERTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MaxAlertsPerMinute = n
		}
	}
}
