package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	charmLog "github.com/charmbracelet/log"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	minPollInterval = time.Second
	maxPollInterval = time.Minute
)

type Config struct {
	Database    DatabaseConfig    `toml:"database"`
	Logging     LoggingConfig     `toml:"logging"`
	Server      ServerConfig      `toml:"server"`
	Drift       DriftConfig       `toml:"drift"`
	Risk        RiskConfig        `toml:"risk"`
	Correlation CorrelationConfig `toml:"correlation"`
	Reasoning   ReasoningConfig   `toml:"reasoning"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

// DevFileConfig controls the logfmt file sink used in dev mode.
type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type ServerConfig struct {
	HTTPBind    string `toml:"http_bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

type DriftConfig struct {
	PollInterval string `toml:"poll_interval"`
}

type RiskConfig struct {
	MaxActiveItemsPerMember int                `toml:"max_active_items_per_member"`
	CategoryBenchmarks      map[string]float64 `toml:"category_benchmarks"`
}

// CorrelationConfig tunes the significance and strength cutoffs of the correlation engine.
type CorrelationConfig struct {
	SignificanceFloorPct float64 `toml:"significance_floor_pct"`
	StrongDriftDays      int     `toml:"strong_drift_days"`
	StrongChangePct      float64 `toml:"strong_change_pct"`
	ModerateDriftDays    int     `toml:"moderate_drift_days"`
	ModerateChangePct    float64 `toml:"moderate_change_pct"`
	WeakChangePct        float64 `toml:"weak_change_pct"`
	FallbackConfidence   int     `toml:"fallback_confidence"`
	TrendWindow          int     `toml:"trend_window"`
}

// ReasoningConfig configures the external reasoning service. APIKey is only read from the
// environment so secrets never land in the TOML file.
type ReasoningConfig struct {
	Enabled         bool   `toml:"enabled"`
	Model           string `toml:"model"`
	Timeout         string `toml:"timeout"`
	MaxConcurrency  int    `toml:"max_concurrency"`
	MaxOutputTokens int    `toml:"max_output_tokens"`
	MinConfidence   int    `toml:"min_confidence"`
	APIKey          string `toml:"-"`
}

// EnvOverlay holds deploy-time overrides read from the process environment.
type EnvOverlay struct {
	GenAIAPIKey      string `env:"CADENCE_GENAI_API_KEY"`
	GenAIModel       string `env:"CADENCE_GENAI_MODEL"`
	ReasoningEnabled *bool  `env:"CADENCE_REASONING_ENABLED"`
}

func defaultCategoryBenchmarks() map[string]float64 {
	return map[string]float64{
		"awareness":      10000,
		"consideration":  7500,
		"conversion":     5000,
		"retention":      4000,
		"product_launch": 15000,
		"default":        5000,
	}
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".cadence/log",
			},
		},
		Server: ServerConfig{
			HTTPBind:    "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Drift: DriftConfig{
			PollInterval: "60s",
		},
		Risk: RiskConfig{
			MaxActiveItemsPerMember: 5,
			CategoryBenchmarks:      defaultCategoryBenchmarks(),
		},
		Correlation: CorrelationConfig{
			SignificanceFloorPct: 5,
			StrongDriftDays:      3,
			StrongChangePct:      20,
			ModerateDriftDays:    2,
			ModerateChangePct:    15,
			WeakChangePct:        10,
			FallbackConfidence:   40,
			TrendWindow:          4,
		},
		Reasoning: ReasoningConfig{
			Enabled:         false,
			Model:           "gemini-2.5-flash",
			Timeout:         "8s",
			MaxConcurrency:  2,
			MaxOutputTokens: 1024,
			MinConfidence:   0,
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	cfg.Risk.CategoryBenchmarks = cloneBenchmarks(defaults.Risk.CategoryBenchmarks)
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg Config) (Config, error) {
	var overlay EnvOverlay
	if err := env.Parse(&overlay); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if key := strings.TrimSpace(overlay.GenAIAPIKey); key != "" {
		cfg.Reasoning.APIKey = key
	}
	if model := strings.TrimSpace(overlay.GenAIModel); model != "" {
		cfg.Reasoning.Model = model
	}
	if overlay.ReasoningEnabled != nil {
		cfg.Reasoning.Enabled = *overlay.ReasoningEnabled
	}
	return cfg, nil
}

func (c Config) Validate() error {
	c.Database.Path = strings.TrimSpace(c.Database.Path)
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if _, err := charmLog.ParseLevel(strings.TrimSpace(c.Logging.Level)); err != nil {
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	api := strings.Trim(strings.TrimSpace(c.Server.APIEndpoint), "/")
	mcp := strings.Trim(strings.TrimSpace(c.Server.MCPEndpoint), "/")
	if api != "" && api == mcp {
		return errors.New("server.api_endpoint and server.mcp_endpoint must differ")
	}

	poll, err := parseDuration("drift.poll_interval", c.Drift.PollInterval)
	if err != nil {
		return err
	}
	if poll < minPollInterval || poll > maxPollInterval {
		return fmt.Errorf("drift.poll_interval must be between %s and %s", minPollInterval, maxPollInterval)
	}

	if c.Risk.MaxActiveItemsPerMember < 1 {
		return errors.New("risk.max_active_items_per_member must be >= 1")
	}
	categories := make([]string, 0, len(c.Risk.CategoryBenchmarks))
	for category := range c.Risk.CategoryBenchmarks {
		categories = append(categories, category)
	}
	slices.Sort(categories)
	for idx, category := range categories {
		if strings.TrimSpace(category) == "" {
			return fmt.Errorf("risk.category_benchmarks[%d] has an empty category", idx)
		}
		if c.Risk.CategoryBenchmarks[category] <= 0 {
			return fmt.Errorf("risk.category_benchmarks.%s must be > 0", category)
		}
	}

	if err := c.Correlation.validate(); err != nil {
		return err
	}

	timeout, err := parseDuration("reasoning.timeout", c.Reasoning.Timeout)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		return errors.New("reasoning.timeout must be > 0")
	}
	if c.Reasoning.MaxConcurrency < 1 {
		return errors.New("reasoning.max_concurrency must be >= 1")
	}
	if c.Reasoning.MaxOutputTokens < 1 {
		return errors.New("reasoning.max_output_tokens must be >= 1")
	}
	if c.Reasoning.MinConfidence < 0 || c.Reasoning.MinConfidence > 100 {
		return errors.New("reasoning.min_confidence must be within 0..100")
	}
	return nil
}

func (c CorrelationConfig) validate() error {
	switch {
	case c.SignificanceFloorPct < 0:
		return errors.New("correlation.significance_floor_pct must be >= 0")
	case c.StrongDriftDays < 1 || c.ModerateDriftDays < 1:
		return errors.New("correlation drift-day thresholds must be >= 1")
	case c.ModerateDriftDays > c.StrongDriftDays:
		return errors.New("correlation.moderate_drift_days must be <= strong_drift_days")
	case c.WeakChangePct > c.ModerateChangePct || c.ModerateChangePct > c.StrongChangePct:
		return errors.New("correlation change thresholds must satisfy weak <= moderate <= strong")
	case c.FallbackConfidence < 0 || c.FallbackConfidence > 100:
		return errors.New("correlation.fallback_confidence must be within 0..100")
	case c.TrendWindow < 1:
		return errors.New("correlation.trend_window must be >= 1")
	}
	return nil
}

// PollInterval returns the parsed drift refresh interval.
func (c Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.Drift.PollInterval))
	if err != nil {
		return maxPollInterval
	}
	return d
}

// ReasoningTimeout returns the parsed per-call reasoning deadline.
func (c Config) ReasoningTimeout() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.Reasoning.Timeout))
	if err != nil {
		return 0
	}
	return d
}

func parseDuration(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return d, nil
}

func cloneBenchmarks(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
