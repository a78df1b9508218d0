// Package config loads and validates the static configuration for the
// routing service: the provider set with rate limits and tiers, the category
// routing tables, circuit breaker thresholds, and background job overrides.
//
// Configuration is a YAML file resolved via the CONFIG_PATH environment
// variable. Validation follows a fail-open strategy for tunables (invalid
// values fall back to defaults with a warning) but fails hard on structural
// errors such as a category referencing an unknown provider.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the file omits a value.
const (
	DefaultSchedulerTick   = 2 * time.Second
	DefaultFreshnessWindow = 24 * time.Hour
	DefaultCacheTTL        = 10 * time.Minute
	DefaultCacheMaxEntries = 5000
	DefaultResetTimeout    = 60 * time.Second
	DefaultRetryDelay      = 30 * time.Second

	defaultFailureThreshold = 5
)

// Duration wraps time.Duration with YAML unmarshalling from strings like
// "90s" or "5m".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RateLimits holds the per-window request ceilings for one provider.
// Zero disables enforcement for that window.
type RateLimits struct {
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
	PerDay    int `yaml:"per_day"`
}

// Breaker holds circuit breaker tunables, either system-wide or as a
// per-provider override.
type Breaker struct {
	FailureThreshold uint32   `yaml:"failure_threshold"`
	ResetTimeout     Duration `yaml:"reset_timeout"`
}

// Provider is the immutable configuration record for one upstream provider.
type Provider struct {
	ID             string     `yaml:"id"`
	Type           string     `yaml:"type"`
	Tier           int        `yaml:"tier"`
	Model          string     `yaml:"model"`
	RateLimits     RateLimits `yaml:"rate_limits"`
	MaxConcurrency int        `yaml:"max_concurrency"`
	Breaker        *Breaker   `yaml:"breaker"`
}

// Category maps a request category to its ordered provider lists and
// selection strategy.
type Category struct {
	Name      string   `yaml:"name"`
	Preferred []string `yaml:"preferred"`
	Fallback  []string `yaml:"fallback"`
	Strategy  string   `yaml:"strategy"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// JobOverride adjusts a statically defined background job.
type JobOverride struct {
	ID       string   `yaml:"id"`
	Schedule string   `yaml:"schedule"`
	Enabled  *bool    `yaml:"enabled"`
	Timeout  Duration `yaml:"timeout"`
}

// Scheduler holds scheduler-wide tunables.
type Scheduler struct {
	Tick            Duration `yaml:"tick"`
	FreshnessWindow Duration `yaml:"freshness_window"`
	RetryDelay      Duration `yaml:"retry_delay"`
}

// Cache holds response cache tunables.
type Cache struct {
	MaxEntries int `yaml:"max_entries"`
}

// Config is the root configuration document.
type Config struct {
	Providers  []Provider    `yaml:"providers"`
	Categories []Category    `yaml:"categories"`
	Jobs       []JobOverride `yaml:"jobs"`
	Scheduler  Scheduler     `yaml:"scheduler"`
	Cache      Cache         `yaml:"cache"`
	Breaker    Breaker       `yaml:"breaker"`
}

// knownProviderTypes is the closed set of adapter implementations.
var knownProviderTypes = map[string]bool{
	"claude": true,
	"openai": true,
	"static": true,
}

// knownStrategies matches the routing engine's selection strategies.
var knownStrategies = map[string]bool{
	"priority":         true,
	"least-used":       true,
	"fastest-response": true,
	"round-robin":      true,
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills omitted tunables with defaults, logging each fallback.
func (c *Config) applyDefaults() {
	if c.Scheduler.Tick.Std() <= 0 {
		c.Scheduler.Tick = Duration(DefaultSchedulerTick)
	}
	if c.Scheduler.FreshnessWindow.Std() <= 0 {
		c.Scheduler.FreshnessWindow = Duration(DefaultFreshnessWindow)
	}
	if c.Scheduler.RetryDelay.Std() <= 0 {
		c.Scheduler.RetryDelay = Duration(DefaultRetryDelay)
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = DefaultCacheMaxEntries
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = defaultFailureThreshold
	}
	if c.Breaker.ResetTimeout.Std() <= 0 {
		c.Breaker.ResetTimeout = Duration(DefaultResetTimeout)
	}

	for i := range c.Categories {
		cat := &c.Categories[i]
		if cat.Strategy == "" {
			cat.Strategy = "priority"
		}
		if cat.CacheTTL.Std() <= 0 {
			cat.CacheTTL = Duration(DefaultCacheTTL)
		}
	}

	for i := range c.Jobs {
		j := &c.Jobs[i]
		if j.Schedule == "" {
			continue
		}
		if _, err := cron.ParseStandard(j.Schedule); err != nil {
			slog.Warn("invalid job schedule override, keeping job default",
				slog.String("job", j.ID),
				slog.String("schedule", j.Schedule),
				slog.Any("error", err))
			j.Schedule = ""
		}
	}
}

// Validate checks structural integrity. Tunable values have already been
// defaulted; what remains failing here cannot be papered over.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider is required")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("config: provider with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		if !knownProviderTypes[p.Type] {
			return fmt.Errorf("config: provider %q has unknown type %q", p.ID, p.Type)
		}
	}

	if len(c.Categories) == 0 {
		return fmt.Errorf("config: at least one category is required")
	}
	catSeen := make(map[string]bool, len(c.Categories))
	for _, cat := range c.Categories {
		if cat.Name == "" {
			return fmt.Errorf("config: category with empty name")
		}
		if catSeen[cat.Name] {
			return fmt.Errorf("config: duplicate category %q", cat.Name)
		}
		catSeen[cat.Name] = true
		if !knownStrategies[cat.Strategy] {
			return fmt.Errorf("config: category %q has unknown strategy %q", cat.Name, cat.Strategy)
		}
		if len(cat.Preferred) == 0 {
			return fmt.Errorf("config: category %q has no preferred providers", cat.Name)
		}
		for _, id := range append(append([]string{}, cat.Preferred...), cat.Fallback...) {
			if !seen[id] {
				return fmt.Errorf("config: category %q references unknown provider %q", cat.Name, id)
			}
		}
	}

	return nil
}

// BreakerFor returns the breaker tunables for the provider, applying the
// per-provider override when present.
func (c *Config) BreakerFor(providerID string) Breaker {
	for _, p := range c.Providers {
		if p.ID == providerID && p.Breaker != nil {
			b := *p.Breaker
			if b.FailureThreshold == 0 {
				b.FailureThreshold = c.Breaker.FailureThreshold
			}
			if b.ResetTimeout.Std() <= 0 {
				b.ResetTimeout = c.Breaker.ResetTimeout
			}
			return b
		}
	}
	return c.Breaker
}

// ProviderByID returns the provider record for id.
func (c *Config) ProviderByID(id string) (Provider, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}
