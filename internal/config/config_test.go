package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
providers:
  - id: claude-sonnet
    type: claude
    tier: 1
    rate_limits:
      per_minute: 50
    breaker:
      failure_threshold: 3
      reset_timeout: 90s
  - id: echo
    type: static
    tier: 3
categories:
  - name: summarize
    preferred: [claude-sonnet]
    fallback: [echo]
    strategy: priority
    cache_ttl: 5m
scheduler:
  tick: 1s
`

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "claude-sonnet", cfg.Providers[0].ID)
	assert.Equal(t, 50, cfg.Providers[0].RateLimits.PerMinute)

	require.Len(t, cfg.Categories, 1)
	assert.Equal(t, []string{"claude-sonnet"}, cfg.Categories[0].Preferred)
	assert.Equal(t, 5*time.Minute, cfg.Categories[0].CacheTTL.Std())

	assert.Equal(t, time.Second, cfg.Scheduler.Tick.Std())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "providers: [unclosed"))
	assert.Error(t, err)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
providers:
  - id: echo
    type: static
categories:
  - name: chat
    preferred: [echo]
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultSchedulerTick, cfg.Scheduler.Tick.Std())
	assert.Equal(t, DefaultFreshnessWindow, cfg.Scheduler.FreshnessWindow.Std())
	assert.Equal(t, DefaultRetryDelay, cfg.Scheduler.RetryDelay.Std())
	assert.Equal(t, DefaultCacheMaxEntries, cfg.Cache.MaxEntries)
	assert.Equal(t, "priority", cfg.Categories[0].Strategy)
	assert.Equal(t, DefaultCacheTTL, cfg.Categories[0].CacheTTL.Std())
	assert.Equal(t, uint32(5), cfg.Breaker.FailureThreshold)
	assert.Equal(t, DefaultResetTimeout, cfg.Breaker.ResetTimeout.Std())
}

func TestLoad_InvalidScheduleOverrideFallsBack(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
providers:
  - id: echo
    type: static
categories:
  - name: chat
    preferred: [echo]
jobs:
  - id: health-probe
    schedule: "not a schedule"
  - id: cache-cleanup
    schedule: "@every 10m"
`))
	require.NoError(t, err)

	// Invalid override is cleared; the job keeps its built-in default.
	assert.Empty(t, cfg.Jobs[0].Schedule)
	assert.Equal(t, "@every 10m", cfg.Jobs[1].Schedule)
}

func TestValidate_StructuralErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no providers",
			yaml:    "categories:\n  - name: chat\n    preferred: [x]\n",
			wantErr: "at least one provider",
		},
		{
			name: "empty provider id",
			yaml: `
providers:
  - type: static
categories:
  - name: chat
    preferred: [x]
`,
			wantErr: "empty id",
		},
		{
			name: "duplicate provider id",
			yaml: `
providers:
  - id: echo
    type: static
  - id: echo
    type: static
categories:
  - name: chat
    preferred: [echo]
`,
			wantErr: "duplicate provider id",
		},
		{
			name: "unknown provider type",
			yaml: `
providers:
  - id: echo
    type: carrier-pigeon
categories:
  - name: chat
    preferred: [echo]
`,
			wantErr: "unknown type",
		},
		{
			name: "no categories",
			yaml: `
providers:
  - id: echo
    type: static
`,
			wantErr: "at least one category",
		},
		{
			name: "unknown strategy",
			yaml: `
providers:
  - id: echo
    type: static
categories:
  - name: chat
    preferred: [echo]
    strategy: dice-roll
`,
			wantErr: "unknown strategy",
		},
		{
			name: "no preferred providers",
			yaml: `
providers:
  - id: echo
    type: static
categories:
  - name: chat
    preferred: []
`,
			wantErr: "no preferred providers",
		},
		{
			name: "reference to unknown provider",
			yaml: `
providers:
  - id: echo
    type: static
categories:
  - name: chat
    preferred: [echo]
    fallback: [ghost]
`,
			wantErr: "unknown provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBreakerFor(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	override := cfg.BreakerFor("claude-sonnet")
	assert.Equal(t, uint32(3), override.FailureThreshold)
	assert.Equal(t, 90*time.Second, override.ResetTimeout.Std())

	fallback := cfg.BreakerFor("echo")
	assert.Equal(t, uint32(5), fallback.FailureThreshold)
	assert.Equal(t, DefaultResetTimeout, fallback.ResetTimeout.Std())
}

func TestProviderByID(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	p, ok := cfg.ProviderByID("echo")
	require.True(t, ok)
	assert.Equal(t, "static", p.Type)

	_, ok = cfg.ProviderByID("ghost")
	assert.False(t, ok)
}

func TestDuration_UnmarshalRejectsGarbage(t *testing.T) {
	_, err := Load(writeConfig(t, `
providers:
  - id: echo
    type: static
categories:
  - name: chat
    preferred: [echo]
scheduler:
  tick: "soonish"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}
