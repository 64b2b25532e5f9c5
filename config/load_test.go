package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
env: sim
exchange:
  baseURL: http://localhost:9999
  apiKey: test-key
session:
  tickIntervalMs: 250
  feedTimeoutMs: 3000
aggregate:
  grossLimit: 250000
  netLimit: 150000
instruments:
  ABC:
    tickSize: 0.01
    minOrderSize: 100
    maxOrderSize: 10000
    positionLimit: 25000
    signal:
      windowSize: 20
      minPoints: 5
      zThreshold: 1.5
    quoting:
      baseHalfSpread: 0.02
      volFactor: 0.5
      skewFactor: 0.6
      biasFraction: 0.4
      baseSize: 1000
    refresh:
      toleranceTicks: 2
      stalenessMs: 2000
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "sim", cfg.Env)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.TickInterval())
	assert.Equal(t, 3*time.Second, cfg.Session.FeedTimeout())
	assert.Equal(t, 250000.0, cfg.Aggregate.GrossLimit)

	inst, ok := cfg.Instruments["ABC"]
	require.True(t, ok)
	assert.Equal(t, 0.01, inst.TickSize)
	assert.Equal(t, 25000.0, inst.PositionLimit)
	assert.Equal(t, 2*time.Second, inst.Refresh.Staleness())
	// defaults applied
	assert.Equal(t, 0.75, inst.ElevatedFrac)
	assert.Equal(t, 3.0, inst.Quoting.ZBiasCap)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadInstrument(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SessionConfig)
	}{
		{"zero tick size", func(c *SessionConfig) {
			ic := c.Instruments["ABC"]
			ic.TickSize = 0
			c.Instruments["ABC"] = ic
		}},
		{"zero position limit", func(c *SessionConfig) {
			ic := c.Instruments["ABC"]
			ic.PositionLimit = 0
			c.Instruments["ABC"] = ic
		}},
		{"half spread below tick", func(c *SessionConfig) {
			ic := c.Instruments["ABC"]
			ic.Quoting.BaseHalfSpread = ic.TickSize / 2
			c.Instruments["ABC"] = ic
		}},
		{"window too small", func(c *SessionConfig) {
			ic := c.Instruments["ABC"]
			ic.Signal.WindowSize = 1
			c.Instruments["ABC"] = ic
		}},
		{"min points above window", func(c *SessionConfig) {
			ic := c.Instruments["ABC"]
			ic.Signal.MinPoints = ic.Signal.WindowSize + 1
			c.Instruments["ABC"] = ic
		}},
		{"no api key", func(c *SessionConfig) { c.Exchange.APIKey = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeTempConfig(t, validYAML))
			require.NoError(t, err)
			tc.mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("AGENT_EXCHANGE_API_KEY", "env-key")
	cfg, err := LoadWithEnvOverrides(writeTempConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Exchange.APIKey)
}
