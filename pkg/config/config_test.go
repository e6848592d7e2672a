// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/portalstat/pkg/portal"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Duration(100*time.Millisecond), cfg.PollInterval)
	assert.Equal(t, 3, cfg.DebounceCycles)
	assert.Equal(t, Duration(30*time.Second), cfg.CacheExpiry)
	assert.Equal(t, 20, cfg.QueryRetries)
	assert.Equal(t, 100, cfg.ControlWriteRetries)
	assert.Equal(t, 5, cfg.WarmupReads)
	assert.False(t, cfg.DecryptStats)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(dir, "nope.json"))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("empty path", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("partial file", func(t *testing.T) {
		path := filepath.Join(dir, "portalstat.json")
		body := `{"poll_interval": "250ms", "decrypt_stats": true, "cache_expiry": 60000000000, "log": {"level": "debug"}}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, Duration(250*time.Millisecond), cfg.PollInterval)
		assert.Equal(t, Duration(time.Minute), cfg.CacheExpiry)
		assert.True(t, cfg.DecryptStats)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, 20, cfg.QueryRetries, "unset keys keep defaults")
	})

	t.Run("bad json", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"poll_interval": true}`), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, Duration(90*time.Second), d)

	require.NoError(t, json.Unmarshal([]byte(`1000`), &d))
	assert.Equal(t, Duration(time.Microsecond), d)

	assert.ErrorIs(t, json.Unmarshal([]byte(`[1]`), &d), ErrInvalidDuration)
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))

	out, err := json.Marshal(Duration(1500 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(out))
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"PORTALSTAT_POLL_INTERVAL":   "50ms",
		"PORTALSTAT_DEBOUNCE_CYCLES": " 5 ",
		"PORTALSTAT_DECRYPT_STATS":   "true",
		"PORTALSTAT_LOG_LEVEL":       "trace",
		"PORTALSTAT_QUERY_RETRIES":   "",
		"OTHER_READ_TIMEOUT":         "1s",
	}))
	require.NoError(t, err)
	assert.Equal(t, Duration(50*time.Millisecond), cfg.PollInterval)
	assert.Equal(t, 5, cfg.DebounceCycles)
	assert.True(t, cfg.DecryptStats)
	assert.Equal(t, "trace", cfg.Log.Level)
	assert.Equal(t, 20, cfg.QueryRetries, "empty values are ignored")
	assert.Equal(t, Duration(portal.DefaultReadTimeout), cfg.ReadTimeout)
}

func TestApplyEnvConfigJSON(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"PORTALSTAT_CONFIG_JSON":   `{"query_retries": 7, "warmup_reads": 2}`,
		"PORTALSTAT_QUERY_RETRIES": "9",
	}))
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.QueryRetries, "individual variables win")
	assert.Equal(t, 2, cfg.WarmupReads)
}

func TestApplyEnvErrors(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"PORTALSTAT_CACHE_EXPIRY":     "later",
		"PORTALSTAT_WARMUP_READS":     "many",
		"PORTALSTAT_ELEMENT_LIGHTING": "perhaps",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORTALSTAT_CACHE_EXPIRY")
	assert.Contains(t, err.Error(), "PORTALSTAT_WARMUP_READS")
	assert.Contains(t, err.Error(), "PORTALSTAT_ELEMENT_LIGHTING")
	assert.Equal(t, Default(), cfg, "bad values leave settings untouched")

	err = cfg.applyEnv(envMap(map[string]string{"PORTALSTAT_CONFIG_JSON": "{"}))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"debounce", func(c *Config) { c.DebounceCycles = -1 }},
		{"cache expiry", func(c *Config) { c.CacheExpiry = 0 }},
		{"read timeout", func(c *Config) { c.ReadTimeout = -1 }},
		{"query retries", func(c *Config) { c.QueryRetries = 0 }},
		{"write retries", func(c *Config) { c.ControlWriteRetries = 0 }},
		{"warmup", func(c *Config) { c.WarmupReads = -2 }},
		{"log level", func(c *Config) { c.Log.Level = "shout" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestSessionOptions(t *testing.T) {
	cfg := Default()
	cfg.DecryptStats = true
	cfg.CacheExpiry = Duration(10 * time.Second)

	opts := cfg.SessionOptions("Skylanders PS/PC #1", portal.ProductPSPC, zerolog.Nop())
	assert.Equal(t, "Skylanders PS/PC #1", opts.Name)
	assert.Equal(t, uint16(portal.ProductPSPC), opts.ProductID)
	assert.Equal(t, 10*time.Second, opts.CacheExpiry)
	assert.True(t, opts.DecryptStats)
	assert.Equal(t, 20, opts.QueryRetries)

	stats := portal.NewStatistics()
	fopts := cfg.FramerOptions(zerolog.Nop(), stats)
	f, err := portal.NewFramer(portal.InterruptCapable, nopChannel{}, fopts...)
	require.NoError(t, err)
	assert.Equal(t, portal.DefaultReadTimeout, f.ReadTimeout())
	assert.Same(t, stats, f.Statistics())
}

type nopChannel struct{}

func (nopChannel) Write([]byte) error                 { return nil }
func (nopChannel) Read(time.Duration) ([]byte, error) { return nil, portal.ErrTimeout }
func (nopChannel) Close() error                       { return nil }
