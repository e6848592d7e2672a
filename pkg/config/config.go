// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads portalstat settings from a JSON file and
// PORTALSTAT_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/portalstat/pkg/logger"
	"github.com/Thermoquad/portalstat/pkg/portal"
	"github.com/Thermoquad/portalstat/pkg/session"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PORTALSTAT_"

var (
	// ErrInvalid is returned by Validate for out-of-range settings
	ErrInvalid = errors.New("invalid configuration")
	// ErrInvalidDuration is returned for durations that are neither strings
	// nor numbers
	ErrInvalidDuration = errors.New("invalid duration")
)

// Duration is a time.Duration that unmarshals from "100ms" style strings or
// nanosecond numbers.
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
	default:
		return ErrInvalidDuration
	}

	return nil
}

// MarshalJSON writes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config holds every tunable of a portal session and the CLI around it
type Config struct {
	PollInterval        Duration `json:"poll_interval"`
	DebounceCycles      int      `json:"debounce_cycles"`
	CacheExpiry         Duration `json:"cache_expiry"`
	DecryptStats        bool     `json:"decrypt_stats"`
	ElementLighting     bool     `json:"element_lighting"`
	ReadTimeout         Duration `json:"read_timeout"`
	QueryRetries        int      `json:"query_retries"`
	ControlWriteRetries int      `json:"control_write_retries"`
	WarmupReads         int      `json:"warmup_reads"`

	Log logger.Config `json:"log"`
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		PollInterval:        Duration(100 * time.Millisecond),
		DebounceCycles:      session.DefaultDebounceCycles,
		CacheExpiry:         Duration(session.DefaultCacheExpiry),
		ReadTimeout:         Duration(portal.DefaultReadTimeout),
		QueryRetries:        session.DefaultQueryRetries,
		ControlWriteRetries: portal.DefaultControlWriteRetries,
		WarmupReads:         session.DefaultWarmupReads,
		Log:                 logger.DefaultConfig(),
	}
}

// Load reads a JSON config file over the defaults. An empty path or a
// missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read file '%s': %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv applies PORTALSTAT_* overrides. PORTALSTAT_CONFIG_JSON replaces
// the whole file content; individual variables are applied after it.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if raw, ok := get("CONFIG_JSON"); ok {
		if err := json.Unmarshal([]byte(raw), c); err != nil {
			return fmt.Errorf("failed to unmarshal %sCONFIG_JSON: %w", EnvPrefix, err)
		}
	}

	var errs []error
	durations := []struct {
		name string
		dst  *Duration
	}{
		{"POLL_INTERVAL", &c.PollInterval},
		{"CACHE_EXPIRY", &c.CacheExpiry},
		{"READ_TIMEOUT", &c.ReadTimeout},
	}
	for _, d := range durations {
		if v, ok := get(d.name); ok {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, d.name, err))
				continue
			}
			*d.dst = Duration(parsed)
		}
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"DEBOUNCE_CYCLES", &c.DebounceCycles},
		{"QUERY_RETRIES", &c.QueryRetries},
		{"CONTROL_WRITE_RETRIES", &c.ControlWriteRetries},
		{"WARMUP_READS", &c.WarmupReads},
	}
	for _, i := range ints {
		if v, ok := get(i.name); ok {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, i.name, err))
				continue
			}
			*i.dst = parsed
		}
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"DECRYPT_STATS", &c.DecryptStats},
		{"ELEMENT_LIGHTING", &c.ElementLighting},
		{"DEBUG", &c.Log.Debug},
		{"LOG_PRETTY", &c.Log.Pretty},
	}
	for _, b := range bools {
		if v, ok := get(b.name); ok {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, b.name, err))
				continue
			}
			*b.dst = parsed
		}
	}

	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("LOG_OUTPUT"); ok {
		c.Log.Output = v
	}

	return errors.Join(errs...)
}

// Validate rejects settings the session cannot run with
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, ok bool) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s must be positive", ErrInvalid, name))
		}
	}
	positive("poll_interval", c.PollInterval > 0)
	positive("debounce_cycles", c.DebounceCycles > 0)
	positive("cache_expiry", c.CacheExpiry > 0)
	positive("read_timeout", c.ReadTimeout > 0)
	positive("query_retries", c.QueryRetries > 0)
	positive("control_write_retries", c.ControlWriteRetries > 0)
	if c.WarmupReads < 0 {
		errs = append(errs, fmt.Errorf("%w: warmup_reads must not be negative", ErrInvalid))
	}
	if c.Log.Level != "" {
		if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
			errs = append(errs, fmt.Errorf("%w: log.level: %v", ErrInvalid, err))
		}
	}
	return errors.Join(errs...)
}

// SessionOptions builds session options for one portal
func (c Config) SessionOptions(name string, productID uint16, log zerolog.Logger) session.Options {
	return session.Options{
		Name:           name,
		ProductID:      productID,
		DebounceCycles: c.DebounceCycles,
		CacheExpiry:    time.Duration(c.CacheExpiry),
		DecryptStats:   c.DecryptStats,
		QueryRetries:   c.QueryRetries,
		WarmupReads:    c.WarmupReads,
		Logger:         log,
	}
}

// FramerOptions builds framer options
func (c Config) FramerOptions(log zerolog.Logger, stats *portal.Statistics) []portal.FramerOption {
	return []portal.FramerOption{
		portal.WithReadTimeout(time.Duration(c.ReadTimeout)),
		portal.WithWriteRetries(c.ControlWriteRetries),
		portal.WithLogger(log),
		portal.WithStatistics(stats),
	}
}
