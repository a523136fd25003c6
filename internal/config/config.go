// Copyright 2024-2025 FlowSpec
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the worker's configuration surface from a YAML
// file, with environment variable overrides and bounds-clamping on
// the bounded cache fields. Bad input is never fatal: a malformed file
// is logged at warn and the defaults are kept, a non-numeric override
// is logged and the previous value is kept, and an out-of-range value
// is logged and clamped to the nearest bound.
package config

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface of the worker.
type Config struct {
	CacheTTLSeconds         int    `yaml:"cacheTtlSeconds"`
	CacheCheckPeriodSeconds int    `yaml:"cacheCheckPeriodSeconds"`
	CacheMaxKeys            int    `yaml:"cacheMaxKeys"`
	BusHost                 string `yaml:"busHost"`
	BusPort                 int    `yaml:"busPort"`
	BusPassword             string `yaml:"busPassword"`
	BusDB                   int    `yaml:"busDb"`
	HTTPPort                int    `yaml:"httpPort"`
}

// Default returns the configuration surface's documented defaults.
func Default() Config {
	return Config{
		CacheTTLSeconds:         300,
		CacheCheckPeriodSeconds: 60,
		CacheMaxKeys:            10000,
		BusHost:                 "localhost",
		BusPort:                 6379,
		BusPassword:             "",
		BusDB:                   0,
		HTTPPort:                3001,
	}
}

type bound struct {
	min, max int
}

var bounds = map[string]bound{
	"cacheTtlSeconds":         {1, 86400},
	"cacheCheckPeriodSeconds": {10, 3600},
	"cacheMaxKeys":            {100, 1000000},
}

// Load reads path (if non-empty and present) over the defaults, then
// applies RULESWORKER_-prefixed environment variable overrides, then
// clamps bounded numeric fields. It never returns an error: any
// problem is logged at warn. An unreadable or unparsable override
// leaves the field at its previous value; an out-of-range bounded
// value is clamped to the nearest bound.
func Load(path string, logger *logrus.Logger) Config {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.WithError(err).WithField("path", path).Warn("config: failed to read file, using defaults")
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			logger.WithError(err).WithField("path", path).Warn("config: failed to parse YAML, using defaults")
			cfg = Default()
		}
	}

	applyEnvOverrides(&cfg, logger)
	clampBounds(&cfg, logger)
	return cfg
}

func applyEnvOverrides(cfg *Config, logger *logrus.Logger) {
	overrideInt(&cfg.CacheTTLSeconds, "RULESWORKER_CACHE_TTL_SECONDS", logger)
	overrideInt(&cfg.CacheCheckPeriodSeconds, "RULESWORKER_CACHE_CHECK_PERIOD_SECONDS", logger)
	overrideInt(&cfg.CacheMaxKeys, "RULESWORKER_CACHE_MAX_KEYS", logger)
	overrideString(&cfg.BusHost, "RULESWORKER_BUS_HOST")
	overrideInt(&cfg.BusPort, "RULESWORKER_BUS_PORT", logger)
	overrideString(&cfg.BusPassword, "RULESWORKER_BUS_PASSWORD")
	overrideInt(&cfg.BusDB, "RULESWORKER_BUS_DB", logger)
	overrideInt(&cfg.HTTPPort, "RULESWORKER_HTTP_PORT", logger)
}

func overrideString(field *string, envVar string) {
	if v, ok := os.LookupEnv(envVar); ok && v != "" {
		*field = v
	}
}

func overrideInt(field *int, envVar string, logger *logrus.Logger) {
	raw, ok := os.LookupEnv(envVar)
	if !ok || raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logger.WithField("env", envVar).WithField("value", raw).Warn("config: non-numeric override, keeping previous value")
		return
	}
	*field = v
}

func clampBounds(cfg *Config, logger *logrus.Logger) {
	cfg.CacheTTLSeconds = clamp(cfg.CacheTTLSeconds, "cacheTtlSeconds", logger)
	cfg.CacheCheckPeriodSeconds = clamp(cfg.CacheCheckPeriodSeconds, "cacheCheckPeriodSeconds", logger)
	cfg.CacheMaxKeys = clamp(cfg.CacheMaxKeys, "cacheMaxKeys", logger)
}

func clamp(value int, name string, logger *logrus.Logger) int {
	b, ok := bounds[name]
	if !ok {
		return value
	}
	if value < b.min {
		logger.WithField("name", name).WithField("value", value).Warnf("config: value below minimum, clamping to %d", b.min)
		return b.min
	}
	if value > b.max {
		logger.WithField("name", name).WithField("value", value).Warnf("config: value above maximum, clamping to %d", b.max)
		return b.max
	}
	return value
}
