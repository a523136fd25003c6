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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenPathEmpty(t *testing.T) {
	cfg := Load("", nil)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ParsesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cacheTtlSeconds: 120\nhttpPort: 9090\n"), 0o644))

	cfg := Load(path, nil)
	assert.Equal(t, 120, cfg.CacheTTLSeconds)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 10000, cfg.CacheMaxKeys)
}

func TestLoad_MalformedYAMLFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cacheTtlSeconds: [this is not valid"), 0o644))

	cfg := Load(path, nil)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ClampsOutOfRangeValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cacheTtlSeconds: 0\ncacheMaxKeys: 5000000\n"), 0o644))

	cfg := Load(path, nil)
	assert.Equal(t, 1, cfg.CacheTTLSeconds)
	assert.Equal(t, 1000000, cfg.CacheMaxKeys)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("RULESWORKER_HTTP_PORT", "4242")
	t.Setenv("RULESWORKER_BUS_HOST", "redis.internal")

	cfg := Load("", nil)
	assert.Equal(t, 4242, cfg.HTTPPort)
	assert.Equal(t, "redis.internal", cfg.BusHost)
}

func TestLoad_NonNumericEnvFallsBackToPreviousValue(t *testing.T) {
	t.Setenv("RULESWORKER_CACHE_TTL_SECONDS", "not-a-number")

	cfg := Load("", nil)
	assert.Equal(t, Default().CacheTTLSeconds, cfg.CacheTTLSeconds)
}
