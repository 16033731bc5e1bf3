/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ratekit/go-ratekit/ratelimit"
)

const testYAMLConfig = `
rate: 100/m
algorithm: fixed_window
jitter: 5s
backlog:
  limit: 10
  timeout: 30s
  maxKeys: 1000
`

func TestLoader_LoadFromReader(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		var cfg ratelimit.Config
		err := NewLoader().LoadFromReader(bytes.NewReader([]byte(testYAMLConfig)), DataFormatYAML, &cfg)
		require.NoError(t, err)
		require.Equal(t, ratelimit.Rate{Count: 100, Duration: time.Minute}, cfg.Rate)
		require.Equal(t, ratelimit.AlgorithmFixedWindow, cfg.Algorithm)
		require.Equal(t, 5*time.Second, cfg.Jitter)
		require.Equal(t, 10, cfg.Backlog.Limit)
		require.Equal(t, 30*time.Second, cfg.Backlog.Timeout)
		require.Equal(t, 1000, cfg.Backlog.MaxKeys)
	})

	t.Run("json", func(t *testing.T) {
		data := `{"rate": "50/s", "algorithm": "token_bucket", "bucketCapacity": 25}`
		var cfg ratelimit.Config
		err := NewLoader().LoadFromReader(bytes.NewReader([]byte(data)), DataFormatJSON, &cfg)
		require.NoError(t, err)
		require.Equal(t, ratelimit.Rate{Count: 50, Duration: time.Second}, cfg.Rate)
		require.Equal(t, ratelimit.AlgorithmTokenBucket, cfg.Algorithm)
		require.Equal(t, 25, cfg.BucketCapacity)
	})

	t.Run("validation failure is surfaced", func(t *testing.T) {
		data := `{"rate": "50/s", "algorithm": "no_such_algorithm"}`
		var cfg ratelimit.Config
		err := NewLoader().LoadFromReader(bytes.NewReader([]byte(data)), DataFormatJSON, &cfg)
		var cfgErr *ratelimit.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("malformed data", func(t *testing.T) {
		var cfg ratelimit.Config
		err := NewLoader().LoadFromReader(bytes.NewReader([]byte("{not yaml")), DataFormatYAML, &cfg)
		require.Error(t, err)
	})
}

func TestLoader_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAMLConfig), 0o600))

	var cfg ratelimit.Config
	require.NoError(t, NewLoader().LoadFromFile(path, DataFormatYAML, &cfg))
	require.Equal(t, ratelimit.Rate{Count: 100, Duration: time.Minute}, cfg.Rate)

	err := NewLoader().LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"), DataFormatYAML, &cfg)
	require.Error(t, err)
}

func TestLoader_EnvVars(t *testing.T) {
	t.Run("env vars override file values", func(t *testing.T) {
		t.Setenv("RATEKIT_RATE", "200/s")
		t.Setenv("RATEKIT_BACKLOG_LIMIT", "42")

		var cfg ratelimit.Config
		err := NewLoaderWithEnvVars("ratekit").LoadFromReader(
			bytes.NewReader([]byte(testYAMLConfig)), DataFormatYAML, &cfg)
		require.NoError(t, err)
		require.Equal(t, ratelimit.Rate{Count: 200, Duration: time.Second}, cfg.Rate)
		require.Equal(t, 42, cfg.Backlog.Limit)
		require.Equal(t, ratelimit.AlgorithmFixedWindow, cfg.Algorithm, "values without overrides come from the file")
	})

	t.Run("no overrides without a prefix", func(t *testing.T) {
		t.Setenv("RATEKIT_RATE", "200/s")

		var cfg ratelimit.Config
		err := NewLoader().LoadFromReader(bytes.NewReader([]byte(testYAMLConfig)), DataFormatYAML, &cfg)
		require.NoError(t, err)
		require.Equal(t, ratelimit.Rate{Count: 100, Duration: time.Minute}, cfg.Rate)
	})
}
