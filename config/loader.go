/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

// Package config provides loading of configuration objects from YAML or JSON
// files with environment variable overrides. Any struct with
// mapstructure-tagged fields can be a target; targets implementing the
// Validatable interface are validated right after loading, so configuration
// problems surface at startup rather than under load.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DataFormat is a format of data that contains configuration.
type DataFormat string

// Supported data formats.
const (
	DataFormatYAML DataFormat = "yaml"
	DataFormatJSON DataFormat = "json"
)

// Validatable is implemented by configuration objects that can check
// themselves for consistency.
type Validatable interface {
	Validate() error
}

// Loader reads configuration data into objects.
type Loader struct {
	envVarsPrefix string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// NewLoaderWithEnvVars creates a new configuration loader that allows
// overriding any configuration parameter with an environment variable of the
// form <PREFIX>_<KEY> where nested keys are joined with underscores
// (for example RATEKIT_BACKLOG_LIMIT).
func NewLoaderWithEnvVars(envVarsPrefix string) *Loader {
	return &Loader{envVarsPrefix: envVarsPrefix}
}

// LoadFromFile loads configuration from the file to the passed object.
func (l *Loader) LoadFromFile(path string, format DataFormat, into interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	return l.LoadFromReader(f, format, into)
}

// LoadFromReader loads configuration from the reader to the passed object.
func (l *Loader) LoadFromReader(r io.Reader, format DataFormat, into interface{}) error {
	v := viper.New()
	v.SetConfigType(string(format))
	if err := v.ReadConfig(r); err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	if l.envVarsPrefix != "" {
		v.SetEnvPrefix(l.envVarsPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		// AutomaticEnv alone does not cover Unmarshal, bind known keys explicitly.
		for _, key := range v.AllKeys() {
			if err := v.BindEnv(key); err != nil {
				return fmt.Errorf("bind env var for key %q: %w", key, err)
			}
		}
	}

	if err := v.Unmarshal(into, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	if validatable, ok := into.(Validatable); ok {
		if err := validatable.Validate(); err != nil {
			return err
		}
	}
	return nil
}
