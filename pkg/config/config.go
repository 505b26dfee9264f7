/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads service configuration from a JSON or YAML file, or
// from environment variables when CONFIG_SOURCE=env.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/carverauto/relay/pkg/logger"
	"github.com/carverauto/relay/pkg/models"
)

var (
	errInvalidConfigSource = errors.New("invalid CONFIG_SOURCE value")
	errInvalidConfigPtr    = errors.New("config must be a non-nil pointer")
)

const (
	configSourceFile = "file"
	configSourceEnv  = "env"

	defaultEnvPrefix = "RELAY_"
)

// ConfigLoader fills dst from a configuration source.
type ConfigLoader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Validator is implemented by configs that can check themselves after loading.
type Validator interface {
	Validate() error
}

// Config holds the configuration loading dependencies.
type Config struct {
	defaultLoader ConfigLoader
	logger        logger.Logger
}

// NewConfig initializes a new Config instance with a default file loader.
// A nil logger is replaced with a quiet one.
func NewConfig(log logger.Logger) *Config {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Config{
		defaultLoader: &FileConfigLoader{},
		logger:        log,
	}
}

// ValidateConfig validates a configuration if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}

	return v.Validate()
}

// LoadAndValidate loads a configuration, resolves relative TLS paths against
// the config file's directory and validates it.
func (c *Config) LoadAndValidate(ctx context.Context, path string, cfg interface{}) error {
	source, err := c.loadWithSource(ctx, path, cfg)
	if err != nil {
		return err
	}

	baseDir := ""
	if source == configSourceFile {
		baseDir = filepath.Dir(path)
	}

	if err := c.normalizeTLSConfigs(cfg, baseDir); err != nil {
		return fmt.Errorf("failed to normalize TLS paths: %w", err)
	}

	return ValidateConfig(cfg)
}

// loadWithSource picks the loader named by CONFIG_SOURCE and reports which
// one ran.
func (c *Config) loadWithSource(ctx context.Context, path string, cfg interface{}) (string, error) {
	source := strings.ToLower(os.Getenv("CONFIG_SOURCE"))

	var loader ConfigLoader

	switch source {
	case configSourceEnv:
		prefix := os.Getenv("CONFIG_ENV_PREFIX")
		if prefix == "" {
			prefix = defaultEnvPrefix
		}

		loader = NewEnvConfigLoader(c.logger, prefix)
	case configSourceFile, "":
		source = configSourceFile
		loader = c.defaultLoader
	default:
		return "", fmt.Errorf("%w: %s (expected '%s' or '%s')",
			errInvalidConfigSource, source, configSourceFile, configSourceEnv)
	}

	if err := loader.Load(ctx, path, cfg); err != nil {
		return "", err
	}

	c.logger.Debug().Str("source", source).Msg("Loaded configuration")

	return source, nil
}

// normalizeTLSConfigs walks cfg and rewrites every *models.TLSConfig it finds.
func (c *Config) normalizeTLSConfigs(cfg interface{}, baseDir string) error {
	v := reflect.ValueOf(cfg)

	if v.Kind() != reflect.Ptr || v.IsNil() {
		return errInvalidConfigPtr
	}

	c.normalizeValue(v.Elem(), baseDir)

	return nil
}

//nolint:gochecknoglobals // reflect type lookup
var tlsConfigType = reflect.TypeOf((*models.TLSConfig)(nil))

func (c *Config) normalizeValue(v reflect.Value, baseDir string) {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return
		}

		if v.Type() == tlsConfigType {
			c.normalizeTLSPaths(v.Interface().(*models.TLSConfig), baseDir)
			return
		}

		c.normalizeValue(v.Elem(), baseDir)
	case reflect.Struct:
		t := v.Type()

		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}

			c.normalizeValue(v.Field(i), baseDir)
		}
	default:
	}
}

// normalizeTLSPaths joins relative PEM paths onto baseDir.
func (c *Config) normalizeTLSPaths(tls *models.TLSConfig, baseDir string) {
	if baseDir == "" {
		return
	}

	for _, p := range []*string{&tls.CertFile, &tls.KeyFile, &tls.CAFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}

	c.logger.Debug().
		Str("cert_file", tls.CertFile).
		Str("key_file", tls.KeyFile).
		Str("ca_file", tls.CAFile).
		Msg("Normalized TLS paths")
}
