// Package config holds process-wide settings for the rwmux module: a
// small mutex-guarded struct with typed getters/setters, plus package-
// level defaults that other packages (errors, metrics) read from.
package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/neeraj-labs/rwmux/errors"
	yaml "go.yaml.in/yaml/v2"
)

// Settings is the mutable, mutex-guarded process configuration.
type Settings struct {
	mu             sync.RWMutex
	defaultLocale  string
	metricsEnabled bool
}

var (
	global = &Settings{
		defaultLocale:  "en",
		metricsEnabled: false,
	}
)

// Default returns the package-level Settings instance.
func Default() *Settings { return global }

// SetDefaultLocale updates the default locale used both for config's own
// reporting and for the errors package's message catalog. A locale the
// catalog does not carry is stored here but ignored by the errors
// package, which keeps its previous default.
func (s *Settings) SetDefaultLocale(locale string) {
	s.mu.Lock()
	s.defaultLocale = locale
	s.mu.Unlock()
	errors.SetDefaultLocale(locale)
}

// DefaultLocale returns the configured default locale.
func (s *Settings) DefaultLocale() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultLocale
}

// SetMetricsEnabled toggles whether the metrics package records
// observations (see metrics.IsEnabled).
func (s *Settings) SetMetricsEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsEnabled = enabled
}

// MetricsEnabled reports whether metrics recording is currently on.
func (s *Settings) MetricsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metricsEnabled
}

// fileSettings is the on-disk shape loaded by LoadFile.
type fileSettings struct {
	DefaultLocale  string `yaml:"default_locale"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// LoadFile reads a YAML configuration file and applies it to s. Missing
// fields keep their current values.
func (s *Settings) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var fs fileSettings
	fs.DefaultLocale = s.DefaultLocale()
	fs.MetricsEnabled = s.MetricsEnabled()
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	s.SetDefaultLocale(fs.DefaultLocale)
	s.SetMetricsEnabled(fs.MetricsEnabled)
	return nil
}
