// Package rwmux is the public facade over this module's lock types: an
// asynchronous-style readers-writer mutex for cooperative Go code, with
// single-instance (Mux) and per-key (KeyedMux) variants, read-to-write
// escalation detection, context-based cancellation, and optional
// Prometheus metrics.
package rwmux

import (
	"github.com/neeraj-labs/rwmux/config"
	"github.com/neeraj-labs/rwmux/errors"
	"github.com/neeraj-labs/rwmux/handle"
	"github.com/neeraj-labs/rwmux/instance"
	"github.com/neeraj-labs/rwmux/keyed"
	"github.com/neeraj-labs/rwmux/metrics"
)

// Mux is a single-owner asynchronous readers-writer lock.
type Mux = instance.Mux

// NewMux constructs a Mux. name labels its metrics and may be empty.
func NewMux(name string) *Mux {
	return instance.New(name)
}

// KeyedMux is a registry of per-key readers-writer locks plus global
// (unkeyed) acquisitions spanning every key.
type KeyedMux = keyed.Mux

// NewKeyedMux constructs a KeyedMux. name labels its metrics and may be
// empty.
func NewKeyedMux(name string) *KeyedMux {
	return keyed.New(name)
}

// Handle is returned by the manual Acquire* forms; Release must be
// called exactly once (extra calls are no-ops).
type Handle = handle.Handle

// Re-exported sentinel errors, so callers never need to import the
// errors package directly for errors.Is checks.
var (
	ErrEscalation                 = errors.ErrEscalation
	ErrUnsupportedInstrumentation = errors.ErrUnsupportedInstrumentation
	ErrUnreachableInvariant       = errors.ErrUnreachableInvariant
)

// EnableMetrics registers the package's Prometheus collectors and turns
// on recording. Safe to call multiple times.
func EnableMetrics() {
	metrics.Init()
	config.Default().SetMetricsEnabled(true)
}

// SetDefaultLocale sets the process-wide locale used to render error
// messages via errors.Message.
func SetDefaultLocale(locale string) {
	config.Default().SetDefaultLocale(locale)
}

// LoadConfigFile loads DefaultLocale/MetricsEnabled settings from a
// YAML file, applying EnableMetrics bookkeeping if metrics_enabled is
// set.
func LoadConfigFile(path string) error {
	if err := config.Default().LoadFile(path); err != nil {
		return err
	}
	if config.Default().MetricsEnabled() {
		metrics.Init()
	}
	return nil
}
