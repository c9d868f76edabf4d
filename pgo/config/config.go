// Package config loads the framework's JSON configuration file and exposes
// live-reloadable values to the registry and worker. It mirrors the
// flag-and-JSON-file style the host module's own server command uses for
// its own startup configuration, scaled down to the handful of knobs a PGO
// deployment needs.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ha1tch/pgo/pgo/abi"
	pgoerrors "github.com/ha1tch/pgo/pgo/errors"
)

// Config holds the tunables for one registry instance. Every field has a
// zero value that Normalize replaces with a sensible default, so a caller
// may load a partial JSON document and still get a usable Config.
type Config struct {
	// WorkingDir is the root directory the framework writes function and
	// group workspaces under (§3's working directory layout).
	WorkingDir string `json:"working_dir"`

	// DefaultThreshold is the call count a NamedGroup or GlobalGroup uses
	// when the group itself does not override it.
	DefaultThreshold uint64 `json:"default_threshold"`

	// Edition is loaded and normalized but not consulted when building: a
	// FuncDescriptor that does not specify an edition is compiled against
	// abi.DefaultEdition.
	Edition abi.Edition `json:"edition"`

	// CompilerTimeout bounds a single `go build -buildmode=plugin`
	// invocation (initial or optimized).
	CompilerTimeout time.Duration `json:"compiler_timeout"`

	// ProfileWindow is the rolling CPU-profiling window pgo/profiler uses
	// while a group is in GatheringData.
	ProfileWindow time.Duration `json:"profile_window"`

	// AuditBackend selects the pgo/audit Store implementation: "memory",
	// "sqlite", "postgres", or "sqlserver".
	AuditBackend string `json:"audit_backend"`

	// AuditDSN is the backend-specific connection string; unused for
	// "memory".
	AuditDSN string `json:"audit_dsn"`

	// WatchConfig enables fsnotify-based live reload of this file itself.
	WatchConfig bool `json:"watch_config"`
}

// Default returns a Config with every field set to its default value.
func Default() Config {
	return Config{
		WorkingDir:       "./pgo_work",
		DefaultThreshold: 5000,
		Edition:          abi.DefaultEdition,
		CompilerTimeout:  2 * time.Minute,
		ProfileWindow:    2 * time.Second,
		AuditBackend:     "memory",
		WatchConfig:      false,
	}
}

// Normalize fills in zero-valued fields with their defaults in place.
func (c *Config) Normalize() {
	def := Default()
	if c.WorkingDir == "" {
		c.WorkingDir = def.WorkingDir
	}
	if c.DefaultThreshold == 0 {
		c.DefaultThreshold = def.DefaultThreshold
	}
	if c.Edition == "" {
		c.Edition = def.Edition
	}
	if c.CompilerTimeout == 0 {
		c.CompilerTimeout = def.CompilerTimeout
	}
	if c.ProfileWindow == 0 {
		c.ProfileWindow = def.ProfileWindow
	}
	if c.AuditBackend == "" {
		c.AuditBackend = def.AuditBackend
	}
}

// Validate reports a configuration error if the config cannot be used to
// start a registry, e.g. an unknown audit backend name.
func (c Config) Validate() error {
	switch c.AuditBackend {
	case "memory", "sqlite", "postgres", "sqlserver":
	default:
		return pgoerrors.Newf(pgoerrors.ErrCodeConfigValidation,
			"unknown audit backend %q", c.AuditBackend).
			WithField("audit_backend", c.AuditBackend).Err()
	}
	if c.WorkingDir == "" {
		return pgoerrors.New(pgoerrors.ErrCodeConfigValidation, "working_dir must not be empty").Err()
	}
	return nil
}

// Load reads and parses a JSON configuration file, normalizing defaults
// and validating the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, pgoerrors.Wrapf(err, pgoerrors.ErrCodeConfigMissing,
			"read config file %s", path).Err()
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, pgoerrors.Wrapf(err, pgoerrors.ErrCodeConfigParse,
			"parse config file %s", path).Err()
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
