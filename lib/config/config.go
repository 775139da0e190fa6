// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/tagbus/lib/tag"
)

// EnvVar names the environment variable [Load] reads the config path
// from.
const EnvVar = "TAGBUS_CONFIG"

// Restart policies for supervised rules.
const (
	RestartNever     = "never"
	RestartOnFailure = "on-failure"
	RestartAlways    = "always"
)

// Config is the configuration shared by tagd, controlengine, rulehost
// and tagctl.
type Config struct {
	// Store configures the tag daemon.
	Store StoreConfig `yaml:"store"`

	// Engine configures the control engine.
	Engine EngineConfig `yaml:"engine"`

	// Mirror configures the optional Redis mirror in tagd.
	Mirror MirrorConfig `yaml:"mirror"`

	// Logging configures every binary's logger.
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the tag store and its socket.
type StoreConfig struct {
	// Socket is the tag service socket path. Clients dial it; tagd
	// listens on it.
	Socket string `yaml:"socket"`

	// Capacity is the fixed number of tags the registry holds.
	Capacity int `yaml:"capacity"`

	// Tags are created by tagd at startup, in order.
	Tags []StaticTag `yaml:"tags"`
}

// StaticTag is a tag tagd creates at startup.
type StaticTag struct {
	Name string `yaml:"name"`

	// Type is a dtype name ("uint8", "real64", ...).
	Type string `yaml:"type"`

	// Value is the initial value in human form. Empty leaves the new
	// tag at zero with UNCERTAIN quality.
	Value string `yaml:"value,omitempty"`

	// Quality is the initial status word. Defaults to GOOD when Value
	// is set.
	Quality string `yaml:"quality,omitempty"`
}

// EngineConfig configures the control engine.
type EngineConfig struct {
	// RulesDir is searched (non-recursively) for rule executables.
	RulesDir string `yaml:"rules_dir"`

	// RulePrefix selects rule files by name.
	RulePrefix string `yaml:"rule_prefix"`

	// LockFile holds the running engine's pid under an exclusive
	// flock.
	LockFile string `yaml:"lock_file"`

	// ScriptHost is the rulehost binary that runs *.star rules. Empty
	// disables scripted rules.
	ScriptHost string `yaml:"script_host"`

	// MaxWait bounds each wait of the supervision loop (e.g. "3s").
	MaxWait string `yaml:"max_wait"`

	// Restart configures what happens when a rule exits.
	Restart RestartConfig `yaml:"restart"`
}

// RestartConfig configures rule restarts.
type RestartConfig struct {
	// Policy is "never", "on-failure" or "always".
	Policy string `yaml:"policy"`

	// InitialBackoff is the delay before the first restart.
	InitialBackoff string `yaml:"initial_backoff"`

	// MaxBackoff caps the doubling delay.
	MaxBackoff string `yaml:"max_backoff"`
}

// MirrorConfig configures the Redis mirror.
type MirrorConfig struct {
	// URL is a redis:// URL. Empty disables the mirror.
	URL string `yaml:"url"`

	// Instance namespaces the mirror's keys.
	Instance string `yaml:"instance"`

	// Tags restricts the mirror to these names. Empty mirrors every
	// tag, including tags created while tagd runs.
	Tags []string `yaml:"tags,omitempty"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Format  string `yaml:"format"`
	Level   string `yaml:"level"`
	Journal string `yaml:"journal"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Socket:   "${TAGBUS_SOCKET:-/run/tagbus/tagd.sock}",
			Capacity: 256,
			Tags: []StaticTag{
				{Name: tag.KillSwitchName, Type: "uint8", Value: "1"},
				{Name: "timer.1sec", Type: "uint32", Value: "0"},
			},
		},
		Engine: EngineConfig{
			RulesDir:   "/usr/libexec/tagbus/rules",
			RulePrefix: "rule-",
			LockFile:   "/run/controlengined/controlengined.pid",
			MaxWait:    "3s",
			Restart: RestartConfig{
				Policy:         RestartOnFailure,
				InitialBackoff: "1s",
				MaxBackoff:     "30s",
			},
		},
		Mirror: MirrorConfig{
			Instance: "default",
		},
		Logging: LoggingConfig{
			Format:  "text",
			Level:   "info",
			Journal: "auto",
		},
	}
}

// Load loads the file named by TAGBUS_CONFIG, or returns [Default]
// (with variables expanded) when it is unset.
func Load() (*Config, error) {
	return Resolve("")
}

// Resolve picks the config source for a binary: the --config flag
// value when non-empty, then TAGBUS_CONFIG, then [Default].
func Resolve(flagPath string) (*Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path. Values not
// present in the file keep their defaults; a tags list in the file
// replaces the default list.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Store.Socket = expandVars(c.Store.Socket, vars)
	c.Engine.RulesDir = expandVars(c.Engine.RulesDir, vars)
	c.Engine.LockFile = expandVars(c.Engine.LockFile, vars)
	c.Engine.ScriptHost = expandVars(c.Engine.ScriptHost, vars)
	c.Mirror.URL = expandVars(c.Mirror.URL, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Store.Socket == "" {
		errs = append(errs, fmt.Errorf("store.socket is required"))
	}
	if c.Store.Capacity < 1 {
		errs = append(errs, fmt.Errorf("store.capacity must be positive, got %d", c.Store.Capacity))
	}
	if len(c.Store.Tags) > c.Store.Capacity && c.Store.Capacity > 0 {
		errs = append(errs, fmt.Errorf("store.tags lists %d tags but capacity is %d", len(c.Store.Tags), c.Store.Capacity))
	}
	seen := make(map[string]bool, len(c.Store.Tags))
	for i, static := range c.Store.Tags {
		if _, err := static.Initial(); err != nil {
			errs = append(errs, fmt.Errorf("store.tags[%d]: %w", i, err))
		}
		if seen[static.Name] {
			errs = append(errs, fmt.Errorf("store.tags[%d]: duplicate name %q", i, static.Name))
		}
		seen[static.Name] = true
	}

	if c.Engine.RulesDir == "" {
		errs = append(errs, fmt.Errorf("engine.rules_dir is required"))
	}
	if c.Engine.RulePrefix == "" {
		errs = append(errs, fmt.Errorf("engine.rule_prefix is required"))
	}
	if c.Engine.LockFile == "" {
		errs = append(errs, fmt.Errorf("engine.lock_file is required"))
	}
	if _, err := parsePositiveDuration("engine.max_wait", c.Engine.MaxWait); err != nil {
		errs = append(errs, err)
	}
	switch c.Engine.Restart.Policy {
	case RestartNever, RestartOnFailure, RestartAlways:
	default:
		errs = append(errs, fmt.Errorf("engine.restart.policy must be one of: %v",
			[]string{RestartNever, RestartOnFailure, RestartAlways}))
	}
	initial, err := parsePositiveDuration("engine.restart.initial_backoff", c.Engine.Restart.InitialBackoff)
	if err != nil {
		errs = append(errs, err)
	}
	maximum, err := parsePositiveDuration("engine.restart.max_backoff", c.Engine.Restart.MaxBackoff)
	if err != nil {
		errs = append(errs, err)
	}
	if initial > 0 && maximum > 0 && maximum < initial {
		errs = append(errs, fmt.Errorf("engine.restart.max_backoff (%s) is less than initial_backoff (%s)", maximum, initial))
	}

	if c.Mirror.URL != "" && c.Mirror.Instance == "" {
		errs = append(errs, fmt.Errorf("mirror.instance is required when mirror.url is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// MaxWaitDuration returns engine.max_wait as a duration.
func (e EngineConfig) MaxWaitDuration() (time.Duration, error) {
	return parsePositiveDuration("engine.max_wait", e.MaxWait)
}

// Backoff returns the restart backoff bounds.
func (r RestartConfig) Backoff() (initial, maximum time.Duration, err error) {
	initial, err = parsePositiveDuration("engine.restart.initial_backoff", r.InitialBackoff)
	if err != nil {
		return 0, 0, err
	}
	maximum, err = parsePositiveDuration("engine.restart.max_backoff", r.MaxBackoff)
	if err != nil {
		return 0, 0, err
	}
	return initial, maximum, nil
}

func parsePositiveDuration(field, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return duration, nil
}

// Initial resolves the tag's dtype and, when Value is set, the record
// to write after creating it. The record's timestamp is zero so the
// store stamps it.
func (s StaticTag) Initial() (Initial, error) {
	if err := tag.ValidateName(s.Name); err != nil {
		return Initial{}, err
	}
	dtype, err := tag.ParseDType(s.Type)
	if err != nil {
		return Initial{}, fmt.Errorf("tag %s: %w", s.Name, err)
	}
	initial := Initial{DType: dtype}
	if s.Value == "" {
		if s.Quality != "" {
			return Initial{}, fmt.Errorf("tag %s: quality set without a value", s.Name)
		}
		return initial, nil
	}

	value, err := tag.ParseValueHuman(dtype, s.Value)
	if err != nil {
		return Initial{}, fmt.Errorf("tag %s: %w", s.Name, err)
	}
	quality := tag.Good
	if s.Quality != "" {
		quality, err = tag.ParseQuality(s.Quality, 0)
		if err != nil {
			return Initial{}, fmt.Errorf("tag %s: %w", s.Name, err)
		}
	}
	initial.Record = &tag.Record{Value: value, Quality: quality, DType: dtype}
	return initial, nil
}

// Initial is a resolved [StaticTag].
type Initial struct {
	DType tag.DType

	// Record is nil when the tag keeps its creation state.
	Record *tag.Record
}
