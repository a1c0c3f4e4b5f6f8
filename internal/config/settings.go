package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	coreerrors "github.com/lesleslie/oneiric/internal/errors"
)

// StackEntry pairs a candidate source label with an inferred numeric
// priority, used for precedence tier 2 (spec §3).
type StackEntry struct {
	SourceLabel string
	Priority    int
}

// RetryPolicy configures exponential backoff for the remote loader.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
}

// BreakerPolicy configures the remote loader's circuit breaker.
type BreakerPolicy struct {
	MaxFailures int           `yaml:"max_failures"`
	ResetAfter  time.Duration `yaml:"reset_after"`
	HalfOpenMax int           `yaml:"half_open_max"`
}

// RemoteSettings configures the remote manifest pipeline.
type RemoteSettings struct {
	URL              string        `yaml:"url"`
	RefreshInterval  time.Duration `yaml:"refresh_interval"`
	RefreshCron      string        `yaml:"refresh_cron"`
	Timeout          time.Duration `yaml:"timeout"`
	Retry            RetryPolicy   `yaml:"retry_policy"`
	Breaker          BreakerPolicy `yaml:"breaker_policy"`
	RequireSignature bool          `yaml:"require_signature"`
}

// LifecycleSettings configures activation/health/cleanup/hook timeouts.
type LifecycleSettings struct {
	ActivationTimeout time.Duration `yaml:"activation_timeout"`
	HealthTimeout     time.Duration `yaml:"health_timeout"`
	CleanupTimeout    time.Duration `yaml:"cleanup_timeout"`
	HookTimeout       time.Duration `yaml:"hook_timeout"`

	// ForceReloadAlwaysSwaps is parsed from force_reload_always_swaps
	// (default true) but nothing reads it: Bridge.Use performs a fresh
	// activation on every force_reload request, whatever its value.
	ForceReloadAlwaysSwaps bool `yaml:"force_reload_always_swaps"`
}

// PluginSettings configures in-process plugin auto-loading.
type PluginSettings struct {
	AutoLoad    bool     `yaml:"auto_load"`
	EntryPoints []string `yaml:"entry_points"`
}

// Settings is the typed configuration object consumed by every core
// component (spec §6).
type Settings struct {
	ConfigDir string `yaml:"config_dir"`
	CacheDir  string `yaml:"cache_dir"`

	StackOrder []StackEntry `yaml:"-"`

	Remote    RemoteSettings    `yaml:"remote"`
	Lifecycle LifecycleSettings `yaml:"lifecycle"`
	Plugins   PluginSettings    `yaml:"plugins"`

	// FactoryAllowlist lists regex or glob patterns permitted for factory
	// references (spec §4.4a).
	FactoryAllowlist []string `yaml:"factory_allowlist"`
}

// Default returns Settings populated with the core's documented defaults.
func Default() Settings {
	return Settings{
		ConfigDir: ".",
		CacheDir:  ".oneiric_cache",
		Remote: RemoteSettings{
			Timeout: 10 * time.Second,
			Retry: RetryPolicy{
				MaxAttempts: 3,
				BaseDelay:   200 * time.Millisecond,
				MaxDelay:    5 * time.Second,
				Jitter:      0.2,
			},
			Breaker: BreakerPolicy{
				MaxFailures: 5,
				ResetAfter:  30 * time.Second,
				HalfOpenMax: 2,
			},
		},
		Lifecycle: LifecycleSettings{
			ActivationTimeout:      10 * time.Second,
			HealthTimeout:          5 * time.Second,
			CleanupTimeout:         5 * time.Second,
			HookTimeout:            5 * time.Second,
			ForceReloadAlwaysSwaps: true,
		},
	}
}

// settingsFile mirrors the on-disk YAML shape of Settings (stack_order is
// parsed separately from the environment, not from this file).
type settingsFile struct {
	ConfigDir        string            `yaml:"config_dir"`
	CacheDir         string            `yaml:"cache_dir"`
	Remote           RemoteSettings    `yaml:"remote"`
	Lifecycle        LifecycleSettings `yaml:"lifecycle"`
	Plugins          PluginSettings    `yaml:"plugins"`
	FactoryAllowlist []string          `yaml:"factory_allowlist"`
}

// Load assembles Settings from (in priority order): compiled defaults, an
// optional YAML file at path (or ONEIRIC_CONFIG when path is empty), and
// environment variable overrides.
func Load(path string) (Settings, error) {
	settings := Default()

	if path == "" {
		path = GetEnv("ONEIRIC_CONFIG", "")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return settings, coreerrors.ConfigInvalid("config_dir", err.Error())
			}
		} else {
			var file settingsFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return settings, coreerrors.ConfigInvalid(path, fmt.Sprintf("invalid YAML: %v", err))
			}
			applySettingsFile(&settings, file)
		}
	}

	settings.StackOrder = ParseStackOrder(GetEnv("ONEIRIC_STACK_ORDER", ""))

	if settings.CacheDir == "" {
		settings.CacheDir = ".oneiric_cache"
	}

	return settings, nil
}

func applySettingsFile(s *Settings, f settingsFile) {
	if f.ConfigDir != "" {
		s.ConfigDir = f.ConfigDir
	}
	if f.CacheDir != "" {
		s.CacheDir = f.CacheDir
	}
	if f.Remote.URL != "" {
		s.Remote = f.Remote
	}
	if f.Lifecycle.ActivationTimeout != 0 || f.Lifecycle.HealthTimeout != 0 {
		s.Lifecycle = f.Lifecycle
	}
	s.Plugins = f.Plugins
	if len(f.FactoryAllowlist) > 0 {
		s.FactoryAllowlist = f.FactoryAllowlist
	}
}

// SelectionMap is the {domain: {key: provider}} configuration shape
// consumed by Selection Watchers (spec §4.7).
type SelectionMap map[string]map[string]string

// LoadSelections reads a SelectionMap from a YAML or JSON file. A missing
// file yields an empty map, not an error.
func LoadSelections(path string) (SelectionMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SelectionMap{}, nil
		}
		return nil, coreerrors.ConfigInvalid(path, err.Error())
	}

	var selections SelectionMap
	if err := yaml.Unmarshal(data, &selections); err != nil {
		return nil, coreerrors.ConfigInvalid(path, fmt.Sprintf("invalid selection mapping: %v", err))
	}
	if selections == nil {
		selections = SelectionMap{}
	}
	return selections, nil
}

// ForDomain returns the {key: provider} mapping for a domain, or nil.
func (m SelectionMap) ForDomain(domain string) map[string]string {
	return m[domain]
}
