// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultHTTPTimeout    = 60 * time.Second
	DefaultVerifyAttempts = 5
	DefaultVerifyDelay    = 10 * time.Second
	DefaultVerifyMaxDelay = 60 * time.Second
	DefaultLogWindow      = 12 * time.Hour
	DefaultLogPageSize    = 50
	DefaultMaxLogPages    = 3
	DefaultMatchThreshold = 0.85
)

// Config is the application configuration.
type Config struct {
	Services  ServicesConfig  `mapstructure:"services"`
	Plex      PlexConfig      `mapstructure:"plex"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Verify    VerifyConfig    `mapstructure:"verify"`
}

// ServicesConfig holds the library services the tool reconciles.
type ServicesConfig struct {
	Radarr ServiceConfig `mapstructure:"radarr"`
	Sonarr ServiceConfig `mapstructure:"sonarr"`
}

// ServiceConfig holds connection settings for one library service.
type ServiceConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	URL         string        `mapstructure:"url"`
	APIKey      string        `mapstructure:"apiKey"`
	HTTPTimeout time.Duration `mapstructure:"httpTimeout"`
}

// PlexConfig holds connection settings for the downstream refresh target.
// Leave URL empty to skip the refresh entirely.
type PlexConfig struct {
	URL         string        `mapstructure:"url"`
	Token       string        `mapstructure:"token"`
	HTTPTimeout time.Duration `mapstructure:"httpTimeout"`
}

// ReconcileConfig holds run behavior settings.
type ReconcileConfig struct {
	DryRun    bool   `mapstructure:"dryRun"`
	WorkLimit int    `mapstructure:"workLimit"` // max updates per run, 0 = unlimited
	CacheDir  string `mapstructure:"cacheDir"`  // where per-service path caches live
	LockFile  string `mapstructure:"lockFile"`  // defaults to <cacheDir>/renamarr.lock
}

// VerifyConfig tunes the move-completion verifier.
type VerifyConfig struct {
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	InitialDelay   time.Duration `mapstructure:"initialDelay"`
	MaxDelay       time.Duration `mapstructure:"maxDelay"`
	LogWindow      time.Duration `mapstructure:"logWindow"`
	LogPageSize    int           `mapstructure:"logPageSize"`
	MaxLogPages    int           `mapstructure:"maxLogPages"`
	MatchThreshold float64       `mapstructure:"matchThreshold"`
}

// LockPath returns the lock file path, derived from the cache dir when
// not set explicitly.
func (c ReconcileConfig) LockPath() string {
	if c.LockFile != "" {
		return c.LockFile
	}
	return filepath.Join(c.CacheDir, "renamarr.lock")
}

// LoadOptions configures how configuration is loaded.
type LoadOptions struct {
	// ConfigFile is an explicit config file path. If empty, default locations are searched.
	ConfigFile string
}

// Load reads configuration from file and environment variables.
// If opts.ConfigFile is set, that file is used directly.
// Otherwise, it searches default locations: $HOME, current directory, /config
// for files named .renamarr.yaml, renamarr.yaml, or config.yaml.
//
// Environment variables with prefix RENAMARR_ override config file values.
func Load(opts LoadOptions) (Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.AddConfigPath("/config")
		v.SetConfigType("yaml")
		v.SetConfigName(".renamarr")
		v.SetConfigName("renamarr")
		v.SetConfigName("config")
	}

	// Environment variables
	v.SetEnvPrefix("RENAMARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("reconcile.cacheDir", ".")
	v.SetDefault("verify.maxAttempts", DefaultVerifyAttempts)
	v.SetDefault("verify.initialDelay", DefaultVerifyDelay.String())
	v.SetDefault("verify.maxDelay", DefaultVerifyMaxDelay.String())
	v.SetDefault("verify.logWindow", DefaultLogWindow.String())
	v.SetDefault("verify.logPageSize", DefaultLogPageSize)
	v.SetDefault("verify.maxLogPages", DefaultMaxLogPages)
	v.SetDefault("verify.matchThreshold", DefaultMatchThreshold)

	// Read config file (ignore error if not found)
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// setDefaults applies defaults viper.SetDefault cannot express.
func setDefaults(cfg *Config) {
	if cfg.Services.Radarr.HTTPTimeout == 0 {
		cfg.Services.Radarr.HTTPTimeout = DefaultHTTPTimeout
	}
	if cfg.Services.Sonarr.HTTPTimeout == 0 {
		cfg.Services.Sonarr.HTTPTimeout = DefaultHTTPTimeout
	}
	if cfg.Plex.HTTPTimeout == 0 {
		cfg.Plex.HTTPTimeout = DefaultHTTPTimeout
	}
}

// validate checks that the configuration is usable. Only presence and
// basic shape are checked; reachability is the runner's concern.
func validate(cfg *Config) error {
	var errs []error

	if !cfg.Services.Radarr.Enabled && !cfg.Services.Sonarr.Enabled {
		errs = append(errs, errors.New("no services enabled: enable services.radarr or services.sonarr"))
	}

	errs = append(errs, validateService("radarr", cfg.Services.Radarr)...)
	errs = append(errs, validateService("sonarr", cfg.Services.Sonarr)...)

	if cfg.Plex.URL != "" {
		if _, err := url.Parse(cfg.Plex.URL); err != nil {
			errs = append(errs, fmt.Errorf("plex: invalid url: %w", err))
		}
		if cfg.Plex.Token == "" {
			errs = append(errs, errors.New("plex: token is required when url is set"))
		}
	}

	if cfg.Reconcile.WorkLimit < 0 {
		errs = append(errs, errors.New("reconcile.workLimit must not be negative"))
	}

	if t := cfg.Verify.MatchThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("verify.matchThreshold must be in (0, 1], got %v", t))
	}
	if cfg.Verify.MaxAttempts < 1 {
		errs = append(errs, errors.New("verify.maxAttempts must be at least 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateService(name string, svc ServiceConfig) []error {
	if !svc.Enabled {
		return nil
	}

	var errs []error
	if svc.URL == "" {
		errs = append(errs, fmt.Errorf("service %q: url is required", name))
	} else if _, err := url.Parse(svc.URL); err != nil {
		errs = append(errs, fmt.Errorf("service %q: invalid url: %w", name, err))
	}

	if svc.APIKey == "" {
		errs = append(errs, fmt.Errorf("service %q: apiKey is required", name))
	}

	return errs
}
