package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// ErrMissingParameter is returned for a required parameter that is unset or invalid.
var ErrMissingParameter = errors.New("missing required parameter")

// ErrNotWritable is returned when the output directory cannot be written.
var ErrNotWritable = errors.New("directory not writable")

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults, environment bindings and config file.
func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	for _, e := range DefaultEntries() {
		v.SetDefault(e.Key, e.Value)
		if err := v.BindEnv(append([]string{e.Key}, e.Env()...)...); err != nil {
			return fmt.Errorf("failed to bind environment for %s: %w", e.Key, err)
		}
	}

	// Environment variables with SARPROC_ prefix
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("sarproc")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sarproc")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

// BindFlags binds command-line flags on top of file and environment values.
// keys maps config keys to flag names. Unset flags do not override.
func (cm *Manager) BindFlags(fs *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("unknown flag %q for key %s", name, key)
		}
		if err := cm.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %q: %w", name, err)
		}
	}
	return cm.Reload()
}

// Reload re-reads the merged configuration.
func (cm *Manager) Reload() error {
	cfg, err := cm.load()
	if err != nil {
		return err
	}
	cm.mu.Lock()
	cm.config = cfg
	cm.mu.Unlock()
	return nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the config file in use, or "" if none was found.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// Value returns the merged value of a single key.
func (cm *Manager) Value(key string) any {
	return cm.v.Get(key)
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// normalize resolves ${ENV_VAR} references in paths and applies the
// trailing-separator convention to the base output directory.
func (c *Config) normalize() {
	for _, p := range []*string{
		&c.BaseSaveDir, &c.DEMSource, &c.GPTExec, &c.GraphDir,
		&c.ProductsFile, &c.ArgFileList, &c.ScratchDir, &c.LogFile,
	} {
		*p = strings.TrimSpace(ResolveEnvVars(*p))
	}
	if c.BaseSaveDir != "" && !strings.HasSuffix(c.BaseSaveDir, string(filepath.Separator)) {
		c.BaseSaveDir += string(filepath.Separator)
	}
	c.Executor.Kind = strings.ToLower(strings.TrimSpace(c.Executor.Kind))
	// VDI nodes are shared, so the tool must not take every core
	if c.VDIJob {
		c.Constrained = true
	}
}

// Validate reports every missing or invalid required parameter.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseSaveDir == "" {
		errs = append(errs, fmt.Errorf("%w: base_save_dir", ErrMissingParameter))
	}
	if c.PixelRes <= 0 {
		errs = append(errs, fmt.Errorf("%w: pixel_res must be a positive number", ErrMissingParameter))
	}
	if c.DEMSource == "" {
		errs = append(errs, fmt.Errorf("%w: dem_source", ErrMissingParameter))
	}
	switch c.Executor.Kind {
	case ExecutorLocal, ExecutorDocker:
	default:
		errs = append(errs, fmt.Errorf("unknown executor kind %q", c.Executor.Kind))
	}
	if c.Threads < 0 {
		errs = append(errs, errors.New("threads must not be negative"))
	}
	if c.StageTimeout < 0 {
		errs = append(errs, errors.New("stage_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// CheckWritable creates dir if needed and verifies a file can be written in it.
func CheckWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotWritable, dir, err)
	}
	f, err := os.CreateTemp(dir, ".sarproc-write-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotWritable, dir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# sarproc configuration
# base_save_dir, pixel_res and dem_source are required.
# Job scripts may set them instead: export BASE_SAVE_DIR=... PIX_RES=... DEM_SOURCE=...
# Paths may use ${ENV_VAR} references.

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
