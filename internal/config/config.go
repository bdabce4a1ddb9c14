package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"jarvis-shell/internal/logger"
	"jarvis-shell/internal/profile"
)

type Config struct {
	Profile string `mapstructure:"profile"` // "auto", "posix" or "powershell"
	DataDir string `mapstructure:"data_dir"`
	Verbose bool   `mapstructure:"verbose"`

	Cache CacheConfig `mapstructure:"cache"`
	Model ModelConfig `mapstructure:"model"`
	Exec  ExecConfig  `mapstructure:"exec"`

	// File is the config file that was read, empty when running on defaults.
	File string `mapstructure:"-"`
}

type CacheConfig struct {
	MaxEntries int           `mapstructure:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl"`
	Persist    string        `mapstructure:"persist"` // "none", "file" or "sqlite"
}

type ModelConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Backend      string        `mapstructure:"backend"` // "llama-server" or "ollama"
	Name         string        `mapstructure:"name"`
	Endpoint     string        `mapstructure:"endpoint"`
	ModelPath    string        `mapstructure:"model_path"`
	LlamaBinPath string        `mapstructure:"llama_bin_path"`
	ContextSize  int           `mapstructure:"context_size"`
	ServerPort   int           `mapstructure:"server_port"` // Port for llama-server
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Temperature  float64       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Breaker      BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

type ExecConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

const (
	BackendLlamaServer = "llama-server"
	BackendOllama      = "ollama"
)

// DataDirectory returns the resolved data directory path
func (c *Config) DataDirectory() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".jarvis")
}

// ProfileID resolves "auto" to the profile of the running OS.
func (c *Config) ProfileID() profile.ID {
	switch strings.ToLower(c.Profile) {
	case "", "auto":
		return profile.Detect()
	default:
		return profile.ID(strings.ToLower(c.Profile))
	}
}

// Validate rejects values no component can act on.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Profile) {
	case "", "auto", string(profile.POSIX), string(profile.PowerShell):
	default:
		errs = append(errs, fmt.Errorf("profile: unknown value %q", c.Profile))
	}
	switch c.Cache.Persist {
	case "", "none", "file", "json", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("cache.persist: unknown store %q", c.Cache.Persist))
	}
	switch c.Model.Backend {
	case BackendLlamaServer, BackendOllama:
	default:
		errs = append(errs, fmt.Errorf("model.backend: unknown backend %q", c.Model.Backend))
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries: must be positive, got %d", c.Cache.MaxEntries))
	}
	if c.Exec.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("exec.timeout: must be positive, got %v", c.Exec.Timeout))
	}
	return errors.Join(errs...)
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("profile", "auto")
	v.SetDefault("data_dir", "")
	v.SetDefault("verbose", false)

	v.SetDefault("cache.max_entries", 256)
	v.SetDefault("cache.ttl", time.Duration(0))
	v.SetDefault("cache.persist", "file")

	v.SetDefault("model.enabled", true)
	v.SetDefault("model.backend", BackendLlamaServer)
	v.SetDefault("model.name", "")
	v.SetDefault("model.endpoint", "")
	v.SetDefault("model.model_path", "assets/localmodel/qwen2.5-3b-instruct-q4_k_m.gguf")
	v.SetDefault("model.llama_bin_path", "assets/bin/llama-server")
	v.SetDefault("model.context_size", 4096)
	v.SetDefault("model.server_port", 8055)
	v.SetDefault("model.timeout", 30*time.Second)
	v.SetDefault("model.retry_backoff", 500*time.Millisecond)
	v.SetDefault("model.temperature", 0.1)
	v.SetDefault("model.max_tokens", 128)
	v.SetDefault("model.breaker.max_failures", 3)
	v.SetDefault("model.breaker.open_timeout", 30*time.Second)

	v.SetDefault("exec.timeout", 30*time.Second)
}

// New returns a viper instance with defaults, search paths and the JARVIS_ env prefix.
// JARVIS_MODEL_ENABLED=false overrides model.enabled.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.jarvis")

	v.SetEnvPrefix("JARVIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// RegisterFlags adds the command line overrides to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default ./config.yaml or $HOME/.jarvis/config.yaml)")
	fs.String("profile", "auto", "platform profile: auto, posix or powershell")
	fs.String("data-dir", "", "directory for the cache and logs")
	fs.Bool("model", true, "enable the model translator")
	fs.String("backend", BackendLlamaServer, "model backend: llama-server or ollama")
	fs.BoolP("verbose", "v", false, "debug logging")
}

var flagKeys = map[string]string{
	"profile":  "profile",
	"data-dir": "data_dir",
	"model":    "model.enabled",
	"backend":  "model.backend",
	"verbose":  "verbose",
}

// BindFlags binds the flags added by RegisterFlags. Flags missing from fs are skipped.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
	}
	return nil
}

// Load reads the config file (if any) and decodes the result.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	config, err := decode(v)
	if err != nil {
		return nil, err
	}

	// Ensure data directory exists
	if err := os.MkdirAll(config.DataDirectory(), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return config, nil
}

// LoadConfig loads from the default search paths and the environment.
func LoadConfig() (*Config, error) {
	return Load(New())
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	config.File = v.ConfigFileUsed()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Watch calls onChange with the re-decoded config whenever the config file
// changes on disk. Invalid edits are logged and ignored. It reports false when
// no config file was loaded.
func Watch(v *viper.Viper, onChange func(*Config)) bool {
	if v.ConfigFileUsed() == "" {
		return false
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		logger.Info("Config file changed: %s (%s)", e.Name, e.Op)
		cfg, err := decode(v)
		if err != nil {
			logger.Error("Ignoring config change: %v", err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return true
}
