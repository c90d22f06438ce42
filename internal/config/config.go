package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Share    ShareConfig    `mapstructure:"share"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Database DatabaseConfig `mapstructure:"database"`
	Search   SearchConfig   `mapstructure:"search"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Activity ActivityConfig `mapstructure:"activity"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port" validate:"min=1,max=65535"`
	BaseURL string `mapstructure:"base_url"`
}

// ShareConfig points at the directory being served.
type ShareConfig struct {
	Root        string `mapstructure:"root" validate:"required"`
	AllowDelete bool   `mapstructure:"allow_delete"`
}

// AuthConfig holds authentication configuration. An empty password runs the
// server in open mode.
type AuthConfig struct {
	Password   string        `mapstructure:"password"`
	SessionTTL time.Duration `mapstructure:"session_ttl" validate:"min=1m"`
}

// UploadConfig holds upload limits. MaxSize accepts human sizes ("512MB").
type UploadConfig struct {
	MaxSize   string `mapstructure:"max_size"`
	Overwrite bool   `mapstructure:"overwrite"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// SearchConfig holds search index configuration.
type SearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	IndexPath string `mapstructure:"index_path"`
}

// WatcherConfig holds filesystem watcher configuration.
type WatcherConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce" validate:"min=10ms"`
}

// ActivityConfig holds activity log configuration.
type ActivityConfig struct {
	RetentionDays int `mapstructure:"retention_days" validate:"min=1"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=console json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("slipdock")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.slipdock")
	}

	v.SetEnvPrefix("SLIPDOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults + env vars are enough.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints and that compound values parse.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := ParseSize(c.Upload.MaxSize); err != nil {
		return fmt.Errorf("invalid upload.max_size: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8277)
	v.SetDefault("server.base_url", "")

	v.SetDefault("share.root", "")
	v.SetDefault("share.allow_delete", true)

	v.SetDefault("auth.password", "")
	v.SetDefault("auth.session_ttl", "24h")

	v.SetDefault("upload.max_size", "1GB")
	v.SetDefault("upload.overwrite", false)

	v.SetDefault("database.path", "data/slipdock.db")

	v.SetDefault("search.enabled", true)
	v.SetDefault("search.index_path", "data/index")

	v.SetDefault("watcher.enabled", true)
	v.SetDefault("watcher.debounce", "500ms")

	v.SetDefault("activity.retention_days", 90)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// Address returns the listen address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MaxUploadBytes returns the parsed upload cap. Call after Validate.
func (c *UploadConfig) MaxUploadBytes() int64 {
	size, err := ParseSize(c.MaxSize)
	if err != nil {
		return 0
	}
	return size
}

// ActivityRetention returns the retention window as a duration.
func (c *ActivityConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
