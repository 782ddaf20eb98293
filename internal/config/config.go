// Package config handles global configuration loading using viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/cjdnsniff/internal/admin"
	"firestige.xyz/cjdnsniff/internal/cjdnshdr"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `cjdnsniff:` root key in YAML.
type GlobalConfig struct {
	Admin   AdminConfig   `mapstructure:"admin" yaml:"admin"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Dump    DumpConfig    `mapstructure:"dump" yaml:"dump"`
	Control ControlConfig `mapstructure:"control" yaml:"control"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// ─── Admin RPC ───

// AdminConfig locates the cjdns admin endpoint. When InfoFile exists its
// addr/port/password take precedence over Addr/Port; a non-empty Password
// here overrides the file's.
type AdminConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Password string        `mapstructure:"password" yaml:"password"`
	InfoFile string        `mapstructure:"info_file" yaml:"info_file"` // empty = don't read one
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ─── Session ───

// SessionConfig controls the distributor handler session.
type SessionConfig struct {
	ContentType string `mapstructure:"content_type" yaml:"content_type"` // name, e.g. CTRL or CJDHT
	Network     string `mapstructure:"network" yaml:"network"`           // udp6 / udp4 / udp
	BindHost    string `mapstructure:"bind_host" yaml:"bind_host"`
	ReadBuffer  int    `mapstructure:"read_buffer" yaml:"read_buffer"`
}

// ─── Dump output ───

// DumpConfig controls capture line output.
type DumpConfig struct {
	Pattern    string  `mapstructure:"pattern" yaml:"pattern"` // %time %level %field %msg %n
	TimeFormat string  `mapstructure:"time_format" yaml:"time_format"`
	ErrorRate  float64 `mapstructure:"error_rate" yaml:"error_rate"` // decode errors logged per second
	ErrorBurst int     `mapstructure:"error_burst" yaml:"error_burst"`
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Socket  string `mapstructure:"socket" yaml:"socket"`
	PIDFile string `mapstructure:"pid_file" yaml:"pid_file"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `cjdnsniff: ...`.
type configRoot struct {
	Cjdnsniff GlobalConfig `mapstructure:"cjdnsniff"`
}

// Load loads configuration from path, or from defaults and environment alone
// when path is empty.
// Env vars map through the root key: cjdnsniff.log.level → CJDNSNIFF_LOG_LEVEL.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Cjdnsniff

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// Every key needs a default for AutomaticEnv to reach it through Unmarshal.
func setDefaults(v *viper.Viper) {
	// Admin defaults
	v.SetDefault("cjdnsniff.admin.addr", "127.0.0.1")
	v.SetDefault("cjdnsniff.admin.port", 11234)
	v.SetDefault("cjdnsniff.admin.password", "")
	v.SetDefault("cjdnsniff.admin.info_file", admin.DefaultInfoFile)
	v.SetDefault("cjdnsniff.admin.timeout", "5s")

	// Session defaults
	v.SetDefault("cjdnsniff.session.content_type", "CTRL")
	v.SetDefault("cjdnsniff.session.network", "udp6")
	v.SetDefault("cjdnsniff.session.bind_host", "::")
	v.SetDefault("cjdnsniff.session.read_buffer", 65536)

	// Dump defaults
	v.SetDefault("cjdnsniff.dump.pattern", "%msg%n")
	v.SetDefault("cjdnsniff.dump.time_format", "15:04:05.000")
	v.SetDefault("cjdnsniff.dump.error_rate", 1.0)
	v.SetDefault("cjdnsniff.dump.error_burst", 5)

	// Control defaults
	v.SetDefault("cjdnsniff.control.enabled", true)
	v.SetDefault("cjdnsniff.control.socket", "/tmp/cjdnsniff.sock")
	v.SetDefault("cjdnsniff.control.pid_file", "/tmp/cjdnsniff.pid")

	// Metrics defaults
	v.SetDefault("cjdnsniff.metrics.enabled", false)
	v.SetDefault("cjdnsniff.metrics.listen", "127.0.0.1:9091")
	v.SetDefault("cjdnsniff.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("cjdnsniff.log.level", "info")
	v.SetDefault("cjdnsniff.log.format", "text")
	v.SetDefault("cjdnsniff.log.outputs.file.enabled", false)
	v.SetDefault("cjdnsniff.log.outputs.file.path", "/var/log/cjdnsniff/cjdnsniff.log")
	v.SetDefault("cjdnsniff.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("cjdnsniff.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("cjdnsniff.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("cjdnsniff.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Session validation ──
	if _, err := cjdnshdr.ContentTypeByName(cfg.Session.ContentType); err != nil {
		return fmt.Errorf("invalid session.content_type: %w", err)
	}
	switch cfg.Session.Network {
	case "udp", "udp4", "udp6":
	default:
		return fmt.Errorf("invalid session.network: %s (must be udp/udp4/udp6)", cfg.Session.Network)
	}
	if cfg.Session.ReadBuffer < cjdnshdr.RouteHeaderSize {
		return fmt.Errorf("session.read_buffer must be at least %d", cjdnshdr.RouteHeaderSize)
	}

	// ── Admin validation ──
	if cfg.Admin.Timeout <= 0 {
		return fmt.Errorf("admin.timeout must be positive")
	}

	// ── Dump defaults ──
	if cfg.Dump.ErrorRate <= 0 {
		cfg.Dump.ErrorRate = 1
	}
	if cfg.Dump.ErrorBurst <= 0 {
		cfg.Dump.ErrorBurst = 1
	}

	return nil
}

// ContentTypeCode resolves the configured content type name.
func (s SessionConfig) ContentTypeCode() cjdnshdr.ContentType {
	ct, _ := cjdnshdr.ContentTypeByName(s.ContentType)
	return ct
}

// ResolveAdmin builds the admin client configuration, reading InfoFile when
// it exists.
func (a AdminConfig) ResolveAdmin() (admin.Config, error) {
	out := admin.Config{Addr: a.Addr, Port: a.Port, Password: a.Password, Timeout: a.Timeout}
	if a.InfoFile == "" {
		return out, nil
	}

	info, err := admin.LoadInfoFile(a.InfoFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return out, nil
	case err != nil:
		return admin.Config{}, err
	}

	out.Addr, out.Port = info.Addr, info.Port
	if out.Password == "" {
		out.Password = info.Password
	}
	return out, nil
}
