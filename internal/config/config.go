// Package config provides configuration management for unifee using Viper
// for flexible loading from flags, UNIFEE_ environment variables, a .env
// file and an optional .unifee.yml file.
//
// The configuration carries the build options of a run (serve, watch,
// output directory, package manager), the dev server settings and the
// logging setup.
package config

import (
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/conneroisu/unifee/internal/logging"
	"github.com/spf13/viper"
)

// PackageManager names the external command used for project builds.
type PackageManager string

const (
	PackageManagerNPM  PackageManager = "npm"
	PackageManagerYarn PackageManager = "yarn"
)

// Defaults applied by Load when a value is not set.
const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 4001
	DefaultReloadDelay    = 300 * time.Millisecond
	DefaultCommandTimeout = 10 * time.Second
	DefaultJPEGQuality    = 90
	// DefaultOutputDir is created inside the target when no output
	// directory is configured.
	DefaultOutputDir = "dist"
)

type Config struct {
	Target         string         `mapstructure:"target" yaml:"target" json:"target"`
	Serve          bool           `mapstructure:"serve" yaml:"serve" json:"serve"`
	Watch          bool           `mapstructure:"watch" yaml:"watch" json:"watch"`
	OutputDir      string         `mapstructure:"output" yaml:"output" json:"output"`
	PackageManager PackageManager `mapstructure:"package_manager" yaml:"package_manager" json:"package_manager"`
	Server         ServerConfig   `mapstructure:"server" yaml:"server" json:"server"`
	Build          BuildConfig    `mapstructure:"build" yaml:"build" json:"build"`
	Log            LogConfig      `mapstructure:"log" yaml:"log" json:"log"`
}

type ServerConfig struct {
	Host        string        `mapstructure:"host" yaml:"host" json:"host"`
	Port        int           `mapstructure:"port" yaml:"port" json:"port"`
	TLSCert     string        `mapstructure:"tls_cert" yaml:"tls_cert" json:"tls_cert"`
	TLSKey      string        `mapstructure:"tls_key" yaml:"tls_key" json:"tls_key"`
	ReloadDelay time.Duration `mapstructure:"reload_delay" yaml:"reload_delay" json:"reload_delay"`
}

type BuildConfig struct {
	Ignore         []string      `mapstructure:"ignore" yaml:"ignore" json:"ignore"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout" json:"command_timeout"`
	JPEGQuality    int           `mapstructure:"jpeg_quality" yaml:"jpeg_quality" json:"jpeg_quality"`
	// DartSass is the Dart Sass executable; empty means "sass" on PATH.
	DartSass string `mapstructure:"dart_sass" yaml:"dart_sass" json:"dart_sass"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v, applies defaults and validates it.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Viper does not always decode flag-bound slices into nested structs.
	if v.IsSet("build.ignore") && len(config.Build.Ignore) == 0 {
		config.Build.Ignore = v.GetStringSlice("build.ignore")
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.PackageManager == "" {
		config.PackageManager = PackageManagerNPM
	}
	if config.Server.Host == "" {
		config.Server.Host = DefaultHost
	}
	if config.Server.Port == 0 {
		config.Server.Port = DefaultPort
	}
	if config.Server.ReloadDelay == 0 {
		config.Server.ReloadDelay = DefaultReloadDelay
	}
	if len(config.Build.Ignore) == 0 {
		config.Build.Ignore = []string{"node_modules", ".git"}
	}
	if config.Build.CommandTimeout == 0 {
		config.Build.CommandTimeout = DefaultCommandTimeout
	}
	if config.Build.JPEGQuality == 0 {
		config.Build.JPEGQuality = DefaultJPEGQuality
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "pretty"
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	switch c.PackageManager {
	case PackageManagerNPM, PackageManagerYarn:
	default:
		return fmt.Errorf("package_manager must be npm or yarn, got %q", c.PackageManager)
	}

	if err := validateServerConfig(&c.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if c.Build.CommandTimeout < 0 {
		return fmt.Errorf("build config: command_timeout must not be negative")
	}
	if c.Build.JPEGQuality < 1 || c.Build.JPEGQuality > 100 {
		return fmt.Errorf("build config: jpeg_quality %d is not in range 1-100", c.Build.JPEGQuality)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	switch c.Log.Format {
	case "text", "json", "pretty":
	default:
		return fmt.Errorf("log config: unsupported format %q", c.Log.Format)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(config.Host, char) {
			return fmt.Errorf("host contains dangerous character: %s", char)
		}
	}

	if (config.TLSCert == "") != (config.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}

	if config.ReloadDelay < 0 {
		return fmt.Errorf("reload_delay must not be negative")
	}

	return nil
}

// Addr returns the host:port the dev server binds to.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// TLSEnabled reports whether the dev server serves HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.Server.TLSCert != "" && c.Server.TLSKey != ""
}

// OutputPath resolves the directory built pages are written to. An explicit
// output directory is resolved against the working directory; otherwise
// pages go to DefaultOutputDir inside the build target, so a plain build
// never collides with its own sources.
func (c *Config) OutputPath() (string, error) {
	dir := c.OutputDir
	if dir == "" {
		dir = filepath.Join(c.Target, DefaultOutputDir)
	}
	return filepath.Abs(dir)
}

// LoggerConfig converts the log section into a logging configuration.
func (c *Config) LoggerConfig(out io.Writer) (*logging.LoggerConfig, error) {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	return &logging.LoggerConfig{
		Level:  level,
		Format: c.Log.Format,
		Output: out,
	}, nil
}
