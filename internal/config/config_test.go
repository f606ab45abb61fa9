package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	v.Set("target", "./site")

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, "./site", cfg.Target)
	assert.False(t, cfg.Serve)
	assert.False(t, cfg.Watch)
	assert.Equal(t, PackageManagerNPM, cfg.PackageManager)
	assert.Equal(t, DefaultHost, cfg.Server.Host)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultReloadDelay, cfg.Server.ReloadDelay)
	assert.Equal(t, DefaultCommandTimeout, cfg.Build.CommandTimeout)
	assert.Equal(t, []string{"node_modules", ".git"}, cfg.Build.Ignore)
	assert.Equal(t, "127.0.0.1:4001", cfg.Addr())
	assert.False(t, cfg.TLSEnabled())
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(v *viper.Viper)
		expectError bool
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name: "yarn and serve",
			setup: func(v *viper.Viper) {
				v.Set("serve", true)
				v.Set("package_manager", "yarn")
				v.Set("server.port", 8080)
				v.Set("server.reload_delay", "1s")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Serve)
				assert.Equal(t, PackageManagerYarn, cfg.PackageManager)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, time.Second, cfg.Server.ReloadDelay)
			},
		},
		{
			name: "custom ignore list",
			setup: func(v *viper.Viper) {
				v.Set("build.ignore", []string{"vendor"})
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"vendor"}, cfg.Build.Ignore)
			},
		},
		{
			name: "unknown package manager",
			setup: func(v *viper.Viper) {
				v.Set("package_manager", "pnpm")
			},
			expectError: true,
		},
		{
			name: "port out of range",
			setup: func(v *viper.Viper) {
				v.Set("server.port", 70000)
			},
			expectError: true,
		},
		{
			name: "invalid port type",
			setup: func(v *viper.Viper) {
				v.Set("server.port", "invalid_port")
			},
			expectError: true,
		},
		{
			name: "tls cert without key",
			setup: func(v *viper.Viper) {
				v.Set("server.tls_cert", "cert.pem")
			},
			expectError: true,
		},
		{
			name: "dangerous host",
			setup: func(v *viper.Viper) {
				v.Set("server.host", "localhost;rm")
			},
			expectError: true,
		},
		{
			name: "unknown log format",
			setup: func(v *viper.Viper) {
				v.Set("log.format", "xml")
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			tt.setup(v)

			cfg, err := LoadFrom(v)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadUsesGlobalViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("watch", true)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Watch)
}

func TestOutputPath(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	cfg := &Config{Target: "site"}
	out, err := cfg.OutputPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "site", DefaultOutputDir), out)

	cfg.Target = ""
	out, err = cfg.OutputPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, DefaultOutputDir), out)

	cfg.OutputDir = "site"
	out, err = cfg.OutputPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "site"), out)

	cfg.OutputDir = "dist"
	out, err = cfg.OutputPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "dist"), out)
}

func TestLoggerConfig(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "debug", Format: "json"}}
	var buf bytes.Buffer

	lc, err := cfg.LoggerConfig(&buf)
	require.NoError(t, err)
	assert.Equal(t, "json", lc.Format)
	assert.Equal(t, &buf, lc.Output)

	cfg.Log.Level = "loud"
	_, err = cfg.LoggerConfig(&buf)
	assert.Error(t, err)
}
