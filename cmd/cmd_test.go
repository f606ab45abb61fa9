package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/unifee/internal/config"
	uerrors "github.com/conneroisu/unifee/internal/errors"
	"github.com/conneroisu/unifee/internal/version"
)

// execute runs the command line with args inside dir.
func execute(t *testing.T, dir string, args ...string) (string, string, error) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err = root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writePage(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`<!DOCTYPE html><html><head><title>t</title></head><body><p>hello</p></body></html>`), 0o644))
}

func TestConfigShow(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		setup func(t *testing.T, dir string)
		check func(t *testing.T, cfg config.Config)
	}{
		{
			name: "defaults",
			args: []string{"config", "show", "--format", "json"},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, config.PackageManagerNPM, cfg.PackageManager)
				assert.Equal(t, config.DefaultPort, cfg.Server.Port)
				assert.Equal(t, config.DefaultReloadDelay, cfg.Server.ReloadDelay)
				assert.Equal(t, []string{"node_modules", ".git"}, cfg.Build.Ignore)
			},
		},
		{
			name: "flags",
			args: []string{"config", "show", "site", "--format", "json", "--port", "5000", "--yarn", "-o", "dist", "--ignore", "vendor"},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, "site", cfg.Target)
				assert.Equal(t, 5000, cfg.Server.Port)
				assert.Equal(t, config.PackageManagerYarn, cfg.PackageManager)
				assert.Equal(t, "dist", cfg.OutputDir)
				assert.Equal(t, []string{"vendor"}, cfg.Build.Ignore)
			},
		},
		{
			name: "config file below flags",
			args: []string{"config", "show", "--format", "json", "--port", "5001"},
			setup: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, ".unifee.yml"), []byte("server:\n  port: 7000\n  host: 0.0.0.0\n"), 0o644))
			},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, 5001, cfg.Server.Port)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
			},
		},
		{
			name: "environment",
			args: []string{"config", "show", "--format", "json"},
			setup: func(t *testing.T, dir string) {
				t.Setenv("UNIFEE_PACKAGE_MANAGER", "yarn")
			},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, config.PackageManagerYarn, cfg.PackageManager)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.setup != nil {
				tt.setup(t, dir)
			}

			stdout, _, err := execute(t, dir, tt.args...)
			require.NoError(t, err)

			var cfg config.Config
			require.NoError(t, json.Unmarshal([]byte(stdout), &cfg))
			tt.check(t, cfg)
		})
	}
}

func TestConfigShowYAML(t *testing.T) {
	stdout, _, err := execute(t, t.TempDir(), "config", "show")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &cfg))
	assert.Equal(t, config.PackageManagerNPM, cfg.PackageManager)
	assert.Contains(t, stdout, "reload_delay: 300ms")
}

func TestConfigShowRejectsUnknownFormat(t *testing.T) {
	_, _, err := execute(t, t.TempDir(), "config", "show", "--format", "xml")
	assert.Error(t, err)
}

func TestConfigShowRejectsInvalidValues(t *testing.T) {
	_, _, err := execute(t, t.TempDir(), "config", "show", "--port", "70000")
	require.Error(t, err)
	assert.True(t, uerrors.IsKind(err, uerrors.KindConfig))
}

func TestVersion(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		stdout, _, err := execute(t, t.TempDir(), "version", "--format", "json")
		require.NoError(t, err)

		var info version.Info
		require.NoError(t, json.Unmarshal([]byte(stdout), &info))
		assert.Equal(t, version.Get().Version, info.Version)
		assert.NotEmpty(t, info.GoVersion)
	})

	t.Run("short", func(t *testing.T) {
		stdout, _, err := execute(t, t.TempDir(), "version", "--short")
		require.NoError(t, err)
		assert.Equal(t, version.Get().Version+"\n", stdout)
	})

	t.Run("text", func(t *testing.T) {
		stdout, _, err := execute(t, t.TempDir(), "version")
		require.NoError(t, err)
		assert.Contains(t, stdout, "unifee ")
		assert.Contains(t, stdout, "Platform: ")
	})
}

func TestBuildCommand(t *testing.T) {
	dir := t.TempDir()
	writePage(t, filepath.Join(dir, "site", "index.html"))
	writePage(t, filepath.Join(dir, "site", "docs", "about.html"))

	_, stderr, err := execute(t, dir, "build", "site", "-o", "dist", "--log-format", "text")
	require.NoError(t, err)
	assert.Contains(t, stderr, "built in")

	assert.FileExists(t, filepath.Join(dir, "dist", "index.html"))
	assert.FileExists(t, filepath.Join(dir, "dist", "about.html"))
}

func TestRootShorthandBuilds(t *testing.T) {
	dir := t.TempDir()
	writePage(t, filepath.Join(dir, "site", "index.html"))

	_, _, err := execute(t, dir, "site", "-o", "out", "--log-level", "error")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out", "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestBuildRefusesToOverwriteSources(t *testing.T) {
	dir := t.TempDir()
	writePage(t, filepath.Join(dir, "index.html"))

	_, stderr, err := execute(t, dir, "build", "-o", ".", "--log-format", "text")
	require.Error(t, err)
	assert.True(t, uerrors.IsKind(err, uerrors.KindOutputWriteFailure))
	assert.Contains(t, stderr, "--output")
}

func TestBuildDefaultsToDistInsideTarget(t *testing.T) {
	dir := t.TempDir()
	writePage(t, filepath.Join(dir, "site", "index.html"))

	_, _, err := execute(t, dir, "build", "site", "--log-level", "error")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "site", "dist", "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestBuildWithoutPages(t *testing.T) {
	_, _, err := execute(t, t.TempDir(), "build", "-o", "dist")
	require.Error(t, err)
	assert.True(t, uerrors.IsKind(err, uerrors.KindConfig))
}
