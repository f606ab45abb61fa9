package project

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/unifee/internal/config"
	uerrors "github.com/conneroisu/unifee/internal/errors"
	"github.com/conneroisu/unifee/internal/logging"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakePackageManager installs an executable named name on PATH that runs
// body as a shell script.
func fakePackageManager(t *testing.T, name, body string) {
	t.Helper()
	bin := t.TempDir()
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(bin, name), []byte(script), 0o755))
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func newTestRunner(manager config.PackageManager, timeout time.Duration) (*Runner, *lockedBuffer) {
	buf := &lockedBuffer{}
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelDebug, Format: "text", Output: buf})
	return NewRunner(RunnerOptions{PackageManager: manager, Timeout: timeout, Logger: logger}), buf
}

func TestRunForwardsOutput(t *testing.T) {
	fakePackageManager(t, "npm", `echo "args: $@"; echo "cwd: $(pwd)"; echo "warning" 1>&2`)
	dir := t.TempDir()

	r, logs := newTestRunner(config.PackageManagerNPM, 5*time.Second)
	require.NoError(t, r.Run(context.Background(), dir, ScriptKey))

	out := logs.String()
	assert.Contains(t, out, "args: run unifee:js")
	assert.Contains(t, out, "cwd: "+dir)
	assert.Contains(t, out, "warning")
	assert.Contains(t, out, "Project command succeeded")
}

func TestRunUsesYarn(t *testing.T) {
	fakePackageManager(t, "yarn", `echo "yarn $@"`)

	r, logs := newTestRunner(config.PackageManagerYarn, 5*time.Second)
	require.NoError(t, r.Run(context.Background(), t.TempDir(), StyleKey))
	assert.Contains(t, logs.String(), "yarn run unifee:css")
}

func TestRunNonZeroExit(t *testing.T) {
	fakePackageManager(t, "npm", `echo "boom" 1>&2; exit 3`)

	r, _ := newTestRunner(config.PackageManagerNPM, 5*time.Second)
	err := r.Run(context.Background(), t.TempDir(), ScriptKey)
	require.Error(t, err)
	assert.True(t, uerrors.IsKind(err, uerrors.KindExternalCommandFailure))
	assert.Contains(t, err.Error(), "exited with code 3")
	assert.Contains(t, err.Error(), "npm run unifee:js")
}

func TestRunTimeout(t *testing.T) {
	fakePackageManager(t, "npm", `sleep 5`)

	r, _ := newTestRunner(config.PackageManagerNPM, 100*time.Millisecond)
	start := time.Now()
	err := r.Run(context.Background(), t.TempDir(), ScriptKey)
	require.Error(t, err)
	assert.True(t, uerrors.IsKind(err, uerrors.KindExternalCommandFailure))
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunMissingBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	r, _ := newTestRunner(config.PackageManagerNPM, time.Second)
	err := r.Run(context.Background(), t.TempDir(), ScriptKey)
	require.Error(t, err)
	assert.True(t, uerrors.IsKind(err, uerrors.KindExternalCommandFailure))
	assert.Contains(t, err.Error(), "failed to start")
}

func TestRunRejectsInvalidScript(t *testing.T) {
	r, _ := newTestRunner(config.PackageManagerNPM, time.Second)

	for _, script := range []string{"", "--version", "build; rm -rf /", "a b"} {
		err := r.Run(context.Background(), t.TempDir(), script)
		require.Error(t, err, script)
		assert.True(t, uerrors.IsKind(err, uerrors.KindExternalCommandFailure))
	}
}

func TestRunAll(t *testing.T) {
	fakePackageManager(t, "npm", `echo "ran $2" >> "$(pwd)/ran.txt"`)
	dir := t.TempDir()

	r, _ := newTestRunner(config.PackageManagerNPM, 5*time.Second)
	cmd := Command{Script: External(ScriptKey, "x"), Style: External(StyleKey, "y")}
	require.NoError(t, r.RunAll(context.Background(), dir, cmd))

	data, err := os.ReadFile(filepath.Join(dir, "ran.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ran unifee:js")
	assert.Contains(t, string(data), "ran unifee:css")
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 2)
}

func TestRunAllNoOverrides(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	r, _ := newTestRunner(config.PackageManagerNPM, time.Second)
	assert.NoError(t, r.RunAll(context.Background(), t.TempDir(), Command{}))
}

func TestRunAllPropagatesFailure(t *testing.T) {
	fakePackageManager(t, "npm", `[ "$2" = "unifee:css" ] && exit 1; exit 0`)

	r, _ := newTestRunner(config.PackageManagerNPM, 5*time.Second)
	cmd := Command{Script: External(ScriptKey, "x"), Style: External(StyleKey, "y")}
	err := r.RunAll(context.Background(), t.TempDir(), cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unifee:css")
}
