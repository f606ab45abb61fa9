package project

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/unifee/internal/config"
	uerrors "github.com/conneroisu/unifee/internal/errors"
	"github.com/conneroisu/unifee/internal/logging"
	"github.com/conneroisu/unifee/internal/metrics"
)

// Runner executes project scripts with the configured package manager.
type Runner struct {
	manager config.PackageManager
	timeout time.Duration
	logger  logging.Logger
	metrics *metrics.Recorder
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	PackageManager config.PackageManager
	Timeout        time.Duration
	Logger         logging.Logger
	Metrics        *metrics.Recorder
}

// NewRunner creates a Runner. Zero values fall back to npm and the default
// command timeout.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.PackageManager == "" {
		opts.PackageManager = config.PackageManagerNPM
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultCommandTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	return &Runner{
		manager: opts.PackageManager,
		timeout: opts.Timeout,
		logger:  opts.Logger.WithComponent("project"),
		metrics: opts.Metrics,
	}
}

// Run executes `<manager> run <script>` in dir. Output is forwarded to the
// logger line by line.
func (r *Runner) Run(ctx context.Context, dir, script string) error {
	command := string(r.manager) + " run " + script
	if err := validateScript(script); err != nil {
		return uerrors.NewExternalCommandFailure(command, "invalid script name", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stdout := logging.NewLineWriter(ctx, r.logger, false, "script", script)
	stderr := logging.NewLineWriter(ctx, r.logger, true, "script", script)

	cmd := exec.CommandContext(ctx, string(r.manager), "run", script)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	_ = stdout.Close()
	_ = stderr.Close()

	if err != nil {
		r.metrics.IncCommandResult(script, false)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = uerrors.NewExternalCommandFailure(command, fmt.Sprintf("timed out after %s", r.timeout), ctx.Err())
		} else {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				err = uerrors.NewExternalCommandFailure(command, fmt.Sprintf("exited with code %d", exitErr.ExitCode()), err)
			} else {
				err = uerrors.NewExternalCommandFailure(command, "failed to start", err)
			}
		}
		r.logger.Error(ctx, err, "Project command failed", "script", script, "dir", dir)
		return err
	}

	r.metrics.IncCommandResult(script, true)
	r.logger.Info(ctx, "Project command succeeded", "script", script, "dir", dir)
	return nil
}

// RunAll runs every script the command declares concurrently and waits
// for all of them.
func (r *Runner) RunAll(ctx context.Context, dir string, cmd Command) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, script := range cmd.Scripts() {
		g.Go(func() error {
			return r.Run(ctx, dir, script)
		})
	}
	return g.Wait()
}

// validateScript rejects names that could be read as flags or carry shell
// metacharacters.
func validateScript(script string) error {
	if script == "" {
		return errors.New("empty script name")
	}
	if strings.HasPrefix(script, "-") {
		return fmt.Errorf("script name %q looks like a flag", script)
	}
	if strings.ContainsAny(script, ";&|$`()<>\"'\\ \t\n") {
		return fmt.Errorf("script name %q contains forbidden characters", script)
	}
	return nil
}
