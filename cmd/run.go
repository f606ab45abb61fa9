package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/unifee/internal/config"
	uerrors "github.com/conneroisu/unifee/internal/errors"
	"github.com/conneroisu/unifee/internal/logging"
	"github.com/conneroisu/unifee/internal/metrics"
	"github.com/conneroisu/unifee/internal/site"
)

func newLogger(cfg *config.Config, out io.Writer) (logging.Logger, error) {
	loggerConfig, err := cfg.LoggerConfig(out)
	if err != nil {
		return nil, uerrors.NewConfigError(err.Error())
	}
	return logging.NewLogger(loggerConfig), nil
}

// runSite builds, watches and serves cfg.Target until the command context
// is canceled.
func runSite(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	s, err := site.New(site.Options{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewRecorder(nil),
	})
	if err != nil {
		return err
	}

	err = s.Run(ctx)
	if uerrors.IsKind(err, uerrors.KindOutputWriteFailure) {
		logger.Warn(ctx, nil, "Built pages never replace their sources; choose another directory with --output")
	}
	return err
}
