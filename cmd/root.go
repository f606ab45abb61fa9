package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/conneroisu/unifee/internal/config"
	uerrors "github.com/conneroisu/unifee/internal/errors"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configFile string
	envFile    string
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"output":          "output",
	"server":          "serve",
	"watch":           "watch",
	"host":            "server.host",
	"port":            "server.port",
	"tls-cert":        "server.tls_cert",
	"tls-key":         "server.tls_key",
	"reload-delay":    "server.reload_delay",
	"ignore":          "build.ignore",
	"command-timeout": "build.command_timeout",
	"jpeg-quality":    "build.jpeg_quality",
	"dart-sass":       "build.dart_sass",
	"log-level":       "log.level",
	"log-format":      "log.format",
}

// NewRootCommand builds the unifee command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "unifee [dir]",
		Short: "Inline the scripts, styles and images of HTML pages",
		Long: `unifee turns every HTML page under a directory into a single
self-contained file: local scripts are bundled and inlined, stylesheets
become <style> blocks and images become data URIs.

Examples:
  unifee site -o dist        # Build ./site into ./dist
  unifee site -s             # Serve ./site on http://127.0.0.1:4001
  unifee site -s -w          # Serve with live reload
  unifee site -o dist --yarn # Run project builds with yarn`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts, args, nil)
			if err != nil {
				return err
			}
			return runSite(cmd, cfg)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file (default is .unifee.yml)")
	pf.StringVar(&opts.envFile, "env-file", "", "dotenv file to load (default is .env)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "pretty", "log format (pretty, text, json)")

	f := rootCmd.Flags()
	f.StringP("output", "o", "", "directory the built pages are written to (default <target>/dist)")
	f.BoolP("server", "s", false, "serve pages instead of writing them")
	f.BoolP("watch", "w", false, "rebuild pages when related assets change")
	f.Bool("yarn", false, "use yarn instead of npm for project builds")
	addBuildFlags(rootCmd)
	addServerFlags(rootCmd)

	rootCmd.AddCommand(
		newBuildCommand(opts),
		newServeCommand(opts),
		newWatchCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)
	return rootCmd
}

// Execute runs the command line until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

func addBuildFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSlice("ignore", nil, "directory names never searched or watched (default node_modules,.git)")
	f.Duration("command-timeout", config.DefaultCommandTimeout, "timeout of project build commands")
	f.Int("jpeg-quality", config.DefaultJPEGQuality, "JPEG re-encode quality (1-100)")
	f.String("dart-sass", "", "Dart Sass executable (default is sass on PATH)")
}

func addServerFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("host", config.DefaultHost, "host to bind the dev server to")
	f.IntP("port", "p", config.DefaultPort, "port to bind the dev server to")
	f.String("tls-cert", "", "TLS certificate file")
	f.String("tls-key", "", "TLS key file")
	f.Duration("reload-delay", config.DefaultReloadDelay, "delay between a rebuild and the browser reload")
}

// loadConfig resolves the configuration of one invocation. overrides are
// applied last and pin the mode of a subcommand.
func loadConfig(cmd *cobra.Command, opts *rootOptions, args []string, overrides map[string]any) (*config.Config, error) {
	v, err := config.NewViper(config.SourceOptions{
		ConfigFile: opts.configFile,
		EnvFile:    opts.envFile,
	})
	if err != nil {
		return nil, uerrors.NewConfigError("loading configuration: " + err.Error())
	}

	var bindErr error
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if key, ok := flagKeys[flag.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, flag)
		}
	})
	if bindErr != nil {
		return nil, uerrors.NewInternalError("binding flags", bindErr)
	}

	if yarn, _ := cmd.Flags().GetBool("yarn"); yarn {
		v.Set("package_manager", string(config.PackageManagerYarn))
	}
	if len(args) > 0 {
		v.Set("target", args[0])
	}
	for key, value := range overrides {
		v.Set(key, value)
	}

	cfg, err := config.LoadFrom(v)
	if err != nil {
		return nil, uerrors.NewConfigError(err.Error())
	}
	return cfg, nil
}
