package cmd

import "github.com/spf13/cobra"

func newBuildCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "build [dir]",
		Aliases: []string{"b"},
		Short:   "Build every page once",
		Long: `Build every HTML page under dir (default: the working directory) and
write the self-contained results to the output directory.

Examples:
  unifee build site -o dist
  unifee build --yarn -o dist`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts, args, map[string]any{
				"serve": false,
				"watch": false,
			})
			if err != nil {
				return err
			}
			return runSite(cmd, cfg)
		},
	}

	cmd.Flags().StringP("output", "o", "", "directory the built pages are written to")
	cmd.Flags().Bool("yarn", false, "use yarn instead of npm for project builds")
	addBuildFlags(cmd)
	return cmd
}
