package cmd

import "github.com/spf13/cobra"

func newWatchCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "watch [dir]",
		Aliases: []string{"w"},
		Short:   "Rebuild pages on disk when their assets change",
		Long: `Build every page, then rebuild a page whenever a file in its directory
changes. Results are written to the output directory.

Examples:
  unifee watch site -o dist`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts, args, map[string]any{
				"serve": false,
				"watch": true,
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
