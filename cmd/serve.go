package cmd

import "github.com/spf13/cobra"

func newServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve [dir]",
		Aliases: []string{"s"},
		Short:   "Serve pages with live reload",
		Long: `Build every page in memory and serve it. Browsers reload automatically
after a page is rebuilt. Nothing is written to disk.

Examples:
  unifee serve site
  unifee serve site --port 8080
  unifee serve site --watch=false`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts, args, map[string]any{
				"serve": true,
			})
			if err != nil {
				return err
			}
			return runSite(cmd, cfg)
		},
	}

	cmd.Flags().BoolP("watch", "w", true, "rebuild pages when related assets change")
	cmd.Flags().Bool("yarn", false, "use yarn instead of npm for project builds")
	addBuildFlags(cmd)
	addServerFlags(cmd)
	return cmd
}
