package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect unifee configuration",
	}

	var format string
	showCmd := &cobra.Command{
		Use:   "show [dir]",
		Short: "Show the resolved configuration",
		Long: `Display the configuration after reading .unifee.yml, the .env file,
UNIFEE_ environment variables and flags, with defaults applied.

Examples:
  unifee config show
  unifee config show --format json
  unifee config show site --port 8080`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts, args, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(cfg); err != nil {
					return err
				}
				return enc.Close()
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			default:
				return fmt.Errorf("unsupported format: %s (supported: yaml, json)", format)
			}
		},
	}

	showCmd.Flags().StringVar(&format, "format", "yaml", "output format (yaml, json)")
	showCmd.Flags().StringP("output", "o", "", "directory the built pages are written to")
	showCmd.Flags().Bool("yarn", false, "use yarn instead of npm for project builds")
	addBuildFlags(showCmd)
	addServerFlags(showCmd)

	configCmd.AddCommand(showCmd)
	return configCmd
}
