package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/unifee/internal/version"
)

func newVersionCommand() *cobra.Command {
	var (
		format string
		short  bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the unifee version, git commit, build time, Go version and
target platform.

Examples:
  unifee version
  unifee version --short
  unifee version --format json`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			out := cmd.OutOrStdout()

			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			case "text":
			default:
				return fmt.Errorf("unsupported format: %s (supported: text, json)", format)
			}

			if short {
				_, err := fmt.Fprintln(out, info.Version)
				return err
			}

			fmt.Fprintf(out, "unifee %s\n", info.Short())
			if !info.BuildTime.IsZero() {
				fmt.Fprintf(out, "Built: %s\n", info.BuildTime.UTC().Format("2006-01-02 15:04:05 UTC"))
			}
			fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
			fmt.Fprintf(out, "Platform: %s\n", info.Platform)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, json)")
	cmd.Flags().BoolVar(&short, "short", false, "show the version number only")
	return cmd
}
