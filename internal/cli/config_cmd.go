package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := os.Getenv("PHOTOBOOTH_CONFIG")
			if cfgPath == "" {
				cfgPath = "(default) ~/.config/photobooth/config.json"
			}
			fmt.Fprintf(out, "Config file: %s\n\n", cfgPath)

			data, err := json.MarshalIndent(root.cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		},
	}

	cmd.AddCommand(showCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("photobooth v%s\n", Version)
			cmd.Printf("Built with Go %s\n", runtime.Version())
			cmd.Printf("Templates: %s\n", root.cfg.Paths.TemplatesDir)
		},
	}
}
