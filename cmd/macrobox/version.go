package macrobox

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/macrobox/macrobox-cli/cmd/macrobox.version=..."
var (
	version = "dev"
	commit  = ""
	date    = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version/build metadata",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func printVersion(cmd *cobra.Command) {
	c, d := commit, date
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if c == "" {
					c = s.Value
				}
			case "vcs.time":
				if d == "" {
					d = s.Value
				}
			}
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "macrobox %s\n", version)
	if c != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "commit: %s\n", c)
	}
	if d != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "built: %s\n", d)
	}
}
