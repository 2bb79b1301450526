package macrobox

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	dbPath     string
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "macrobox",
	Short: "macrobox orders MacroBox meals from your terminal",
	Long:  "macrobox is a local-first client for the MacroBox meal storefront: browse meals, keep a cart, pick a delivery slot and check out.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite database")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Mirror logs to stderr")
}
