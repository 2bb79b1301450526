package macrobox

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/macrobox/macrobox-cli/internal/config"
	"github.com/macrobox/macrobox-cli/internal/service"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage macrobox local configuration",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a configuration override",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.TrimSpace(strings.ToLower(args[0]))
		if !config.IsKnownKey(key) {
			return fmt.Errorf("unknown config key %q (see `macrobox config keys`)", args[0])
		}
		return withDB(func(sqldb *sql.DB) error {
			if _, err := loadConfig(sqldb, map[string]string{key: args[1]}); err != nil {
				return fmt.Errorf("rejecting %s: %w", key, err)
			}
			if err := service.SetConfig(sqldb, key, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", key)
			return nil
		})
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Show stored configuration overrides",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(sqldb *sql.DB) error {
			if len(args) == 1 {
				value, ok, err := service.GetConfig(sqldb, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("config key %q is not set", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			}
			cfg, err := service.ListConfig(sqldb)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(cfg))
			for k := range cfg {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintln(cmd.OutOrStdout(), "KEY\tVALUE")
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", k, cfg[k])
			}
			return nil
		})
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(sqldb *sql.DB) error {
			removed, err := service.UnsetConfig(sqldb, args[0])
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not set\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", args[0])
			return nil
		})
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List settable configuration keys",
	Run: func(cmd *cobra.Command, args []string) {
		keys := config.Keys()
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd, configGetCmd, configUnsetCmd, configKeysCmd)
}
