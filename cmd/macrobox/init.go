package macrobox

import (
	"fmt"
	"io"

	"github.com/macrobox/macrobox-cli/internal/app"
	"github.com/macrobox/macrobox-cli/internal/checkout"
	"github.com/macrobox/macrobox-cli/internal/db"
	"github.com/macrobox/macrobox-cli/internal/service"
	"github.com/macrobox/macrobox-cli/internal/slot"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the local store for the cart, session and checkout attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveDBPath()
		if err != nil {
			return err
		}
		if err := app.EnsureDBDir(path); err != nil {
			return err
		}

		sqldb, err := db.Open(path)
		if err != nil {
			return err
		}
		defer sqldb.Close()

		if err := db.ApplyMigrations(sqldb); err != nil {
			return err
		}

		sum, err := service.Summarize(cmd.Context(), sqldb)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "MacroBox store ready at %s\n", path)
		printSummary(out, sum)

		now := nowFunc()
		today := slot.Today(now)
		fmt.Fprintf(out, "Slots left today\t%d\n", len(slot.AllowedHours(today, now)))
		if next, ok := slot.NextAvailable(now, slotHorizonDays); ok {
			fmt.Fprintf(out, "Next delivery\t%s %s\n", next.Date, slot.Format12h(next.Hour))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func printSummary(w io.Writer, sum service.LocalSummary) {
	fmt.Fprintf(w, "Schema version\t%d\n", sum.SchemaVersion)
	if sum.CartMalformed {
		fmt.Fprintln(w, "Cart\tunreadable (run doctor --fix)")
	} else {
		fmt.Fprintf(w, "Cart\t%d lines, %d items\n", sum.CartLines, sum.CartItems)
	}
	fmt.Fprintf(w, "Checkout attempts\t%d pending, %d completed, %d abandoned\n",
		sum.Attempts[checkout.AttemptPending], sum.Attempts[checkout.AttemptCompleted], sum.Attempts[checkout.AttemptAbandoned])
}

func resolveDBPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	return app.DefaultDBPath()
}
