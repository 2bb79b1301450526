package macrobox

import (
	"fmt"
	"io"

	"github.com/macrobox/macrobox-cli/internal/service"
	"github.com/spf13/cobra"
)

var doctorFix bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run local data integrity checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(rt *cliEnv) error {
			now := nowFunc()
			report, err := service.RunDoctor(cmd.Context(), rt.db, rt.kv, now, doctorFix)
			if err != nil {
				return err
			}
			printDoctor(cmd.OutOrStdout(), report)
			if doctorFix {
				fmt.Fprintf(cmd.OutOrStdout(), "Fixed cart: %t\n", report.FixedCart)
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared session: %t\n", report.ClearedSession)
				fmt.Fprintf(cmd.OutOrStdout(), "Abandoned attempts: %d\n", report.AbandonedAttempts)
				// Re-check after fixes so exit status reflects final state.
				report, err = service.RunDoctor(cmd.Context(), rt.db, rt.kv, now, false)
				if err != nil {
					return err
				}
			}
			if !report.Healthy() {
				return fmt.Errorf("doctor found integrity issues")
			}
			return nil
		})
	},
}

func printDoctor(w io.Writer, r service.DoctorReport) {
	fmt.Fprintf(w, "Cart malformed: %t\n", r.CartMalformed)
	fmt.Fprintf(w, "Invalid cart lines: %d\n", r.InvalidCartLines)
	fmt.Fprintf(w, "Duplicate cart lines: %d\n", r.DuplicateCartLines)
	fmt.Fprintf(w, "Session expired: %t\n", r.SessionExpired)
	fmt.Fprintf(w, "Stale pending attempts: %d\n", r.StalePendingAttempts)
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Attempt safe auto-fixes")
}
