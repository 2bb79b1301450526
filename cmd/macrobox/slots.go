package macrobox

import (
	"fmt"
	"strings"

	"github.com/macrobox/macrobox-cli/internal/slot"
	"github.com/spf13/cobra"
)

const slotHorizonDays = 7

var (
	slotsDate string
	slotsNow  string
)

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Show delivery slots for a date",
	RunE: func(cmd *cobra.Command, args []string) error {
		now, err := parseNow(slotsNow)
		if err != nil {
			return err
		}
		date := strings.TrimSpace(slotsDate)
		if date == "" {
			date = slot.Today(now)
		}
		if _, err := slot.Start(date, slot.FirstHour, now.Location()); err != nil {
			return fmt.Errorf("invalid --date %q (expected YYYY-MM-DD)", date)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Delivery slots for %s\n", date)
		for _, h := range slot.Hours() {
			allowed := slot.IsAllowed(date, h, now)
			mark := " "
			if allowed {
				mark = "*"
			}
			fmt.Fprintf(out, "%s %s\t%s\n", mark, slot.FormatTime(h), slot.Label(h, allowed))
		}
		if _, ok := slot.FirstAllowed(date, now); !ok {
			if next, ok := slot.NextAvailable(now, slotHorizonDays); ok {
				fmt.Fprintf(out, "No slots left on %s. Next available: %s %s\n", date, next.Date, slot.FormatTime(next.Hour))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(slotsCmd)
	slotsCmd.Flags().StringVar(&slotsDate, "date", "", "Delivery date YYYY-MM-DD (default: today)")
	slotsCmd.Flags().StringVar(&slotsNow, "now", "", "Evaluate as of YYYY-MM-DD HH:MM local time")
}
