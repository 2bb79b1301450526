package macrobox

import (
	"fmt"
	"time"

	"github.com/macrobox/macrobox-cli/internal/checkout"
	"github.com/macrobox/macrobox-cli/internal/service"
	"github.com/spf13/cobra"
)

var (
	ordersPending bool
	ordersLocal   bool
	ordersLimit   int
)

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List your orders",
	Long: "orders lists orders from the storefront. With --pending or --local it " +
		"lists checkout attempts recorded on this machine instead.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(rt *cliEnv) error {
			if ordersPending || ordersLocal {
				status := checkout.AttemptStatus("")
				if ordersPending {
					status = checkout.AttemptPending
				}
				attempts, err := service.ListAttempts(cmd.Context(), rt.db, status, ordersLimit)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ATTEMPT\tORDER\tSTATUS\tAMOUNT\tSLOT\tUPDATED\tMESSAGE")
				for _, a := range attempts {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%s %s\t%s\t%s\n",
						a.ID, a.OrderID, a.Status, minorUnits(a.Amount, a.Currency), a.SlotDate, a.SlotTime,
						a.UpdatedAt.Local().Format(time.RFC3339), a.Message)
				}
				return nil
			}

			orders, err := rt.client.ListOrders(cmd.Context())
			if err != nil {
				return describe(err)
			}
			if len(orders) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No orders yet")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ORDER\tPLACED\tPAYABLE\tPAYMENT\tSLOT\tLOCATION")
			for _, o := range orders {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%s %s\t%s\n",
					o.ID, o.CreatedAt.Local().Format("2006-01-02 15:04"), rupeesFloat(o.Totals.Payable), o.Payment.Status,
					o.Delivery.Slot.Date, o.Delivery.Slot.Time, o.Delivery.Address.MapsLink())
			}
			return nil
		})
	},
}

// minorUnits renders a gateway amount (paise) in major units.
func minorUnits(amount int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", amount/100, amount%100, currency)
}

func init() {
	rootCmd.AddCommand(ordersCmd)
	ordersCmd.Flags().BoolVar(&ordersPending, "pending", false, "Only local attempts still awaiting an outcome")
	ordersCmd.Flags().BoolVar(&ordersLocal, "local", false, "All local checkout attempts")
	ordersCmd.Flags().IntVar(&ordersLimit, "limit", 50, "Max local attempts to show")
}
