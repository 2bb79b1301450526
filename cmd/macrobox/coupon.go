package macrobox

import (
	"fmt"
	"io"

	"github.com/macrobox/macrobox-cli/internal/cart"
	"github.com/macrobox/macrobox-cli/internal/checkout"
	"github.com/macrobox/macrobox-cli/internal/service"
	"github.com/spf13/cobra"
)

var couponCmd = &cobra.Command{
	Use:   "coupon",
	Short: "Check coupons against the current cart",
}

func newOrchestrator(cmd *cobra.Command, rt *cliEnv, store *cart.Store) *checkout.Orchestrator {
	return checkout.New(checkout.Deps{
		Cart:    store,
		Backend: rt.client,
		Widget:  rt.widget(cmd),
		Ledger:  service.NewAttemptLedger(rt.db),
	}, checkout.Config{
		Currency:       rt.cfg.Checkout.Currency,
		StoreName:      rt.cfg.Checkout.StoreName,
		PaymentTimeout: rt.cfg.Checkout.PaymentTimeout,
	})
}

func printMessage(w io.Writer, label string, m checkout.Message) {
	if m.Empty() {
		return
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", m.Kind, label, m.Text)
}

var couponApplyCmd = &cobra.Command{
	Use:   "apply <code>",
	Short: "Price a coupon against the cart subtotal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCart(cmd, func(rt *cliEnv, store *cart.Store) error {
			o := newOrchestrator(cmd, rt, store)
			o.SetCouponInput(args[0])
			err := o.ApplyCoupon(cmd.Context())
			v := o.View()
			printMessage(cmd.OutOrStdout(), "coupon", v.Messages.Coupon)
			if err != nil {
				return fmt.Errorf("coupon not applied")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Subtotal: %s\n", rupees(v.Subtotal))
			fmt.Fprintf(cmd.OutOrStdout(), "Discount: %s\n", rupees(v.Discount))
			fmt.Fprintf(cmd.OutOrStdout(), "Payable: %s\n", rupees(v.Payable))
			return nil
		})
	},
}

var couponAvailableCmd = &cobra.Command{
	Use:   "available",
	Short: "List coupons usable with the current cart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCart(cmd, func(rt *cliEnv, store *cart.Store) error {
			coupons, err := newOrchestrator(cmd, rt, store).EligibleCoupons(cmd.Context())
			if err != nil {
				return describe(err)
			}
			if len(coupons) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No coupons available for this cart")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "CODE\tTYPE\tVALUE\tMIN_CART\tMAX_DISCOUNT")
			for _, c := range coupons {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%g\t%s\t%s\n", c.Code, c.Type, c.Value, rupeesFloat(c.MinCartTotal), rupeesFloat(c.MaxDiscount))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(couponCmd)
	couponCmd.AddCommand(couponApplyCmd, couponAvailableCmd)
}
