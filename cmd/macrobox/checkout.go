package macrobox

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/macrobox/macrobox-cli/internal/cart"
	"github.com/macrobox/macrobox-cli/internal/checkout"
	"github.com/macrobox/macrobox-cli/internal/model"
	"github.com/macrobox/macrobox-cli/internal/slot"
	"github.com/spf13/cobra"
)

var (
	coName         string
	coPhone        string
	coLine1        string
	coLine2        string
	coCity         string
	coState        string
	coPincode      string
	coLocationText string
	coLat          float64
	coLng          float64
	coDate         string
	coTime         string
	coCoupon       string
	coNow          string
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Place an order for the cart and pay for it",
	Long: "checkout validates the delivery address and slot, creates the order, " +
		"opens the configured payment widget and verifies the payment. The cart is " +
		"cleared only after the payment is verified.",
	RunE: func(cmd *cobra.Command, args []string) error {
		now, err := parseNow(coNow)
		if err != nil {
			return err
		}
		addr := checkoutAddress(cmd)

		return withCart(cmd, func(rt *cliEnv, store *cart.Store) error {
			out := cmd.OutOrStdout()
			o := newOrchestrator(cmd, rt, store)
			o.SetAddress(addr)

			date := strings.TrimSpace(coDate)
			if date == "" {
				// Late in the day there may be nothing left today.
				date = slot.Today(now)
				if next, ok := slot.NextAvailable(now, slotHorizonDays); ok {
					date = next.Date
				}
			}
			o.SetSlotDate(date, now)
			if coTime != "" {
				hour, err := slot.ParseTime(coTime)
				if err != nil {
					return err
				}
				o.SetSlotHour(hour)
			}

			if code := strings.TrimSpace(coCoupon); code != "" {
				o.SetCouponInput(code)
				if err := o.ApplyCoupon(cmd.Context()); err != nil {
					printMessage(out, "coupon", o.Messages().Coupon)
					return fmt.Errorf("coupon not applied")
				}
				printMessage(out, "coupon", o.Messages().Coupon)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			res, err := o.Checkout(ctx, now)
			msgs := o.Messages()
			printMessage(out, "address", msgs.Address)
			printMessage(out, "slot", msgs.Slot)
			printMessage(out, "checkout", msgs.Checkout)
			if err != nil {
				rt.log.Warn("checkout did not complete", "outcome", res.Outcome, "attempt_id", res.AttemptID, "error", err)
				return fmt.Errorf("checkout %s", res.Outcome)
			}
			if res.Outcome == checkout.OutcomePaid {
				fmt.Fprintf(out, "Order %s paid: %s\n", res.OrderID, rupees(res.Payable))
			}
			return nil
		})
	},
}

func checkoutAddress(cmd *cobra.Command) model.Address {
	a := model.Address{
		FullName:     coName,
		Phone:        coPhone,
		Line1:        coLine1,
		Line2:        coLine2,
		City:         coCity,
		State:        coState,
		Pincode:      coPincode,
		LocationMode: model.LocationModeManual,
		LocationText: coLocationText,
	}
	if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng") {
		lat, lng := coLat, coLng
		a.LocationMode = model.LocationModeCurrent
		a.Lat = &lat
		a.Lng = &lng
		a.MapsURL = fmt.Sprintf("https://www.google.com/maps?q=%f,%f", lat, lng)
	}
	return a
}

func init() {
	rootCmd.AddCommand(checkoutCmd)
	f := checkoutCmd.Flags()
	f.StringVar(&coName, "name", "", "Recipient full name")
	f.StringVar(&coPhone, "phone", "", "Recipient phone")
	f.StringVar(&coLine1, "line1", "", "Address line 1")
	f.StringVar(&coLine2, "line2", "", "Address line 2")
	f.StringVar(&coCity, "city", "", "City")
	f.StringVar(&coState, "state", "", "State")
	f.StringVar(&coPincode, "pincode", "", "Pincode")
	f.StringVar(&coLocationText, "location-text", "", "Landmark, maps link or free-form location")
	f.Float64Var(&coLat, "lat", 0, "Delivery latitude (with --lng)")
	f.Float64Var(&coLng, "lng", 0, "Delivery longitude (with --lat)")
	f.StringVar(&coDate, "date", "", "Delivery date YYYY-MM-DD (default: today)")
	f.StringVar(&coTime, "time", "", "Delivery time HH:00 (default: first available)")
	f.StringVar(&coCoupon, "coupon", "", "Coupon code to apply")
	f.StringVar(&coNow, "now", "", "Evaluate slots as of YYYY-MM-DD HH:MM local time")
}
