package macrobox

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/macrobox/macrobox-cli/internal/cart"
	"github.com/macrobox/macrobox-cli/internal/model"
	"github.com/spf13/cobra"
)

var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Manage the local cart",
}

var (
	cartAddQty      int
	cartAddTitle    string
	cartAddPrice    float64
	cartAddProtein  float64
	cartAddCalories float64
	cartExportOut   string
)

func withCart(cmd *cobra.Command, run func(*cliEnv, *cart.Store) error) error {
	return withRuntime(cmd, func(rt *cliEnv) error {
		return run(rt, cart.Open(cmd.Context(), rt.kv))
	})
}

func printCart(w io.Writer, store *cart.Store) {
	lines := store.Lines()
	if len(lines) == 0 {
		fmt.Fprintln(w, "Cart is empty")
		return
	}
	fmt.Fprintln(w, "ID\tTITLE\tQTY\tPRICE\tLINE")
	for _, l := range lines {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", l.ItemID, l.Title, l.Quantity, rupeesFloat(l.UnitPrice), rupeesFloat(l.UnitPrice*float64(l.Quantity)))
	}
	t := store.Totals()
	fmt.Fprintf(w, "Items: %d\n", t.Count)
	fmt.Fprintf(w, "Protein: %sg\n", t.TotalProtein.StringFixed(1))
	fmt.Fprintf(w, "Calories: %s\n", t.TotalCalories.StringFixed(0))
	fmt.Fprintf(w, "Subtotal: %s\n", rupees(t.Subtotal))
}

var cartListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show cart contents and totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCart(cmd, func(_ *cliEnv, store *cart.Store) error {
			printCart(cmd.OutOrStdout(), store)
			return nil
		})
	},
}

var cartAddCmd = &cobra.Command{
	Use:   "add <meal-id>",
	Short: "Add a meal to the cart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cartAddQty < 1 {
			return fmt.Errorf("--qty must be >= 1")
		}
		id := strings.TrimSpace(args[0])
		return withCart(cmd, func(rt *cliEnv, store *cart.Store) error {
			item, err := resolveItem(cmd, rt, id)
			if err != nil {
				return err
			}
			for i := 0; i < cartAddQty; i++ {
				store.Add(item)
			}
			line, _ := store.Line(item.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (qty %d)\n", line.Title, line.Quantity)
			return nil
		})
	},
}

// resolveItem uses the catalog unless the item was described with flags,
// which lets a cart be built offline.
func resolveItem(cmd *cobra.Command, rt *cliEnv, id string) (model.Item, error) {
	if cmd.Flags().Changed("title") || cmd.Flags().Changed("price") {
		return model.Item{
			ID:       id,
			Title:    cartAddTitle,
			Price:    cartAddPrice,
			Protein:  cartAddProtein,
			Calories: cartAddCalories,
		}, nil
	}
	meals, err := rt.client.ListMeals(cmd.Context(), nil)
	if err != nil {
		return model.Item{}, describe(err)
	}
	for _, m := range meals {
		if m.ID == id {
			return m.Item(), nil
		}
	}
	return model.Item{}, fmt.Errorf("meal %s not found", id)
}

func cartStep(use, short, done string, apply func(*cart.Store, string)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <meal-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return withCart(cmd, func(_ *cliEnv, store *cart.Store) error {
				if _, ok := store.Line(id); !ok {
					return fmt.Errorf("meal %s is not in the cart", id)
				}
				apply(store, id)
				if line, ok := store.Line(id); ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s (qty %d)\n", done, line.Title, line.Quantity)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
				}
				return nil
			})
		},
	}
}

var cartRemoveCmd = cartStep("remove", "Remove a meal from the cart", "Removed", (*cart.Store).Remove)
var cartIncCmd = cartStep("inc", "Increase a meal's quantity by one", "Increased", (*cart.Store).Increase)
var cartDecCmd = cartStep("dec", "Decrease a meal's quantity by one", "Decreased", (*cart.Store).Decrease)

var cartClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the cart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCart(cmd, func(_ *cliEnv, store *cart.Store) error {
			store.Clear()
			fmt.Fprintln(cmd.OutOrStdout(), "Cart cleared")
			return nil
		})
	},
}

var cartExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the cart as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCart(cmd, func(_ *cliEnv, store *cart.Store) error {
			if cartExportOut == "" {
				return store.Export(cmd.OutOrStdout())
			}
			f, err := os.Create(cartExportOut)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			defer f.Close()
			if err := store.Export(f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d lines to %s\n", store.Len(), cartExportOut)
			return nil
		})
	},
}

var cartImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the cart with lines from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open import file: %w", err)
		}
		defer f.Close()
		return withCart(cmd, func(_ *cliEnv, store *cart.Store) error {
			n, err := store.Import(f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d lines\n", n)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(cartCmd)
	cartCmd.AddCommand(cartListCmd, cartAddCmd, cartRemoveCmd, cartIncCmd, cartDecCmd, cartClearCmd, cartExportCmd, cartImportCmd)

	cartAddCmd.Flags().IntVar(&cartAddQty, "qty", 1, "Quantity to add")
	cartAddCmd.Flags().StringVar(&cartAddTitle, "title", "", "Meal title (skips catalog lookup)")
	cartAddCmd.Flags().Float64Var(&cartAddPrice, "price", 0, "Unit price (skips catalog lookup)")
	cartAddCmd.Flags().Float64Var(&cartAddProtein, "protein", 0, "Protein grams per unit")
	cartAddCmd.Flags().Float64Var(&cartAddCalories, "calories", 0, "Calories per unit")
	cartExportCmd.Flags().StringVar(&cartExportOut, "out", "", "Output file (default: stdout)")
}
