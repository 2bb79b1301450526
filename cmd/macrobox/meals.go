package macrobox

import (
	"fmt"

	"github.com/spf13/cobra"
)

var mealsFeatured bool

var mealsCmd = &cobra.Command{
	Use:   "meals",
	Short: "List meals on the storefront",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(rt *cliEnv) error {
			var featured *bool
			if cmd.Flags().Changed("featured") {
				featured = &mealsFeatured
			}
			meals, err := rt.client.ListMeals(cmd.Context(), featured)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ID\tTITLE\tPRICE\tPROTEIN\tCALORIES")
			for _, m := range meals {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%.1fg\t%.0f\n", m.ID, m.Title, rupeesFloat(m.Price), m.Protein, m.Calories)
			}
			return nil
		})
	},
}

var mealsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one meal in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(rt *cliEnv) error {
			m, err := rt.client.GetMeal(cmd.Context(), args[0])
			if err != nil {
				return describe(err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, m.Title)
			if m.Description != "" {
				fmt.Fprintln(out, m.Description)
			}
			fmt.Fprintf(out, "Price\t%s\n", rupeesFloat(m.Price))
			fmt.Fprintf(out, "Protein\t%.1fg\n", m.Protein)
			fmt.Fprintf(out, "Calories\t%.0f\n", m.Calories)
			if m.Featured {
				fmt.Fprintln(out, "Featured\tyes")
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(mealsCmd)
	mealsCmd.AddCommand(mealsShowCmd)
	mealsCmd.Flags().BoolVar(&mealsFeatured, "featured", false, "Only featured meals")
}
