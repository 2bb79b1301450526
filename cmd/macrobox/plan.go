package macrobox

import (
	"fmt"
	"strings"

	"github.com/macrobox/macrobox-cli/internal/api"
	"github.com/spf13/cobra"
)

var planItems []string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build a day plan from storefront meals",
}

var planSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save meals against breakfast, lunch, snack or dinner",
	Example: `  macrobox plan save --item m1=breakfast --item m2=dinner`,
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := parsePlanItems(planItems)
		if err != nil {
			return err
		}
		return withRuntime(cmd, func(rt *cliEnv) error {
			meals, err := rt.client.ListMeals(cmd.Context(), nil)
			if err != nil {
				return describe(err)
			}
			var protein, calories float64
			for _, it := range items {
				found := false
				for _, m := range meals {
					if m.ID == it.MealID {
						protein += m.Protein
						calories += m.Calories
						found = true
						break
					}
				}
				if !found {
					return fmt.Errorf("unknown meal %q", it.MealID)
				}
			}
			if err := rt.client.SaveDayPlan(cmd.Context(), items); err != nil {
				rt.log.Warn("save day plan failed", "items", len(items), "error", err)
				return describe(err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "MEAL\tTIME")
			for _, it := range items {
				fmt.Fprintf(out, "%s\t%s\n", it.MealID, it.TimeOfDay)
			}
			fmt.Fprintf(out, "Total protein\t%.1fg\n", protein)
			fmt.Fprintf(out, "Total calories\t%.0f\n", calories)
			fmt.Fprintln(out, "Plan saved!")
			return nil
		})
	},
}

// parsePlanItems reads mealId=timeOfDay pairs. A meal named twice keeps its
// last time of day.
func parsePlanItems(raw []string) ([]api.PlanItem, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one --item mealId=timeOfDay is required")
	}
	var items []api.PlanItem
	index := map[string]int{}
	for _, r := range raw {
		id, tod, ok := strings.Cut(r, "=")
		id = strings.TrimSpace(id)
		tod = strings.ToLower(strings.TrimSpace(tod))
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid --item %q, want mealId=timeOfDay", r)
		}
		if !api.ValidTimeOfDay(tod) {
			return nil, fmt.Errorf("invalid time of day %q, want one of %s", tod, strings.Join(api.TimesOfDay, ", "))
		}
		if i, seen := index[id]; seen {
			items[i].TimeOfDay = tod
			continue
		}
		index[id] = len(items)
		items = append(items, api.PlanItem{MealID: id, TimeOfDay: tod})
	}
	return items, nil
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(planSaveCmd)
	planSaveCmd.Flags().StringArrayVar(&planItems, "item", nil, "Meal assignment as mealId=timeOfDay (repeatable)")
}
