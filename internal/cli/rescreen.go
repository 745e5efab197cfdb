package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/uzarakhq/bpsr-uza-modules/internal/logging"
	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
	"github.com/uzarakhq/bpsr-uza-modules/internal/optimizer"
	"github.com/uzarakhq/bpsr-uza-modules/internal/session"
)

var rescreenCmd = &cobra.Command{
	Use:   "rescreen",
	Short: "Re-run the optimizer against already-captured data",
	Long: `Re-run the optimizer against the modules captured by a prior monitor
run, with a new category/attribute/priority selection. This never opens
a capture backend -- it only works on data already sitting in memory, so
it is only useful within the same long-lived shell process as a prior
"monitor" invocation.

Examples:
  bpsrmon rescreen --category Support --priority "Crit Rate"`,
	RunE: runRescreen,
}

func init() {
	rescreenCmd.Flags().String("category", "All", "module category to optimize for (Attack, Guard, Support, All)")
	rescreenCmd.Flags().StringSlice("attributes", nil, "attributes under consideration (default: all)")
	rescreenCmd.Flags().StringSlice("priority", nil, "up to 6 prioritized attributes, most important first")
	rescreenCmd.Flags().Bool("priority-order", false, "rank solutions by priority-attribute level signature instead of combat-power score")
	rescreenCmd.Flags().Bool("json", false, "print ranked solutions as JSON instead of a table")
}

func runRescreen(cmd *cobra.Command, args []string) error {
	categoryName, _ := cmd.Flags().GetString("category")
	attributes, _ := cmd.Flags().GetStringSlice("attributes")
	priority, _ := cmd.Flags().GetStringSlice("priority")
	priorityOrder, _ := cmd.Flags().GetBool("priority-order")
	asJSON, _ := cmd.Flags().GetBool("json")

	category := model.ParseModuleCategory(categoryName)
	if category == model.CategoryUnknown {
		return fmt.Errorf("unknown category %q", categoryName)
	}

	params := session.Params{
		Category:          category,
		Attributes:        attributes,
		PrioritizedAttrs:  priority,
		PriorityOrderMode: priorityOrder,
	}

	cfg := GetConfig()
	log := logging.New(cfg.Logging)

	done := make(chan struct{})
	var ranked []optimizer.Ranked
	onEvent := func(e session.Event) {
		switch e.Kind {
		case session.EventProgress:
			fmt.Fprintln(cmd.OutOrStdout(), e.Message)
		case session.EventResultsReady:
			ranked = e.Solutions
			close(done)
		}
	}

	sess, err := session.New(cfg, log, onEvent)
	if err != nil {
		return fmt.Errorf("failed to build session: %w", err)
	}

	if err := sess.RescreenModules(params); err != nil {
		return fmt.Errorf("rescreen failed: %w", err)
	}

	<-done
	printRescreenResults(cmd, ranked, asJSON)
	return nil
}

func printRescreenResults(cmd *cobra.Command, ranked []optimizer.Ranked, asJSON bool) {
	if asJSON {
		data, err := json.MarshalIndent(ranked, "", "  ")
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to marshal solutions: %v\n", err)
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return
	}

	if len(ranked) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No viable solutions found.")
		return
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Rank\tScore\tFitness\tModules")
	fmt.Fprintln(w, "----\t-----\t-------\t-------")
	for i, r := range ranked {
		names := ""
		for j, m := range r.Solution.Modules {
			if j > 0 {
				names += ", "
			}
			names += m.Name
		}
		fmt.Fprintf(w, "%d\t%d\t%.2f\t%s\n", i+1, r.Solution.Score, r.Fitness, names)
	}
	w.Flush()
}
