package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/uzarakhq/bpsr-uza-modules/internal/logging"
	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
	"github.com/uzarakhq/bpsr-uza-modules/internal/optimizer"
	"github.com/uzarakhq/bpsr-uza-modules/internal/session"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor live game traffic and optimize module combinations",
	Long: `Start passively monitoring an interface for game server traffic. As soon
as a new module is captured, capture stops automatically and the optimizer
runs once against everything collected so far, reporting the best 4-module
combinations. Ctrl-C ends the process; it is only needed if no module is
ever captured.

Examples:
  bpsrmon monitor -i en0 --category Attack
  bpsrmon monitor --category Guard --priority "Crit Rate,Special Attack" --json`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringP("interface", "i", "", "network interface to capture from (default: auto-select)")
	monitorCmd.Flags().String("category", "All", "module category to optimize for (Attack, Guard, Support, All)")
	monitorCmd.Flags().StringSlice("attributes", nil, "attributes under consideration (default: all)")
	monitorCmd.Flags().StringSlice("priority", nil, "up to 6 prioritized attributes, most important first")
	monitorCmd.Flags().Bool("priority-order", false, "rank solutions by priority-attribute level signature instead of combat-power score")
	monitorCmd.Flags().Bool("json", false, "print ranked solutions as JSON instead of a table")
	monitorCmd.Flags().Bool("stats", false, "show capture statistics on exit")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	iface, _ := cmd.Flags().GetString("interface")
	categoryName, _ := cmd.Flags().GetString("category")
	attributes, _ := cmd.Flags().GetStringSlice("attributes")
	priority, _ := cmd.Flags().GetStringSlice("priority")
	priorityOrder, _ := cmd.Flags().GetBool("priority-order")
	asJSON, _ := cmd.Flags().GetBool("json")
	showStats, _ := cmd.Flags().GetBool("stats")

	category := model.ParseModuleCategory(categoryName)
	if category == model.CategoryUnknown {
		return fmt.Errorf("unknown category %q", categoryName)
	}

	params := session.Params{
		InterfaceName:     iface,
		Category:          category,
		Attributes:        attributes,
		PrioritizedAttrs:  priority,
		PriorityOrderMode: priorityOrder,
	}

	cfg := GetConfig()
	log := logging.New(cfg.Logging)

	var latest []optimizer.Ranked
	resultsDone := make(chan struct{}, 1)
	onEvent := func(e session.Event) {
		switch e.Kind {
		case session.EventProgress:
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", time.Now().Format("15:04:05"), e.Message)
		case session.EventDataCaptured:
			fmt.Fprintln(cmd.OutOrStdout(), "Data captured, optimizing...")
		case session.EventResultsReady:
			latest = e.Solutions
			printSolutions(cmd, latest, asJSON)
			select {
			case resultsDone <- struct{}{}:
			default:
			}
		case session.EventMonitoringStopped:
			fmt.Fprintln(cmd.OutOrStdout(), "Monitoring stopped.")
		}
	}

	sess, err := session.New(cfg, log, onEvent)
	if err != nil {
		return fmt.Errorf("failed to build session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sess.StartMonitoring(ctx, params); err != nil {
		return fmt.Errorf("failed to start monitoring: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")
	select {
	case <-sigChan:
		fmt.Fprintln(cmd.OutOrStdout(), "\nStopping...")
	case <-resultsDone:
	}

	if err := sess.StopMonitoring(); err != nil {
		return fmt.Errorf("failed to stop monitoring: %w", err)
	}

	if latest == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "No solutions found.")
	}

	if showStats {
		stats := sess.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "  Received: %d\n", stats.PacketsReceived)
		fmt.Fprintf(cmd.OutOrStdout(), "  Dropped: %d\n", stats.PacketsDropped)
		fmt.Fprintf(cmd.OutOrStdout(), "  Interface drops: %d\n", stats.PacketsIfDropped)
		fmt.Fprintf(cmd.OutOrStdout(), "  Bytes: %d\n", stats.BytesReceived)
	}

	return nil
}

// printSolutions renders ranked solutions either as a tabwriter table or
// as JSON.
func printSolutions(cmd *cobra.Command, ranked []optimizer.Ranked, asJSON bool) {
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
