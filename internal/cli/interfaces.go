package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/uzarakhq/bpsr-uza-modules/internal/capture"
)

var interfacesCmd = &cobra.Command{
	Use:     "interfaces",
	Aliases: []string{"if", "ifaces"},
	Short:   "List capture-capable network interfaces",
	Long: `List every network interface the capture backend can sniff from.

Examples:
  bpsrmon interfaces
  bpsrmon if --up`,
	RunE: runInterfaces,
}

func init() {
	interfacesCmd.Flags().BoolP("verbose", "V", false, "show detailed interface information")
	interfacesCmd.Flags().Bool("up", false, "show only interfaces carrying a non-loopback IPv4 address")
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	upOnly, _ := cmd.Flags().GetBool("up")

	interfaces, err := capture.ListInterfaces()
	if err != nil {
		return fmt.Errorf("failed to list interfaces: %w", err)
	}

	if len(interfaces) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No network interfaces found")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

	if verbose {
		fmt.Fprintln(w, "Name\tDescription\tClass\tAddresses")
		fmt.Fprintln(w, "----\t-----------\t-----\t---------")
	} else {
		fmt.Fprintln(w, "Name\tDescription\tAddresses")
		fmt.Fprintln(w, "----\t-----------\t---------")
	}

	for _, iface := range interfaces {
		if upOnly && !iface.HasNonLoopbackIPv4() {
			continue
		}

		addrs := ""
		for i, addr := range iface.Addresses {
			if i > 0 {
				addrs += ", "
			}
			addrs += addr.IP
		}
		if addrs == "" {
			addrs = "-"
		}

		desc := iface.Description
		if desc == "" {
			desc = "-"
		}

		if verbose {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", iface.Name, desc, iface.Class, addrs)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\n", iface.Name, desc, addrs)
		}
	}

	return w.Flush()
}
