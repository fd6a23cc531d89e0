package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gridfleet/gridview/internal/tui"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect resource pools",
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pools with resource utilization",
	RunE:  runPoolList,
}

func init() {
	poolCmd.AddCommand(poolListCmd)
}

func runPoolList(cmd *cobra.Command, args []string) error {
	client := tui.NewClient(apiAddr)
	pools, err := client.ListPools()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "POOL\tNODES\tRESOURCE\tALLOCATED\tCAPACITY\tUTIL")
	for _, p := range pools {
		if len(p.Resources) == 0 {
			fmt.Fprintf(w, "%s\t%d\t-\t-\t-\t-\n", p.Name, p.NodeCount)
			continue
		}
		for i, r := range p.Resources {
			name, nodes := p.Name, fmt.Sprintf("%d", p.NodeCount)
			if i > 0 {
				name, nodes = "", ""
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.0f%%\n",
				name, nodes, r.Kind,
				formatAmount(r.Allocated, r.Unit),
				formatAmount(r.Capacity, r.Unit),
				r.Utilization()*100)
		}
	}
	return w.Flush()
}

func formatAmount(v float64, unit string) string {
	if unit == "" {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.0f %s", v, unit)
}
