package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridfleet/gridview/internal/tui"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect compute nodes",
}

var nodePoolFilter string

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes",
	RunE:  runNodeList,
}

var nodeGetCmd = &cobra.Command{
	Use:   "get [node-name]",
	Short: "Show a node and its GPU devices",
	Args:  cobra.ExactArgs(1),
	RunE:  runNodeGet,
}

func init() {
	nodeListCmd.Flags().StringVar(&nodePoolFilter, "pool", "", "Filter by pool ID")
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeGetCmd)
}

func runNodeList(cmd *cobra.Command, args []string) error {
	client := tui.NewClient(apiAddr)
	nodes, err := client.ListNodes(nodePoolFilter)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tGPU\tCPU\tMEMORY\tHEARTBEAT")
	for _, n := range nodes {
		hb := "-"
		if n.HeartbeatAt != nil {
			hb = time.Since(*n.HeartbeatAt).Round(time.Second).String() + " ago"
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%dm\t%dGiB\t%s\n",
			n.Name, n.Status, n.GPUAllocated, n.GPUCapacity,
			n.CPUMillis, n.MemoryBytes>>30, hb)
	}
	return w.Flush()
}

func runNodeGet(cmd *cobra.Command, args []string) error {
	client := tui.NewClient(apiAddr)
	n, err := client.GetNode(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Name:   %s\n", n.Name)
	fmt.Printf("Pool:   %s\n", n.PoolID)
	fmt.Printf("Status: %s\n", n.Status)
	fmt.Printf("GPUs:   %d/%d allocated\n", n.GPUAllocated, n.GPUCapacity)
	if len(n.Devices) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "GPU\tMODEL\tMEMORY\tUTIL\tTEMP")
	for _, d := range n.Devices {
		fmt.Fprintf(w, "%d\t%s\t%dMiB\t%.0f%%\t%.0fC\n",
			d.Index, d.Model, d.MemoryMiB, d.Utilization*100, d.Temperature)
	}
	return w.Flush()
}
