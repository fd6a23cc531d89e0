package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gridview",
	Short: "gridview - GPU workload platform operations console",
	Long: `gridview is an operations console for a GPU workload platform:
workflows, task groups, tasks, resource pools and nodes, with an
interactive shell into any task.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7411", "API server address")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(dashCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(shellCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
