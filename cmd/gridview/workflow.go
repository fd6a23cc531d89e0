package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridfleet/gridview/internal/tui"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Inspect and control workflows",
}

var workflowStatusFilter string

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows",
	RunE:  runWorkflowList,
}

var workflowGetCmd = &cobra.Command{
	Use:   "get [workflow-id]",
	Short: "Show a workflow and its task groups",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowGet,
}

var workflowCancelCmd = &cobra.Command{
	Use:   "cancel [workflow-id]",
	Short: "Cancel a workflow and its pending/running tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowCancel,
}

func init() {
	workflowListCmd.Flags().StringVar(&workflowStatusFilter, "status", "", "Filter by status")
	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowGetCmd)
	workflowCmd.AddCommand(workflowCancelCmd)
}

func runWorkflowList(cmd *cobra.Command, args []string) error {
	client := tui.NewClient(apiAddr)
	workflows, err := client.ListWorkflows(workflowStatusFilter)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tAGE\tLABELS")
	for _, wf := range workflows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			shortID(wf.ID), wf.Name, wf.Status, age(wf.CreatedAt), wf.Labels)
	}
	return w.Flush()
}

func runWorkflowGet(cmd *cobra.Command, args []string) error {
	client := tui.NewClient(apiAddr)

	wf, err := client.GetWorkflow(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Name:    %s\n", wf.Name)
	fmt.Printf("ID:      %s\n", wf.ID)
	fmt.Printf("Status:  %s\n", wf.Status)
	if wf.Labels != "" {
		fmt.Printf("Labels:  %s\n", wf.Labels)
	}
	fmt.Printf("Created: %s\n", wf.CreatedAt.Local().Format(time.RFC822))
	if wf.StartedAt != nil {
		fmt.Printf("Started: %s\n", wf.StartedAt.Local().Format(time.RFC822))
	}
	if wf.EndedAt != nil {
		fmt.Printf("Ended:   %s\n", wf.EndedAt.Local().Format(time.RFC822))
	}

	groups, err := client.ListGroups(wf.ID)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tID\tSTATUS\tTASKS\tRUNNING\tDONE\tFAILED")
	for _, g := range groups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			g.Name, shortID(g.ID), g.Status, g.Stats.Total, g.Stats.Running, g.Stats.Succeeded, g.Stats.Failed)
	}
	return w.Flush()
}

func runWorkflowCancel(cmd *cobra.Command, args []string) error {
	client := tui.NewClient(apiAddr)
	if err := client.CancelWorkflow(args[0]); err != nil {
		return err
	}
	fmt.Printf("Workflow %s canceled\n", args[0])
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func age(t time.Time) string {
	d := time.Since(t).Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
