package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridfleet/gridview/internal/tui"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and control tasks",
}

var taskStatusFilter string

var taskListCmd = &cobra.Command{
	Use:   "list [group-id]",
	Short: "List the tasks of a group",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskList,
}

var taskGetCmd = &cobra.Command{
	Use:   "get [task-id]",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskGet,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

func init() {
	taskListCmd.Flags().StringVar(&taskStatusFilter, "status", "", "Filter by status")
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskCancelCmd)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	client := tui.NewClient(apiAddr)
	tasks, err := client.ListTasks(args[0], taskStatusFilter)
	if err != nil {
		return err
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tNODE\tGPUS\tDURATION")
	for _, t := range tasks {
		dur := "-"
		if d := t.Duration(now); d > 0 {
			dur = d.Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(t.ID), t.Name, t.Status, orDash(t.NodeName), t.GPUs, dur)
	}
	return w.Flush()
}

func runTaskGet(cmd *cobra.Command, args []string) error {
	client := tui.NewClient(apiAddr)
	t, err := client.GetTask(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Name:     %s\n", t.Name)
	fmt.Printf("ID:       %s\n", t.ID)
	fmt.Printf("Workflow: %s\n", t.WorkflowID)
	fmt.Printf("Group:    %s\n", t.GroupID)
	fmt.Printf("Status:   %s\n", t.Status)
	fmt.Printf("Node:     %s\n", orDash(t.NodeName))
	fmt.Printf("Image:    %s\n", orDash(t.Image))
	fmt.Printf("GPUs:     %d\n", t.GPUs)
	if t.ExitCode != nil {
		fmt.Printf("Exit:     %d\n", *t.ExitCode)
	}
	if d := t.Duration(time.Now()); d > 0 {
		fmt.Printf("Duration: %s\n", d.Round(time.Second))
	}
	if t.HeartbeatAt != nil {
		fmt.Printf("Heartbeat: %s ago\n", time.Since(*t.HeartbeatAt).Round(time.Second))
	}

	sessions, err := client.ListSessions(t.ID)
	if err != nil {
		return err
	}
	if len(sessions) > 0 {
		fmt.Println("\nShell sessions:")
		for _, s := range sessions {
			marker := " "
			if s.Attached {
				marker = "*"
			}
			fmt.Printf("  %s %s  %s  %s\n", marker, shortID(s.ID), s.State, s.Shell)
		}
	}
	return nil
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	client := tui.NewClient(apiAddr)
	if err := client.CancelTask(args[0]); err != nil {
		return err
	}
	fmt.Printf("Task %s canceled\n", args[0])
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
