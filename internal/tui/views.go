package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gridfleet/gridview/internal/models"
)

// View implements tea.Model
func (a *App) View() string {
	if a.mode == "shell" {
		return a.renderShell()
	}

	var b strings.Builder

	daemonStatus := daemonOnlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = daemonOfflineStyle.Render("○ DAEMON")
	}

	header := titleStyle.Render("GRIDVIEW") + "  " + daemonStatus
	header += "  " + breadcrumbStyle.Render(a.breadcrumb())
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 20)) + "\n")

	contentHeight := a.height - 6
	if contentHeight < 5 {
		contentHeight = 5
	}

	switch a.mode {
	case "workflows":
		b.WriteString(a.renderWorkflows(contentHeight))
	case "groups":
		b.WriteString(a.renderGroups(contentHeight))
	case "tasks":
		b.WriteString(a.renderTasks(contentHeight))
	case "detail":
		b.WriteString(a.renderTaskDetail(contentHeight))
	case "pools":
		b.WriteString(a.renderPools(contentHeight))
	case "nodes":
		b.WriteString(a.renderNodes(contentHeight))
	}

	// Message bar
	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	}
	b.WriteString("\n")

	b.WriteString(statusBarStyle.Width(max(a.width, 20)).Render(a.statusLine()))
	return b.String()
}

// breadcrumb shows where the current view sits in the hierarchy.
func (a *App) breadcrumb() string {
	switch a.mode {
	case "workflows":
		return "workflows"
	case "groups":
		return "workflows ▸ " + a.selectedWorkflowName()
	case "tasks":
		return "workflows ▸ " + a.selectedWorkflowName() + " ▸ " + a.selectedGroupName()
	case "detail":
		name := ""
		if a.currentTask != nil {
			name = a.currentTask.Name
		}
		return "workflows ▸ " + a.selectedWorkflowName() + " ▸ " + a.selectedGroupName() + " ▸ " + name
	case "pools":
		return "pools"
	case "nodes":
		return "nodes"
	}
	return ""
}

func (a *App) selectedWorkflowName() string {
	if a.workflowIdx < len(a.workflows) {
		return a.workflows[a.workflowIdx].Name
	}
	return "?"
}

func (a *App) selectedGroupName() string {
	if a.groupIdx < len(a.groups) {
		return a.groups[a.groupIdx].Name
	}
	return "?"
}

func (a *App) statusLine() string {
	switch a.mode {
	case "workflows":
		return fmt.Sprintf(" Workflows: %d | ↑↓:nav | Enter:groups | c:cancel | p:pools | n:nodes | r:refresh | q:quit", len(a.workflows))
	case "groups":
		return fmt.Sprintf(" Groups: %d | ↑↓:nav | Enter:tasks | Esc:back | r:refresh", len(a.groups))
	case "tasks":
		s := a.stats.For(a.tasks)
		return fmt.Sprintf(" Tasks: %d (%d running, %d GPUs) | Tab:filter [%s] | o:sort [%s] | Enter:detail | s:shell | c:cancel | Esc:back",
			s.Total, s.Running, s.GPUs, filterNames[a.filterIdx], taskSorts[a.sortIdx])
	case "detail":
		return " s:shell | c:cancel | Esc:back | r:refresh"
	case "pools":
		return fmt.Sprintf(" Pools: %d | ↑↓:nav | Enter:nodes | w:workflows | n:all nodes | r:refresh", len(a.pools))
	case "nodes":
		return fmt.Sprintf(" Nodes: %d | ↑↓:nav | w:workflows | p:pools | Esc:back | r:refresh", len(a.nodes))
	}
	return ""
}

func (a *App) renderWorkflows(height int) string {
	if a.loading && len(a.workflows) == 0 {
		return "\n  Loading workflows...\n"
	}
	if len(a.workflows) == 0 {
		return "\n  No workflows found.\n"
	}

	var lines []string
	for i, wf := range a.workflows {
		age := compactDuration(a.now.Sub(wf.CreatedAt))
		text := fmt.Sprintf("%s  %-30s %s", formatWorkflowStatus(wf.Status), truncate(wf.Name, 30), age)
		if i == a.workflowIdx {
			lines = append(lines, selectedStyle.Render("▶ "+plainWorkflowStatus(wf.Status)+"  "+truncate(wf.Name, 30)+"  "+age))
		} else {
			lines = append(lines, rowStyle.Render("  "+text))
		}
	}
	return clampLines(lines, height, a.workflowIdx)
}

func (a *App) renderGroups(height int) string {
	if a.loading && len(a.groups) == 0 {
		return "\n  Loading groups...\n"
	}
	if len(a.groups) == 0 {
		return "\n  No task groups in this workflow.\n"
	}

	var lines []string
	for i, g := range a.groups {
		counts := fmt.Sprintf("%d/%d done", g.Stats.Succeeded, g.Stats.Total)
		if g.Stats.Failed > 0 {
			counts += fmt.Sprintf(", %d failed", g.Stats.Failed)
		}
		if g.Stats.Running > 0 {
			counts += fmt.Sprintf(", %d running", g.Stats.Running)
		}
		text := fmt.Sprintf("%s  %-24s %s", formatWorkflowStatus(g.Status), truncate(g.Name, 24), counts)
		if i == a.groupIdx {
			lines = append(lines, selectedStyle.Render("▶ "+plainWorkflowStatus(g.Status)+"  "+truncate(g.Name, 24)+"  "+counts))
		} else {
			lines = append(lines, rowStyle.Render("  "+text))
		}
	}
	return clampLines(lines, height, a.groupIdx)
}

func (a *App) renderTasks(height int) string {
	if a.loading && len(a.tasks) == 0 {
		return "\n  Loading tasks...\n"
	}
	if len(a.tasks) == 0 {
		return "\n  No tasks match this filter.\n"
	}

	var lines []string
	for i, t := range a.tasks {
		dur := compactDuration(t.Duration(a.now))
		gpus := ""
		if t.GPUs > 0 {
			gpus = fmt.Sprintf("%dxGPU", t.GPUs)
		}
		text := fmt.Sprintf("%s  %-24s %-14s %-7s %s",
			formatTaskStatus(t.Status), truncate(t.Name, 24), truncate(t.NodeName, 14), gpus, dur)
		if i == a.taskIdx {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("▶ %s  %-24s %-14s %-7s %s",
				plainTaskStatus(t.Status), truncate(t.Name, 24), truncate(t.NodeName, 14), gpus, dur)))
		} else {
			lines = append(lines, rowStyle.Render("  "+text))
		}
	}
	return clampLines(lines, height, a.taskIdx)
}

func (a *App) renderTaskDetail(height int) string {
	if a.currentTask == nil {
		return "\n  Loading...\n"
	}

	var b strings.Builder
	t := a.currentTask

	b.WriteString(fmt.Sprintf("\n  %s\n", lipgloss.NewStyle().Bold(true).Render(t.Name)))
	b.WriteString(fmt.Sprintf("  ID: %s\n", t.ID))
	b.WriteString(fmt.Sprintf("  Status: %s\n", formatTaskStatus(t.Status)))
	if t.NodeName != "" {
		b.WriteString(fmt.Sprintf("  Node: %s\n", t.NodeName))
	}
	if t.Image != "" {
		b.WriteString(fmt.Sprintf("  Image: %s\n", t.Image))
	}
	if t.GPUs > 0 {
		b.WriteString(fmt.Sprintf("  GPUs: %d\n", t.GPUs))
	}
	if t.StartedAt != nil {
		b.WriteString(fmt.Sprintf("  Duration: %s\n", compactDuration(t.Duration(a.now))))
	}
	if t.ExitCode != nil {
		style := lipgloss.NewStyle().Foreground(successColor)
		if *t.ExitCode != 0 {
			style = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString(fmt.Sprintf("  Exit code: %s\n", style.Render(fmt.Sprintf("%d", *t.ExitCode))))
	}

	if len(a.sessions) > 0 {
		b.WriteString("\n  Shell sessions:\n")
		for _, s := range a.sessions {
			marker := "○"
			if s.Attached {
				marker = "●"
			}
			b.WriteString(fmt.Sprintf("    %s %s  %s  last activity %s\n",
				marker, s.ID[:8], s.State, s.LastActivity))
		}
	}

	b.WriteString("\n  " + helpStyle.Render("Press s to open a shell on this task") + "\n")
	return b.String()
}

func (a *App) renderPools(height int) string {
	if a.loading && len(a.pools) == 0 {
		return "\n  Loading pools...\n"
	}
	if len(a.pools) == 0 {
		return "\n  No pools configured.\n"
	}

	// Pools span several lines each, so clamp on the selected pool's
	// header line rather than the pool index.
	var lines []string
	selectedLine := 0
	for i, p := range a.pools {
		name := truncate(p.Name, 24)
		line := fmt.Sprintf("%-24s %d nodes", name, p.NodeCount)
		if i == a.poolIdx {
			selectedLine = len(lines)
			lines = append(lines, selectedStyle.Render("▶ "+line))
		} else {
			lines = append(lines, rowStyle.Render("  "+line))
		}

		for _, r := range p.Resources {
			bar := renderBar(r.Utilization(), 24)
			lines = append(lines, fmt.Sprintf("      %-8s %s %5.0f/%.0f %s",
				r.Kind, bar, r.Allocated, r.Capacity, r.Unit))
		}
	}
	return clampLines(lines, height, selectedLine)
}

func (a *App) renderNodes(height int) string {
	if a.loading && len(a.nodes) == 0 {
		return "\n  Loading nodes...\n"
	}
	if len(a.nodes) == 0 {
		return "\n  No nodes registered.\n"
	}

	var lines []string
	for i, n := range a.nodes {
		gpu := fmt.Sprintf("%d/%d GPU", n.GPUAllocated, n.GPUCapacity)
		util := 0.0
		if n.GPUCapacity > 0 {
			util = float64(n.GPUAllocated) / float64(n.GPUCapacity)
		}
		bar := renderBar(util, 16)
		text := fmt.Sprintf("%s  %-20s %s %s", formatNodeStatus(n.Status), truncate(n.Name, 20), bar, gpu)
		if i == a.nodeIdx {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("▶ %s  %-20s %s %s",
				plainNodeStatus(n.Status), truncate(n.Name, 20), bar, gpu)))
		} else {
			lines = append(lines, rowStyle.Render("  "+text))
		}
	}
	return clampLines(lines, height, a.nodeIdx)
}

func (a *App) renderShell() string {
	var b strings.Builder

	sc := a.shell()
	status := StatusIdle
	if sc != nil {
		status = sc.Status()
	}

	header := titleStyle.Render("SHELL") + "  " +
		breadcrumbStyle.Render("task "+truncate(a.shellTask, 8)) + "  " +
		formatSessionStatus(status)
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 20)) + "\n")

	b.WriteString(a.shellView.View())
	b.WriteString("\n")

	var hint string
	switch status {
	case StatusConnected:
		hint = " Ctrl+Q:back (stays connected)"
	case StatusConnecting:
		hint = " Connecting..."
	case StatusDisconnected:
		hint = " Disconnected | r:reconnect | x:remove session | Esc:back"
	case StatusError:
		hint = " Connection error"
		if sc != nil && sc.Err() != nil {
			hint += ": " + sc.Err().Error()
		}
		hint += " | r:retry | Esc:back"
	default:
		hint = " Esc:back"
	}
	b.WriteString(statusBarStyle.Width(max(a.width, 20)).Render(hint))
	return b.String()
}

// renderBar draws a utilization bar; the fill never exceeds the width
// even when allocation overshoots capacity.
func renderBar(ratio float64, width int) string {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	fill := int(ratio * float64(width))

	style := barFillStyle
	if ratio > 0.75 {
		style = barWarnStyle
	}
	if ratio > 0.9 {
		style = barHotStyle
	}

	return "[" + style.Render(strings.Repeat("█", fill)) +
		barEmptyStyle.Render(strings.Repeat("░", width-fill)) + "]"
}

func clampLines(lines []string, height, selected int) string {
	if len(lines) > height {
		start := selected - height/2
		if start < 0 {
			start = 0
		}
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func compactDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func formatWorkflowStatus(s models.WorkflowStatus) string {
	switch s {
	case models.WorkflowStatusPending:
		return lipgloss.NewStyle().Foreground(warningColor).Render("○ PENDING ")
	case models.WorkflowStatusRunning:
		return lipgloss.NewStyle().Foreground(primaryColor).Render("◑ RUNNING ")
	case models.WorkflowStatusSucceeded:
		return lipgloss.NewStyle().Foreground(successColor).Render("● DONE    ")
	case models.WorkflowStatusFailed:
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ FAILED  ")
	case models.WorkflowStatusCanceled:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("◌ CANCELED")
	default:
		return string(s)
	}
}

func plainWorkflowStatus(s models.WorkflowStatus) string {
	switch s {
	case models.WorkflowStatusPending:
		return "○"
	case models.WorkflowStatusRunning:
		return "◑"
	case models.WorkflowStatusSucceeded:
		return "●"
	case models.WorkflowStatusFailed:
		return "✗"
	case models.WorkflowStatusCanceled:
		return "◌"
	default:
		return "?"
	}
}

func formatTaskStatus(s models.TaskStatus) string {
	return formatWorkflowStatus(models.WorkflowStatus(s))
}

func plainTaskStatus(s models.TaskStatus) string {
	return plainWorkflowStatus(models.WorkflowStatus(s))
}

func formatNodeStatus(s models.NodeStatus) string {
	switch s {
	case models.NodeStatusReady:
		return lipgloss.NewStyle().Foreground(successColor).Render("● READY   ")
	case models.NodeStatusNotReady:
		return lipgloss.NewStyle().Foreground(errorColor).Render("○ NOTREADY")
	case models.NodeStatusCordoned:
		return lipgloss.NewStyle().Foreground(warningColor).Render("◌ CORDONED")
	default:
		return string(s)
	}
}

func plainNodeStatus(s models.NodeStatus) string {
	switch s {
	case models.NodeStatusReady:
		return "●"
	case models.NodeStatusNotReady:
		return "○"
	case models.NodeStatusCordoned:
		return "◌"
	default:
		return "?"
	}
}

func formatSessionStatus(s SessionStatus) string {
	switch s {
	case StatusConnected:
		return daemonOnlineStyle.Render("● connected")
	case StatusConnecting:
		return lipgloss.NewStyle().Foreground(warningColor).Render("◑ connecting")
	case StatusDisconnected:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("○ disconnected")
	case StatusError:
		return daemonOfflineStyle.Render("✗ error")
	default:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("○ idle")
	}
}

// keyToBytes translates a key press into the bytes a PTY expects.
func keyToBytes(msg tea.KeyMsg) []byte {
	switch msg.Type {
	case tea.KeyRunes:
		return []byte(string(msg.Runes))
	case tea.KeySpace:
		return []byte(" ")
	case tea.KeyEnter:
		return []byte("\r")
	case tea.KeyBackspace:
		return []byte{0x7f}
	case tea.KeyTab:
		return []byte("\t")
	case tea.KeyEsc:
		return []byte{0x1b}
	case tea.KeyUp:
		return []byte("\x1b[A")
	case tea.KeyDown:
		return []byte("\x1b[B")
	case tea.KeyRight:
		return []byte("\x1b[C")
	case tea.KeyLeft:
		return []byte("\x1b[D")
	case tea.KeyHome:
		return []byte("\x1b[H")
	case tea.KeyEnd:
		return []byte("\x1b[F")
	case tea.KeyDelete:
		return []byte("\x1b[3~")
	case tea.KeyCtrlC:
		return []byte{0x03}
	case tea.KeyCtrlD:
		return []byte{0x04}
	case tea.KeyCtrlZ:
		return []byte{0x1a}
	case tea.KeyCtrlL:
		return []byte{0x0c}
	case tea.KeyCtrlA:
		return []byte{0x01}
	case tea.KeyCtrlE:
		return []byte{0x05}
	case tea.KeyCtrlU:
		return []byte{0x15}
	case tea.KeyCtrlW:
		return []byte{0x17}
	case tea.KeyCtrlR:
		return []byte{0x12}
	}
	return nil
}
