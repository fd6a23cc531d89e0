// Package tui provides the interactive operations console for gridview.
package tui

import (
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gridfleet/gridview/internal/models"
	"github.com/gridfleet/gridview/internal/prefs"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	breadcrumbStyle = lipgloss.NewStyle().
			Foreground(cyanColor)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	daemonOnlineStyle = lipgloss.NewStyle().
				Foreground(successColor).
				Bold(true)

	daemonOfflineStyle = lipgloss.NewStyle().
				Foreground(errorColor)

	barFillStyle  = lipgloss.NewStyle().Foreground(successColor)
	barWarnStyle  = lipgloss.NewStyle().Foreground(warningColor)
	barHotStyle   = lipgloss.NewStyle().Foreground(errorColor)
	barEmptyStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

// App is the main console application model.
type App struct {
	client   *Client
	prefs    *prefs.Store
	registry *ShellRegistry

	width  int
	height int
	now    time.Time

	mode string // "workflows", "groups", "tasks", "detail", "pools", "nodes", "shell"

	workflows   []models.Workflow
	workflowIdx int

	groups   []GroupItem
	groupIdx int

	tasks     []models.Task
	taskIdx   int
	filterIdx int
	sortIdx   int
	stats     statsCache

	currentTask *models.Task
	sessions    []SessionItem

	pools   []PoolItem
	poolIdx int

	nodes   []models.Node
	nodeIdx int

	shellView  viewport.Model
	shellTask  string
	shellWaits map[string]bool

	message      string
	loading      bool
	daemonOnline bool
}

var filters = []string{"", "pending", "running", "succeeded", "failed", "canceled"}
var filterNames = []string{"ALL", "PENDING", "RUNNING", "DONE", "FAILED", "CANCELED"}

var taskSorts = []string{"created", "name", "status"}

// New creates the console application. The preference store may be nil.
func New(apiAddr string, p *prefs.Store) *App {
	a := &App{
		client:     NewClient(apiAddr),
		prefs:      p,
		registry:   NewShellRegistry(),
		mode:       "workflows",
		shellView:  viewport.New(80, 20),
		shellWaits: make(map[string]bool),
		now:        time.Now(),
	}

	if p != nil {
		switch p.LastView() {
		case "pools":
			a.mode = "pools"
		case "nodes":
			a.mode = "nodes"
		}
		saved := p.StatusFilter("tasks")
		for i, f := range filters {
			if f == saved {
				a.filterIdx = i
			}
		}
		savedSort := p.SortColumn("tasks")
		for i, c := range taskSorts {
			if c == savedSort {
				a.sortIdx = i
			}
		}
	}

	return a
}

// Run starts the console.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.checkDaemon(), a.tickCmd()}
	switch a.mode {
	case "pools":
		cmds = append(cmds, a.fetchPools())
	case "nodes":
		cmds = append(cmds, a.fetchNodes())
	default:
		cmds = append(cmds, a.fetchWorkflows())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.shellView.Width = msg.Width
		a.shellView.Height = msg.Height - 6
		if sc := a.shell(); sc != nil && sc.Status() == StatusConnected {
			sc.SendResize(msg.Width, msg.Height-6)
		}

	case workflowsLoadedMsg:
		a.loading = false
		a.workflows = msg.workflows
		if a.workflowIdx >= len(a.workflows) {
			a.workflowIdx = max(0, len(a.workflows)-1)
		}

	case groupsLoadedMsg:
		a.loading = false
		a.groups = msg.groups
		if a.groupIdx >= len(a.groups) {
			a.groupIdx = max(0, len(a.groups)-1)
		}

	case tasksLoadedMsg:
		a.loading = false
		a.tasks = msg.tasks
		a.sortTasks()
		if a.taskIdx >= len(a.tasks) {
			a.taskIdx = max(0, len(a.tasks)-1)
		}

	case taskDetailLoadedMsg:
		a.loading = false
		a.currentTask = msg.task
		a.sessions = msg.sessions

	case poolsLoadedMsg:
		a.loading = false
		a.pools = msg.pools
		if a.poolIdx >= len(a.pools) {
			a.poolIdx = max(0, len(a.pools)-1)
		}

	case nodesLoadedMsg:
		a.loading = false
		a.nodes = msg.nodes
		if a.nodeIdx >= len(a.nodes) {
			a.nodeIdx = max(0, len(a.nodes)-1)
		}

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case actionDoneMsg:
		a.message = msg.message
		return a, a.refreshCmd()

	case errMsg:
		a.loading = false
		a.message = "Error: " + msg.err.Error()

	case tickMsg:
		a.now = time.Time(msg)
		return a, a.tickCmd()

	case shellUpdateMsg:
		a.shellWaits[msg.taskID] = false
		if sc := a.registry.Get(msg.taskID); sc != nil {
			if a.mode == "shell" && a.shellTask == msg.taskID {
				a.shellView.SetContent(string(sc.Output()))
				a.shellView.GotoBottom()
			}
			return a, a.waitShell(sc)
		}
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// The shell view forwards almost everything to the PTY.
	if a.mode == "shell" {
		return a.handleShellKey(msg)
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return a, tea.Quit

	case "esc":
		return a.navigateUp()

	case "up", "k":
		a.moveSelection(-1)

	case "down", "j":
		a.moveSelection(1)

	case "enter":
		return a.drillDown()

	case "tab":
		if a.mode == "tasks" {
			a.filterIdx = (a.filterIdx + 1) % len(filters)
			if a.prefs != nil {
				a.prefs.SetStatusFilter("tasks", filters[a.filterIdx])
			}
			return a, a.fetchTasks()
		}

	case "o":
		if a.mode == "tasks" {
			a.sortIdx = (a.sortIdx + 1) % len(taskSorts)
			if a.prefs != nil {
				a.prefs.SetSortColumn("tasks", taskSorts[a.sortIdx])
			}
			a.sortTasks()
		}

	case "r":
		a.message = ""
		return a, a.refreshCmd()

	case "w":
		a.setMode("workflows")
		return a, a.fetchWorkflows()

	case "p":
		a.setMode("pools")
		return a, a.fetchPools()

	case "n":
		a.setMode("nodes")
		return a, a.fetchNodes()

	case "c":
		return a, a.cancelSelected()

	case "s":
		return a.openShell()
	}

	return a, nil
}

func (a *App) handleShellKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	sc := a.shell()
	if sc == nil {
		a.setMode("detail")
		return a, nil
	}

	if sc.Status() == StatusConnected {
		switch msg.String() {
		case "ctrl+q":
			// Leave the view; the connection stays up.
			a.setMode("detail")
			return a, a.fetchTaskDetail(a.shellTask)
		default:
			if data := keyToBytes(msg); len(data) > 0 {
				sc.Send(data)
			}
		}
		return a, nil
	}

	// Not connected: local navigation keys apply.
	switch msg.String() {
	case "ctrl+c", "ctrl+q", "esc":
		a.setMode("detail")
		return a, a.fetchTaskDetail(a.shellTask)
	case "r":
		cols, rows := a.shellSize()
		return a, a.connectShell(sc, cols, rows)
	case "x":
		a.registry.Remove(a.shellTask)
		a.setMode("detail")
		return a, a.fetchTaskDetail(a.shellTask)
	}
	return a, nil
}

// navigateUp walks one level up the breadcrumb and clears the finer
// selection so it cannot point outside the new scope.
func (a *App) navigateUp() (tea.Model, tea.Cmd) {
	switch a.mode {
	case "groups":
		a.setMode("workflows")
		a.groupIdx = 0
		return a, a.fetchWorkflows()
	case "tasks":
		a.setMode("groups")
		a.taskIdx = 0
		return a, a.fetchGroups()
	case "detail":
		a.setMode("tasks")
		a.currentTask = nil
		a.sessions = nil
		return a, a.fetchTasks()
	case "pools", "nodes":
		a.setMode("workflows")
		return a, a.fetchWorkflows()
	}
	return a, nil
}

func (a *App) drillDown() (tea.Model, tea.Cmd) {
	switch a.mode {
	case "workflows":
		if len(a.workflows) == 0 {
			return a, nil
		}
		a.setMode("groups")
		a.groupIdx = 0
		return a, a.fetchGroups()
	case "groups":
		if len(a.groups) == 0 {
			return a, nil
		}
		a.setMode("tasks")
		a.taskIdx = 0
		return a, a.fetchTasks()
	case "tasks":
		if len(a.tasks) == 0 {
			return a, nil
		}
		a.setMode("detail")
		return a, a.fetchTaskDetail(a.tasks[a.taskIdx].ID)
	case "pools":
		if len(a.pools) == 0 {
			return a, nil
		}
		a.setMode("nodes")
		a.nodeIdx = 0
		return a, a.fetchNodesForPool(a.pools[a.poolIdx].ID)
	}
	return a, nil
}

func (a *App) moveSelection(delta int) {
	move := func(idx *int, n int) {
		next := *idx + delta
		if next >= 0 && next < n {
			*idx = next
		}
	}
	switch a.mode {
	case "workflows":
		move(&a.workflowIdx, len(a.workflows))
	case "groups":
		move(&a.groupIdx, len(a.groups))
	case "tasks":
		move(&a.taskIdx, len(a.tasks))
	case "pools":
		move(&a.poolIdx, len(a.pools))
	case "nodes":
		move(&a.nodeIdx, len(a.nodes))
	}
}

// sortTasks orders the loaded task list in place. Stats memoization keys
// on slice identity, which an in-place sort preserves.
func (a *App) sortTasks() {
	switch taskSorts[a.sortIdx] {
	case "name":
		sort.SliceStable(a.tasks, func(i, j int) bool {
			return a.tasks[i].Name < a.tasks[j].Name
		})
	case "status":
		sort.SliceStable(a.tasks, func(i, j int) bool {
			return a.tasks[i].Status < a.tasks[j].Status
		})
	default:
		sort.SliceStable(a.tasks, func(i, j int) bool {
			return a.tasks[i].CreatedAt.Before(a.tasks[j].CreatedAt)
		})
	}
}

func (a *App) setMode(mode string) {
	a.mode = mode
	if a.prefs != nil {
		switch mode {
		case "workflows", "pools", "nodes":
			a.prefs.SetLastView(mode)
		}
	}
}

func (a *App) cancelSelected() tea.Cmd {
	switch a.mode {
	case "workflows":
		if len(a.workflows) == 0 {
			return nil
		}
		id := a.workflows[a.workflowIdx].ID
		return func() tea.Msg {
			if err := a.client.CancelWorkflow(id); err != nil {
				return errMsg{err}
			}
			return actionDoneMsg{"Workflow canceled"}
		}
	case "tasks":
		if len(a.tasks) == 0 {
			return nil
		}
		id := a.tasks[a.taskIdx].ID
		return func() tea.Msg {
			if err := a.client.CancelTask(id); err != nil {
				return errMsg{err}
			}
			return actionDoneMsg{"Task canceled"}
		}
	case "detail":
		if a.currentTask == nil {
			return nil
		}
		id := a.currentTask.ID
		return func() tea.Msg {
			if err := a.client.CancelTask(id); err != nil {
				return errMsg{err}
			}
			return actionDoneMsg{"Task canceled"}
		}
	}
	return nil
}

// openShell enters the shell view for the current task. An existing
// client for the task is resumed as-is; a fresh one connects.
func (a *App) openShell() (tea.Model, tea.Cmd) {
	var taskID string
	switch a.mode {
	case "tasks":
		if len(a.tasks) == 0 {
			return a, nil
		}
		taskID = a.tasks[a.taskIdx].ID
	case "detail":
		if a.currentTask == nil {
			return a, nil
		}
		taskID = a.currentTask.ID
	default:
		return a, nil
	}

	a.shellTask = taskID
	a.mode = "shell"

	sc := a.registry.GetOrCreate(taskID)
	a.shellView.SetContent(string(sc.Output()))
	a.shellView.GotoBottom()

	cmds := []tea.Cmd{a.waitShell(sc)}
	if sc.Status() == StatusIdle || sc.Status() == StatusDisconnected || sc.Status() == StatusError {
		cols, rows := a.shellSize()
		cmds = append(cmds, a.connectShell(sc, cols, rows))
	}
	return a, tea.Batch(cmds...)
}

func (a *App) shell() *ShellClient {
	if a.shellTask == "" {
		return nil
	}
	return a.registry.Get(a.shellTask)
}

func (a *App) shellSize() (cols, rows int) {
	cols, rows = a.width, a.height-6
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	return cols, rows
}

// refreshCmd reloads whatever the current view shows.
func (a *App) refreshCmd() tea.Cmd {
	switch a.mode {
	case "workflows":
		return a.fetchWorkflows()
	case "groups":
		return a.fetchGroups()
	case "tasks":
		return a.fetchTasks()
	case "detail":
		if a.currentTask != nil {
			return a.fetchTaskDetail(a.currentTask.ID)
		}
	case "pools":
		return a.fetchPools()
	case "nodes":
		return a.fetchNodes()
	}
	return nil
}

// --- Commands ---

func (a *App) fetchWorkflows() tea.Cmd {
	a.loading = true
	return func() tea.Msg {
		workflows, err := a.client.ListWorkflows("")
		if err != nil {
			return errMsg{err}
		}
		return workflowsLoadedMsg{workflows}
	}
}

func (a *App) fetchGroups() tea.Cmd {
	if len(a.workflows) == 0 {
		return nil
	}
	a.loading = true
	wfID := a.workflows[a.workflowIdx].ID
	return func() tea.Msg {
		groups, err := a.client.ListGroups(wfID)
		if err != nil {
			return errMsg{err}
		}
		return groupsLoadedMsg{groups}
	}
}

func (a *App) fetchTasks() tea.Cmd {
	if len(a.groups) == 0 {
		return nil
	}
	a.loading = true
	groupID := a.groups[a.groupIdx].ID
	filter := filters[a.filterIdx]
	return func() tea.Msg {
		tasks, err := a.client.ListTasks(groupID, filter)
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{tasks}
	}
}

func (a *App) fetchTaskDetail(taskID string) tea.Cmd {
	a.loading = true
	return func() tea.Msg {
		task, err := a.client.GetTask(taskID)
		if err != nil {
			return errMsg{err}
		}
		sessions, _ := a.client.ListSessions(taskID)
		return taskDetailLoadedMsg{task, sessions}
	}
}

func (a *App) fetchPools() tea.Cmd {
	a.loading = true
	return func() tea.Msg {
		pools, err := a.client.ListPools()
		if err != nil {
			return errMsg{err}
		}
		return poolsLoadedMsg{pools}
	}
}

func (a *App) fetchNodes() tea.Cmd {
	a.loading = true
	return func() tea.Msg {
		nodes, err := a.client.ListNodes("")
		if err != nil {
			return errMsg{err}
		}
		return nodesLoadedMsg{nodes}
	}
}

func (a *App) fetchNodesForPool(poolID string) tea.Cmd {
	a.loading = true
	return func() tea.Msg {
		nodes, err := a.client.ListNodes(poolID)
		if err != nil {
			return errMsg{err}
		}
		return nodesLoadedMsg{nodes}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, _ := a.client.CheckHealth()
		return daemonStatusMsg{online: ok}
	}
}

func (a *App) connectShell(sc *ShellClient, cols, rows int) tea.Cmd {
	baseURL := a.client.BaseURL()
	return func() tea.Msg {
		sc.Connect(baseURL, cols, rows)
		return shellUpdateMsg{taskID: sc.TaskID}
	}
}

// waitShell arms a listener for the client's notify channel. At most one
// listener per task is outstanding; arming while one is pending is a no-op,
// so repeated open/leave cycles cannot stack blocked goroutines.
func (a *App) waitShell(sc *ShellClient) tea.Cmd {
	if a.shellWaits[sc.TaskID] {
		return nil
	}
	a.shellWaits[sc.TaskID] = true
	return func() tea.Msg {
		<-sc.Notify()
		return shellUpdateMsg{taskID: sc.TaskID}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// --- Messages ---

type workflowsLoadedMsg struct {
	workflows []models.Workflow
}

type groupsLoadedMsg struct {
	groups []GroupItem
}

type tasksLoadedMsg struct {
	tasks []models.Task
}

type taskDetailLoadedMsg struct {
	task     *models.Task
	sessions []SessionItem
}

type poolsLoadedMsg struct {
	pools []PoolItem
}

type nodesLoadedMsg struct {
	nodes []models.Node
}

type daemonStatusMsg struct {
	online bool
}

type actionDoneMsg struct {
	message string
}

type errMsg struct {
	err error
}

type tickMsg time.Time

type shellUpdateMsg struct {
	taskID string
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
