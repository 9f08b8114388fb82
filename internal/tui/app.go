// Package tui is the terminal UI for browsing and acting on managed processes.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fordtom/minions/pkg/client"
)

const refreshInterval = 2 * time.Second

// API is the part of *client.Client the UI needs.
type API interface {
	List(ctx context.Context) ([]client.Process, error)
	Start(ctx context.Context, id int64) (client.Process, error)
	Stop(ctx context.Context, id int64) (client.Process, error)
	Delete(ctx context.Context, id int64) error
}

type processesMsg struct {
	procs []client.Process
	err   error
}

type actionMsg struct {
	verb string
	id   int64
	err  error
}

type tickMsg time.Time

// App is the main TUI model.
type App struct {
	api     API
	timeout time.Duration
	table   table.Model
	procs   []client.Process
	message string
	isErr   bool
	busy    bool
	confirm int64 // id awaiting delete confirmation, 0 when none
	width   int
	height  int
}

func New(api API, timeout time.Duration) *App {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	t := table.New(
		table.WithColumns(columns(100)),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	st := table.DefaultStyles()
	st.Header = st.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(mutedColor).
		BorderBottom(true).
		Bold(true)
	st.Selected = st.Selected.
		Foreground(fgColor).
		Background(primaryColor).
		Bold(false)
	t.SetStyles(st)
	return &App{api: api, timeout: timeout, table: t}
}

// Run starts the TUI application.
func (a *App) Run() error {
	_, err := tea.NewProgram(a, tea.WithAltScreen()).Run()
	return err
}

func columns(width int) []table.Column {
	flake := width - 6 - 16 - 12 - 8 - 20 - 12
	if flake < 20 {
		flake = 20
	}
	return []table.Column{
		{Title: "ID", Width: 6},
		{Title: "Name", Width: 16},
		{Title: "Flake", Width: flake},
		{Title: "Status", Width: 12},
		{Title: "PID", Width: 8},
		{Title: "Started", Width: 20},
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.fetch(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a *App) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		procs, err := a.api.List(ctx)
		return processesMsg{procs: procs, err: err}
	}
}

func (a *App) act(verb string, id int64) tea.Cmd {
	a.busy = true
	a.setMessage(fmt.Sprintf("%s process %d...", verb, id), false)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		var err error
		switch verb {
		case "starting":
			_, err = a.api.Start(ctx, id)
		case "stopping":
			_, err = a.api.Stop(ctx, id)
		case "deleting":
			err = a.api.Delete(ctx, id)
		}
		return actionMsg{verb: verb, id: id, err: err}
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.table.SetColumns(columns(msg.Width - 4))
		if h := msg.Height - 8; h > 3 {
			a.table.SetHeight(h)
		}
		return a, nil

	case tickMsg:
		if a.busy {
			return a, tick()
		}
		return a, tea.Batch(a.fetch(), tick())

	case processesMsg:
		if msg.err != nil {
			a.setMessage("refresh failed: "+msg.err.Error(), true)
			return a, nil
		}
		a.procs = msg.procs
		a.table.SetRows(rows(msg.procs))
		return a, nil

	case actionMsg:
		a.busy = false
		if msg.err != nil {
			a.setMessage(fmt.Sprintf("%s %d failed: %v", msg.verb, msg.id, msg.err), true)
		} else {
			a.setMessage(fmt.Sprintf("%s %d done", strings.TrimSuffix(msg.verb, "ing"), msg.id), false)
		}
		return a, a.fetch()

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	var cmd tea.Cmd
	a.table, cmd = a.table.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return a, tea.Quit
	}
	if a.confirm != 0 {
		id := a.confirm
		a.confirm = 0
		if key == "y" || key == "Y" {
			return a, a.act("deleting", id)
		}
		a.setMessage("delete cancelled", false)
		return a, nil
	}

	switch key {
	case "q":
		return a, tea.Quit
	case "r":
		a.setMessage("refreshing...", false)
		return a, a.fetch()
	}

	p, ok := a.selected()
	if !ok || a.busy {
		var cmd tea.Cmd
		a.table, cmd = a.table.Update(msg)
		return a, cmd
	}
	switch key {
	case "s":
		return a, a.act("starting", p.ID)
	case "x":
		return a, a.act("stopping", p.ID)
	case "d":
		a.confirm = p.ID
		a.setMessage(fmt.Sprintf("delete process %d (%s)? y/n", p.ID, displayName(p)), false)
		return a, nil
	}
	var cmd tea.Cmd
	a.table, cmd = a.table.Update(msg)
	return a, cmd
}

func (a *App) selected() (client.Process, bool) {
	i := a.table.Cursor()
	if i < 0 || i >= len(a.procs) {
		return client.Process{}, false
	}
	return a.procs[i], true
}

func (a *App) setMessage(s string, isErr bool) {
	a.message, a.isErr = s, isErr
}

func rows(procs []client.Process) []table.Row {
	out := make([]table.Row, 0, len(procs))
	for _, p := range procs {
		pid, started := "-", "-"
		if p.State.PID != nil {
			pid = strconv.Itoa(*p.State.PID)
		}
		if p.State.StartedAt != nil {
			started = p.State.StartedAt.Local().Format("2006-01-02 15:04:05")
		}
		out = append(out, table.Row{
			strconv.FormatInt(p.ID, 10),
			displayName(p),
			p.FlakeURL,
			p.State.Status,
			pid,
			started,
		})
	}
	return out
}

func displayName(p client.Process) string {
	if p.Name == nil || *p.Name == "" {
		return "-"
	}
	return *p.Name
}

func (a *App) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("minions"))
	b.WriteString(helpStyle.Render(fmt.Sprintf("  %d processes", len(a.procs))))
	b.WriteString("\n\n")
	b.WriteString(tableStyle.Render(a.table.View()))
	b.WriteString("\n")

	if p, ok := a.selected(); ok {
		b.WriteString(formatStatus(p.State.Status))
		if p.Args != nil && *p.Args != "" {
			b.WriteString(helpStyle.Render("  args: " + *p.Args))
		}
		b.WriteString("\n")
	}
	switch {
	case a.confirm != 0:
		b.WriteString(confirmStyle.Render(a.message))
	case a.isErr:
		b.WriteString(errorStyle.Render(a.message))
	case a.message != "":
		b.WriteString(statusBarStyle.Render(a.message))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("s start • x stop • d delete • r refresh • q quit"))
	return b.String()
}
