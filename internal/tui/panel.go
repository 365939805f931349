// internal/tui/panel.go
//
// The operator panel: a live view of the work store with start and stop
// controls. It re-reads the store whenever any process changes it.

package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/xkilldash9x/claimpilot/internal/control"
	"github.com/xkilldash9x/claimpilot/internal/workstore"
)

// Controller is the part of the control surface the panel drives.
type Controller interface {
	Status(ctx context.Context) (control.Status, error)
	Start(ctx context.Context, category string) error
	Stop(ctx context.Context) error
}

type statusMsg struct {
	status control.Status
	err    error
}

type changedMsg struct{}

type changesClosedMsg struct{}

type actionMsg struct {
	done string
	err  error
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Width(12)
	runningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Panel is the bubbletea model.
type Panel struct {
	ctx        context.Context
	ctl        Controller
	changes    <-chan workstore.Change
	categories []string
	selected   int

	status  control.Status
	loaded  bool
	message string
	err     error
	loadErr error
	busy    bool
}

// NewPanel builds a panel. changes may be nil, in which case the panel only
// refreshes on demand.
func NewPanel(ctx context.Context, ctl Controller, changes <-chan workstore.Change, categories []string, initial string) *Panel {
	p := &Panel{ctx: ctx, ctl: ctl, changes: changes, categories: categories}
	p.selectCategory(initial)
	return p
}

func (p *Panel) selectCategory(name string) {
	for i, c := range p.categories {
		if c == name {
			p.selected = i
			return
		}
	}
}

// Category is the currently selected category, or "" when none are configured.
func (p *Panel) Category() string {
	if len(p.categories) == 0 {
		return ""
	}
	return p.categories[p.selected]
}

func (p *Panel) Init() tea.Cmd {
	return tea.Batch(p.refresh(), p.waitForChange())
}

func (p *Panel) refresh() tea.Cmd {
	return func() tea.Msg {
		st, err := p.ctl.Status(p.ctx)
		return statusMsg{status: st, err: err}
	}
}

// waitForChange blocks for the next change and folds any burst behind it
// into a single refresh.
func (p *Panel) waitForChange() tea.Cmd {
	ch := p.changes
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return changesClosedMsg{}
		}
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return changesClosedMsg{}
				}
			default:
				return changedMsg{}
			}
		}
	}
}

func (p *Panel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return p.handleKey(msg)

	case statusMsg:
		p.loadErr = msg.err
		if msg.err == nil {
			p.status = msg.status
			p.loaded = true
			if msg.status.Running {
				p.selectCategory(msg.status.Category)
			}
		}
		return p, nil

	case changedMsg:
		return p, tea.Batch(p.refresh(), p.waitForChange())

	case changesClosedMsg:
		p.changes = nil
		return p, p.refresh()

	case actionMsg:
		p.busy = false
		p.err = msg.err
		if msg.err == nil {
			p.message = msg.done
		} else {
			p.message = ""
		}
		return p, p.refresh()
	}
	return p, nil
}

func (p *Panel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return p, tea.Quit
	case "r":
		return p, p.refresh()
	case "left", "h":
		p.cycle(-1)
	case "right", "l":
		p.cycle(1)
	case "s":
		if p.busy || p.status.Running {
			return p, nil
		}
		p.busy = true
		p.message = "Starting..."
		category := p.Category()
		return p, func() tea.Msg {
			return actionMsg{done: "Run started.", err: p.ctl.Start(p.ctx, category)}
		}
	case "x":
		if p.busy {
			return p, nil
		}
		p.busy = true
		p.message = "Stopping..."
		return p, func() tea.Msg {
			return actionMsg{done: "Run stopped.", err: p.ctl.Stop(p.ctx)}
		}
	}
	return p, nil
}

func (p *Panel) cycle(delta int) {
	if p.status.Running || len(p.categories) == 0 {
		return
	}
	n := len(p.categories)
	p.selected = ((p.selected+delta)%n + n) % n
}

func (p *Panel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("ClaimPilot"))
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	state := stoppedStyle.Render("stopped")
	if p.status.Running {
		state = runningStyle.Render("running")
	}
	if !p.loaded {
		state = stoppedStyle.Render("loading...")
	}
	row("Status", state)
	row("Category", "‹ "+p.Category()+" ›")
	row("Remaining", fmt.Sprintf("%d", p.status.Remaining))
	row("Submitted", fmt.Sprintf("%d", p.status.Submitted))
	if p.status.Head != nil {
		row("Next", fmt.Sprintf("%s  %s", p.status.Head.Code, p.status.Head.Title))
	}
	if p.status.Pending != nil {
		row("Submitting", p.status.Pending.Code)
	}

	if err := p.err; err != nil || p.loadErr != nil {
		if err == nil {
			err = p.loadErr
		}
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + err.Error()))
		b.WriteString("\n")
	} else if p.message != "" {
		b.WriteString("\n")
		b.WriteString(p.message)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("s start • x stop • ←/→ category • r refresh • q quit"))
	return boxStyle.Render(b.String()) + "\n"
}
