package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/recera/scattershare/pkg/render"
	"github.com/recera/scattershare/pkg/resolve"
)

// Resolver loads one share link.
type Resolver interface {
	ResolveURL(ctx context.Context, link string) (resolve.Result, error)
}

// ErrNoShare is reported for links without share parameters.
var ErrNoShare = errors.New("link carries no shared data")

type collectState int

const (
	stateInput collectState = iota
	stateResolving
	stateDone
)

// resolvedMsg carries the outcome of one submitted line of links.
type resolvedMsg struct {
	res    resolve.Result
	loaded int // links accepted before err, if any
	err    error
}

// CollectModel is the collect screen: links are pasted one at a time (or
// several separated by spaces) until the share is complete.
type CollectModel struct {
	ctx      context.Context
	resolver Resolver
	view     render.ViewConfig
	keys     KeyMap

	input    textinput.Model
	spinner  spinner.Model
	progress progress.Model

	state    collectState
	width    int
	showHelp bool
	quitting bool

	received int
	total    int
	log      []string
	result   *resolve.Result
}

// NewCollectModel creates the collect screen. view shapes the preview shown
// once the data is complete.
func NewCollectModel(ctx context.Context, r Resolver, view render.ViewConfig) CollectModel {
	in := textinput.New()
	in.Placeholder = "paste a share link"
	in.Prompt = "› "
	in.CharLimit = 0
	in.Width = 60
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = pointStyle

	p := progress.New(progress.WithDefaultGradient())
	p.Width = 40

	return CollectModel{
		ctx:      ctx,
		resolver: r,
		view:     view,
		keys:     DefaultKeyMap,
		input:    in,
		spinner:  s,
		progress: p,
		width:    80,
	}
}

// Init implements tea.Model.
func (m CollectModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Update implements tea.Model.
func (m CollectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = min(max(msg.Width-20, 10), 60)
		m.input.Width = max(msg.Width-6, 10)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case resolvedMsg:
		return m.handleResolved(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		m.progress = pm.(progress.Model)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m CollectModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case m.state == stateDone:
		// Any key leaves the finished screen.
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		m.input.SetValue("")
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		if m.state == stateResolving {
			return m, nil
		}
		links := strings.Fields(m.input.Value())
		if len(links) == 0 {
			return m, nil
		}
		m.input.SetValue("")
		m.state = stateResolving
		return m, resolveLinks(m.ctx, m.resolver, links)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m CollectModel) handleResolved(msg resolvedMsg) (tea.Model, tea.Cmd) {
	m.state = stateInput
	if msg.err != nil {
		m.log = append(m.log, ErrorStyle.Render("✗ ")+msg.err.Error())
		if msg.loaded == 0 {
			return m, nil
		}
	}

	res := msg.res
	switch res.Outcome {
	case resolve.Waiting:
		m.received, m.total = res.Received, res.Total
		line := fmt.Sprintf("✓ link %d of %d", res.Received, res.Total)
		if res.Duplicate {
			line = WarningStyle.Render("• already had this link")
		}
		m.log = append(m.log, line)
		return m, m.progress.SetPercent(float64(res.Received) / float64(res.Total))

	case resolve.Loaded:
		m.state = stateDone
		m.result = &res
		if res.Total > 0 {
			m.received = res.Total
			m.total = res.Total
		}
		m.log = append(m.log, SuccessStyle.Render(fmt.Sprintf("✓ loaded %d points", len(res.Dataset))))
		return m, m.progress.SetPercent(1)
	}
	return m, nil
}

// resolveLinks resolves links in order and stops at the first error or at
// the first complete load.
func resolveLinks(ctx context.Context, r Resolver, links []string) tea.Cmd {
	return func() tea.Msg {
		var last resolve.Result
		for i, link := range links {
			res, err := r.ResolveURL(ctx, link)
			if err == nil && res.Outcome == resolve.NoOp {
				err = ErrNoShare
			}
			if err != nil {
				return resolvedMsg{res: last, loaded: i, err: err}
			}
			last = res
			if res.Outcome == resolve.Loaded {
				break
			}
		}
		return resolvedMsg{res: last, loaded: len(links)}
	}
}

// Result returns the loaded share, if the session completed.
func (m CollectModel) Result() (resolve.Result, bool) {
	if m.result == nil {
		return resolve.Result{}, false
	}
	return *m.result, true
}

// View implements tea.Model.
func (m CollectModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Collect shared plot"))
	b.WriteString("\n")

	if m.total > 0 {
		fmt.Fprintf(&b, "%s %d/%d\n\n", m.progress.View(), m.received, m.total)
	}

	for _, line := range tail(m.log, 6) {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(m.log) > 0 {
		b.WriteString("\n")
	}

	switch m.state {
	case stateDone:
		b.WriteString(BoxStyle.Render(Preview(m.result.Dataset, m.view, min(m.width-4, 72), 18)))
		b.WriteString("\n")
		b.WriteString(MutedStyle.Render("press any key to finish"))
	case stateResolving:
		b.WriteString(m.spinner.View() + " resolving…")
	default:
		b.WriteString(m.input.View())
	}

	if m.showHelp {
		var keys []string
		for _, k := range m.keys.bindings() {
			h := k.Help()
			keys = append(keys, h.Key+" "+h.Desc)
		}
		b.WriteString(helpStyle.Render("\n" + strings.Join(keys, " • ")))
	} else if m.state != stateDone {
		b.WriteString(helpStyle.Render("\nf1 help • esc quit"))
	}
	return b.String() + "\n"
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
