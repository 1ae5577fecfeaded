package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/belagoesr/mun/runtime"
	"github.com/belagoesr/mun/types"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

type interactiveModel struct {
	ctx      context.Context
	err      error
	s        *session
	status   string
	called   string
	result   string
	funcs    []types.FuncDef
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

func newInteractiveModel(ctx context.Context, s *session) *interactiveModel {
	m := &interactiveModel{ctx: ctx, s: s, state: stateSelectFunc}
	m.refresh()
	return m
}

// refresh re-reads the function table after a load or reload.
func (m *interactiveModel) refresh() {
	rt := m.s.rt
	m.funcs = nil
	for _, name := range rt.Functions() {
		if def, ok := rt.FuncDef(name); ok {
			m.funcs = append(m.funcs, def)
		}
	}
	if m.selected >= len(m.funcs) {
		m.selected = max(len(m.funcs)-1, 0)
	}
}

type callResultMsg struct {
	err    error
	name   string
	result string
}

type reloadMsg struct {
	err    error
	staged bool
}

type gcMsg struct {
	err    error
	status string
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "r":
			if m.state == stateSelectFunc {
				return m, m.reload
			}

		case "g":
			if m.state == stateSelectFunc {
				return m, m.collect
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					return m, nil
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction()
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callFunction()

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case callResultMsg:
		m.called = msg.name
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
		m.refresh()

	case reloadMsg:
		switch {
		case msg.err != nil:
			m.status = errorStyle.Render(fmt.Sprintf("reload rejected: %v", msg.err))
		case msg.staged:
			m.status = statusStyle.Render("reload staged, applied at the next call")
		default:
			m.status = statusStyle.Render("reloaded " + m.s.rt.ModuleName())
		}
		m.refresh()

	case gcMsg:
		if msg.err != nil {
			m.status = errorStyle.Render(fmt.Sprintf("gc: %v", msg.err))
		} else {
			m.status = statusStyle.Render(msg.status)
		}
	}

	if m.state == stateInputArgs {
		cmds := make([]tea.Cmd, 0, len(m.inputs))
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.Params))
	for i, p := range f.Params {
		ti := textinput.New()
		ti.Placeholder = p.Type
		ti.Prompt = p.Name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

// callFunction captures the selected function and its inputs; the returned
// command runs off the update loop.
func (m *interactiveModel) callFunction() tea.Cmd {
	f := m.funcs[m.selected]
	raw := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		raw[i] = input.Value()
	}
	ctx, rt := m.ctx, m.s.rt
	return func() tea.Msg {
		args, err := parseArgs(rt, f, raw)
		if err != nil {
			return callResultMsg{name: f.Name, err: err}
		}
		result, err := rt.Call(ctx, f.Name, args...)
		if err != nil {
			return callResultMsg{name: f.Name, err: err}
		}
		return callResultMsg{name: f.Name, result: formatResult(result)}
	}
}

func (m *interactiveModel) reload() tea.Msg {
	mod, changed, err := m.s.source(m.ctx)
	if err != nil {
		return reloadMsg{err: err}
	}
	if !changed {
		_, err = m.s.rt.ApplyPending(m.ctx)
		return reloadMsg{err: err}
	}
	return reloadMsg{err: m.s.rt.Reload(m.ctx, mod)}
}

func (m *interactiveModel) collect() tea.Msg {
	cs, err := m.s.rt.GC(m.ctx)
	if err != nil {
		return gcMsg{err: err}
	}
	return gcMsg{status: fmt.Sprintf("gc: marked %d, freed %d objects (%d bytes) in %s",
		cs.Marked, cs.FreedObjects, cs.FreedBytes, cs.Duration)}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Mun Runner"))
	b.WriteString(" ")
	b.WriteString(m.s.manifest.Path)
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(statsLine(m.s.rt)))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		if len(m.funcs) == 0 {
			b.WriteString("The module exports no functions.\n")
		} else {
			b.WriteString("Select a function to call:\n\n")
		}
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + formatFunc(f)))
			} else {
				b.WriteString("  " + formatFunc(f))
			}
			b.WriteString("\n")
		}
		if m.status != "" {
			b.WriteString("\n")
			b.WriteString(m.status)
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • r reload • g gc • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		fmt.Fprintf(&b, "Calling %s\n\n", funcStyle.Render(f.Name))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(f.Params[i].Type))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		fmt.Fprintf(&b, "Result of %s:\n\n", funcStyle.Render(m.called))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func statsLine(rt *runtime.Runtime) string {
	st := rt.Stats()
	line := fmt.Sprintf("%s %s • %d types • %d objects (%d bytes) • %d roots • %d reloads",
		st.Module, st.Identity.String()[:8], st.Types, st.Heap.Objects, st.Heap.LiveBytes, st.Roots, st.Reloads)
	if rt.Pending() {
		line += " • reload pending"
	}
	return line
}

func formatFunc(f types.FuncDef) string {
	params := make([]string, 0, len(f.Params))
	for _, p := range f.Params {
		params = append(params, p.Name+": "+typeStyle.Render(p.Type))
	}
	result := ""
	if f.Return != "" {
		result = " -> " + typeStyle.Render(f.Return)
	}
	return funcStyle.Render(f.Name) + "(" + strings.Join(params, ", ") + ")" + result
}

func runInteractive(ctx context.Context, s *session, watch bool) error {
	p := tea.NewProgram(newInteractiveModel(ctx, s), tea.WithAltScreen(), tea.WithContext(ctx))
	if watch {
		interval, err := s.manifest.Interval()
		if err != nil {
			return err
		}
		w := runtime.NewWatcher(s.rt, s.source, interval)
		w.OnReload = func(_ *runtime.Module, err error) {
			p.Send(reloadMsg{err: err, staged: true})
		}
		go func() { _ = w.Run(ctx) }()
	}
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
