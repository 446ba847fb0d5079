// Package tui is a terminal editor for the mbusd ports: a grid of sections
// with a tabbed modal for every field.
package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/timzifer/mbusdconf/editor"
	"github.com/timzifer/mbusdconf/form"
)

const (
	stateGrid = iota
	stateModal
	stateInput
)

var (
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
	activeTabStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	tabStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// SaveFunc persists the session and returns a short status line.
type SaveFunc func() (string, error)

// Model is the bubbletea model of the editor.
type Model struct {
	session *editor.Session
	grid    *form.GridSection
	save    SaveFunc

	state   int
	table   table.Model
	input   textinput.Model
	current string
	tab     int
	field   int

	status   string
	fieldErr string
}

// New creates the editor model for session.
func New(session *editor.Session, save SaveFunc) Model {
	grid := session.Grid()

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(true)

	columns := []table.Column{{Title: "#", Width: 3}}
	for _, opt := range grid.Columns() {
		columns = append(columns, table.Column{Title: opt.Label, Width: columnWidth(opt)})
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	t.SetStyles(s)

	m := Model{session: session, grid: grid, save: save, table: t, input: textinput.New(), state: stateGrid}
	m.refresh()
	return m
}

func columnWidth(opt *form.Option) int {
	if px, ok := strings.CutSuffix(opt.Width, "px"); ok {
		if n, err := strconv.Atoi(px); err == nil && n > 0 {
			return n / 8
		}
	}
	if w := len(opt.Label) + 2; w > 8 {
		return w
	}
	return 8
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd { return nil }

func (m *Model) refresh() {
	sections := m.session.Sections()
	rows := make([]table.Row, 0, len(sections))
	for i, sec := range sections {
		row := table.Row{strconv.Itoa(i + 1)}
		for _, opt := range m.grid.Columns() {
			row = append(row, displayValue(opt, m.session.FormValue(sec.ID, opt.Key)))
		}
		rows = append(rows, row)
	}
	m.table.SetRows(rows)
	if cursor := m.table.Cursor(); cursor >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
}

func displayValue(opt *form.Option, value string) string {
	switch opt.Kind {
	case form.KindFlag:
		if value == "1" {
			return "[x]"
		}
		return "[ ]"
	case form.KindEnum:
		for _, choice := range opt.Choices {
			if choice.Value == value && choice.Label != "" {
				return choice.Label
			}
		}
	}
	if value == "" {
		return "-"
	}
	return value
}

func (m Model) selectedID() (string, bool) {
	ids := m.session.SectionIDs()
	cursor := m.table.Cursor()
	if cursor < 0 || cursor >= len(ids) {
		return "", false
	}
	return ids[cursor], true
}

func (m Model) tabOptions() []*form.Option {
	if len(m.grid.Tabs) == 0 {
		return nil
	}
	return m.grid.TabOptions(m.grid.Tabs[m.tab].Name)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch m.state {
	case stateModal:
		return m.updateModal(keyMsg)
	case stateInput:
		return m.updateInput(keyMsg)
	default:
		return m.updateGrid(keyMsg)
	}
}

func (m Model) updateGrid(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.status = ""
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "a":
		m.session.Add()
		m.refresh()
		m.table.SetCursor(len(m.session.SectionIDs()) - 1)
	case "d":
		if id, ok := m.selectedID(); ok {
			_ = m.session.Remove(id)
			m.refresh()
		}
	case "K":
		if id, ok := m.selectedID(); ok && m.table.Cursor() > 0 {
			target := m.table.Cursor() - 1
			_ = m.session.Move(id, target)
			m.refresh()
			m.table.SetCursor(target)
		}
	case "J":
		if id, ok := m.selectedID(); ok && m.table.Cursor() < len(m.session.SectionIDs())-1 {
			target := m.table.Cursor() + 1
			_ = m.session.Move(id, target)
			m.refresh()
			m.table.SetCursor(target)
		}
	case "enter":
		if id, ok := m.selectedID(); ok {
			m.current = id
			m.tab, m.field = 0, 0
			m.fieldErr = ""
			m.state = stateModal
			m.table.Blur()
		}
	case "s":
		m.status = m.runSave()
	default:
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) runSave() string {
	if m.save == nil {
		return "saving is not available"
	}
	status, err := m.save()
	if err != nil {
		var validationErr *editor.ValidationError
		if errors.As(err, &validationErr) {
			first := validationErr.Fields[0]
			return fmt.Sprintf("not saved: %d invalid fields, row %d %s: %s",
				len(validationErr.Fields), m.rowOf(first.Section), first.Field, first.Message)
		}
		return "save failed: " + err.Error()
	}
	return status
}

func (m Model) rowOf(id string) int {
	for i, candidate := range m.session.SectionIDs() {
		if candidate == id {
			return i + 1
		}
	}
	return 0
}

func (m Model) updateModal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	options := m.tabOptions()
	switch msg.String() {
	case "esc":
		m.state = stateGrid
		m.table.Focus()
		m.refresh()
	case "ctrl+c":
		return m, tea.Quit
	case "tab":
		m.tab = (m.tab + 1) % len(m.grid.Tabs)
		m.field = 0
	case "shift+tab":
		m.tab = (m.tab + len(m.grid.Tabs) - 1) % len(m.grid.Tabs)
		m.field = 0
	case "up", "k":
		if m.field > 0 {
			m.field--
		}
	case "down", "j":
		if m.field < len(options)-1 {
			m.field++
		}
	case "enter":
		if len(options) == 0 {
			break
		}
		opt := options[m.field]
		m.input.SetValue(m.session.FormValue(m.current, opt.Key))
		m.input.CursorEnd()
		m.input.Focus()
		m.fieldErr = ""
		m.state = stateInput
	}
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.input.Blur()
		m.fieldErr = ""
		m.state = stateModal
		return m, nil
	case "enter":
		opt := m.tabOptions()[m.field]
		if _, err := m.session.Set(m.current, opt.Key, m.input.Value()); err != nil {
			var fieldErr *form.FieldError
			if errors.As(err, &fieldErr) {
				m.fieldErr = fieldErr.Message
			} else {
				m.fieldErr = err.Error()
			}
			return m, nil
		}
		m.input.Blur()
		m.fieldErr = ""
		m.state = stateModal
		m.refresh()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m Model) View() string {
	grid := baseStyle.Render(m.table.View()) + "\n" +
		helpStyle.Render("  a add • d remove • K/J move • enter edit • s save • q quit")
	if m.status != "" {
		grid += "\n  " + m.status
	}
	if m.state == stateGrid {
		return grid + "\n"
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, grid, m.renderModal()) + "\n"
}

func (m Model) renderModal() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Section %d\n\n", m.rowOf(m.current)))

	tabs := make([]string, 0, len(m.grid.Tabs))
	for i, tab := range m.grid.Tabs {
		if i == m.tab {
			tabs = append(tabs, activeTabStyle.Render(tab.Title))
		} else {
			tabs = append(tabs, tabStyle.Render(tab.Title))
		}
	}
	b.WriteString(strings.Join(tabs, "  ") + "\n\n")

	options := m.tabOptions()
	for i, opt := range options {
		marker := "  "
		if i == m.field {
			marker = "> "
		}
		b.WriteString(fmt.Sprintf("%s%-26s %s\n", marker, opt.Label, displayValue(opt, m.session.FormValue(m.current, opt.Key))))
	}
	if m.field < len(options) {
		opt := options[m.field]
		if opt.Help != "" {
			b.WriteString("\n" + helpStyle.Render(opt.Help) + "\n")
		}
		if hint := valueHint(opt); hint != "" {
			b.WriteString(helpStyle.Render(hint) + "\n")
		}
	}
	if m.state == stateInput {
		b.WriteString("\n" + m.input.View() + "\n")
		if m.fieldErr != "" {
			b.WriteString(errorStyle.Render(m.fieldErr) + "\n")
		}
		b.WriteString("\nenter - apply • esc - discard")
	} else {
		b.WriteString("\ntab - next tab • enter - edit • esc - close")
	}
	return baseStyle.Render(b.String())
}

func valueHint(opt *form.Option) string {
	switch opt.Kind {
	case form.KindEnum:
		values := make([]string, 0, len(opt.Choices))
		for _, choice := range opt.Choices {
			values = append(values, choice.Value)
		}
		return "one of: " + strings.Join(values, ", ")
	case form.KindFlag:
		return "1 or 0"
	case form.KindString:
		if len(opt.Suggestions) > 0 {
			return "found: " + strings.Join(opt.Suggestions, ", ")
		}
	}
	return ""
}

// Run starts the terminal program and blocks until the user quits.
func Run(session *editor.Session, save SaveFunc) error {
	_, err := tea.NewProgram(New(session, save), tea.WithAltScreen()).Run()
	return err
}
