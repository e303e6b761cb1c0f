package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/term"

	"sigmaker/internal/config"
	"sigmaker/internal/pattern"
)

type optionField int

const (
	fieldFormat optionField = iota
	fieldWildcard
	fieldUnique
	fieldClipboard
	fieldMaxInstructions
	fieldMaxBytes
)

// Step sizes of the budget rows.
const (
	maxInstructionsStep = 16
	maxBytesStep        = 64
)

type optionItem struct {
	field optionField
	label string
}

func (i optionItem) FilterValue() string { return i.label }

func optionItems() []list.Item {
	return []list.Item{
		optionItem{fieldFormat, "Format"},
		optionItem{fieldWildcard, "Wildcard byte"},
		optionItem{fieldUnique, "Unique in image"},
		optionItem{fieldClipboard, "Copy to clipboard"},
		optionItem{fieldMaxInstructions, "Max instructions"},
		optionItem{fieldMaxBytes, "Max bytes"},
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func budget(n int) string {
	if n == 0 {
		return "no limit"
	}
	return fmt.Sprint(n)
}

func fieldValue(f optionField, o config.Options) string {
	switch f {
	case fieldFormat:
		return o.Format.String()
	case fieldWildcard:
		return config.FormatWildcard(o.Wildcard)
	case fieldUnique:
		return onOff(o.Unique)
	case fieldClipboard:
		return onOff(o.Clipboard)
	case fieldMaxInstructions:
		return budget(o.MaxInstructions)
	case fieldMaxBytes:
		return budget(o.MaxBytes)
	}
	return ""
}

// optionDelegate renders one option per line with its current value.
type optionDelegate struct {
	opts    *config.Options
	pending *string
}

func (d optionDelegate) Height() int                               { return 1 }
func (d optionDelegate) Spacing() int                              { return 0 }
func (d optionDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d optionDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(optionItem)
	if !ok {
		return
	}

	indicator := " "
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	if index == m.Index() {
		indicator = ">"
		labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
		valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	}

	value := fieldValue(i.field, *d.opts)
	if i.field == fieldWildcard && *d.pending != "" {
		value = strings.ToUpper(*d.pending) + "_"
	}
	fmt.Fprintf(w, " %s  %s  %s", indicator, labelStyle.Render(fmt.Sprintf("%-18s", i.label)), valueStyle.Render("< "+value+" >"))
}

// optionForm edits a set of signature options. The result is only meant to be
// used when saved is true.
type optionForm struct {
	list    list.Model
	opts    *config.Options
	pending *string
	saved   bool
}

func newOptionForm(opts config.Options) optionForm {
	o := opts
	pending := ""
	delegate := optionDelegate{opts: &o, pending: &pending}

	l := list.New(optionItems(), delegate, 60, len(optionItems())+6)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.Title = "Signature options"
	l.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		MarginLeft(2)

	return optionForm{list: l, opts: &o, pending: &pending}
}

// Options returns the edited options.
func (m optionForm) Options() config.Options { return *m.opts }

func (m optionForm) Init() tea.Cmd { return nil }

func (m optionForm) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height - 2)
		return m, nil
	case tea.KeyMsg:
		done, handled := m.handleKey(msg.String())
		if done {
			return m, tea.Quit
		}
		if handled {
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m optionForm) View() string {
	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginLeft(2).
		Render("↑/↓ select • ←/→ change • 0-9 a-f wildcard • enter save • esc cancel")
	return m.list.View() + "\n" + help
}

// handleKey applies a key press. done reports that the form is finished;
// handled that the key must not reach the list.
func (m *optionForm) handleKey(key string) (done, handled bool) {
	switch key {
	case "ctrl+c", "esc", "q":
		m.saved = false
		return true, true
	case "enter":
		if *m.pending != "" {
			m.commitWildcard()
		}
		m.saved = true
		return true, true
	}

	field := m.selected()
	if field == fieldWildcard && len(key) == 1 && strings.ContainsAny(key, "0123456789abcdefABCDEF") {
		*m.pending += key
		if len(*m.pending) == 2 {
			m.commitWildcard()
		}
		return false, true
	}
	*m.pending = ""

	switch key {
	case "right", "l", " ", "space":
		m.step(field, 1)
		return false, true
	case "left", "h":
		m.step(field, -1)
		return false, true
	}
	return false, false
}

func (m *optionForm) selected() optionField {
	if i, ok := m.list.SelectedItem().(optionItem); ok {
		return i.field
	}
	return fieldFormat
}

func (m *optionForm) commitWildcard() {
	if b, err := config.ParseWildcard(*m.pending); err == nil {
		m.opts.Wildcard = b
	}
	*m.pending = ""
}

func (m *optionForm) step(f optionField, dir int) {
	o := m.opts
	switch f {
	case fieldFormat:
		names := pattern.Formats()
		i := slices.Index(names, o.Format.String())
		next := (i + dir + len(names)) % len(names)
		if fm, err := pattern.ParseFormat(names[next]); err == nil {
			o.Format = fm
		}
	case fieldWildcard:
		o.Wildcard += byte(dir)
	case fieldUnique:
		o.Unique = !o.Unique
	case fieldClipboard:
		o.Clipboard = !o.Clipboard
	case fieldMaxInstructions:
		o.MaxInstructions = max(0, o.MaxInstructions+dir*maxInstructionsStep)
	case fieldMaxBytes:
		o.MaxBytes = max(0, o.MaxBytes+dir*maxBytesStep)
	}
}

var errNoTerminal = errors.New("the option form needs an interactive terminal")

// editOptions runs the option form on the terminal, prefilled with opts. ok is
// false when the form was cancelled.
func editOptions(ctx context.Context, opts config.Options) (edited config.Options, ok bool, err error) {
	if !term.IsTerminal(os.Stdin.Fd()) || !term.IsTerminal(os.Stdout.Fd()) {
		return opts, false, errNoTerminal
	}
	program := tea.NewProgram(
		newOptionForm(opts),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	final, err := program.Run()
	if err != nil {
		return opts, false, fmt.Errorf("option form: %v", err)
	}
	f, _ := final.(optionForm)
	if !f.saved {
		return opts, false, nil
	}
	return f.Options(), true, nil
}
