package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/rlch/palm"
)

// ErrNotTerminal is returned when prompting without a terminal.
var ErrNotTerminal = errors.New("report: confirmation needs a terminal")

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type promptKeys struct {
	Yes key.Binding
	No  key.Binding
}

var keys = promptKeys{
	Yes: key.NewBinding(key.WithKeys("y", "Y"), key.WithHelp("y", "regenerate all")),
	No:  key.NewBinding(key.WithKeys("n", "N", "esc", "ctrl+c", "enter"), key.WithHelp("n", "keep supplied")),
}

type promptModel struct {
	req      palm.ConfirmationRequest
	decided  bool
	approved bool
}

func (m promptModel) Init() tea.Cmd { return nil }

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(keyMsg, keys.Yes):
		m.decided, m.approved = true, true

		return m, tea.Quit
	case key.Matches(keyMsg, keys.No):
		m.decided = true

		return m, tea.Quit
	}

	return m, nil
}

func (m promptModel) View() string {
	if m.decided {
		return ""
	}

	var b strings.Builder

	fmt.Fprintf(&b, "%s %s: %d of %d models would be regenerated\n",
		titleStyle.Render("confirm"),
		m.req.Connection,
		len(m.req.Regenerate),
		m.req.Total,
	)
	b.WriteString(dimStyle.Render("  " + strings.Join(m.req.Regenerate, ", ")))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s  %s %s\n",
		keys.Yes.Help().Key, keys.Yes.Help().Desc,
		keys.No.Help().Key, keys.No.Help().Desc,
	)

	return b.String()
}

// Prompt asks on a terminal whether a partial regeneration may proceed.
type Prompt struct {
	in  io.Reader
	out io.Writer
}

// NewPrompt creates a prompt reading keys from in.
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: in, out: out}
}

// Confirm implements palm.ConfirmationPolicy.
func (p *Prompt) Confirm(ctx context.Context, req palm.ConfirmationRequest) (bool, error) {
	if f, ok := p.in.(*os.File); ok && !IsTerminal(f) {
		return false, ErrNotTerminal
	}

	program := tea.NewProgram(promptModel{req: req},
		tea.WithContext(ctx),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
		tea.WithoutSignalHandler(),
	)

	final, err := program.Run()
	if err != nil {
		return false, fmt.Errorf("report: prompt: %w", err)
	}

	m, ok := final.(promptModel)

	return ok && m.approved, nil
}

var _ palm.ConfirmationPolicy = (*Prompt)(nil)
