package feedback

import (
	"context"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIAsker collects notes in a small full-terminal editor.
type TUIAsker struct {
	in  io.Reader
	out io.Writer
}

func NewTUIAsker(in io.Reader, out io.Writer) *TUIAsker {
	return &TUIAsker{in: in, out: out}
}

func (a *TUIAsker) Ask(ctx context.Context, q Question) (Answer, error) {
	m := newNotesModel(q)
	p := tea.NewProgram(m, tea.WithInput(a.in), tea.WithOutput(a.out))

	type result struct {
		model tea.Model
		err   error
	}
	done := make(chan result, 1)
	go func() {
		final, err := p.Run()
		done <- result{final, err}
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		<-done
		return Answer{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return Answer{}, fmt.Errorf("feedback editor: %w", r.err)
		}
		final, ok := r.model.(notesModel)
		if !ok || final.cancelled {
			return Answer{}, ErrCancelled
		}
		return final.answer(), nil
	}
}

// notesModel is a minimal multi-line editor. Enter adds a line, ctrl+s
// submits, esc accepts with no notes, ctrl+c aborts.
type notesModel struct {
	question  Question
	lines     []string
	done      bool
	accepted  bool
	cancelled bool
	width     int
}

func newNotesModel(q Question) notesModel {
	return notesModel{question: q, lines: []string{""}}
}

func (m notesModel) Init() tea.Cmd { return nil }

func (m notesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.cancelled = true
			return m, tea.Quit
		case tea.KeyEsc:
			m.accepted = true
			m.done = true
			return m, tea.Quit
		case tea.KeyCtrlS, tea.KeyCtrlD:
			m.done = true
			return m, tea.Quit
		case tea.KeyEnter:
			m.lines = append(m.lines, "")
			return m, nil
		case tea.KeyBackspace:
			last := len(m.lines) - 1
			if r := []rune(m.lines[last]); len(r) > 0 {
				m.lines[last] = string(r[:len(r)-1])
			} else if last > 0 {
				m.lines = m.lines[:last]
			}
			return m, nil
		case tea.KeySpace:
			m.lines[len(m.lines)-1] += " "
			return m, nil
		case tea.KeyRunes:
			m.lines[len(m.lines)-1] += string(msg.Runes)
			return m, nil
		}
	}
	return m, nil
}

func (m notesModel) answer() Answer {
	if m.accepted {
		return Answer{}
	}
	return answerFrom(strings.Join(m.lines, "\n"))
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

func (m notesModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(header(m.question)))
	b.WriteString("\n\n")
	box := boxStyle
	if m.width > 4 {
		box = box.Width(m.width - 4)
	}
	b.WriteString(box.Render(strings.Join(m.lines, "\n") + "█"))
	b.WriteString("\n")
	b.WriteString(hintStyle.Render("[Ctrl+S] Send notes  [Esc] Accept as is  [Ctrl+C] Abort"))
	b.WriteString("\n")
	return b.String()
}
