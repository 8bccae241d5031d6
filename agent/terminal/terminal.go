package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/m4xw311/gatekeep/approval"
	"github.com/m4xw311/gatekeep/errors"
	"github.com/m4xw311/gatekeep/logging"
	"github.com/m4xw311/gatekeep/session"
)

var (
	sUser     = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	sErr      = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	sPrompt   = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	sFaint    = lipgloss.NewStyle().Faint(true)
	sTool     = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	sApproval = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("3")).
			Padding(0, 1)
	sDebug = lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), true, false, false, false).
		BorderForeground(lipgloss.Color("8")).
		Faint(true)
)

// RefreshMsg asks the model to re-render. Send it from a session observer.
type RefreshMsg struct{}

type turnDoneMsg struct {
	cmd  Command
	text string
	err  error
}

// Model is the bubbletea model for one interactive session.
type Model struct {
	ctx      context.Context
	sess     *session.Session
	ring     *logging.Ring
	renderer *glamour.TermRenderer
	spinner  spinner.Model

	input  []rune
	notice string
	width  int
}

// New returns a model driving sess. ring is nil unless the debug panel is
// wanted; renderer may be nil, in which case assistant messages are shown as
// plain text.
func New(ctx context.Context, sess *session.Session, ring *logging.Ring, renderer *glamour.TermRenderer) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		ctx:      ctx,
		sess:     sess,
		ring:     ring,
		renderer: renderer,
		spinner:  sp,
	}
}

// NewRenderer returns the Markdown renderer used for assistant messages.
func NewRenderer(width int) (*glamour.TermRenderer, error) {
	if width <= 0 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(glamour.WithStandardStyle("dark"), glamour.WithWordWrap(width))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create markdown renderer")
	}
	return r, nil
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case turnDoneMsg:
		m.notice = ""
		switch {
		case msg.err == nil:
		case errors.Is(msg.err, session.ErrEmptyInput):
		case errors.Is(msg.err, session.ErrNotAwaitingApproval):
			// A repeated y or n after the batch was already decided.
		case msg.cmd == Submit && errors.Is(msg.err, session.ErrBusy):
			m.input = append([]rune(msg.text), m.input...)
			m.notice = msg.err.Error()
		default:
			m.notice = msg.err.Error()
		}
		return m, nil

	case RefreshMsg:
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	snap := m.sess.Snapshot()
	cmd := Translate(key, snap.AwaitingApproval)
	switch cmd {
	case Quit:
		return m, tea.Quit
	case Approve:
		return m, m.run(cmd, "", m.sess.Approve)
	case Reject:
		return m, m.run(cmd, "", m.sess.Reject)
	case Submit:
		text := strings.TrimSpace(string(m.input))
		if text == "" {
			return m, nil
		}
		if snap.IsLoading {
			m.notice = session.ErrBusy.Error()
			return m, nil
		}
		m.input = nil
		m.notice = ""
		sess := m.sess
		return m, m.run(cmd, text, func(ctx context.Context) error {
			return sess.Submit(ctx, text)
		})
	case Backspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
	case Append:
		if key.Type == tea.KeySpace {
			m.input = append(m.input, ' ')
		} else {
			m.input = append(m.input, key.Runes...)
		}
	}
	return m, nil
}

// run calls fn off the UI goroutine; Submit and Approve block until the
// turn settles.
func (m Model) run(cmd Command, text string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return turnDoneMsg{cmd: cmd, text: text, err: fn(ctx)}
	}
}

func (m Model) View() string {
	snap := m.sess.Snapshot()
	var b strings.Builder

	for _, msg := range snap.Messages {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}

	switch {
	case snap.AwaitingApproval:
		b.WriteString(approvalBox(snap.PendingToolCalls))
		b.WriteString("\n")
	case snap.IsLoading:
		b.WriteString(m.spinner.View() + sFaint.Render(" thinking..."))
		b.WriteString("\n")
	default:
		b.WriteString(sPrompt.Render("> ") + string(m.input) + "\n")
	}

	if m.notice != "" {
		b.WriteString(sFaint.Render(m.notice) + "\n")
	}
	if m.ring != nil {
		b.WriteString(sDebug.Render(strings.Join(m.ring.Lines(), "\n")))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderMessage(msg session.Message) string {
	switch msg.Role {
	case session.RoleUser:
		return sUser.Render("you: ") + msg.Content
	case session.RoleError:
		return sErr.Render("✘ " + msg.Content)
	}
	if m.renderer != nil {
		if out, err := m.renderer.Render(msg.Content); err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return msg.Content
}

func approvalBox(reqs []approval.Request) string {
	var b strings.Builder
	b.WriteString(sTool.Render(fmt.Sprintf("Run %d tool call(s)?", len(reqs))))
	for _, r := range reqs {
		b.WriteString("\n  ")
		b.WriteString(r.ToolName)
		if args := formatArgs(r.Args); args != "" {
			b.WriteString(" " + sFaint.Render(args))
		}
	}
	b.WriteString("\n" + sFaint.Render("[y/enter] approve  [n/esc] reject"))
	return sApproval.Render(b.String())
}

func formatArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := json.Marshal(args[k])
		if err != nil {
			v = []byte(fmt.Sprint(args[k]))
		}
		s := string(v)
		if len(s) > 120 {
			s = truncate(s, 117) + "..."
		}
		parts = append(parts, k+"="+s)
	}
	return strings.Join(parts, " ")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
