package tui

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"biochat/internal/session"
)

// SessionPort is the TUI-facing subset of the chat session.
type SessionPort interface {
	Start(ctx context.Context)
	HandleMessage(ctx context.Context, text string) error
}

// SentMsg adds a message to the transcript.
type SentMsg struct{ Message session.Message }

// TokenMsg appends a streamed token to an existing message.
type TokenMsg struct {
	ID    string
	Token string
}

// UpdatedMsg replaces the content of an existing message.
type UpdatedMsg struct{ Message session.Message }

type startedMsg struct{}

type handledMsg struct{ err error }

// Model is the Bubble Tea model for the chat application.
type Model struct {
	ctx      context.Context
	session  SessionPort
	input    textinput.Model
	viewport viewport.Model
	messages []session.Message
	index    map[string]int
	// assets holds, per image message ID, whether its file was found on arrival.
	assets map[string]bool
	exists func(path string) bool
	status string
	busy   bool
	ready  bool
}

// New creates a new chat model. The session is started from Init.
func New(ctx context.Context, sess SessionPort) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about Paul Allen and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:      ctx,
		session:  sess,
		input:    ti,
		viewport: vp,
		index:    map[string]int{},
		assets:   map[string]bool{},
		exists:   fileExists,
		status:   "Starting...",
		busy:     true,
	}
}

// Init starts the session and the text input cursor blink.
func (m Model) Init() tea.Cmd {
	ctx, sess := m.ctx, m.session
	return tea.Batch(textinput.Blink, func() tea.Msg {
		sess.Start(ctx)
		return startedMsg{}
	})
}

// Update handles key, window and session events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around transcript and input boxes
		_, th := transcriptBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		totalHeaderLines := 1                                    // title
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + ih + 1 // 1 spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-th)
		m.refresh()
		return m, nil
	case SentMsg:
		if msg.Message.Kind == session.KindImage {
			m.assets[msg.Message.ID] = m.exists(msg.Message.Path)
		}
		m.index[msg.Message.ID] = len(m.messages)
		m.messages = append(m.messages, msg.Message)
		m.refresh()
		return m, nil
	case TokenMsg:
		if i, ok := m.index[msg.ID]; ok {
			m.messages[i].Content += msg.Token
			m.refresh()
		}
		return m, nil
	case UpdatedMsg:
		if i, ok := m.index[msg.Message.ID]; ok {
			m.messages[i] = msg.Message
			m.refresh()
		}
		return m, nil
	case startedMsg:
		m.busy = false
		m.status = "Ready."
		return m, nil
	case handledMsg:
		m.busy = false
		m.status = "Ready."
		if msg.err != nil {
			m.status = "Last message failed: " + msg.err.Error()
		}
		return m, nil
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.input.Reset()
			m.messages = append(m.messages, session.Message{Kind: session.KindUser, Content: q})
			m.busy = true
			m.status = "Thinking..."
			m.refresh()
			ctx, sess := m.ctx, m.session
			return m, func() tea.Msg {
				return handledMsg{err: sess.HandleMessage(ctx, q)}
			}
		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the TUI layout and transcript.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	title := lipgloss.NewStyle().Bold(true).Render("Paul Allen AI Agent")
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return title + "\n" + transcript + "\n" + input + "\n" + status
}

// Transcript returns the messages shown so far.
func (m Model) Transcript() []session.Message {
	return append([]session.Message(nil), m.messages...)
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	width := max(20, m.viewport.Width-2)
	parts := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		parts = append(parts, renderMessage(msg, width, m.assets[msg.ID]))
	}
	return strings.Join(parts, "\n\n")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func renderMessage(msg session.Message, width int, assetFound bool) string {
	body := lipgloss.NewStyle().Width(width)
	switch msg.Kind {
	case session.KindHeader:
		return headerStyle.Width(width).Render(titleStyle.Render(msg.Title) + "\n" + msg.Content)
	case session.KindImage:
		state := "missing"
		if assetFound {
			state = "available"
		}
		return imageStyle.Render(fmt.Sprintf("[image: %s (%s)]", msg.Path, state))
	case session.KindUser:
		return userStyle.Render("You") + "\n" + body.Render(msg.Content)
	default:
		return authorStyle.Render(msg.Author) + "\n" + body.Render(msg.Content)
	}
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	headerStyle        = lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("12")).Padding(0, 1)
	titleStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	imageStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	authorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
)
