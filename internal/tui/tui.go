// Package tui is the interactive terminal chat for the research assistant.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lexcodex/researchbot/experts"
	"github.com/lexcodex/researchbot/framework"
	"github.com/lexcodex/researchbot/research"
)

// Engine is the part of experts.ChatEngine the chat screen drives.
type Engine interface {
	Stream(ctx context.Context, req experts.Request, sink func(string)) (*experts.Response, error)
	Switch(t experts.Type) error
	Current() experts.Info
	Available() []experts.Info
	History(ctx context.Context, conversationID string) ([]framework.Message, error)
	ClearHistory(ctx context.Context, conversationID string) error
}

// Options configure the chat program.
type Options struct {
	ConversationID string
	RequestTimeout time.Duration
}

// Run launches the Bubble Tea chat and blocks until the user quits.
func Run(ctx context.Context, engine Engine, opts Options) error {
	if engine == nil {
		return fmt.Errorf("engine is required")
	}
	program := tea.NewProgram(newModel(ctx, engine, opts), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

type model struct {
	ctx     context.Context
	engine  Engine
	timeout time.Duration

	conversationID string

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	ready    bool

	log      []string
	partial  strings.Builder
	sending  bool
	streamCh chan tea.Msg
}

type chunkMsg struct{ text string }

type replyMsg struct {
	resp *experts.Response
	err  error
}

type noticeMsg struct{ text string }

func newModel(ctx context.Context, engine Engine, opts Options) *model {
	input := textinput.New()
	input.Placeholder = "Ask a question or /help"
	input.CharLimit = 4000
	input.Prompt = "> "
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	m := &model{
		ctx:            ctx,
		engine:         engine,
		timeout:        timeout,
		conversationID: opts.ConversationID,
		input:          input,
		viewport:       viewport.New(0, 0),
		spinner:        sp,
	}
	m.appendLine(infoStyle.Render(fmt.Sprintf("expert %s · /help lists commands", engine.Current().Type)))
	return m
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = max(10, msg.Width-4)
		m.viewport.Height = max(5, msg.Height-6)
		m.input.Width = max(10, msg.Width-8)
		m.ready = true
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyEnter:
			return m, m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	case chunkMsg:
		m.partial.WriteString(msg.text)
		m.refresh()
		return m, m.listen()
	case replyMsg:
		m.finish(msg)
		return m, nil
	case noticeMsg:
		m.appendLine(infoStyle.Render(msg.text))
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("researchbot · %s", m.engine.Current().Type)))
	if m.conversationID != "" {
		b.WriteString(dimStyle.Render("  " + m.conversationID))
	}
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if m.sending {
		b.WriteString(m.spinner.View() + dimStyle.Render(" working..."))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	return frameStyle.Render(b.String())
}

func (m *model) submit() tea.Cmd {
	if m.sending {
		return nil
	}
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	m.input.SetValue("")
	if strings.HasPrefix(text, "/") {
		return m.handleSlash(text)
	}
	m.appendLine(userStyle.Render("you") + " " + text)
	m.sending = true
	m.partial.Reset()
	m.streamCh = make(chan tea.Msg, 64)
	go m.stream(experts.Request{Query: text, ConversationID: m.conversationID}, m.streamCh)
	return m.listen()
}

// stream runs one request and feeds its chunks, then the reply, into ch.
func (m *model) stream(req experts.Request, ch chan<- tea.Msg) {
	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	defer cancel()
	resp, err := m.engine.Stream(ctx, req, func(chunk string) {
		select {
		case ch <- chunkMsg{text: chunk}:
		case <-ctx.Done():
		}
	})
	select {
	case ch <- replyMsg{resp: resp, err: err}:
	case <-m.ctx.Done():
	}
	close(ch)
}

func (m *model) listen() tea.Cmd {
	ch := m.streamCh
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m *model) finish(msg replyMsg) {
	m.sending = false
	m.streamCh = nil
	m.partial.Reset()
	if msg.err != nil {
		m.appendLine(errorStyle.Render(research.UserMessage(msg.err)))
		return
	}
	m.conversationID = msg.resp.ConversationID
	m.appendLine(botStyle.Render(string(msg.resp.Expert)) + " " + msg.resp.Response)
	if sources, ok := msg.resp.Metadata["sources"].([]research.SourceRef); ok {
		for i, src := range sources {
			m.appendLine(dimStyle.Render(fmt.Sprintf("  [%d] %s %s", i+1, src.Title, src.URL)))
		}
	}
}

func (m *model) handleSlash(text string) tea.Cmd {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/quit", "/exit":
		return tea.Quit
	case "/help":
		m.appendLine(infoStyle.Render("/expert <QNA|RAG|DEEPRESEARCH> · /experts · /new · /history · /clear · /quit"))
	case "/experts":
		current := m.engine.Current().Type
		for _, info := range m.engine.Available() {
			marker := "  "
			if info.Type == current {
				marker = "* "
			}
			m.appendLine(infoStyle.Render(marker+string(info.Type)) + " " + dimStyle.Render(info.Description))
		}
	case "/expert":
		if len(fields) < 2 {
			m.appendLine(errorStyle.Render("usage: /expert <type>"))
			return nil
		}
		t, err := experts.ParseType(fields[1])
		if err == nil {
			err = m.engine.Switch(t)
		}
		if err != nil {
			m.appendLine(errorStyle.Render(err.Error()))
			return nil
		}
		m.appendLine(infoStyle.Render("switched to " + string(t)))
	case "/new":
		m.conversationID = ""
		m.appendLine(infoStyle.Render("started a new conversation"))
	case "/history":
		if m.conversationID == "" {
			m.appendLine(dimStyle.Render("no conversation yet"))
			return nil
		}
		return m.historyCmd(m.conversationID)
	case "/clear":
		if m.conversationID == "" {
			return nil
		}
		id := m.conversationID
		m.conversationID = ""
		return func() tea.Msg {
			if err := m.engine.ClearHistory(m.ctx, id); err != nil {
				return noticeMsg{text: "clear failed: " + err.Error()}
			}
			return noticeMsg{text: "cleared " + id}
		}
	default:
		m.appendLine(errorStyle.Render("unknown command " + fields[0]))
	}
	return nil
}

func (m *model) historyCmd(id string) tea.Cmd {
	return func() tea.Msg {
		messages, err := m.engine.History(m.ctx, id)
		if err != nil {
			return noticeMsg{text: "history failed: " + err.Error()}
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%d messages in %s", len(messages), id)
		for _, msg := range messages {
			fmt.Fprintf(&b, "\n  %s: %s", msg.Role, clip(msg.Content, 120))
		}
		return noticeMsg{text: b.String()}
	}
}

func (m *model) appendLine(line string) {
	m.log = append(m.log, line)
	m.refresh()
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	content := strings.Join(m.log, "\n")
	if m.partial.Len() > 0 {
		content += "\n" + botStyle.Render("...") + " " + m.partial.String()
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(content))
	m.viewport.GotoBottom()
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

var (
	frameStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("79"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("204")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	userStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	botStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
)
