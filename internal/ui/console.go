package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const maxConsoleLines = 200

// Controller is the call surface the console drives.
type Controller interface {
	InitiateCall(ctx context.Context) error
	ShareScreen(ctx context.Context) error
	StopScreenShare() error
	SendChatMessage(ctx context.Context, text string) error
	Hangup()
}

// StateMsg reports a new session state by name.
type StateMsg string

// ChatMsg carries a chat line from the remote participant.
type ChatMsg string

// RemoteSourceMsg reports which source now feeds a remote track.
type RemoteSourceMsg struct {
	Kind   string
	Source string
}

// NoticeMsg is an informational line, such as the peer leaving the room.
type NoticeMsg string

type actionResultMsg struct {
	action string
	text   string
	err    error
}

type consoleModel struct {
	ctx  context.Context
	ctrl Controller
	room string

	input   textinput.Model
	spinner spinner.Model

	state        string
	sharing      bool
	remoteSource string
	lines        []string
	height       int
	quitting     bool
}

func newConsoleModel(ctx context.Context, ctrl Controller, room string) *consoleModel {
	ti := textinput.New()
	ti.Placeholder = "type a message or /help"
	ti.Prompt = "> "
	ti.PromptStyle = PromptStyle
	ti.CharLimit = 1000
	ti.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	m := &consoleModel{
		ctx:     ctx,
		ctrl:    ctrl,
		room:    room,
		input:   ti,
		spinner: s,
		state:   "idle",
	}
	m.appendLine(MutedStyle.Render("Type /call to start the call, /help for commands."))
	return m
}

func (m *consoleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			return m, m.execute(line)
		}

	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.input.Width = max(10, msg.Width-4)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case StateMsg:
		m.state = string(msg)
		if m.state == "closed" || m.state == "failed" {
			m.sharing = false
			m.remoteSource = ""
		}
		m.appendLine(fmt.Sprintf("%s call %s", IconConnect, StatusStyle.Render(m.state)))
		return m, nil

	case ChatMsg:
		m.appendLine(RemoteChatStyle.Render("peer: ") + string(msg))
		return m, nil

	case RemoteSourceMsg:
		m.remoteSource = msg.Source
		m.appendLine(MutedStyle.Render(fmt.Sprintf("peer switched %s to %s", msg.Kind, msg.Source)))
		return m, nil

	case NoticeMsg:
		m.appendLine(fmt.Sprintf("%s %s", IconInfo, string(msg)))
		return m, nil

	case actionResultMsg:
		m.applyResult(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *consoleModel) execute(line string) tea.Cmd {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return m.run("chat", line, func(ctx context.Context) error {
			return m.ctrl.SendChatMessage(ctx, line)
		})
	}

	switch strings.ToLower(strings.Fields(line)[0]) {
	case "/call":
		return m.run("call", "", m.ctrl.InitiateCall)
	case "/share":
		return m.run("share", "", m.ctrl.ShareScreen)
	case "/camera":
		return m.run("camera", "", func(context.Context) error {
			return m.ctrl.StopScreenShare()
		})
	case "/hangup":
		return m.run("hangup", "", func(context.Context) error {
			m.ctrl.Hangup()
			return nil
		})
	case "/quit", "/exit":
		m.quitting = true
		return tea.Quit
	case "/help":
		m.appendLine(helpText())
		return nil
	default:
		m.appendLine(WarningStyle.Render(fmt.Sprintf("%s unknown command %s", IconWarning, line)))
		return nil
	}
}

func (m *consoleModel) run(action, text string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionResultMsg{action: action, text: text, err: fn(ctx)}
	}
}

func (m *consoleModel) applyResult(res actionResultMsg) {
	if res.err != nil {
		m.appendLine(FormatError(res.err))
		return
	}

	switch res.action {
	case "chat":
		m.appendLine(LocalChatStyle.Render("you: ") + res.text)
	case "call":
		m.appendLine(fmt.Sprintf("%s calling...", IconCall))
	case "share":
		m.sharing = true
		m.appendLine(fmt.Sprintf("%s sharing screen", IconScreen))
	case "camera":
		m.sharing = false
		m.appendLine(fmt.Sprintf("%s back to camera", IconCamera))
	case "hangup":
		m.appendLine(fmt.Sprintf("%s hung up", IconHangup))
	}
}

func (m *consoleModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxConsoleLines {
		m.lines = m.lines[len(m.lines)-maxConsoleLines:]
	}
}

func (m *consoleModel) negotiating() bool {
	return m.state == "connecting" || m.state == "descriptions-exchanged"
}

func (m *consoleModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	status := StatusStyle.Render(m.state)
	if m.negotiating() {
		status = m.spinner.View() + " " + status
	}
	fmt.Fprintf(&b, "%s %s  %s %s  %s\n", TitleStyle.Render("warpcall"), MutedStyle.Render("room"), BoldStyle.Render(m.room), IconPeer, status)

	var media []string
	if m.sharing {
		media = append(media, IconScreen+" sharing screen")
	}
	if m.remoteSource != "" {
		media = append(media, "peer video: "+m.remoteSource)
	}
	if len(media) > 0 {
		b.WriteString(MutedStyle.Render(strings.Join(media, "  ")) + "\n")
	}
	b.WriteString("\n")

	visible := m.lines
	if limit := m.height - 6; limit > 0 && len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	for _, line := range visible {
		b.WriteString(line + "\n")
	}

	b.WriteString("\n" + m.input.View())
	b.WriteString(HelpStyle.Render("/call  /share  /camera  /hangup  /quit  ctrl+c"))
	return b.String()
}

func helpText() string {
	return strings.Join([]string{
		BoldStyle.Render("Commands"),
		"  /call     start the call",
		"  /share    replace the camera with the screen",
		"  /camera   switch back to the camera",
		"  /hangup   end the call, stay in the room",
		"  /quit     leave",
		"  anything else is sent as chat",
	}, "\n")
}

// Console runs the interactive call console until the user quits.
type Console struct {
	program *tea.Program
}

func NewConsole(ctx context.Context, ctrl Controller, room string, opts ...tea.ProgramOption) *Console {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	return &Console{program: tea.NewProgram(newConsoleModel(ctx, ctrl, room), opts...)}
}

// Run blocks until the console exits.
func (c *Console) Run() error {
	_, err := c.program.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// Send delivers msg to the console. It returns immediately once the console
// has exited.
func (c *Console) Send(msg tea.Msg) {
	c.program.Send(msg)
}
