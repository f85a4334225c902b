package ui

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/go-go-golems/verinews/pkg/chat"
	"github.com/go-go-golems/verinews/pkg/conversation"
	"github.com/go-go-golems/verinews/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type errMsg error

// states:
// - user input
// - user moving around messages
// - editing a message, which forks the conversation
// - waiting for a verdict
// - showing error

type State string

const (
	StateUserInput       State = "user_input"
	StateMovingAround    State = "moving_around"
	StateEditing         State = "editing"
	StateAwaitingVerdict State = "awaiting_verdict"
	StateError           State = "error"
)

type model struct {
	ctx     context.Context
	session *chat.Session

	viewport viewport.Model
	textArea textarea.Model
	spinner  spinner.Model
	help     help.Model

	// index into the projected path, always valid when the path is not empty
	selectedIdx int
	editingID   conversation.NodeID
	err         error
	// state to return to once the error is dismissed
	errReturn State
	keyMap    KeyMap

	style    *Style
	width    int
	height   int
	savePath string

	// if not nil, a verification is going on
	request *chat.Request

	state        State
	quitReceived bool
}

type ModelOption func(*model)

// WithSavePath sets the file the tree is written to on ctrl+s.
func WithSavePath(path string) ModelOption {
	return func(m *model) {
		m.savePath = path
	}
}

func WithStyle(style *Style) ModelOption {
	return func(m *model) {
		m.style = style
	}
}

func WithContext(ctx context.Context) ModelOption {
	return func(m *model) {
		m.ctx = ctx
	}
}

// ChatEventMsg carries a chat event into the program, see ForwardChatEvents.
type ChatEventMsg struct {
	Event events.Event
}

type verdictMsg struct {
	request *chat.Request
}

type refreshMessageMsg struct {
	GoToBottom bool
}

func InitialModel(session *chat.Session, options ...ModelOption) model {
	ret := model{
		ctx:      context.Background(),
		session:  session,
		style:    DefaultStyles(),
		keyMap:   DefaultKeyMap,
		viewport: viewport.New(0, 0),
		help:     help.New(),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
	for _, o := range options {
		o(&ret)
	}

	ret.textArea = textarea.New()
	ret.textArea.Placeholder = "Type a claim to verify..."
	ret.textArea.ShowLineNumbers = false
	ret.textArea.SetHeight(3)
	ret.textArea.KeyMap.InsertNewline.SetEnabled(false)
	ret.textArea.Focus()
	ret.state = StateUserInput

	ret.selectedIdx = len(session.Messages()) - 1

	ret.viewport.SetContent(ret.messageView())
	ret.viewport.YPosition = 0
	ret.viewport.GotoBottom()

	ret.updateKeyBindings()

	return ret
}

func (m model) Init() tea.Cmd {
	return textarea.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keyMap.Quit):
			if m.request != nil && !m.quitReceived {
				// settle the pending message before leaving
				_ = m.session.Cancel()
			}
			m.quitReceived = true
			return m, tea.Quit

		case key.Matches(msg, m.keyMap.DismissError):
			m.err = nil
			m.state = m.errReturn
			if m.state == StateUserInput || m.state == StateEditing {
				cmds = append(cmds, m.textArea.Focus())
			}
			m.updateKeyBindings()
			m.recomputeSize()
			return m, tea.Batch(cmds...)

		case key.Matches(msg, m.keyMap.CancelVerification):
			if err := m.session.Cancel(); err != nil && !errors.Is(err, chat.ErrNoActiveRequest) {
				return m, m.setError(err)
			}
			return m, nil

		case key.Matches(msg, m.keyMap.CancelEdit):
			m.editingID = conversation.NullNode
			m.textArea.SetValue("")
			m.textArea.Blur()
			m.state = StateMovingAround
			m.updateKeyBindings()
			m.recomputeSize()
			return m, nil

		case key.Matches(msg, m.keyMap.UnfocusMessage):
			m.textArea.Blur()
			m.state = StateMovingAround
			m.selectedIdx = len(m.session.Messages()) - 1
			m.updateKeyBindings()
			m.refresh(false)
			return m, nil

		case key.Matches(msg, m.keyMap.SubmitMessage):
			return m, m.submit()

		case key.Matches(msg, m.keyMap.FocusMessage):
			cmd = m.textArea.Focus()
			m.state = StateUserInput
			m.updateKeyBindings()
			m.refresh(true)
			return m, cmd

		case key.Matches(msg, m.keyMap.SelectNextMessage):
			if m.selectedIdx < len(m.session.Messages())-1 {
				m.selectedIdx++
			}
			m.refresh(false)
			return m, nil

		case key.Matches(msg, m.keyMap.SelectPrevMessage):
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
			m.refresh(false)
			return m, nil

		case key.Matches(msg, m.keyMap.PrevBranch):
			return m, m.cycleBranch(-1)

		case key.Matches(msg, m.keyMap.NextBranch):
			return m, m.cycleBranch(1)

		case key.Matches(msg, m.keyMap.EditMessage):
			return m, m.startEdit()

		case key.Matches(msg, m.keyMap.RestoreBranch):
			if err := m.session.RestoreBranch(); err != nil {
				return m, m.setError(err)
			}
			m.clampSelection()
			m.updateKeyBindings()
			m.refresh(true)
			return m, nil

		case key.Matches(msg, m.keyMap.Retry):
			req, err := m.session.StartRetry(m.ctx)
			if err != nil {
				return m, m.setError(err)
			}
			return m, m.awaitVerdict(req)

		case key.Matches(msg, m.keyMap.SaveToFile):
			if m.savePath == "" {
				return m, m.setError(errors.New("no save file configured, start the chat with --save"))
			}
			if err := m.session.Manager().SaveToFile(m.savePath); err != nil {
				return m, m.setError(err)
			}
			log.Info().Str("file", m.savePath).Msg("saved conversation")
			return m, nil

		case key.Matches(msg, m.keyMap.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.recomputeSize()
			return m, nil

		default:
			switch m.state {
			case StateUserInput, StateEditing:
				m.textArea, cmd = m.textArea.Update(msg)
				cmds = append(cmds, cmd)
				// the character counter lives below the input
				m.recomputeSize()
			case StateMovingAround, StateAwaitingVerdict, StateError:
				m.viewport, cmd = m.viewport.Update(msg)
				cmds = append(cmds, cmd)
			}
			return m, tea.Batch(cmds...)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		m.recomputeSize()

	// We handle errors just like any other message
	case errMsg:
		cmd = m.setError(msg)
		cmds = append(cmds, cmd)

	case spinner.TickMsg:
		if m.request != nil {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
			m.refresh(false)
		}

	case verdictMsg:
		if msg.request == m.request {
			cmd = m.finishVerification()
			cmds = append(cmds, cmd)
		}

	case ChatEventMsg:
		m.clampSelection()
		m.refresh(true)

	case refreshMessageMsg:
		m.refresh(msg.GoToBottom)

	default:
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *model) updateKeyBindings() {
	waiting := m.state == StateAwaitingVerdict
	m.keyMap.SaveToFile.SetEnabled(m.state != StateError)

	m.keyMap.SelectNextMessage.SetEnabled(m.state == StateMovingAround)
	m.keyMap.SelectPrevMessage.SetEnabled(m.state == StateMovingAround)
	m.keyMap.FocusMessage.SetEnabled(m.state == StateMovingAround)
	m.keyMap.EditMessage.SetEnabled(m.state == StateMovingAround)
	m.keyMap.PrevBranch.SetEnabled(m.state == StateMovingAround)
	m.keyMap.NextBranch.SetEnabled(m.state == StateMovingAround)
	m.keyMap.UnfocusMessage.SetEnabled(m.state == StateUserInput)
	m.keyMap.SubmitMessage.SetEnabled(m.state == StateUserInput || m.state == StateEditing)
	m.keyMap.CancelEdit.SetEnabled(m.state == StateEditing)

	m.keyMap.RestoreBranch.SetEnabled((m.state == StateUserInput || m.state == StateMovingAround) && m.session.HasBranchHistory())
	m.keyMap.Retry.SetEnabled(m.state == StateUserInput || m.state == StateMovingAround)

	m.keyMap.DismissError.SetEnabled(m.state == StateError)
	m.keyMap.CancelVerification.SetEnabled(waiting)
}

func (m *model) clampSelection() {
	n := len(m.session.Messages())
	if m.selectedIdx >= n {
		m.selectedIdx = n - 1
	}
	if m.selectedIdx < 0 && n > 0 {
		m.selectedIdx = 0
	}
}

func (m *model) refresh(goToBottom bool) {
	m.viewport.SetContent(m.messageView())
	if goToBottom {
		m.viewport.GotoBottom()
	}
}

func (m *model) recomputeSize() {
	headerView := m.headerView()
	headerHeight := lipgloss.Height(headerView)
	textAreaView := m.textAreaView()
	textAreaHeight := lipgloss.Height(textAreaView)

	helpView := m.help.View(m.keyMap)
	helpViewHeight := lipgloss.Height(helpView)

	newHeight := m.height - textAreaHeight - headerHeight - helpViewHeight
	if newHeight < 0 {
		newHeight = 0
	}
	m.viewport.Width = m.width
	m.viewport.Height = newHeight
	m.viewport.YPosition = headerHeight + 1

	h, _ := m.style.SelectedMessage.GetFrameSize()

	m.textArea.SetWidth(m.width - h)
	m.help.Width = m.width

	m.viewport.SetContent(m.messageView())
	m.viewport.GotoBottom()
}

func (m model) headerView() string {
	header := "VERINEWS"
	if tree := m.session.Snapshot(); tree.Len() > 0 {
		header += fmt.Sprintf(" · %d messages", tree.Len())
	}
	if m.session.HasBranchHistory() {
		header += " · ctrl+z restores the previous branch"
	}
	return m.style.Header.Render(header)
}

func (m model) messageWidth() int {
	w, _ := m.style.SelectedMessage.GetFrameSize()
	width := m.width - w
	if width < 20 {
		width = 20
	}
	return width
}

func (m model) messageView() string {
	ret := ""
	width := m.messageWidth()

	for idx, b := range conversation.ProjectBranches(m.session.Snapshot()) {
		v := m.renderMessage(b, width)

		style := m.style.UnselectedMessage
		if m.state == StateMovingAround && idx == m.selectedIdx {
			style = m.style.SelectedMessage
		}
		ret += style.Width(width).Render(v)
		ret += "\n"
	}

	if m.request != nil {
		ret += fmt.Sprintf(" %s Verifying claim... (esc to cancel)\n", m.spinner.View())
	}

	return ret
}

func (m model) renderMessage(b conversation.BranchView, width int) string {
	msg := b.Message
	label := "VeriNews"
	if msg.IsUser() {
		label = "You"
	}

	meta := []string{humanize.Time(msg.Time)}
	if msg.IsUser() && msg.Status != conversation.StatusSent {
		meta = append(meta, string(msg.Status))
	}
	if b.HasSiblings() {
		meta = append(meta, m.style.BranchLabel.Render(fmt.Sprintf("‹ %d/%d ›", b.Index+1, b.Count)))
	}
	header := m.style.UserLabel.Render(label) + " " + m.style.Meta.Render(strings.Join(meta, " · "))

	if msg.IsUser() {
		return header + "\n" + wrapWords(msg.Text, width)
	}
	return header + "\n" + RenderResult(msg.Result, RenderOptions{
		Width:      width,
		Styled:     true,
		MaxSources: 5,
		Style:      m.style,
	})
}

func (m model) counterView() string {
	limit := m.session.MaxClaimLength()
	n := utf8.RuneCountInString(strings.TrimSpace(m.textArea.Value()))
	if limit <= 0 {
		return m.style.Counter.Render(fmt.Sprintf("%d characters", n))
	}
	counter := fmt.Sprintf("%d/%d", n, limit)
	if n > limit {
		return m.style.CounterOver.Render(counter + " too long")
	}
	return m.style.Counter.Render(counter)
}

func (m model) textAreaView() string {
	if m.err != nil {
		w, _ := m.style.Error.GetFrameSize()
		v := wrapWords(m.err.Error(), m.width-w)
		return m.style.Error.Render(v)
	}

	v := m.textArea.View()
	switch m.state {
	case StateUserInput:
		v = m.style.FocusedMessage.Render(v)
	case StateEditing:
		v = m.style.EditingMessage.Render(v)
	case StateMovingAround, StateAwaitingVerdict, StateError:
		v = m.style.UnselectedMessage.Render(v)
	}

	return v + "\n" + m.counterView()
}

func (m model) View() string {
	headerView := m.headerView()
	viewportView := m.viewport.View()
	textAreaView := m.textAreaView()
	helpView := m.help.View(m.keyMap)

	return headerView + "\n" + viewportView + "\n" + textAreaView + "\n" + helpView
}

func (m *model) submit() tea.Cmd {
	if m.request != nil {
		return m.setError(chat.ErrSubmissionInFlight)
	}

	var req *chat.Request
	var err error
	if m.state == StateEditing {
		req, err = m.session.StartEdit(m.ctx, m.editingID, m.textArea.Value())
	} else {
		req, err = m.session.Start(m.ctx, m.textArea.Value())
	}
	if err != nil {
		return m.setError(err)
	}

	m.editingID = conversation.NullNode
	m.textArea.SetValue("")
	return m.awaitVerdict(req)
}

func (m *model) awaitVerdict(req *chat.Request) tea.Cmd {
	m.request = req
	m.state = StateAwaitingVerdict
	m.textArea.Blur()
	m.updateKeyBindings()
	m.recomputeSize()

	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg {
			_, _ = req.Wait()
			return verdictMsg{request: req}
		},
		func() tea.Msg {
			return refreshMessageMsg{GoToBottom: true}
		},
	)
}

func (m *model) finishVerification() tea.Cmd {
	// already finished, happens when cancel and verdict race
	if m.request == nil {
		return nil
	}
	m.request = nil

	if m.quitReceived {
		return tea.Quit
	}

	m.selectedIdx = len(m.session.Messages()) - 1
	if m.state == StateError {
		m.errReturn = StateUserInput
		m.recomputeSize()
		return nil
	}

	m.state = StateUserInput
	cmd := m.textArea.Focus()
	m.updateKeyBindings()
	m.recomputeSize()

	return cmd
}

// cycleBranch switches the selected message to its previous or next sibling.
func (m *model) cycleBranch(delta int) tea.Cmd {
	branches := conversation.ProjectBranches(m.session.Snapshot())
	if m.selectedIdx < 0 || m.selectedIdx >= len(branches) {
		return nil
	}
	b := branches[m.selectedIdx]
	if !b.HasSiblings() {
		return nil
	}
	next := (b.Index + delta + b.Count) % b.Count
	if err := m.session.NavigateBranch(b.Message.ParentID, next); err != nil {
		return m.setError(err)
	}
	m.clampSelection()
	m.updateKeyBindings()
	m.refresh(false)
	return nil
}

func (m *model) startEdit() tea.Cmd {
	messages := m.session.Messages()
	if m.selectedIdx < 0 || m.selectedIdx >= len(messages) {
		return nil
	}
	msg := messages[m.selectedIdx]
	if !msg.IsUser() {
		return m.setError(errors.New("only your own messages can be edited"))
	}

	m.editingID = msg.ID
	m.textArea.SetValue(msg.Text)
	m.state = StateEditing
	m.updateKeyBindings()
	m.recomputeSize()
	return m.textArea.Focus()
}

func (m *model) setError(err error) tea.Cmd {
	if m.state != StateError {
		m.errReturn = m.state
	}
	m.err = err
	m.state = StateError
	m.textArea.Blur()
	m.updateKeyBindings()
	m.recomputeSize()
	return nil
}
