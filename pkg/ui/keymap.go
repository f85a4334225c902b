package ui

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	SelectPrevMessage key.Binding
	SelectNextMessage key.Binding
	UnfocusMessage    key.Binding
	FocusMessage      key.Binding
	SubmitMessage     key.Binding

	EditMessage   key.Binding
	CancelEdit    key.Binding
	PrevBranch    key.Binding
	NextBranch    key.Binding
	RestoreBranch key.Binding
	Retry         key.Binding

	CancelVerification key.Binding
	DismissError       key.Binding

	SaveToFile key.Binding

	Help key.Binding
	Quit key.Binding
}

var DefaultKeyMap = KeyMap{
	SelectPrevMessage: key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑", "previous message")),
	SelectNextMessage: key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓", "next message")),
	UnfocusMessage:    key.NewBinding(key.WithKeys("esc", "ctrl+g"), key.WithHelp("esc", "browse messages")),
	FocusMessage:      key.NewBinding(key.WithKeys("enter", "i"), key.WithHelp("enter", "write")),
	SubmitMessage:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "verify")),

	EditMessage:   key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
	CancelEdit:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel edit")),
	PrevBranch:    key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←", "previous branch")),
	NextBranch:    key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→", "next branch")),
	RestoreBranch: key.NewBinding(key.WithKeys("ctrl+z"), key.WithHelp("ctrl+z", "restore branch")),
	Retry:         key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "retry")),

	CancelVerification: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
	DismissError:       key.NewBinding(key.WithKeys("esc", "enter"), key.WithHelp("esc", "dismiss")),

	SaveToFile: key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "save")),

	Help: key.NewBinding(key.WithKeys("f1"), key.WithHelp("f1", "help")),
	Quit: key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.SubmitMessage, k.FocusMessage, k.UnfocusMessage, k.CancelVerification, k.DismissError,
		k.EditMessage, k.CancelEdit, k.PrevBranch, k.NextBranch, k.RestoreBranch, k.Retry,
		k.Help, k.Quit,
	}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.SubmitMessage, k.FocusMessage, k.UnfocusMessage, k.SelectPrevMessage, k.SelectNextMessage},
		{k.EditMessage, k.CancelEdit, k.PrevBranch, k.NextBranch, k.RestoreBranch},
		{k.Retry, k.CancelVerification, k.DismissError, k.SaveToFile, k.Help, k.Quit},
	}
}
