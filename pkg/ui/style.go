package ui

import "github.com/charmbracelet/lipgloss"

type Style struct {
	Header            lipgloss.Style
	UnselectedMessage lipgloss.Style
	SelectedMessage   lipgloss.Style
	FocusedMessage    lipgloss.Style
	EditingMessage    lipgloss.Style

	UserLabel   lipgloss.Style
	Meta        lipgloss.Style
	BranchLabel lipgloss.Style
	Counter     lipgloss.Style
	CounterOver lipgloss.Style
	Error       lipgloss.Style

	// verdict badges by tone, see verify.Verdict.Tone
	Badges map[string]lipgloss.Style

	Conclusion lipgloss.Style
	Source     lipgloss.Style
	Link       lipgloss.Style
	Snippet    lipgloss.Style
}

func DefaultStyles() *Style {
	message := lipgloss.NewStyle().Padding(0, 1)
	badge := lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("0"))

	return &Style{
		Header:            lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		UnselectedMessage: message.Border(lipgloss.HiddenBorder()),
		SelectedMessage:   message.Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("12")),
		FocusedMessage:    message.Border(lipgloss.ThickBorder()).BorderForeground(lipgloss.Color("10")),
		EditingMessage:    message.Border(lipgloss.ThickBorder()).BorderForeground(lipgloss.Color("11")),

		UserLabel:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		Meta:        lipgloss.NewStyle().Faint(true),
		BranchLabel: lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
		Counter:     lipgloss.NewStyle().Faint(true),
		CounterOver: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		Error: lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("9")).
			Foreground(lipgloss.Color("9")),

		Badges: map[string]lipgloss.Style{
			"positive": badge.Background(lipgloss.Color("10")),
			"negative": badge.Background(lipgloss.Color("9")),
			"partial":  badge.Background(lipgloss.Color("11")),
			"neutral":  badge.Background(lipgloss.Color("7")),
			"error":    badge.Background(lipgloss.Color("1")).Foreground(lipgloss.Color("15")),
		},

		Conclusion: lipgloss.NewStyle().Bold(true),
		Source:     lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		Link:       lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("12")),
		Snippet:    lipgloss.NewStyle().Italic(true).Faint(true),
	}
}
