package cli

import "github.com/charmbracelet/lipgloss"

var (
	infoStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)
