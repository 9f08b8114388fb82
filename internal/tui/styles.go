package tui

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	confirmStyle = lipgloss.NewStyle().Foreground(warningColor).Bold(true)

	tableStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor)

	runningStyle = lipgloss.NewStyle().Foreground(successColor)
	stoppedStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

func formatStatus(status string) string {
	switch status {
	case "RUNNING":
		return runningStyle.Render("● RUNNING")
	case "STOPPED":
		return stoppedStyle.Render("○ STOPPED")
	default:
		return status
	}
}
