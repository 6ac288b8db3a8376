package dashboard

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#00FFFF")
	accentColor  = lipgloss.Color("#00FF88")
	orangeColor  = lipgloss.Color("#FFA500")
	purpleColor  = lipgloss.Color("#B490FF")

	successText = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF88"))
	warnText    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700"))
	errText     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4444"))

	headerBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	dashBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	dividerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	metaStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const logo = "⚡ loadgen"
