package screen

import "github.com/charmbracelet/lipgloss"

// Adaptive palette so the frame reads on light and dark operator terminals.
var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#58A6FF"}
	colorSuccess = lipgloss.AdaptiveColor{Light: "#008000", Dark: "#3FB950"}
	colorError   = lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#F85149"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#CC6600", Dark: "#D29922"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#8B949E"}
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
	styleError   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleWarning = lipgloss.NewStyle().Foreground(colorWarning)
	styleSuccess = lipgloss.NewStyle().Foreground(colorSuccess)
	styleEntry   = lipgloss.NewStyle().Bold(true)
)

func frameStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(colorPrimary).
		Padding(0, 1).
		Width(width)
}
