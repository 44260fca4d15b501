package color

import "github.com/charmbracelet/lipgloss"

// Solarized accents and base tones.
var (
	Yellow = lipgloss.Color("#B58900")
	Red    = lipgloss.Color("#DC322F")
	Green  = lipgloss.Color("#859900")
	Cyan   = lipgloss.Color("#2AA198")

	XXXLight = lipgloss.AdaptiveColor{Dark: "#FDF6E3", Light: "#002B36"}
	XLight   = lipgloss.AdaptiveColor{Dark: "#93A1A1", Light: "#586E75"}
	XDark    = lipgloss.AdaptiveColor{Dark: "#586E75", Light: "#93A1A1"}
)
