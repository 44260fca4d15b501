package styles

import (
	"github.com/AltoxaM/devrun/internal/color"
	"github.com/charmbracelet/lipgloss"
)

var (
	Log = lipgloss.NewStyle().
		Foreground(color.XXXLight).
		Italic(true)

	Error = lipgloss.NewStyle().
		Foreground(color.Red)

	Timestamp = lipgloss.NewStyle().
			Foreground(color.XDark)
)
