package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5F5F")
	colorGreen  = lipgloss.Color("#5FD75F")
	colorYellow = lipgloss.Color("#D7D75F")
	colorCyan   = lipgloss.Color("#5FD7D7")
	colorGray   = lipgloss.Color("#666666")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	recordingDotStyle = lipgloss.NewStyle().
				Foreground(colorRed).
				Bold(true)

	idleDotStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	selectedStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	statusDoneStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	statusFailedStyle = lipgloss.NewStyle().
				Foreground(colorRed)

	statusBusyStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Bold(true)

	footerDescStyle = lipgloss.NewStyle().
			Foreground(colorGray)
)
