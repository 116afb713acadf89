package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/papapumpkin/inkwell/internal/source"
)

// Semantic color palette.
var (
	colorPrimary    = lipgloss.Color("#00BFFF") // Cyan: headings
	colorAccent     = lipgloss.Color("#FFD700") // Gold: warnings/pending
	colorSuccess    = lipgloss.Color("#00E676") // Green: compiled
	colorDanger     = lipgloss.Color("#FF5252") // Red: errors/failures
	colorMuted      = lipgloss.Color("#636363") // Gray: de-emphasized
	colorMutedLight = lipgloss.Color("#8C8C8C") // Lighter gray: notes
	colorBlue       = lipgloss.Color("#5B8DEF") // Blue: compiling
)

// Status icons.
const (
	iconDone    = "✓"
	iconFailed  = "✗"
	iconWorking = "◎"
	iconWaiting = "·"
	iconBlocked = "⊘"
)

var (
	styleHeading = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	styleLabel   = lipgloss.NewStyle().Foreground(colorMutedLight)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
	styleDone    = lipgloss.NewStyle().Foreground(colorSuccess)
	styleWorking = lipgloss.NewStyle().Foreground(colorBlue)
	styleWarning = lipgloss.NewStyle().Foreground(colorAccent)
	styleFailed  = lipgloss.NewStyle().Foreground(colorDanger).Bold(true)
	styleNote    = lipgloss.NewStyle().Foreground(colorMutedLight).Italic(true)
)

func severityStyle(s source.Severity) lipgloss.Style {
	switch s {
	case source.SeverityError:
		return styleFailed
	case source.SeverityWarning:
		return styleWarning
	default:
		return styleNote
	}
}
