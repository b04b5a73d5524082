package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/mdsentry/internal/conflict"
	"github.com/Aman-CERP/mdsentry/internal/watcher"
)

// Color palette - lime accent with severity colors
const (
	ColorLime     = "154" // Primary accent, selection
	ColorLimeDim  = "106" // Info severity
	ColorWhite    = "255" // Headers, important text
	ColorGray     = "245" // Secondary text, labels
	ColorDarkGray = "238" // Box borders, separators
	ColorRed      = "196" // Blocking conflicts, errors
	ColorYellow   = "220" // Warnings
)

// Styles holds all UI styles.
type Styles struct {
	Header   lipgloss.Style
	Path     lipgloss.Style
	Success  lipgloss.Style
	Info     lipgloss.Style
	Warning  lipgloss.Style
	Blocking lipgloss.Style
	Dim      lipgloss.Style
	Selected lipgloss.Style
	Label    lipgloss.Style
	Panel    lipgloss.Style
}

// DefaultStyles returns styled components for color terminals.
func DefaultStyles() Styles {
	return Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Path:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
		Success:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
		Info:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLimeDim)),
		Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Blocking: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorRed)),
		Dim:      lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Selected: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Label:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1),
	}
}

// NoColorStyles returns unstyled components for plain mode.
func NoColorStyles() Styles {
	return Styles{
		Header:   lipgloss.NewStyle(),
		Path:     lipgloss.NewStyle(),
		Success:  lipgloss.NewStyle(),
		Info:     lipgloss.NewStyle(),
		Warning:  lipgloss.NewStyle(),
		Blocking: lipgloss.NewStyle(),
		Dim:      lipgloss.NewStyle(),
		Selected: lipgloss.NewStyle(),
		Label:    lipgloss.NewStyle(),
		Panel:    lipgloss.NewStyle(),
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}

// Severity returns the style for a conflict severity.
func (s Styles) Severity(sev conflict.Severity) lipgloss.Style {
	switch sev {
	case conflict.SeverityBlocking:
		return s.Blocking
	case conflict.SeverityWarning:
		return s.Warning
	default:
		return s.Info
	}
}

// Health returns the style for a watch health state.
func (s Styles) Health(h watcher.Health) lipgloss.Style {
	switch h {
	case watcher.HealthActive:
		return s.Success
	case watcher.HealthDegraded:
		return s.Warning
	default:
		return s.Blocking
	}
}
