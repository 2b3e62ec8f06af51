package cli

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the palette shared by all commands.
type Theme struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Accept    lipgloss.Style
	Warn      lipgloss.Style
	Fail      lipgloss.Style
	Dim       lipgloss.Style
	LaneFast  lipgloss.Style
	LaneFocus lipgloss.Style
	LaneAudit lipgloss.Style
}

// currentTheme adapts to the terminal's color capability.
func currentTheme() Theme {
	if termenv.EnvColorProfile() == termenv.Ascii {
		plain := lipgloss.NewStyle()
		return Theme{
			Title: plain, Subtitle: plain, Accept: plain, Warn: plain,
			Fail: plain, Dim: plain, LaneFast: plain, LaneFocus: plain, LaneAudit: plain,
		}
	}
	return Theme{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")),
		Subtitle:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Accept:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		Warn:      lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Fail:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		LaneFast:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		LaneFocus: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		LaneAudit: lipgloss.NewStyle().Foreground(lipgloss.Color("135")),
	}
}

// laneStyle picks the style for a lane name.
func (t Theme) laneStyle(lane string) lipgloss.Style {
	switch lane {
	case "fast":
		return t.LaneFast
	case "focus":
		return t.LaneFocus
	case "audit":
		return t.LaneAudit
	default:
		return t.Dim
	}
}
