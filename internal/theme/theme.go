// Package theme holds the lipgloss styles used for CLI output.
package theme

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Bigsy/mcpconn/internal/events"
)

// Theme holds the styles used when rendering to a terminal.
type Theme struct {
	Base  lipgloss.Style
	Muted lipgloss.Style
	Faint lipgloss.Style
	Title lipgloss.Style

	Primary lipgloss.Style
	Success lipgloss.Style
	Warn    lipgloss.Style
	Danger  lipgloss.Style
}

// New creates the default theme (orange accent).
func New() Theme {
	primary := lipgloss.AdaptiveColor{Light: "#EA580C", Dark: "#FB923C"} // Orange
	success := lipgloss.AdaptiveColor{Light: "#0F7B0F", Dark: "#9ECE6A"}
	warn := lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	danger := lipgloss.AdaptiveColor{Light: "#B00020", Dark: "#F7768E"}
	muted := lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A9B1D6"}
	faint := lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#565F89"}

	return Theme{
		Base:  lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#111827", Dark: "#C0CAF5"}),
		Muted: lipgloss.NewStyle().Foreground(muted),
		Faint: lipgloss.NewStyle().Foreground(faint),
		Title: lipgloss.NewStyle().Bold(true).Foreground(primary),

		Primary: lipgloss.NewStyle().Foreground(primary),
		Success: lipgloss.NewStyle().Foreground(success),
		Warn:    lipgloss.NewStyle().Foreground(warn),
		Danger:  lipgloss.NewStyle().Foreground(danger),
	}
}

// StatusIcon returns the icon for a connection state.
func (t Theme) StatusIcon(state events.ConnState) string {
	switch {
	case state == events.StateReady:
		return t.Success.Render("●")
	case state == events.StateFailed:
		return t.Danger.Render("✖")
	case state.IsSetup(), state == events.StateClosing:
		return t.Warn.Render("◐")
	default:
		return t.Faint.Render("○")
	}
}

// StatusPill renders a connection state as a coloured label.
func (t Theme) StatusPill(state events.ConnState) string {
	pill := lipgloss.NewStyle().Padding(0, 1).Bold(true)
	switch {
	case state == events.StateReady:
		return pill.Background(lipgloss.Color("#14532D")).
			Foreground(lipgloss.Color("#DCFCE7")).Render("● READY")
	case state == events.StateFailed:
		return pill.Background(lipgloss.Color("#7F1D1D")).
			Foreground(lipgloss.Color("#FEE2E2")).Render("✖ FAILED")
	case state.IsSetup(), state == events.StateClosing:
		return pill.Background(lipgloss.Color("#713F12")).
			Foreground(lipgloss.Color("#FEF3C7")).Render("◐ " + strings.ToUpper(state.String()))
	default:
		return pill.Background(lipgloss.Color("#374151")).
			Foreground(lipgloss.Color("#E5E7EB")).Render("○ " + strings.ToUpper(state.String()))
	}
}

// Summary styles a tool summary: the header line as a title, qualified names
// in the accent colour and parameter lines faint.
func (t Theme) Summary(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		switch {
		case i == 0:
			lines[i] = t.Title.Render(line)
		case strings.HasPrefix(line, "- "):
			name, desc, _ := strings.Cut(strings.TrimPrefix(line, "- "), ":")
			lines[i] = "- " + t.Primary.Render(name) + ":" + t.Base.Render(desc)
		case strings.HasPrefix(line, "  "):
			lines[i] = t.Faint.Render(line)
		}
	}
	return strings.Join(lines, "\n") + "\n"
}
