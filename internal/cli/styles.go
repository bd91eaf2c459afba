package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Style definitions for the status and config views.
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"})
	labelStyle = lipgloss.NewStyle().
			Faint(true).
			Width(18)
	valueStyle = lipgloss.NewStyle()
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D2283C", Dark: "#FF5F87"})
)

func printSection(out io.Writer, title string) {
	fmt.Fprintf(out, "  %s\n", headerStyle.Render(title))
}

func printKV(out io.Writer, label, value string) {
	fmt.Fprintf(out, "    %s%s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}

func boolYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
