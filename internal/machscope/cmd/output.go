package cmd

import (
	"github.com/charmbracelet/lipgloss/v2"

	"machscope/internal/ui/colorize"
)

// paint renders s with st unless colour output is off.
func paint(st lipgloss.Style, s string) string {
	if !colorize.Enabled() {
		return s
	}
	return st.Render(s)
}
