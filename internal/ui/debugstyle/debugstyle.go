// Package debugstyle colorizes RTLD_DEBUG diagnostic lines written to
// stderr. It never touches the machine-parseable ldd/trace output on
// stdout. The terminal-styling approach (github.com/charmbracelet/lipgloss
// plus NO_COLOR detection) carries over from a sibling package that used
// it to syntax-highlight disassembled instructions; with nothing here to
// disassemble, only the styling and NO_COLOR concern remain.
package debugstyle

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	resolvedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	missingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	bindingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	conflictStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

// Disabled reports whether color output should be suppressed, honoring
// LDSIM_NO_COLOR and the general NO_COLOR convention.
func Disabled() bool {
	if os.Getenv("LDSIM_NO_COLOR") != "" {
		return true
	}
	if os.Getenv("NO_COLOR") != "" {
		return true
	}
	return false
}

// Resolved styles a successful path-resolution diagnostic line.
func Resolved(s string) string {
	if Disabled() {
		return s
	}
	return resolvedStyle.Render(s)
}

// Missing styles a not-found diagnostic line.
func Missing(s string) string {
	if Disabled() {
		return s
	}
	return missingStyle.Render(s)
}

// Binding styles a symbol-binding diagnostic line.
func Binding(s string) string {
	if Disabled() {
		return s
	}
	return bindingStyle.Render(s)
}

// Conflict styles a conflict diagnostic line.
func Conflict(s string) string {
	if Disabled() {
		return s
	}
	return conflictStyle.Render(s)
}
