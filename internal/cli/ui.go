package cli

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	headingStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// styled reports whether text output to stdout gets colors
func styled(globals *Globals) bool {
	if globals == nil || globals.Format != "text" {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return isTerminal(globals.Stdout)
}

func errorLabel(globals *Globals) string {
	if globals != nil && isTerminal(globals.Stderr) {
		return errorStyle.Render("Error")
	}
	return "Error"
}

func heading(globals *Globals, s string) string {
	if styled(globals) {
		return headingStyle.Render(s)
	}
	return s
}

func muted(globals *Globals, s string) string {
	if styled(globals) {
		return mutedStyle.Render(s)
	}
	return s
}
