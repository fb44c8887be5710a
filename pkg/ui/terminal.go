// Package ui renders apiflow command output.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	neonCyan    = lipgloss.Color("#00FFFF")
	neonMagenta = lipgloss.Color("#FF00FF")
	neonGreen   = lipgloss.Color("#39FF14")
	neonYellow  = lipgloss.Color("#FFFF00")
	alertRed    = lipgloss.Color("#FF0000")
	dimGray     = lipgloss.Color("#808080")
)

type printer struct {
	mu       sync.Mutex
	out      io.Writer
	errOut   io.Writer
	renderer *lipgloss.Renderer
	quiet    bool
}

var std = newPrinter(os.Stdout, os.Stderr)

func newPrinter(out, errOut io.Writer) *printer {
	return &printer{out: out, errOut: errOut, renderer: lipgloss.NewRenderer(out)}
}

func (p *printer) style(color lipgloss.Color, bold bool) lipgloss.Style {
	return p.renderer.NewStyle().Foreground(color).Bold(bold)
}

// SetOutput redirects normal and error output. Colors are chosen for out.
func SetOutput(out, errOut io.Writer) {
	p := newPrinter(out, errOut)
	std.mu.Lock()
	p.quiet = std.quiet
	std.mu.Unlock()
	std = p
}

// SetQuietMode suppresses everything except errors and results.
func SetQuietMode(quiet bool) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.quiet = quiet
}

// SetNoColor disables colored output.
func SetNoColor(noColor bool) {
	std.mu.Lock()
	defer std.mu.Unlock()
	if noColor {
		std.renderer.SetColorProfile(termenv.Ascii)
	}
}

func (p *printer) println(toErr, always bool, s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quiet && !always {
		return
	}
	w := p.out
	if toErr {
		w = p.errOut
	}
	fmt.Fprintln(w, s)
}

// PrintError prints an error message, with an optional detail, to the
// error output.
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 && fmt.Sprint(args[0]) != "" {
		msg = msg + ": " + fmt.Sprint(args[0])
	}
	std.println(true, true, std.style(alertRed, true).Render(msg))
}

// PrintSuccess prints a success message
func PrintSuccess(msg string) {
	std.println(false, false, std.style(neonGreen, true).Render(msg))
}

// PrintInfo prints a label and its value
func PrintInfo(label string, value string) {
	std.println(false, false, std.style(neonCyan, true).Render(label+":")+" "+std.style(neonYellow, false).Render(value))
}

// PrintWarning prints a warning message
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		msg = msg + ": " + fmt.Sprint(args[0])
	}
	std.println(true, false, std.style(neonYellow, false).Render(msg))
}

// PrintHighlight prints a section heading
func PrintHighlight(msg string) {
	std.println(false, false, std.style(neonMagenta, true).Render(msg))
}

// PrintDim prints low-priority detail
func PrintDim(msg string) {
	std.println(false, false, std.style(dimGray, false).Render(msg))
}

// PrintResult prints command output. It is shown even in quiet mode.
func PrintResult(s string) {
	std.println(false, true, s)
}
