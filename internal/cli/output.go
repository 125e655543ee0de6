// Package cli provides terminal output helpers and shell completion for the
// admin CLI.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorBold   = "\033[1m"
)

// Printer writes status lines and tables, colored when attached to a terminal.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter writes to w. Color is enabled only for a character device.
func NewPrinter(w io.Writer) *Printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isTerminal(f)
	}
	return &Printer{w: w, color: color}
}

// Colorize returns a colored string
func (p *Printer) Colorize(text string, color string) string {
	if !p.color {
		return text
	}
	return color + text + ColorReset
}

// Success prints a success message
func (p *Printer) Success(message string) { p.status("✓", ColorGreen, message) }

// Error prints an error message
func (p *Printer) Error(message string) { p.status("✗", ColorRed, message) }

// Warning prints a warning message
func (p *Printer) Warning(message string) { p.status("⚠", ColorYellow, message) }

// Info prints an info message
func (p *Printer) Info(message string) { p.status("ℹ", ColorBlue, message) }

func (p *Printer) status(symbol, color, message string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Colorize(symbol, color), message)
}

// Table prints rows under a bold header, aligned in columns.
func (p *Printer) Table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, p.Colorize(strings.Join(header, "\t"), ColorBold))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

func isTerminal(f *os.File) bool {
	fileInfo, err := f.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
