// Package output provides consistent CLI output formatting.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/nrtindex/internal/ui"
)

// Writer provides formatted output for CLI.
type Writer struct {
	out    io.Writer
	styles ui.Styles
}

// New creates a Writer that styles output only when out is a color terminal.
func New(out io.Writer) *Writer {
	return NewWithStyles(out, ui.StylesFor(out, false))
}

// NewWithStyles creates a Writer with explicit styles.
func NewWithStyles(out io.Writer, styles ui.Styles) *Writer {
	return &Writer{out: out, styles: styles}
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("✅"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("⚠️ "), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.styles.Error.Render("❌"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Header prints a section title.
func (w *Writer) Header(title string) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(title))
}

// Field prints an aligned label/value pair.
func (w *Writer) Field(label string, value any) {
	_, _ = fmt.Fprintf(w.out, "  %s %s\n",
		w.styles.Label.Render(fmt.Sprintf("%-12s", label+":")),
		w.styles.Value.Render(fmt.Sprint(value)))
}

// Hit prints one ranked result line.
func (w *Writer) Hit(rank int, identity string, score float64, key string) {
	line := fmt.Sprintf("%3d. %s  %s", rank,
		w.styles.Identity.Render(identity),
		w.styles.Score.Render(fmt.Sprintf("%.4f", score)))
	if key != "" {
		line += "  " + w.styles.Dim.Render(key)
	}
	_, _ = fmt.Fprintln(w.out, line)
}

// Counts prints a facet dimension and its label counts.
func (w *Writer) Counts(dim string, labels []string, counts []uint64) {
	parts := make([]string, len(labels))
	for i := range labels {
		parts[i] = fmt.Sprintf("%s (%d)", labels[i], counts[i])
	}
	w.Field(dim, strings.Join(parts, ", "))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
