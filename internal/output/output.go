// Package output prints short status lines for CLI commands.
package output

import (
	"fmt"
	"io"
)

// Writer prints icon-prefixed status lines. Write errors are ignored;
// this is console output.
type Writer struct {
	out   io.Writer
	plain bool
}

// New creates a Writer. plain replaces icons with ASCII markers for
// terminals and logs that mangle emoji.
func New(out io.Writer, plain bool) *Writer {
	return &Writer{out: out, plain: plain}
}

// Status prints msg after icon, or indented when icon is empty.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success reports a completed action.
func (w *Writer) Success(msg string) {
	w.Status(w.icon("✅", "[ok]"), msg)
}

// Successf is Success with formatting.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning reports something the user should look at.
func (w *Writer) Warning(msg string) {
	w.Status(w.icon("⚠️ ", "[!]"), msg)
}

// Warningf is Warning with formatting.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Location prints a labelled file path.
func (w *Writer) Location(label, path string) {
	w.Statusf(w.icon("📁", "  "), "%s: %s", label, path)
}

// Hint suggests a next step.
func (w *Writer) Hint(msg string) {
	w.Status(w.icon("💡", "  "), msg)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

func (w *Writer) icon(fancy, plain string) string {
	if w.plain {
		return plain
	}
	return fancy
}
