// Package progress prints a single overwritten terminal progress line.
package progress

import (
	"fmt"
	"io"
	"os"
)

// DoneLabel is shown on the final line of a run.
const DoneLabel = "Done"

// Reporter writes progress lines to w.
type Reporter struct {
	w io.Writer
}

// New returns a Reporter writing to w, or stdout when w is nil.
func New(w io.Writer) *Reporter {
	if w == nil {
		w = os.Stdout
	}
	return &Reporter{w: w}
}

// Percent returns floor(current/total*100). A non-positive total is complete.
func Percent(current, total int) int {
	if total <= 0 {
		return 100
	}
	return current * 100 / total
}

// Line renders the carriage-return prefixed progress text.
func Line(current, total int, label string) string {
	line := fmt.Sprintf("\rProcessing %s [%d%%]", label, Percent(current, total))
	if current == total {
		line += "\n"
	}
	return line
}

// Report writes the line for (current, total, label).
func (r *Reporter) Report(current, total int, label string) {
	if r == nil {
		return
	}
	fmt.Fprint(r.w, Line(current, total, label))
}

// Done writes the final line of a run.
func (r *Reporter) Done(total int) {
	r.Report(total, total, DoneLabel)
}
