// Package render formats pool, perf and checkpoint state for the CLI.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Writer is the sink command output goes through. Text and JSON modes
// share it so tests can capture either.
type Writer struct {
	out io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{out: w}
}

func Stdout() *Writer {
	return NewWriter(os.Stdout)
}

// Print writes pre-rendered text unchanged.
func (w *Writer) Print(s string) {
	fmt.Fprint(w.out, s)
}

// Println writes one formatted line.
func (w *Writer) Println(format string, args ...any) {
	fmt.Fprintf(w.out, format+"\n", args...)
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Truncate cuts s to n bytes, ending in "..." when there is room for it.
func Truncate(s string, n int) string {
	switch {
	case len(s) <= n:
		return s
	case n <= 3:
		return s[:n]
	}
	return s[:n-3] + "..."
}
