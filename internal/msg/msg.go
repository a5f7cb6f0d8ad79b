package msg

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

func Error(format string, a ...any) {
	fmt.Print(color.HiRedString("error"))
	fmt.Print(": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
}

func Warn(format string, a ...any) {
	fmt.Print(color.YellowString("warn"))
	fmt.Print(": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
}

func Fatal(format string, a ...any) {
	fmt.Print(color.RedString("fatal"))
	fmt.Print(": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
	os.Exit(1)
}

func Info(format string, a ...any) {
	fmt.Print(color.HiGreenString("info"))
	fmt.Print(": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
}

// LineWriter prefixes every complete line written through it, optionally
// coloring the whole line. Used to stream test-process output.
type LineWriter struct {
	Prefix  string
	Color   *color.Color
	W       io.Writer
	partial []byte
}

func (w *LineWriter) Write(p []byte) (n int, err error) {
	n = len(p)
	for _, c := range p {
		if c == '\n' || c == '\r' {
			if len(w.partial) > 0 {
				w.flushLine()
			}
			continue
		}
		w.partial = append(w.partial, c)
	}
	return n, nil
}

func (w *LineWriter) flushLine() {
	line := w.Prefix + string(w.partial)
	if w.Color != nil {
		line = w.Color.Sprint(line)
	}
	fmt.Fprintln(w.W, line)
	w.partial = w.partial[:0]
}

// Flush writes out a trailing line that wasn't newline-terminated.
func (w *LineWriter) Flush() {
	if len(w.partial) > 0 {
		w.flushLine()
	}
}

type IndentWriter struct {
	Indent    string
	W         io.Writer
	didIndent bool
}

func (w *IndentWriter) Write(p []byte) (n int, err error) {
	for _, c := range p {
		if !w.didIndent {
			w.W.Write([]byte(w.Indent))
			w.didIndent = true
		}
		w.W.Write([]byte{c}) // FIXME-perf: buffer this
		if c == '\n' || c == '\r' {
			w.didIndent = false
		}
	}
	return len(p), nil
}
