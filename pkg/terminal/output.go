package terminal

import (
	"io"

	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
)

// Color indexes the 16-entry console palette.
type Color int

// Console colors in palette order.
const (
	ColorBlack Color = iota
	ColorRed
	ColorGreen
	ColorBrown
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorWhite
)

// sequenceWriter emits control sequences to the tty.
type sequenceWriter struct {
	w   io.Writer
	out *termenv.Output
}

func newSequenceWriter(w io.Writer) *sequenceWriter {
	return &sequenceWriter{
		w:   w,
		out: termenv.NewOutput(w, termenv.WithProfile(termenv.ANSI)),
	}
}

// Write sends raw bytes to the terminal, for themes that render text
// directly.
func (t *Terminal) Write(p []byte) (int, error) {
	if t.fd < 0 || t.out == nil {
		return 0, io.ErrClosedPipe
	}
	return t.out.w.Write(p)
}

// WriteString sends a string to the terminal.
func (t *Terminal) WriteString(s string) error {
	_, err := t.Write([]byte(s))
	return err
}

// HideCursor makes the text cursor invisible.
func (t *Terminal) HideCursor() {
	if t.out != nil {
		t.out.out.HideCursor()
	}
}

// ShowCursor makes the text cursor visible again.
func (t *Terminal) ShowCursor() {
	if t.out != nil {
		t.out.out.ShowCursor()
	}
}

// ClearScreen erases the whole display.
func (t *Terminal) ClearScreen() {
	_ = t.WriteString(ansi.EraseDisplay(2))
	t.MoveCursor(0, 0)
}

// MoveCursor places the cursor at a zero-based column and row.
func (t *Terminal) MoveCursor(col, row int) {
	_ = t.WriteString(ansi.CursorPosition(col+1, row+1))
}

// SetForegroundColor selects a console palette color for subsequent text.
func (t *Terminal) SetForegroundColor(c Color) {
	_ = t.WriteString(ansi.Style{}.ForegroundColor(ansi.BasicColor(c)).String())
}

// SetBackgroundColor selects a console palette color for the cell
// background.
func (t *Terminal) SetBackgroundColor(c Color) {
	_ = t.WriteString(ansi.Style{}.BackgroundColor(ansi.BasicColor(c)).String())
}
