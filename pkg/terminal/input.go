package terminal

import (
	"unicode/utf8"

	"golang.org/x/sys/unix"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/eventloop"
)

// Control bytes dispatched during input decoding.
const (
	keyCtrlC     = 0x03
	keyCtrlD     = 0x04
	keyCtrlP     = 0x10
	keyCtrlT     = 0x14
	keyCtrlU     = 0x15
	keyCtrlV     = 0x16
	keyCtrlW     = 0x17
	keyEscape    = 0x1b
	keyReturn    = '\r'
	keyBackspace = 0x7f
)

// SetKeystrokeHandler registers fn for each printable keystroke; fn
// receives the UTF-8 encoding of the character.
func (t *Terminal) SetKeystrokeHandler(fn func(key string)) { t.onKeystroke = fn }

// SetLineHandler registers fn for completed input lines (Return).
func (t *Terminal) SetLineHandler(fn func(line string)) { t.onLine = fn }

// SetEscapeHandler registers fn for the escape key.
func (t *Terminal) SetEscapeHandler(fn func()) { t.onEscape = fn }

// SetCancelHandler registers fn for Ctrl-C / Ctrl-D.
func (t *Terminal) SetCancelHandler(fn func()) { t.onCancel = fn }

// SetBackspaceHandler registers fn for backspace, fired after the line
// buffer shrinks.
func (t *Terminal) SetBackspaceHandler(fn func()) { t.onBackspace = fn }

// SetTraceToggleHandler registers the Ctrl-V verbose-tracing toggle.
func (t *Terminal) SetTraceToggleHandler(fn func()) { t.traceToggle = fn }

// Line returns the bytes composing the current input line.
func (t *Terminal) Line() string { return string(t.lineBuf) }

// ClearLine empties the line buffer.
func (t *Terminal) ClearLine() { t.lineBuf = t.lineBuf[:0] }

// WatchInput reads keystrokes from the terminal fd on the loop and feeds
// them through the decoder.
func (t *Terminal) WatchInput(loop *eventloop.Loop) *eventloop.FdWatch {
	return loop.WatchFd(t.fd, eventloop.FdReadable, func(eventloop.FdEvents) {
		buf := make([]byte, 256)
		n, err := unix.Read(t.fd, buf)
		if n > 0 {
			t.ProcessInput(buf[:n])
		}
		_ = err
	}, nil)
}

// ProcessInput appends raw bytes to the input buffer and dispatches every
// complete UTF-8 character. Incomplete trailing sequences stay buffered
// for the next read.
func (t *Terminal) ProcessInput(data []byte) {
	t.inputBuf = append(t.inputBuf, data...)
	for len(t.inputBuf) > 0 {
		r, size := utf8.DecodeRune(t.inputBuf)
		if r == utf8.RuneError && size == 1 && !utf8.FullRune(t.inputBuf) {
			// Wait for the rest of the sequence.
			return
		}
		t.inputBuf = t.inputBuf[size:]
		t.dispatchKey(r)
	}
}

func (t *Terminal) dispatchKey(r rune) {
	switch r {
	case keyCtrlP:
		t.RestorePalette()
	case keyCtrlT:
		t.ToggleForceText()
	case keyCtrlU, keyCtrlW:
		t.ClearLine()
	case keyCtrlV:
		if t.traceToggle != nil {
			t.traceToggle()
		}
	case keyCtrlC, keyCtrlD:
		t.ClearLine()
		if t.onCancel != nil {
			t.onCancel()
		}
	case keyEscape:
		if t.onEscape != nil {
			t.onEscape()
		}
	case keyBackspace:
		if n := len(t.lineBuf); n > 0 {
			t.lineBuf = t.lineBuf[:n-1]
		}
		if t.onBackspace != nil {
			t.onBackspace()
		}
	case keyReturn:
		line := string(t.lineBuf)
		t.lineBuf = t.lineBuf[:0]
		if t.onLine != nil {
			t.onLine(line)
		}
	default:
		t.lineBuf = append(t.lineBuf, r)
		if t.onKeystroke != nil {
			t.onKeystroke(string(r))
		}
	}
}
