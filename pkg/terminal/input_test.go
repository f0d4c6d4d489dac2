package terminal

import (
	"log/slog"
	"testing"
)

func newTestTerminal() *Terminal {
	return New("/dev/null", slog.Default())
}

// ---------------------------------------------------------------------------
// Input decode tests
// ---------------------------------------------------------------------------

func TestProcessInputAccumulatesLine(t *testing.T) {
	term := newTestTerminal()
	var keys []string
	term.SetKeystrokeHandler(func(k string) { keys = append(keys, k) })

	term.ProcessInput([]byte("abc"))
	if term.Line() != "abc" {
		t.Errorf("Line = %q, want %q", term.Line(), "abc")
	}
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Errorf("keystrokes = %v", keys)
	}
}

func TestProcessInputReturnFiresLineAndClears(t *testing.T) {
	term := newTestTerminal()
	var lines []string
	term.SetLineHandler(func(l string) { lines = append(lines, l) })

	term.ProcessInput([]byte("pass\r"))
	if len(lines) != 1 || lines[0] != "pass" {
		t.Fatalf("lines = %v, want [pass]", lines)
	}
	if term.Line() != "" {
		t.Errorf("line buffer not cleared: %q", term.Line())
	}

	// Submitting the same line twice yields identical results each time.
	term.ProcessInput([]byte("pass\r"))
	if len(lines) != 2 || lines[1] != "pass" {
		t.Errorf("second submit lines = %v", lines)
	}
}

func TestProcessInputBackspace(t *testing.T) {
	term := newTestTerminal()
	backspaces := 0
	term.SetBackspaceHandler(func() { backspaces++ })

	term.ProcessInput([]byte("ab\x7f"))
	if term.Line() != "a" {
		t.Errorf("Line = %q, want %q", term.Line(), "a")
	}
	if backspaces != 1 {
		t.Errorf("backspace handler fired %d times, want 1", backspaces)
	}
	// Backspace on an empty buffer must not underflow.
	term.ProcessInput([]byte("\x7f\x7f\x7f"))
	if term.Line() != "" {
		t.Errorf("Line = %q, want empty", term.Line())
	}
}

func TestProcessInputCtrlUClearsLine(t *testing.T) {
	term := newTestTerminal()
	term.ProcessInput([]byte("secret\x15"))
	if term.Line() != "" {
		t.Errorf("Ctrl-U left line %q", term.Line())
	}
	term.ProcessInput([]byte("secret\x17"))
	if term.Line() != "" {
		t.Errorf("Ctrl-W left line %q", term.Line())
	}
}

func TestProcessInputCancel(t *testing.T) {
	term := newTestTerminal()
	cancels := 0
	term.SetCancelHandler(func() { cancels++ })
	term.ProcessInput([]byte("abc\x03"))
	if cancels != 1 {
		t.Errorf("Ctrl-C cancels = %d, want 1", cancels)
	}
	if term.Line() != "" {
		t.Errorf("cancel left line %q", term.Line())
	}
	term.ProcessInput([]byte{0x04})
	if cancels != 2 {
		t.Errorf("Ctrl-D cancels = %d, want 2", cancels)
	}
}

func TestProcessInputEscape(t *testing.T) {
	term := newTestTerminal()
	escapes := 0
	term.SetEscapeHandler(func() { escapes++ })
	term.ProcessInput([]byte{keyEscape})
	if escapes != 1 {
		t.Errorf("escapes = %d, want 1", escapes)
	}
}

func TestProcessInputTraceToggle(t *testing.T) {
	term := newTestTerminal()
	toggles := 0
	term.SetTraceToggleHandler(func() { toggles++ })
	term.ProcessInput([]byte{keyCtrlV})
	if toggles != 1 {
		t.Errorf("trace toggles = %d, want 1", toggles)
	}
}

func TestProcessInputSplitUTF8Sequence(t *testing.T) {
	term := newTestTerminal()
	var keys []string
	term.SetKeystrokeHandler(func(k string) { keys = append(keys, k) })

	// "é" split across two reads.
	seq := []byte("é")
	term.ProcessInput(seq[:1])
	if len(keys) != 0 {
		t.Fatalf("incomplete sequence dispatched: %v", keys)
	}
	term.ProcessInput(seq[1:])
	if len(keys) != 1 || keys[0] != "é" {
		t.Errorf("keys = %v, want [é]", keys)
	}
	if term.Line() != "é" {
		t.Errorf("Line = %q, want é", term.Line())
	}
}

func TestForceTextToggleFlag(t *testing.T) {
	term := newTestTerminal()
	term.ProcessInput([]byte{keyCtrlT})
	if !term.forceText {
		t.Error("Ctrl-T did not set force-text flag")
	}
	term.ProcessInput([]byte{keyCtrlT})
	if term.forceText {
		t.Error("second Ctrl-T did not clear force-text flag")
	}
}
