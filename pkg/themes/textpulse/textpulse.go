// Package textpulse implements the text-mode splash: a short row of ANSI
// color cells that pulse while boot progresses, for seats whose display
// is a terminal rather than a framebuffer.
package textpulse

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/eventloop"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/terminal"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/theme"
)

const pulseCells = 4

func init() {
	theme.Register("text", func(cfg theme.Config) (theme.Theme, error) {
		return New(cfg), nil
	})
}

// Theme is the text pulser.
type Theme struct {
	theme.Base
	logger *slog.Logger

	elapsed  float64
	fraction float64
	showing  bool

	prompt  string
	bullets int
	entry   string
}

func New(cfg theme.Config) *Theme {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Theme{logger: logger}
}

func (t *Theme) Name() string { return "text" }

func (t *Theme) Show(loop *eventloop.Loop, bootLog *bytes.Buffer, mode theme.Mode) error {
	t.showing = true
	for _, s := range t.Seats() {
		if term := s.Terminal(); term != nil && term.IsOpen() {
			_ = term.SetMode(terminal.ModeText)
			term.HideCursor()
			term.ClearScreen()
		}
	}
	t.drawAll()
	return nil
}

func (t *Theme) Hide(loop *eventloop.Loop) {
	t.showing = false
	for _, s := range t.Seats() {
		if term := s.Terminal(); term != nil && term.IsOpen() {
			term.ClearScreen()
			term.ShowCursor()
		}
	}
}

func (t *Theme) OnBootProgress(elapsed, fractionDone float64) {
	if !t.showing {
		return
	}
	t.elapsed = elapsed
	t.fraction = fractionDone
	t.drawAll()
}

func (t *Theme) DisplayNormal() {
	t.prompt = ""
	t.bullets = 0
	t.entry = ""
	t.drawAll()
}

func (t *Theme) DisplayPassword(prompt string, bullets int) {
	t.prompt = prompt
	t.bullets = bullets
	t.entry = ""
	t.drawAll()
}

func (t *Theme) DisplayQuestion(prompt, entry string) {
	t.prompt = prompt
	t.entry = entry
	t.bullets = 0
	t.drawAll()
}

func (t *Theme) BecomeIdle(trigger func()) {
	t.showing = false
	if trigger != nil {
		trigger()
	}
}

func (t *Theme) drawAll() {
	for _, s := range t.Seats() {
		if term := s.Terminal(); term != nil && term.IsOpen() {
			t.drawTerminal(term)
		}
	}
}

// drawTerminal renders one frame: centered pulsing cells, the percentage
// underneath, and any active prompt line.
func (t *Theme) drawTerminal(term *terminal.Terminal) {
	rows, cols := term.Rows(), term.Columns()
	midRow := rows / 2
	startCol := (cols - pulseCells*2) / 2

	// The lit cell walks back and forth across the strip.
	phase := 0.5 + 0.5*math.Sin(t.elapsed*3)
	lit := int(phase * (pulseCells - 1))

	term.MoveCursor(startCol, midRow)
	for i := 0; i < pulseCells; i++ {
		if i == lit {
			term.SetBackgroundColor(terminal.ColorCyan)
		} else {
			term.SetBackgroundColor(terminal.ColorBlue)
		}
		_ = term.WriteString("  ")
	}
	term.SetBackgroundColor(terminal.ColorBlack)

	percent := fmt.Sprintf("%3d%%", int(t.fraction*100))
	term.MoveCursor((cols-len(percent))/2, midRow+2)
	term.SetForegroundColor(terminal.ColorWhite)
	_ = term.WriteString(percent)

	if t.prompt != "" {
		line := t.prompt + ": "
		if t.bullets > 0 {
			for i := 0; i < t.bullets; i++ {
				line += "*"
			}
		} else {
			line += t.entry
		}
		term.MoveCursor((cols-len(line))/2, midRow+4)
		_ = term.WriteString(line)
	}
}
