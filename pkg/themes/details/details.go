// Package details implements the scrolling boot-log splash shown when
// the user presses escape: raw boot output on every seat terminal, with
// status transitions set off by style.
package details

import (
	"bytes"
	"log/slog"

	"github.com/charmbracelet/lipgloss"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/eventloop"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/seat"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/terminal"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/theme"
)

func init() {
	theme.Register("details", func(cfg theme.Config) (theme.Theme, error) {
		return New(cfg), nil
	})
}

// Theme prints the captured boot session as it happens.
type Theme struct {
	theme.Base
	logger *slog.Logger

	statusStyle lipgloss.Style
	promptStyle lipgloss.Style
	showing     bool
}

func New(cfg theme.Config) *Theme {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Theme{
		logger:      logger,
		statusStyle: lipgloss.NewStyle().Bold(true),
		promptStyle: lipgloss.NewStyle().Reverse(true),
	}
}

func (t *Theme) Name() string { return "details" }

func (t *Theme) Show(loop *eventloop.Loop, bootLog *bytes.Buffer, mode theme.Mode) error {
	t.showing = true
	for _, s := range t.Seats() {
		term := s.Terminal()
		if term == nil || !term.IsOpen() {
			continue
		}
		_ = term.SetMode(terminal.ModeText)
		term.ShowCursor()
		term.ClearScreen()
		if bootLog != nil && bootLog.Len() > 0 {
			// Replay what the splash was hiding so far.
			_, _ = term.Write(bootLog.Bytes())
		}
	}
	return nil
}

func (t *Theme) Hide(loop *eventloop.Loop) { t.showing = false }

func (t *Theme) AttachToSeat(s *seat.Seat) {
	t.Base.AttachToSeat(s)
	if !t.showing {
		return
	}
	if term := s.Terminal(); term != nil && term.IsOpen() {
		_ = term.SetMode(terminal.ModeText)
		term.ShowCursor()
	}
}

func (t *Theme) OnBootOutput(data []byte) {
	if !t.showing {
		return
	}
	t.eachTerminal(func(term *terminal.Terminal) {
		_, _ = term.Write(data)
	})
}

func (t *Theme) UpdateStatus(text string) {
	if !t.showing || text == "" {
		return
	}
	line := t.statusStyle.Render(text) + "\r\n"
	t.eachTerminal(func(term *terminal.Terminal) {
		_ = term.WriteString(line)
	})
}

func (t *Theme) OnBootProgress(elapsed, fractionDone float64) {}

func (t *Theme) DisplayPassword(prompt string, bullets int) {
	line := "\r\n" + t.promptStyle.Render(prompt+":") + " "
	for i := 0; i < bullets; i++ {
		line += "*"
	}
	t.eachTerminal(func(term *terminal.Terminal) {
		_ = term.WriteString(line)
	})
}

func (t *Theme) DisplayQuestion(prompt, entry string) {
	line := "\r\n" + t.promptStyle.Render(prompt+":") + " " + entry
	t.eachTerminal(func(term *terminal.Terminal) {
		_ = term.WriteString(line)
	})
}

func (t *Theme) DisplayMessage(text string) {
	t.UpdateStatus(text)
}

func (t *Theme) eachTerminal(fn func(*terminal.Terminal)) {
	for _, s := range t.Seats() {
		if term := s.Terminal(); term != nil && term.IsOpen() {
			fn(term)
		}
	}
}
