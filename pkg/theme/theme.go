// Package theme defines the splash plugin contract and the registry that
// resolves theme names to implementations.
package theme

import (
	"bytes"
	"log/slog"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/eventloop"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/seat"
)

// Mode is the reason the splash is on screen.
type Mode int

const (
	ModeBootUp Mode = iota
	ModeShutdown
	ModeUpdates
)

func (m Mode) String() string {
	switch m {
	case ModeShutdown:
		return "shutdown"
	case ModeUpdates:
		return "updates"
	default:
		return "boot"
	}
}

// Theme is the plugin interface the orchestrator drives. Implementations
// are attached to any number of seats and receive lifecycle, progress,
// and prompt events.
type Theme interface {
	// Name identifies the theme.
	Name() string

	// AttachToSeat begins rendering on a seat; callable any number of
	// times.
	AttachToSeat(s *seat.Seat)
	// DetachFromSeat stops rendering on a seat.
	DetachFromSeat(s *seat.Seat)

	// Show begins display. bootLog carries everything captured from the
	// boot session so far; themes rendering a log start from it.
	Show(loop *eventloop.Loop, bootLog *bytes.Buffer, mode Mode) error
	// Hide stops rendering.
	Hide(loop *eventloop.Loop)

	// UpdateStatus reports that a new status phase began.
	UpdateStatus(text string)
	// OnBootOutput delivers raw captured boot session bytes.
	OnBootOutput(data []byte)
	// OnBootProgress is the animation tick: seconds since show and the
	// estimated fraction done.
	OnBootProgress(elapsed float64, fractionDone float64)
	// OnRootMounted tells the theme to re-read cached data from the real
	// root filesystem.
	OnRootMounted()

	// DisplayNormal returns to the plain splash after a prompt.
	DisplayNormal()
	// DisplayMessage shows a transient message.
	DisplayMessage(text string)
	// DisplayPassword shows a password prompt with the given number of
	// bullets already typed.
	DisplayPassword(prompt string, bullets int)
	// DisplayQuestion shows a free-text prompt with the current entry.
	DisplayQuestion(prompt string, entry string)

	// BecomeIdle asks the theme to prepare for teardown; it must fire
	// trigger within one animation frame.
	BecomeIdle(trigger func())

	// Destroy releases the theme's caches.
	Destroy()
}

// Config is handed to theme factories.
type Config struct {
	Logger *slog.Logger
	// ThemeDir is the directory holding the theme's manifest and assets.
	ThemeDir string
	// ScriptFile is the script path for script-driven themes.
	ScriptFile string
}

// Base provides seat bookkeeping and no-op defaults so concrete themes
// only implement the hooks they care about.
type Base struct {
	seats []*seat.Seat
}

// Seats returns the currently attached seats.
func (b *Base) Seats() []*seat.Seat { return b.seats }

func (b *Base) AttachToSeat(s *seat.Seat) {
	for _, existing := range b.seats {
		if existing == s {
			return
		}
	}
	b.seats = append(b.seats, s)
}

func (b *Base) DetachFromSeat(s *seat.Seat) {
	for i, existing := range b.seats {
		if existing == s {
			b.seats = append(b.seats[:i], b.seats[i+1:]...)
			return
		}
	}
}

func (b *Base) UpdateStatus(string)            {}
func (b *Base) OnBootOutput([]byte)            {}
func (b *Base) OnRootMounted()                 {}
func (b *Base) DisplayNormal()                 {}
func (b *Base) DisplayMessage(string)          {}
func (b *Base) DisplayPassword(string, int)    {}
func (b *Base) DisplayQuestion(string, string) {}

// BecomeIdle fires the trigger immediately; themes with pending frames
// override this.
func (b *Base) BecomeIdle(trigger func()) {
	if trigger != nil {
		trigger()
	}
}

func (b *Base) Destroy() { b.seats = nil }
