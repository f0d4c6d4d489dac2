// Package seat groups one display and one keyboard into the smallest unit
// a splash can target.
package seat

import (
	"go.uber.org/multierr"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/render"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/terminal"
)

// Seat pairs an optional terminal with an optional renderer. The device
// manager owns seats; everything else holds non-owning references.
type Seat struct {
	term     *terminal.Terminal
	renderer render.Renderer
}

// New creates a seat. Either component may be nil: serial-console seats
// carry no renderer, and headless display seats carry no terminal.
func New(term *terminal.Terminal, renderer render.Renderer) *Seat {
	return &Seat{term: term, renderer: renderer}
}

// Terminal returns the seat's terminal, or nil.
func (s *Seat) Terminal() *terminal.Terminal { return s.term }

// Keyboard returns the input source for the seat, which is the terminal.
func (s *Seat) Keyboard() *terminal.Terminal { return s.term }

// Renderer returns the seat's display renderer, or nil.
func (s *Seat) Renderer() render.Renderer { return s.renderer }

// HasOpenRenderer reports whether the seat currently drives a display.
func (s *Seat) HasOpenRenderer() bool {
	return s.renderer != nil && s.renderer.IsOpen()
}

// DevicePath names the graphics device backing the seat, or the terminal
// device for renderer-less seats.
func (s *Seat) DevicePath() string {
	if s.renderer != nil {
		return s.renderer.DeviceName()
	}
	if s.term != nil {
		return s.term.Name()
	}
	return ""
}

// Close tears the seat down: renderer first so the terminal restore runs
// against a quiesced display.
func (s *Seat) Close() error {
	var errs error
	if s.renderer != nil && s.renderer.IsOpen() {
		errs = multierr.Append(errs, s.renderer.Close())
	}
	if s.term != nil && s.term.IsOpen() {
		errs = multierr.Append(errs, s.term.Close())
	}
	return errs
}
