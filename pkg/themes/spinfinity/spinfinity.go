// Package spinfinity implements the throbber splash: a ring of orbiting
// dots whose brightness chases around the circle, with a progress bar
// along the bottom edge.
package spinfinity

import (
	"bytes"
	"log/slog"
	"math"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/eventloop"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/pixel"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/render"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/theme"
)

const (
	dotCount   = 12
	dotSize    = 6
	ringRadius = 40.0
	// cycleTime is how long one full brightness revolution takes.
	cycleTime = 1.2

	backgroundColor = 0x101010
)

func init() {
	theme.Register("spinfinity", func(cfg theme.Config) (theme.Theme, error) {
		return New(cfg), nil
	})
}

// Theme is the spinning-infinity throbber.
type Theme struct {
	theme.Base
	logger *slog.Logger

	elapsed  float64
	fraction float64
	showing  bool

	prompt  string
	bullets int
}

func New(cfg theme.Config) *Theme {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Theme{logger: logger}
}

func (t *Theme) Name() string { return "spinfinity" }

func (t *Theme) Show(loop *eventloop.Loop, bootLog *bytes.Buffer, mode theme.Mode) error {
	t.showing = true
	t.elapsed = 0
	t.fraction = 0
	t.drawAll()
	return nil
}

func (t *Theme) Hide(loop *eventloop.Loop) { t.showing = false }

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
	t.drawAll()
}

func (t *Theme) DisplayPassword(prompt string, bullets int) {
	t.prompt = prompt
	t.bullets = bullets
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
		if r := s.Renderer(); r != nil && r.IsOpen() {
			t.drawSeat(r)
		}
	}
}

func (t *Theme) drawSeat(r render.Renderer) {
	shadow := r.Shadow()
	size := r.Size()
	shadow.FillWithHexColor(size, backgroundColor)

	cx := float64(size.Width) / 2
	cy := float64(size.Height) / 2
	head := math.Mod(t.elapsed, cycleTime) / cycleTime

	for i := 0; i < dotCount; i++ {
		angle := 2 * math.Pi * float64(i) / dotCount
		// Brightness falls off behind the head dot.
		distance := math.Mod(head-float64(i)/dotCount+1, 1)
		alpha := math.Pow(1-distance, 3)
		x := int(cx + ringRadius*math.Cos(angle) - dotSize/2)
		y := int(cy + ringRadius*math.Sin(angle) - dotSize/2)
		shadow.FillWithColor(pixel.Rect(x, y, dotSize, dotSize), 1, 1, 1, alpha)
	}

	t.drawProgressBar(shadow, size)
	if t.bullets > 0 {
		t.drawBullets(shadow, size)
	}

	r.AddAreaToFlush(size)
	if err := r.Flush(); err != nil {
		t.logger.Debug("flush failed", "device", r.DeviceName(), "error", err)
	}
}

func (t *Theme) drawProgressBar(shadow *pixel.Buffer, size pixel.Rectangle) {
	barHeight := 4
	inset := size.Width / 8
	track := pixel.Rect(inset, size.Height-barHeight*4, size.Width-2*inset, barHeight)
	shadow.FillWithHexColor(track, 0x303030)
	filled := track
	filled.Width = int(float64(track.Width) * t.fraction)
	shadow.FillWithHexColor(filled, 0xffffff)
}

func (t *Theme) drawBullets(shadow *pixel.Buffer, size pixel.Rectangle) {
	step := 10
	total := t.bullets * step
	x := (size.Width - total) / 2
	y := size.Height * 2 / 3
	for i := 0; i < t.bullets; i++ {
		shadow.FillWithHexColor(pixel.Rect(x+i*step, y, 6, 10), 0xd1d5db)
	}
}
