// Package fade implements the fade-in splash: a pulsing centered logo
// over a night-sky backdrop of slowly drifting stars.
package fade

import (
	"bytes"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"

	"github.com/disintegration/imaging"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/eventloop"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/pixel"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/render"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/seat"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/theme"
)

const (
	backgroundColor = 0x0c1420
	starCount       = 48
	logoFile        = "logo.png"
)

func init() {
	theme.Register("fade-in", func(cfg theme.Config) (theme.Theme, error) {
		return New(cfg), nil
	})
}

type star struct {
	x     float64
	y     float64
	drift float64
	phase float64
}

// Theme is the fade-in splash.
type Theme struct {
	theme.Base
	logger *slog.Logger
	logo   *pixel.Buffer

	stars   map[*seat.Seat][]star
	elapsed float64

	prompt  string
	bullets int
	entry   string
	showing bool
}

// New creates the theme, loading the logo from the theme directory when
// one is present.
func New(cfg theme.Config) *Theme {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &Theme{logger: logger, stars: make(map[*seat.Seat][]star)}
	if cfg.ThemeDir != "" {
		if img, err := imaging.Open(filepath.Join(cfg.ThemeDir, logoFile)); err == nil {
			t.logo = pixel.FromImage(img)
		}
	}
	if t.logo == nil {
		// A plain block stands in when the theme ships no art.
		t.logo = pixel.NewBuffer(96, 96)
		t.logo.FillWithHexColor(t.logo.Bounds(), 0x3a6ea5)
	}
	return t
}

func (t *Theme) Name() string { return "fade-in" }

func (t *Theme) AttachToSeat(s *seat.Seat) {
	t.Base.AttachToSeat(s)
	t.seedStars(s)
}

func (t *Theme) DetachFromSeat(s *seat.Seat) {
	t.Base.DetachFromSeat(s)
	delete(t.stars, s)
}

// seedStars scatters the star field over the seat's geometry.
func (t *Theme) seedStars(s *seat.Seat) {
	r := s.Renderer()
	if r == nil || !r.IsOpen() {
		return
	}
	size := r.Size()
	stars := make([]star, starCount)
	for i := range stars {
		stars[i] = star{
			x:     rand.Float64() * float64(size.Width),
			y:     rand.Float64() * float64(size.Height),
			drift: 2 + rand.Float64()*6,
			phase: rand.Float64() * 2 * math.Pi,
		}
	}
	t.stars[s] = stars
}

func (t *Theme) Show(loop *eventloop.Loop, bootLog *bytes.Buffer, mode theme.Mode) error {
	t.showing = true
	t.elapsed = 0
	for _, s := range t.Seats() {
		if _, ok := t.stars[s]; !ok {
			t.seedStars(s)
		}
	}
	t.drawAll()
	return nil
}

func (t *Theme) Hide(loop *eventloop.Loop) {
	t.showing = false
}

func (t *Theme) OnBootProgress(elapsed, fractionDone float64) {
	if !t.showing {
		return
	}
	t.elapsed = elapsed
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
	t.bullets = -1
	t.drawAll()
}

func (t *Theme) BecomeIdle(trigger func()) {
	t.showing = false
	if trigger != nil {
		trigger()
	}
}

func (t *Theme) Destroy() {
	t.stars = make(map[*seat.Seat][]star)
	t.Base.Destroy()
}

func (t *Theme) drawAll() {
	for _, s := range t.Seats() {
		if r := s.Renderer(); r != nil && r.IsOpen() {
			t.drawSeat(s, r)
		}
	}
}

func (t *Theme) drawSeat(s *seat.Seat, r render.Renderer) {
	shadow := r.Shadow()
	size := r.Size()
	shadow.FillWithHexColor(size, backgroundColor)

	for _, st := range t.stars[s] {
		// Stars twinkle on their own phase and drift slowly rightward.
		alpha := 0.3 + 0.7*(0.5+0.5*math.Sin(t.elapsed/2+st.phase))
		x := int(st.x+t.elapsed*st.drift) % size.Width
		if x < 0 {
			x += size.Width
		}
		shadow.FillWithColor(pixel.Rect(x, int(st.y), 1, 1), 1, 1, 1, alpha)
	}

	opacity := 0.5 + 0.5*math.Sin(t.elapsed*2-math.Pi/2)
	logoArea := pixel.Rect(
		(size.Width-t.logo.Width())/2,
		(size.Height-t.logo.Height())/2,
		t.logo.Width(), t.logo.Height())
	shadow.FillWithARGB32Data(logoArea, 0, 0, t.logo.Width(), t.logo.Pixels(), opacity)

	if t.bullets > 0 || t.bullets == -1 || t.prompt != "" {
		t.drawPrompt(shadow, size)
	}

	r.AddAreaToFlush(size)
	if err := r.Flush(); err != nil {
		t.logger.Debug("flush failed", "device", r.DeviceName(), "error", err)
	}
}

// drawPrompt renders the entry box under the logo: a sunken bar with one
// bullet block per typed character.
func (t *Theme) drawPrompt(shadow *pixel.Buffer, size pixel.Rectangle) {
	barWidth := size.Width / 3
	barHeight := 14
	bar := pixel.Rect((size.Width-barWidth)/2, size.Height*3/4, barWidth, barHeight)
	shadow.FillWithHexColor(bar, 0x1f2937)

	if t.bullets > 0 {
		step := 10
		maxBullets := (barWidth - 8) / step
		n := t.bullets
		if n > maxBullets {
			n = maxBullets
		}
		for i := 0; i < n; i++ {
			shadow.FillWithHexColor(
				pixel.Rect(bar.X+4+i*step, bar.Y+4, 6, barHeight-8), 0xd1d5db)
		}
	}
}
