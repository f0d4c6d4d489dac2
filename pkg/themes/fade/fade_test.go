package fade

import (
	"testing"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/render"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/seat"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/theme"
)

func newRenderedSeat(t *testing.T) *seat.Seat {
	t.Helper()
	mem := render.NewMemory("/dev/fb-test", 64, 64, render.XRGB8888(256))
	if err := mem.Open(); err != nil {
		t.Fatal(err)
	}
	return seat.New(nil, mem)
}

func TestShowPaintsBackdrop(t *testing.T) {
	th := New(theme.Config{})
	s := newRenderedSeat(t)
	th.AttachToSeat(s)
	if err := th.Show(nil, nil, theme.ModeBootUp); err != nil {
		t.Fatalf("Show: %v", err)
	}
	th.OnBootProgress(0.5, 0.1)

	mem := s.Renderer().(*render.Memory)
	for _, b := range mem.DeviceBytes() {
		if b != 0 {
			return
		}
	}
	t.Error("device memory untouched after show")
}

func TestStarsSeededPerSeat(t *testing.T) {
	th := New(theme.Config{})
	s1 := newRenderedSeat(t)
	s2 := newRenderedSeat(t)
	th.AttachToSeat(s1)
	th.AttachToSeat(s2)
	if len(th.stars[s1]) != starCount || len(th.stars[s2]) != starCount {
		t.Errorf("star fields = %d/%d, want %d each",
			len(th.stars[s1]), len(th.stars[s2]), starCount)
	}
	th.DetachFromSeat(s1)
	if _, ok := th.stars[s1]; ok {
		t.Error("detached seat kept its star field")
	}
}

func TestBecomeIdleFiresWithinOneFrame(t *testing.T) {
	th := New(theme.Config{})
	fired := false
	th.BecomeIdle(func() { fired = true })
	if !fired {
		t.Error("idle trigger not fired")
	}
	if th.showing {
		t.Error("theme still animating after idle")
	}
}

func TestPasswordBulletsDrawn(t *testing.T) {
	th := New(theme.Config{})
	s := newRenderedSeat(t)
	th.AttachToSeat(s)
	th.Show(nil, nil, theme.ModeBootUp)
	th.DisplayPassword("Password", 3)
	if th.bullets != 3 {
		t.Errorf("bullets = %d, want 3", th.bullets)
	}
	th.DisplayNormal()
	if th.bullets != 0 || th.prompt != "" {
		t.Error("prompt state not cleared by DisplayNormal")
	}
}
