package splash

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/device"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/eventloop"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/render"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/seat"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/theme"

	_ "gitlab.com/tinyland/lab/boot-pulse/pkg/themes/details"
)

// fakeTheme records every plugin-contract call.
type fakeTheme struct {
	theme.Base
	name string

	shown     bool
	hidden    bool
	destroyed bool
	statuses  []string
	passwords []struct {
		prompt  string
		bullets int
	}
	normals    int
	bootOutput bytes.Buffer
	idled      int

	failShow bool
}

func (f *fakeTheme) Name() string { return f.name }

func (f *fakeTheme) Show(loop *eventloop.Loop, bootLog *bytes.Buffer, mode theme.Mode) error {
	if f.failShow {
		return fmt.Errorf("refusing to show")
	}
	f.shown = true
	return nil
}

func (f *fakeTheme) Hide(loop *eventloop.Loop) { f.hidden = true }

func (f *fakeTheme) UpdateStatus(text string) { f.statuses = append(f.statuses, text) }

func (f *fakeTheme) OnBootOutput(data []byte) { f.bootOutput.Write(data) }

func (f *fakeTheme) OnBootProgress(elapsed, fraction float64) {}

func (f *fakeTheme) DisplayNormal() { f.normals++ }

func (f *fakeTheme) DisplayPassword(prompt string, bullets int) {
	f.passwords = append(f.passwords, struct {
		prompt  string
		bullets int
	}{prompt, bullets})
}

func (f *fakeTheme) BecomeIdle(trigger func()) {
	f.idled++
	if trigger != nil {
		trigger()
	}
}

func (f *fakeTheme) Destroy() { f.destroyed = true }

var fakeCounter int

// registerFakeTheme registers a uniquely named factory and returns the
// name plus a pointer slot filled at construction.
func registerFakeTheme(t *testing.T) (string, **fakeTheme) {
	t.Helper()
	fakeCounter++
	name := fmt.Sprintf("fake-%d", fakeCounter)
	slot := new(*fakeTheme)
	theme.Register(name, func(cfg theme.Config) (theme.Theme, error) {
		f := &fakeTheme{name: name}
		*slot = f
		return f, nil
	})
	return name, slot
}

// newTestRig builds a manager with one memory-rendered seat and an
// orchestrator using the fake theme as fallback.
func newTestRig(t *testing.T, opts Options) (*Orchestrator, *device.Manager, **fakeTheme) {
	t.Helper()
	name, slot := registerFakeTheme(t)

	m := device.NewManager(device.Config{
		SysfsRoot:            t.TempDir(),
		DevRoot:              t.TempDir(),
		IgnoreHotplug:        true,
		IgnoreSerialConsoles: true,
		OpenRenderer: func(path string, backend render.Backend) (render.Renderer, error) {
			mem := render.NewMemory("/dev/fb-test", 16, 16, render.XRGB8888(64))
			return mem, mem.Open()
		},
	})

	opts.Manager = m
	if opts.FallbackTheme == "" {
		opts.FallbackTheme = name
	}
	if opts.BootDurationPath == "" {
		opts.BootDurationPath = filepath.Join(t.TempDir(), "boot-duration")
	}
	o, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.ScanSeats(); err != nil {
		t.Fatalf("ScanSeats: %v", err)
	}
	return o, m, slot
}

// ---------------------------------------------------------------------------
// Scenario tests
// ---------------------------------------------------------------------------

func TestBasicBootScenario(t *testing.T) {
	quitCalled := false
	o, _, slot := newTestRig(t, Options{
		ShouldShowSplash: true,
		OnQuit:           func(bool) { quitCalled = true },
	})

	if err := o.SystemInitialized(); err != nil {
		t.Fatal(err)
	}
	if err := o.ShowSplash(); err != nil {
		t.Fatal(err)
	}
	f := *slot
	if f == nil || !f.shown {
		t.Fatal("fallback theme not shown")
	}
	if o.State() != StateSplashActive {
		t.Fatalf("state = %v, want splash active", o.State())
	}
	if len(f.Seats()) != 1 {
		t.Fatalf("theme attached to %d seats, want 1", len(f.Seats()))
	}

	o.UpdateStatus("foo")
	o.UpdateStatus("bar")
	if len(f.statuses) != 2 || f.statuses[0] != "foo" || f.statuses[1] != "bar" {
		t.Errorf("statuses = %v, want [foo bar]", f.statuses)
	}

	if err := o.Quit(); err != nil {
		t.Fatal(err)
	}
	if !quitCalled {
		t.Error("OnQuit not invoked")
	}
	if f.idled != 1 {
		t.Errorf("BecomeIdle calls = %d, want 1", f.idled)
	}
	if !f.destroyed {
		t.Error("theme not destroyed at quit")
	}
	if o.State() != StateQuitting {
		t.Errorf("state = %v, want quitting", o.State())
	}
}

func TestQuitWritesBootDurationCache(t *testing.T) {
	o, _, _ := newTestRig(t, Options{ShouldShowSplash: true})
	o.ShowSplash()
	o.UpdateStatus("loading modules")
	o.Quit()
	if _, err := os.Stat(o.opts.BootDurationPath); err != nil {
		t.Errorf("boot duration cache not written: %v", err)
	}
}

func TestSuppressedSplashShowsDetails(t *testing.T) {
	o, _, slot := newTestRig(t, Options{ShouldShowSplash: false})
	if err := o.ShowSplash(); err != nil {
		t.Fatal(err)
	}
	if *slot != nil {
		t.Error("splash theme constructed despite suppression")
	}
	if o.State() != StateDetailsActive {
		t.Errorf("state = %v, want details active", o.State())
	}
}

func TestThemeFallbackChain(t *testing.T) {
	failingName := fmt.Sprintf("failing-%d", fakeCounter)
	theme.Register(failingName, func(cfg theme.Config) (theme.Theme, error) {
		return nil, fmt.Errorf("broken theme")
	})
	o, _, slot := newTestRig(t, Options{
		ShouldShowSplash: true,
		ThemeOverride:    "no-such-theme",
		SystemTheme:      failingName,
	})
	if err := o.ShowSplash(); err != nil {
		t.Fatal(err)
	}
	if *slot == nil || !(*slot).shown {
		t.Error("fallback theme did not take over from broken candidates")
	}
}

func TestEscapeTogglesDetails(t *testing.T) {
	o, _, slot := newTestRig(t, Options{ShouldShowSplash: true})
	o.ShowSplash()
	f := *slot

	o.handleEscape()
	if o.State() != StateDetailsActive {
		t.Fatalf("state after escape = %v, want details", o.State())
	}
	if !f.hidden {
		t.Error("splash theme not hidden for details")
	}

	o.handleEscape()
	if o.State() != StateSplashActive {
		t.Fatalf("state after second escape = %v, want splash", o.State())
	}
}

func TestPasswordPromptFlow(t *testing.T) {
	o, _, slot := newTestRig(t, Options{ShouldShowSplash: true})
	o.ShowSplash()
	f := *slot

	var got string
	var ok bool
	replied := false
	if err := o.AskForPassword(func(password string, k bool) {
		got, ok, replied = password, k, true
	}); err != nil {
		t.Fatal(err)
	}

	if len(f.passwords) != 1 || f.passwords[0].bullets != 0 {
		t.Fatalf("prompt display = %v, want one with 0 bullets", f.passwords)
	}
	if !o.progress.Paused() {
		t.Error("progress not paused during prompt")
	}

	for _, key := range []string{"p", "a", "s", "s"} {
		o.handleKeystroke(key)
	}
	last := f.passwords[len(f.passwords)-1]
	if last.bullets != 4 {
		t.Errorf("bullets = %d, want 4", last.bullets)
	}

	o.handleLine("pass")
	if !replied || !ok || got != "pass" {
		t.Errorf("reply = %q ok=%v replied=%v, want pass/true", got, ok, replied)
	}
	if f.normals != 1 {
		t.Errorf("DisplayNormal calls = %d, want 1", f.normals)
	}
	if o.progress.Paused() {
		t.Error("progress still paused after answer")
	}
}

func TestBackspaceShrinksBullets(t *testing.T) {
	o, _, slot := newTestRig(t, Options{ShouldShowSplash: true})
	o.ShowSplash()
	f := *slot

	o.AskForPassword(func(string, bool) {})
	o.handleKeystroke("a")
	o.handleKeystroke("b")
	o.handleBackspace()
	last := f.passwords[len(f.passwords)-1]
	if last.bullets != 1 {
		t.Errorf("bullets after backspace = %d, want 1", last.bullets)
	}
}

func TestCancelReleasesPrompt(t *testing.T) {
	o, _, _ := newTestRig(t, Options{ShouldShowSplash: true})
	o.ShowSplash()

	var ok bool
	replied := false
	o.AskForPassword(func(_ string, k bool) { ok, replied = k, true })
	o.handleCancel()
	if !replied || ok {
		t.Errorf("cancel reply = ok=%v replied=%v, want false/true", ok, replied)
	}
}

func TestQuitReleasesOutstandingPrompt(t *testing.T) {
	o, _, _ := newTestRig(t, Options{ShouldShowSplash: true})
	o.ShowSplash()

	var ok bool
	replied := false
	o.AskForPassword(func(_ string, k bool) { ok, replied = k, true })
	o.Quit()
	if !replied || ok {
		t.Errorf("quit released prompt with ok=%v replied=%v, want false/true", ok, replied)
	}
}

func TestWatchKeystroke(t *testing.T) {
	o, _, _ := newTestRig(t, Options{ShouldShowSplash: true})
	o.ShowSplash()

	var matched []string
	w := o.WatchKeystroke("xy", func(key string) { matched = append(matched, key) })
	o.handleKeystroke("a")
	o.handleKeystroke("y")
	if len(matched) != 1 || matched[0] != "y" {
		t.Errorf("matched = %v, want [y]", matched)
	}
	o.StopWatchingKeystroke(w)
	o.handleKeystroke("x")
	if len(matched) != 1 {
		t.Errorf("removed watch still fired: %v", matched)
	}
}

func TestSeatRemovalDetachesTheme(t *testing.T) {
	o, m, slot := newTestRig(t, Options{ShouldShowSplash: true})
	o.ShowSplash()
	f := *slot
	if len(f.Seats()) != 1 {
		t.Fatalf("attached seats = %d, want 1", len(f.Seats()))
	}

	// The manager notifies removal before destroying the renderer.
	for _, s := range m.Seats() {
		o.onSeatRemoved(s)
	}
	if len(f.Seats()) != 0 {
		t.Errorf("theme still attached to %d seats after removal", len(f.Seats()))
	}
}

func TestBootOutputReachesActiveTheme(t *testing.T) {
	o, _, slot := newTestRig(t, Options{ShouldShowSplash: true})
	o.ShowSplash()
	o.AddBootOutput([]byte("mounting /var\n"))
	if got := (*slot).bootOutput.String(); got != "mounting /var\n" {
		t.Errorf("theme saw %q", got)
	}
	if o.BootLog().Len() == 0 {
		t.Error("boot log buffer empty")
	}
}

func TestHotplugSeatAttachesToActiveTheme(t *testing.T) {
	o, m, slot := newTestRig(t, Options{ShouldShowSplash: true})
	o.ShowSplash()
	f := *slot

	mem := render.NewMemory("/dev/fb-late", 8, 8, render.XRGB8888(32))
	mem.Open()
	o.onSeatAdded(seat.New(nil, mem))
	if len(f.Seats()) != 2 {
		t.Errorf("theme attached to %d seats after hotplug, want 2", len(f.Seats()))
	}
	_ = m
}
