// Package scripted implements the general-purpose script-driven theme:
// the manifest names a script file, which is parsed and executed against
// the image, sprite, math, and Plymouth libraries; the host then fires
// the script's registered hooks as the boot advances.
package scripted

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/eventloop"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/pixel"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/render"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/script"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/script/scriptlib"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/seat"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/theme"
)

func init() {
	theme.Register("script", func(cfg theme.Config) (theme.Theme, error) {
		return New(cfg)
	})
}

// Theme hosts one script universe and mirrors its sprite scene onto
// every attached seat.
type Theme struct {
	theme.Base
	logger     *slog.Logger
	scriptFile string
	themeDir   string

	vm      *scriptVM
	showing bool
}

// scriptVM bundles the VM with its bound libraries.
type scriptVM struct {
	vm       *script.VM
	images   *scriptlib.ImageLib
	sprites  *scriptlib.SpriteLib
	plymouth *scriptlib.PlymouthLib
}

// New creates the theme; the script itself loads at Show so a broken
// script fails the show request, not daemon startup.
func New(cfg theme.Config) (*Theme, error) {
	if cfg.ScriptFile == "" {
		return nil, fmt.Errorf("script theme needs a ScriptFile")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Theme{
		logger:     logger,
		scriptFile: cfg.ScriptFile,
		themeDir:   cfg.ThemeDir,
	}, nil
}

func (t *Theme) Name() string { return "script" }

// windowSize picks the script's window geometry from the first seat with
// an open renderer.
func (t *Theme) windowSize() (int, int) {
	for _, s := range t.Seats() {
		if r := s.Renderer(); r != nil && r.IsOpen() {
			size := r.Size()
			return size.Width, size.Height
		}
	}
	return 800, 600
}

func (t *Theme) Show(loop *eventloop.Loop, bootLog *bytes.Buffer, mode theme.Mode) error {
	source, err := os.ReadFile(t.scriptFile)
	if err != nil {
		return fmt.Errorf("read theme script: %w", err)
	}

	width, height := t.windowSize()
	vm := script.NewVM(nil)
	images := scriptlib.NewImageLib(vm, t.imageDir(), t.logger)
	sprites := scriptlib.NewSpriteLib(vm, images, width, height)
	scriptlib.NewMathLib(vm)
	plymouth := scriptlib.NewPlymouthLib(vm, mode.String())

	if err := vm.RunString(filepath.Base(t.scriptFile), string(source)); err != nil {
		plymouth.Close()
		sprites.Close()
		images.Close()
		vm.Destroy()
		return fmt.Errorf("execute theme script: %w", err)
	}

	t.vm = &scriptVM{vm: vm, images: images, sprites: sprites, plymouth: plymouth}
	t.showing = true
	t.refresh()
	return nil
}

func (t *Theme) imageDir() string {
	if t.themeDir != "" {
		return t.themeDir
	}
	return filepath.Dir(t.scriptFile)
}

func (t *Theme) Hide(loop *eventloop.Loop) {
	t.showing = false
	t.destroyVM()
}

func (t *Theme) AttachToSeat(s *seat.Seat) {
	t.Base.AttachToSeat(s)
	if t.vm != nil {
		if r := s.Renderer(); r != nil && r.IsOpen() {
			size := r.Size()
			t.vm.sprites.SetSize(size.Width, size.Height)
		}
	}
}

func (t *Theme) OnBootProgress(elapsed, fractionDone float64) {
	if !t.showing || t.vm == nil {
		return
	}
	t.vm.plymouth.Fire(scriptlib.HookBootProgress,
		script.NewFloat(elapsed), script.NewFloat(fractionDone))
	t.vm.plymouth.Fire(scriptlib.HookRefresh)
	t.refresh()
}

func (t *Theme) UpdateStatus(text string) {
	if t.vm != nil {
		t.vm.plymouth.Fire(scriptlib.HookUpdateStatus, script.NewString(text))
	}
}

func (t *Theme) OnRootMounted() {
	if t.vm != nil {
		t.vm.plymouth.Fire(scriptlib.HookRootMounted)
	}
}

func (t *Theme) DisplayNormal() {
	if t.vm != nil {
		t.vm.plymouth.Fire(scriptlib.HookDisplayNormal)
		t.refresh()
	}
}

func (t *Theme) DisplayMessage(text string) {
	if t.vm != nil {
		t.vm.plymouth.Fire(scriptlib.HookMessage, script.NewString(text))
		t.refresh()
	}
}

func (t *Theme) DisplayPassword(prompt string, bullets int) {
	if t.vm != nil {
		t.vm.plymouth.Fire(scriptlib.HookDisplayPassword,
			script.NewString(prompt), script.NewInt(int64(bullets)))
		t.refresh()
	}
}

func (t *Theme) DisplayQuestion(prompt, entry string) {
	if t.vm != nil {
		t.vm.plymouth.Fire(scriptlib.HookDisplayQuestion,
			script.NewString(prompt), script.NewString(entry))
		t.refresh()
	}
}

func (t *Theme) BecomeIdle(trigger func()) {
	if t.vm != nil {
		t.vm.plymouth.Fire(scriptlib.HookQuit)
	}
	t.showing = false
	if trigger != nil {
		trigger()
	}
}

func (t *Theme) Destroy() {
	t.destroyVM()
	t.Base.Destroy()
}

func (t *Theme) destroyVM() {
	if t.vm == nil {
		return
	}
	t.vm.plymouth.Close()
	t.vm.sprites.Close()
	t.vm.images.Close()
	t.vm.vm.Destroy()
	t.vm = nil
}

// refresh runs one sprite frame. The scene composites into the first
// open renderer; additional displays mirror its damaged regions.
func (t *Theme) refresh() {
	if t.vm == nil {
		return
	}
	var primary render.Renderer
	var damage []pixel.Rectangle
	for _, s := range t.Seats() {
		r := s.Renderer()
		if r == nil || !r.IsOpen() {
			continue
		}
		if primary == nil {
			primary = r
			damage = t.vm.sprites.Refresh(r.Shadow())
			if len(damage) == 0 {
				return
			}
			t.flushDamage(r, damage)
			continue
		}
		src := primary.Shadow()
		for _, area := range damage {
			r.Shadow().FillWithARGB32Data(area, area.X, area.Y, src.Width(), src.Pixels(), 1.0)
		}
		t.flushDamage(r, damage)
	}
}

func (t *Theme) flushDamage(r render.Renderer, damage []pixel.Rectangle) {
	for _, area := range damage {
		r.AddAreaToFlush(area)
	}
	if err := r.Flush(); err != nil {
		t.logger.Debug("flush failed", "device", r.DeviceName(), "error", err)
	}
}
