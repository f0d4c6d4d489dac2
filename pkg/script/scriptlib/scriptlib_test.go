package scriptlib

import (
	"log/slog"
	"testing"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/pixel"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/script"
)

func newTestVM(t *testing.T, width, height int) (*script.VM, *SpriteLib) {
	t.Helper()
	vm := script.NewVM(nil)
	imageLib := NewImageLib(vm, t.TempDir(), slog.Default())
	spriteLib := NewSpriteLib(vm, imageLib, width, height)
	NewMathLib(vm)
	t.Cleanup(func() {
		spriteLib.Close()
		imageLib.Close()
		vm.Destroy()
	})
	return vm, spriteLib
}

// injectImage binds a synthetic image object into the VM's global scope.
func injectImage(vm *script.VM, lib *ImageLib, name string, w, h int, hex uint32) {
	buf := pixel.NewBuffer(w, h)
	buf.FillWithHexColor(buf.Bounds(), hex)
	obj := script.NewNative(buf, lib.Class())
	vm.GlobalSet(name, obj)
	obj.Unref()
}

// ---------------------------------------------------------------------------
// Math tests
// ---------------------------------------------------------------------------

func TestMathLib(t *testing.T) {
	vm, _ := newTestVM(t, 10, 10)
	if err := vm.RunString("t", `
		a = Math.Int(3.7);
		b = Math.Max(2, 9);
		c = Math.Sin(0);
		d = Math.Min(1.5, -2);
	`); err != nil {
		t.Fatal(err)
	}
	if got := vm.GlobalGet("a").AsInt(); got != 3 {
		t.Errorf("Math.Int(3.7) = %d, want 3", got)
	}
	if got := vm.GlobalGet("b").AsFloat(); got != 9 {
		t.Errorf("Math.Max = %v, want 9", got)
	}
	if got := vm.GlobalGet("c").AsFloat(); got != 0 {
		t.Errorf("Math.Sin(0) = %v, want 0", got)
	}
	if got := vm.GlobalGet("d").AsFloat(); got != -2 {
		t.Errorf("Math.Min = %v, want -2", got)
	}
}

// ---------------------------------------------------------------------------
// Sprite tests
// ---------------------------------------------------------------------------

func TestWindowGeometry(t *testing.T) {
	vm, _ := newTestVM(t, 640, 480)
	if err := vm.RunString("t", "w = Window.GetWidth(); h = Window.GetHeight();"); err != nil {
		t.Fatal(err)
	}
	if vm.GlobalGet("w").AsInt() != 640 || vm.GlobalGet("h").AsInt() != 480 {
		t.Errorf("window = %dx%d, want 640x480",
			vm.GlobalGet("w").AsInt(), vm.GlobalGet("h").AsInt())
	}
}

func TestSpriteLifecycleAndZOrder(t *testing.T) {
	vm, sprites := newTestVM(t, 32, 32)
	imageLib := sprites.imageLib
	injectImage(vm, imageLib, "red", 4, 4, 0xff0000)
	injectImage(vm, imageLib, "blue", 4, 4, 0x0000ff)

	if err := vm.RunString("t", `
		a = Sprite();
		a.SetImage(red);
		a.SetPosition(0, 0, 10);
		b = Sprite();
		b.SetImage(blue);
		b.SetPosition(0, 0, 20);
	`); err != nil {
		t.Fatal(err)
	}

	canvas := pixel.NewBuffer(32, 32)
	damage := sprites.Refresh(canvas)
	if len(damage) == 0 {
		t.Fatal("first refresh produced no damage")
	}
	// Higher z composites on top: blue wins.
	if got := canvas.At(1, 1); got&0xff != 0xff {
		t.Errorf("top pixel = %#08x, want blue on top", got)
	}

	// Second refresh with no changes: no damage.
	if damage := sprites.Refresh(canvas); len(damage) != 0 {
		t.Errorf("idle refresh damaged %v", damage)
	}
}

func TestSpriteMoveDamagesOldAndNew(t *testing.T) {
	vm, sprites := newTestVM(t, 32, 32)
	injectImage(vm, sprites.imageLib, "dot", 2, 2, 0x00ff00)
	if err := vm.RunString("t", "s = Sprite(); s.SetImage(dot); s.SetPosition(0, 0, 0);"); err != nil {
		t.Fatal(err)
	}
	canvas := pixel.NewBuffer(32, 32)
	sprites.Refresh(canvas)

	if err := vm.RunString("t", "s.SetPosition(10, 10, 0);"); err != nil {
		t.Fatal(err)
	}
	damage := sprites.Refresh(canvas)

	containsPoint := func(x, y int) bool {
		for _, d := range damage {
			if d.Contains(x, y) {
				return true
			}
		}
		return false
	}
	if !containsPoint(0, 0) {
		t.Error("old position not damaged")
	}
	if !containsPoint(10, 10) {
		t.Error("new position not damaged")
	}
	if got := canvas.At(10, 10); got&0x00ff00 == 0 {
		t.Errorf("sprite not composited at new position: %#08x", got)
	}
}

func TestSpriteRemovedWhenScriptDropsHandle(t *testing.T) {
	vm, sprites := newTestVM(t, 16, 16)
	injectImage(vm, sprites.imageLib, "dot", 2, 2, 0xffffff)
	if err := vm.RunString("t", "s = Sprite(); s.SetImage(dot); s = NULL;"); err != nil {
		t.Fatal(err)
	}
	canvas := pixel.NewBuffer(16, 16)
	sprites.Refresh(canvas)
	if len(sprites.Sprites()) != 0 {
		t.Errorf("%d sprites remain after handle dropped", len(sprites.Sprites()))
	}
}

func TestBackgroundGradient(t *testing.T) {
	vm, sprites := newTestVM(t, 4, 4)
	if err := vm.RunString("t", `
		Window.SetBackgroundTopColor(0, 0, 0);
		Window.SetBackgroundBottomColor(1, 1, 1);
	`); err != nil {
		t.Fatal(err)
	}
	canvas := pixel.NewBuffer(4, 4)
	sprites.Refresh(canvas)
	if canvas.At(0, 0) != 0xff000000 {
		t.Errorf("top = %#08x, want black", canvas.At(0, 0))
	}
	if canvas.At(0, 3) != 0xffffffff {
		t.Errorf("bottom = %#08x, want white", canvas.At(0, 3))
	}
}

// ---------------------------------------------------------------------------
// Plymouth hook tests
// ---------------------------------------------------------------------------

func TestPlymouthHooks(t *testing.T) {
	vm, _ := newTestVM(t, 8, 8)
	ply := NewPlymouthLib(vm, "boot")
	defer ply.Close()

	if err := vm.RunString("t", `
		ticks = 0;
		last_progress = 0;
		Plymouth.SetBootProgressFunction(fun(duration, progress) {
			ticks++;
			last_progress = progress;
		});
		mode = Plymouth.GetMode();
	`); err != nil {
		t.Fatal(err)
	}
	if got := vm.GlobalGet("mode").AsString(); got != "boot" {
		t.Errorf("GetMode = %q, want boot", got)
	}
	if !ply.HasHook(HookBootProgress) {
		t.Fatal("boot progress hook not registered")
	}

	ply.Fire(HookBootProgress, script.NewFloat(1.5), script.NewFloat(0.25))
	ply.Fire(HookBootProgress, script.NewFloat(2.0), script.NewFloat(0.5))
	if got := vm.GlobalGet("ticks").AsInt(); got != 2 {
		t.Errorf("ticks = %d, want 2", got)
	}
	if got := vm.GlobalGet("last_progress").AsFloat(); got != 0.5 {
		t.Errorf("last_progress = %v, want 0.5", got)
	}
}
