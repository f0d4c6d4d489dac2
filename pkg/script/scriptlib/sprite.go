package scriptlib

import (
	"sort"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/pixel"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/script"
)

// Sprite is one z-ordered image placement managed by the sprite library.
type Sprite struct {
	X       float64
	Y       float64
	Z       float64
	Opacity float64
	Image   *pixel.Buffer

	imageObj *script.Obj

	oldX       float64
	oldY       float64
	oldZ       float64
	oldWidth   int
	oldHeight  int
	oldOpacity float64

	refresh bool
	remove  bool
}

func (sp *Sprite) bounds() pixel.Rectangle {
	if sp.Image == nil {
		return pixel.Rectangle{}
	}
	return pixel.Rect(int(sp.X), int(sp.Y), sp.Image.Width(), sp.Image.Height())
}

func (sp *Sprite) oldBounds() pixel.Rectangle {
	return pixel.Rect(int(sp.oldX), int(sp.oldY), sp.oldWidth, sp.oldHeight)
}

// SpriteLib gives scripts a retained sprite scene over a window:
//
//	s = Sprite();
//	s.SetImage(img);
//	s.SetPosition(x, y, z);
//	s.SetOpacity(0.5);
//	Window.GetWidth(); Window.SetBackgroundTopColor(r, g, b);
type SpriteLib struct {
	imageLib *ImageLib
	class    *script.NativeClass

	sprites []*Sprite

	width  int
	height int

	bgTop       uint32
	bgBottom    uint32
	fullRefresh bool
}

// NewSpriteLib installs the sprite library. The window reports the given
// geometry; Refresh composites into caller-supplied buffers of that size.
func NewSpriteLib(vm *script.VM, imageLib *ImageLib, width, height int) *SpriteLib {
	lib := &SpriteLib{
		imageLib:    imageLib,
		width:       width,
		height:      height,
		fullRefresh: true,
	}
	lib.class = &script.NativeClass{
		Name: "sprite",
		// The script dropping its handle marks the sprite for removal at
		// the next refresh; the library still owns the backing entry.
		Free: func(data any) {
			if sp, ok := data.(*Sprite); ok {
				sp.remove = true
			}
		},
		Methods: map[string]*script.Obj{},
	}

	lib.addMethod("SetImage", lib.spriteSetImage, "image")
	lib.addMethod("SetX", func(s *script.State, _ any) script.Return {
		if sp := lib.sprite(s.This); sp != nil {
			sp.X = s.ArgFloat("value")
		}
		return script.ReturnNullObj()
	}, "value")
	lib.addMethod("SetY", func(s *script.State, _ any) script.Return {
		if sp := lib.sprite(s.This); sp != nil {
			sp.Y = s.ArgFloat("value")
		}
		return script.ReturnNullObj()
	}, "value")
	lib.addMethod("SetZ", func(s *script.State, _ any) script.Return {
		if sp := lib.sprite(s.This); sp != nil {
			sp.Z = s.ArgFloat("value")
		}
		return script.ReturnNullObj()
	}, "value")
	lib.addMethod("SetPosition", func(s *script.State, _ any) script.Return {
		if sp := lib.sprite(s.This); sp != nil {
			sp.X = s.ArgFloat("x")
			sp.Y = s.ArgFloat("y")
			sp.Z = s.ArgFloat("z")
		}
		return script.ReturnNullObj()
	}, "x", "y", "z")
	lib.addMethod("SetOpacity", func(s *script.State, _ any) script.Return {
		if sp := lib.sprite(s.This); sp != nil {
			sp.Opacity = s.ArgFloat("value")
		}
		return script.ReturnNullObj()
	}, "value")

	script.AddNativeFunction(vm.State.Global, "Sprite", nil, lib.spriteNew)

	window := script.NewHash()
	script.AddNativeFunction(window, "GetWidth", nil, func(*script.State, any) script.Return {
		return script.ReturnObj(script.NewInt(int64(lib.width)))
	})
	script.AddNativeFunction(window, "GetHeight", nil, func(*script.State, any) script.Return {
		return script.ReturnObj(script.NewInt(int64(lib.height)))
	})
	script.AddNativeFunction(window, "SetBackgroundTopColor", nil, func(s *script.State, _ any) script.Return {
		lib.bgTop = rgbFromArgs(s)
		lib.fullRefresh = true
		return script.ReturnNullObj()
	}, "red", "green", "blue")
	script.AddNativeFunction(window, "SetBackgroundBottomColor", nil, func(s *script.State, _ any) script.Return {
		lib.bgBottom = rgbFromArgs(s)
		lib.fullRefresh = true
		return script.ReturnNullObj()
	}, "red", "green", "blue")
	vm.GlobalSet("Window", window)
	window.Unref()

	return lib
}

func rgbFromArgs(s *script.State) uint32 {
	r := clamp01(s.ArgFloat("red"))
	g := clamp01(s.ArgFloat("green"))
	b := clamp01(s.ArgFloat("blue"))
	return uint32(r*255)<<16 | uint32(g*255)<<8 | uint32(b*255)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (lib *SpriteLib) addMethod(name string, fn script.NativeFunc, params ...string) {
	wrapped := script.NewFunction(&script.Function{
		Params: params,
		Native: func(s *script.State) script.Return { return fn(s, nil) },
	})
	lib.class.Methods[name] = wrapped
}

func (lib *SpriteLib) sprite(obj *script.Obj) *Sprite {
	sp, _ := obj.NativeData(lib.class).(*Sprite)
	return sp
}

func (lib *SpriteLib) spriteNew(s *script.State, _ any) script.Return {
	sp := &Sprite{Opacity: 1.0, oldOpacity: 1.0}
	lib.sprites = append(lib.sprites, sp)
	return script.ReturnObj(script.NewNative(sp, lib.class))
}

func (lib *SpriteLib) spriteSetImage(s *script.State, _ any) script.Return {
	sp := lib.sprite(s.This)
	imgObj := s.Arg("image")
	if sp == nil || imgObj == nil {
		return script.ReturnNullObj()
	}
	buf := lib.imageLib.Buffer(imgObj)
	if buf == nil {
		return script.ReturnNullObj()
	}
	if sp.imageObj != nil {
		sp.imageObj.Unref()
	}
	sp.imageObj = imgObj.Deref().Ref()
	sp.Image = buf
	sp.refresh = true
	return script.ReturnNullObj()
}

// Sprites returns the current scene, for tests and diagnostics.
func (lib *SpriteLib) Sprites() []*Sprite { return lib.sprites }

// SetSize updates the reported window geometry and forces a repaint.
func (lib *SpriteLib) SetSize(width, height int) {
	lib.width = width
	lib.height = height
	lib.fullRefresh = true
}

// Refresh runs one frame of the sprite scene into canvas and returns the
// damaged regions: (1) stable-sort by z, (2) drop removed sprites and
// damage their old boxes, (3) damage moved/changed sprites' old and new
// boxes, (4) repaint damage from the background and re-composite every
// intersecting sprite in z order at its opacity.
func (lib *SpriteLib) Refresh(canvas *pixel.Buffer) []pixel.Rectangle {
	sort.SliceStable(lib.sprites, func(i, j int) bool {
		return lib.sprites[i].Z < lib.sprites[j].Z
	})

	var damage []pixel.Rectangle
	if lib.fullRefresh {
		damage = append(damage, pixel.Rect(0, 0, lib.width, lib.height))
		lib.fullRefresh = false
	}

	kept := lib.sprites[:0]
	for _, sp := range lib.sprites {
		if sp.remove {
			if !sp.oldBounds().Empty() {
				damage = append(damage, sp.oldBounds())
			}
			if sp.imageObj != nil {
				sp.imageObj.Unref()
				sp.imageObj = nil
			}
			continue
		}
		kept = append(kept, sp)
	}
	lib.sprites = kept

	for _, sp := range lib.sprites {
		moved := sp.X != sp.oldX || sp.Y != sp.oldY || sp.Z != sp.oldZ ||
			sp.Opacity != sp.oldOpacity
		if sp.refresh || moved {
			if !sp.oldBounds().Empty() {
				damage = append(damage, sp.oldBounds())
			}
			if !sp.bounds().Empty() {
				damage = append(damage, sp.bounds())
			}
			sp.refresh = false
		}
		sp.oldX, sp.oldY, sp.oldZ = sp.X, sp.Y, sp.Z
		sp.oldOpacity = sp.Opacity
		if sp.Image != nil {
			sp.oldWidth, sp.oldHeight = sp.Image.Width(), sp.Image.Height()
		} else {
			sp.oldWidth, sp.oldHeight = 0, 0
		}
	}

	if len(damage) == 0 {
		return nil
	}

	screen := pixel.Rect(0, 0, lib.width, lib.height)
	for i := range damage {
		damage[i] = damage[i].Intersect(screen)
	}

	for _, area := range damage {
		if area.Empty() {
			continue
		}
		lib.paintBackground(canvas, area)
		for _, sp := range lib.sprites {
			if sp.Image == nil || sp.Opacity <= 0 {
				continue
			}
			box := sp.bounds()
			overlap := box.Intersect(area)
			if overlap.Empty() {
				continue
			}
			canvas.FillWithARGB32Data(overlap,
				overlap.X-box.X, overlap.Y-box.Y, sp.Image.Width(),
				sp.Image.Pixels(), sp.Opacity)
		}
	}
	return damage
}

// paintBackground fills area with the window background: a flat color
// when both stops match, a vertical gradient otherwise. The gradient is
// anchored to the full window, so a partial repaint interpolates its own
// endpoint colors to line up with neighboring rows.
func (lib *SpriteLib) paintBackground(canvas *pixel.Buffer, area pixel.Rectangle) {
	if lib.bgTop == lib.bgBottom {
		canvas.FillWithHexColor(area, lib.bgTop)
		return
	}
	span := float64(lib.height - 1)
	if span <= 0 {
		span = 1
	}
	t0 := float64(area.Y) / span
	t1 := float64(area.Y+area.Height-1) / span
	canvas.FillWithGradient(area, lerpRGB(lib.bgTop, lib.bgBottom, t0), lerpRGB(lib.bgTop, lib.bgBottom, t1))
}

func lerpRGB(a, b uint32, t float64) uint32 {
	lerp := func(x, y uint32) uint32 {
		return uint32(float64(x) + (float64(y)-float64(x))*t + 0.5)
	}
	r := lerp(a>>16&0xff, b>>16&0xff)
	g := lerp(a>>8&0xff, b>>8&0xff)
	bl := lerp(a&0xff, b&0xff)
	return r<<16 | g<<8 | bl
}

// Close drops every sprite and the method table.
func (lib *SpriteLib) Close() {
	for _, sp := range lib.sprites {
		if sp.imageObj != nil {
			sp.imageObj.Unref()
			sp.imageObj = nil
		}
	}
	lib.sprites = nil
	for name, m := range lib.class.Methods {
		delete(lib.class.Methods, name)
		m.Unref()
	}
}
