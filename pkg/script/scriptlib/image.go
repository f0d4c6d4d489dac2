// Package scriptlib binds the host-side libraries that script-driven
// themes use: images, sprites, math helpers, and the splash lifecycle
// hooks.
package scriptlib

import (
	"image/color"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/pixel"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/script"
)

// ImageLib exposes image loading and transformation to scripts:
//
//	img = Image("progress.png");
//	w = img.GetWidth();
//	small = img.Scale(w / 2, img.GetHeight() / 2);
//	tilted = img.Rotate(0.3);
type ImageLib struct {
	class    *script.NativeClass
	imageDir string
	logger   *slog.Logger
}

// NewImageLib installs the image library into the VM's global scope.
// Images resolve relative to imageDir.
func NewImageLib(vm *script.VM, imageDir string, logger *slog.Logger) *ImageLib {
	if logger == nil {
		logger = slog.Default()
	}
	lib := &ImageLib{imageDir: imageDir, logger: logger}
	lib.class = &script.NativeClass{Name: "image", Methods: map[string]*script.Obj{}}
	lib.addMethod("GetWidth", func(s *script.State, _ any) script.Return {
		if buf := lib.buffer(s.This); buf != nil {
			return script.ReturnObj(script.NewInt(int64(buf.Width())))
		}
		return script.ReturnNullObj()
	})
	lib.addMethod("GetHeight", func(s *script.State, _ any) script.Return {
		if buf := lib.buffer(s.This); buf != nil {
			return script.ReturnObj(script.NewInt(int64(buf.Height())))
		}
		return script.ReturnNullObj()
	})
	lib.addMethod("Scale", func(s *script.State, _ any) script.Return {
		buf := lib.buffer(s.This)
		w := int(s.ArgInt("width"))
		h := int(s.ArgInt("height"))
		if buf == nil || w <= 0 || h <= 0 {
			return script.ReturnNullObj()
		}
		scaled := imaging.Resize(buf.ToImage(), w, h, imaging.Lanczos)
		return script.ReturnObj(script.NewNative(pixel.FromImage(scaled), lib.class))
	}, "width", "height")
	lib.addMethod("Rotate", func(s *script.State, _ any) script.Return {
		buf := lib.buffer(s.This)
		if buf == nil {
			return script.ReturnNullObj()
		}
		// Script angles are radians, counter-clockwise.
		degrees := s.ArgFloat("angle") * 180 / 3.141592653589793
		rotated := imaging.Rotate(buf.ToImage(), degrees, color.Transparent)
		return script.ReturnObj(script.NewNative(pixel.FromImage(rotated), lib.class))
	}, "angle")

	script.AddNativeFunction(vm.State.Global, "Image", nil, lib.imageNew, "filename")
	return lib
}

// Class returns the native class tagging image objects.
func (lib *ImageLib) Class() *script.NativeClass { return lib.class }

// Buffer extracts the pixel buffer from a script image object, or nil.
func (lib *ImageLib) Buffer(obj *script.Obj) *pixel.Buffer { return lib.buffer(obj) }

func (lib *ImageLib) buffer(obj *script.Obj) *pixel.Buffer {
	buf, _ := obj.NativeData(lib.class).(*pixel.Buffer)
	return buf
}

func (lib *ImageLib) addMethod(name string, fn script.NativeFunc, params ...string) {
	wrapped := script.NewFunction(&script.Function{
		Params: params,
		Native: func(s *script.State) script.Return { return fn(s, nil) },
	})
	lib.class.Methods[name] = wrapped
}

// imageNew loads a PNG (or any decodable image) from the theme's image
// directory. A failed load returns null, which scripts are expected to
// tolerate.
func (lib *ImageLib) imageNew(s *script.State, _ any) script.Return {
	filename := s.ArgString("filename")
	if filename == "" || strings.Contains(filename, "..") {
		return script.ReturnNullObj()
	}
	path := filepath.Join(lib.imageDir, filename)
	img, err := imaging.Open(path)
	if err != nil {
		lib.logger.Debug("image load failed", "path", path, "error", err)
		return script.ReturnNullObj()
	}
	return script.ReturnObj(script.NewNative(pixel.FromImage(img), lib.class))
}

// Close releases the method table.
func (lib *ImageLib) Close() {
	for name, m := range lib.class.Methods {
		delete(lib.class.Methods, name)
		m.Unref()
	}
}
