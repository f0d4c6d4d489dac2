package pixel

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

// FromImage converts an image.Image into a premultiplied ARGB32 buffer.
// The stdlib RGBA type is already alpha-premultiplied, so the conversion is
// a channel reorder after a single draw pass.
func FromImage(img image.Image) *Buffer {
	if img == nil {
		return NewBuffer(0, 0)
	}
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || bounds.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		xdraw.Draw(rgba, rgba.Bounds(), img, bounds.Min, xdraw.Src)
	}

	buf := NewBuffer(rgba.Rect.Dx(), rgba.Rect.Dy())
	for y := 0; y < buf.height; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < buf.width; x++ {
			r := uint32(row[x*4])
			g := uint32(row[x*4+1])
			b := uint32(row[x*4+2])
			a := uint32(row[x*4+3])
			buf.pixels[y*buf.width+x] = a<<24 | r<<16 | g<<8 | b
		}
	}
	return buf
}

// ToImage copies the buffer into a stdlib premultiplied RGBA image.
func (b *Buffer) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			p := b.pixels[y*b.width+x]
			i := y*img.Stride + x*4
			img.Pix[i] = uint8(p >> 16)
			img.Pix[i+1] = uint8(p >> 8)
			img.Pix[i+2] = uint8(p)
			img.Pix[i+3] = uint8(p >> 24)
		}
	}
	return img
}

// RGBAAt returns the pixel at (x, y) as a premultiplied color.RGBA value.
func (b *Buffer) RGBAAt(x, y int) color.RGBA {
	p := b.At(x, y)
	return color.RGBA{
		R: uint8(p >> 16),
		G: uint8(p >> 8),
		B: uint8(p),
		A: uint8(p >> 24),
	}
}
