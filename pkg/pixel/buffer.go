// Package pixel provides the in-memory ARGB32 surface that splash themes
// draw into before a renderer flushes it to device memory.
//
// Every stored pixel uses premultiplied alpha: when the alpha byte is 0xff
// the RGB bytes are the exact display values, and blends assume the source
// has already been multiplied through.
package pixel

// Buffer is a rectangular premultiplied-ARGB32 raster. The row stride is
// always Width*4 bytes (one uint32 per pixel, rows contiguous).
type Buffer struct {
	width  int
	height int
	pixels []uint32
}

// NewBuffer allocates a zeroed (fully transparent) buffer. Dimensions are
// clamped to at least zero.
func NewBuffer(width, height int) *Buffer {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Buffer{
		width:  width,
		height: height,
		pixels: make([]uint32, width*height),
	}
}

// Width returns the buffer width in pixels.
func (b *Buffer) Width() int { return b.width }

// Height returns the buffer height in pixels.
func (b *Buffer) Height() int { return b.height }

// Bounds returns the full buffer area anchored at the origin.
func (b *Buffer) Bounds() Rectangle {
	return Rectangle{Width: b.width, Height: b.height}
}

// Pixels exposes the backing pixel array, row-major from the top-left.
// Renderers read it during flush; callers must not resize it.
func (b *Buffer) Pixels() []uint32 { return b.pixels }

// At returns the stored pixel value at (x, y), or zero outside the buffer.
func (b *Buffer) At(x, y int) uint32 {
	if x < 0 || y < 0 || x >= b.width || y >= b.height {
		return 0
	}
	return b.pixels[y*b.width+x]
}

// div255 approximates v/255 for v in [0, 255*255] using the
// (v + (v>>8) + 0x80) >> 8 identity. For every input in range the result
// is within one of the rounded quotient (v+127)/255, but not always equal.
func div255(v uint32) uint32 {
	return (v + (v >> 8) + 0x80) >> 8
}

// blendPixels composites a premultiplied source pixel OVER a destination
// pixel: out = src + dst*(1 - alpha_src), per channel with div255 rounding.
func blendPixels(src, dst uint32) uint32 {
	a := src >> 24
	if a == 0xff {
		return src
	}
	inv := 255 - a
	da := dst >> 24
	dr := (dst >> 16) & 0xff
	dg := (dst >> 8) & 0xff
	db := dst & 0xff

	oa := (src >> 24) + div255(da*inv)
	or := ((src >> 16) & 0xff) + div255(dr*inv)
	og := ((src >> 8) & 0xff) + div255(dg*inv)
	ob := (src & 0xff) + div255(db*inv)
	if oa > 0xff {
		oa = 0xff
	}
	if or > 0xff {
		or = 0xff
	}
	if og > 0xff {
		og = 0xff
	}
	if ob > 0xff {
		ob = 0xff
	}
	return oa<<24 | or<<16 | og<<8 | ob
}

// scalePixel multiplies all four channels of a premultiplied pixel by an
// opacity byte.
func scalePixel(p uint32, opacity uint32) uint32 {
	if opacity == 255 {
		return p
	}
	a := div255((p >> 24) * opacity)
	r := div255(((p >> 16) & 0xff) * opacity)
	g := div255(((p >> 8) & 0xff) * opacity)
	bl := div255((p & 0xff) * opacity)
	return a<<24 | r<<16 | g<<8 | bl
}

// colorToPixel premultiplies the RGB components by alpha and packs the
// result into an ARGB32 word. All components are in [0, 1].
func colorToPixel(red, green, blue, alpha float64) uint32 {
	red *= alpha
	green *= alpha
	blue *= alpha
	return clampByte(alpha)<<24 | clampByte(red)<<16 | clampByte(green)<<8 | clampByte(blue)
}

func clampByte(v float64) uint32 {
	scaled := int(v*255.0 + 0.5)
	if scaled < 0 {
		scaled = 0
	}
	if scaled > 255 {
		scaled = 255
	}
	return uint32(scaled)
}

// setPixel blends value into the buffer at (x, y). Fully opaque values are
// stored directly.
func (b *Buffer) setPixel(x, y int, value uint32) {
	i := y*b.width + x
	if value>>24 != 0xff {
		value = blendPixels(value, b.pixels[i])
	}
	b.pixels[i] = value
}

// FillWithColor blends a uniform color into every pixel of area. The RGB
// components are premultiplied by alpha before packing. Components are in
// [0, 1]; the area is clipped to the buffer bounds.
func (b *Buffer) FillWithColor(area Rectangle, red, green, blue, alpha float64) {
	area = area.Intersect(b.Bounds())
	if area.Empty() {
		return
	}
	value := colorToPixel(red, green, blue, alpha)
	for y := area.Y; y < area.Y+area.Height; y++ {
		for x := area.X; x < area.X+area.Width; x++ {
			b.setPixel(x, y, value)
		}
	}
}

// FillWithHexColor fills area with an opaque 0xRRGGBB color.
func (b *Buffer) FillWithHexColor(area Rectangle, hex uint32) {
	area = area.Intersect(b.Bounds())
	if area.Empty() {
		return
	}
	value := 0xff000000 | (hex & 0x00ffffff)
	for y := area.Y; y < area.Y+area.Height; y++ {
		row := y * b.width
		for x := area.X; x < area.X+area.Width; x++ {
			b.pixels[row+x] = value
		}
	}
}

// FillWithGradient fills area with a vertical linear interpolation from
// topHex (0xRRGGBB) at the first row to bottomHex at the last row. The fill
// is opaque.
func (b *Buffer) FillWithGradient(area Rectangle, topHex, bottomHex uint32) {
	clipped := area.Intersect(b.Bounds())
	if clipped.Empty() {
		return
	}
	tr := float64((topHex >> 16) & 0xff)
	tg := float64((topHex >> 8) & 0xff)
	tb := float64(topHex & 0xff)
	br := float64((bottomHex >> 16) & 0xff)
	bg := float64((bottomHex >> 8) & 0xff)
	bb := float64(bottomHex & 0xff)

	span := float64(area.Height - 1)
	if span <= 0 {
		span = 1
	}
	for y := clipped.Y; y < clipped.Y+clipped.Height; y++ {
		t := float64(y-area.Y) / span
		r := uint32(tr + (br-tr)*t + 0.5)
		g := uint32(tg + (bg-tg)*t + 0.5)
		bl := uint32(tb + (bb-tb)*t + 0.5)
		value := 0xff000000 | r<<16 | g<<8 | bl
		row := y * b.width
		for x := clipped.X; x < clipped.X+clipped.Width; x++ {
			b.pixels[row+x] = value
		}
	}
}

// FillWithARGB32Data alpha-composites premultiplied source pixels into
// dstArea, scaled by opacity in [0, 1]. Source pixels are read starting at
// (srcX, srcY) with the given stride in pixels. The destination is clipped
// to both dstArea and the buffer bounds.
func (b *Buffer) FillWithARGB32Data(dstArea Rectangle, srcX, srcY, srcStride int, data []uint32, opacity float64) {
	clipped := dstArea.Intersect(b.Bounds())
	if clipped.Empty() || srcStride <= 0 {
		return
	}
	if opacity < 0 {
		opacity = 0
	}
	if opacity > 1 {
		opacity = 1
	}
	opacityByte := uint32(opacity*255.0 + 0.5)
	if opacityByte == 0 {
		return
	}

	for y := clipped.Y; y < clipped.Y+clipped.Height; y++ {
		sy := srcY + (y - dstArea.Y)
		if sy < 0 {
			continue
		}
		for x := clipped.X; x < clipped.X+clipped.Width; x++ {
			sx := srcX + (x - dstArea.X)
			if sx < 0 {
				continue
			}
			i := sy*srcStride + sx
			if i >= len(data) {
				continue
			}
			b.setPixel(x, y, scalePixel(data[i], opacityByte))
		}
	}
}

// Clear resets every pixel to fully transparent.
func (b *Buffer) Clear() {
	for i := range b.pixels {
		b.pixels[i] = 0
	}
}
