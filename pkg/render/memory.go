package render

import "gitlab.com/tinyland/lab/boot-pulse/pkg/pixel"

// Memory is a renderer with no device behind it. It honors the full flush
// contract against an in-process byte slice, which makes it the target for
// pixel-pipeline tests and for headless runs.
type Memory struct {
	surface
	width  int
	height int
}

// NewMemory creates a closed in-memory renderer with the given geometry
// and device pixel layout.
func NewMemory(name string, width, height int, layout PixelLayout) *Memory {
	if layout.Stride == 0 {
		layout.Stride = width * layout.BytesPerPixel
	}
	return &Memory{
		surface: surface{deviceName: name, layout: layout},
		width:   width,
		height:  height,
	}
}

func (m *Memory) Open() error {
	m.area = pixel.Rect(0, 0, m.width, m.height)
	m.mapped = make([]byte, m.height*m.layout.Stride)
	m.shadow = pixel.NewBuffer(m.width, m.height)
	m.dirty = pixel.Rectangle{}
	return nil
}

func (m *Memory) Close() error {
	layout := m.layout
	m.reset()
	m.layout = layout
	return nil
}

// DeviceBytes exposes the simulated device memory for inspection.
func (m *Memory) DeviceBytes() []byte { return m.mapped }
