package source

import (
	"fmt"

	"github.com/five82/avchunk/internal/chunkspec"
	"github.com/five82/avchunk/internal/ratespec"
)

// Memory is a synthetic in-memory Handle used by tests and by any caller
// that already holds decoded frames (e.g. golden-vector tests for the SCD
// planner and chunk buffer). It satisfies the same O(1)-amortized
// sequential access contract as the real decoder.
type Memory struct {
	frames  [][3][]byte // per-frame Y, U, V planes, 8-bit samples
	rate    ratespec.Rate
	w, h    int
	depth   chunkspec.PixelFormat
	color   chunkspec.ColorMeta
	lastDec int
}

// NewMemory builds a Memory source from pre-decoded 8-bit planar frames.
func NewMemory(frames [][3][]byte, rate ratespec.Rate, w, h int, depth chunkspec.PixelFormat, color chunkspec.ColorMeta) *Memory {
	return &Memory{frames: frames, rate: rate, w: w, h: h, depth: depth, color: color, lastDec: -1}
}

func (m *Memory) Frames() int                 { return len(m.frames) }
func (m *Memory) Rate() ratespec.Rate         { return m.rate }
func (m *Memory) Size() (int, int)            { return m.w, m.h }
func (m *Memory) Depth() chunkspec.PixelFormat { return m.depth }
func (m *Memory) Color() chunkspec.ColorMeta   { return m.color }

func (m *Memory) Decode(i int) (FrameView, error) {
	if i < 0 || i >= len(m.frames) {
		return FrameView{}, fmt.Errorf("memory source: frame %d out of range [0,%d)", i, len(m.frames))
	}
	m.lastDec = i
	f := m.frames[i]
	return FrameView{
		Y: f[0], U: f[1], V: f[2],
		YStride: m.w, UStride: m.w / 2, VStride: m.w / 2,
	}, nil
}

func (m *Memory) Close() error { return nil }
