// Package chunkbuf implements the chunk buffer (spec §4.C): a single
// contiguous byte region holding one chunk's packed YUV planes, a
// reference count, and an on-demand unpack derivation streamed through a
// fixed reusable scratch.
//
// Reference counting uses an explicit atomic refcount per spec invariant
// I1 ("exactly one live chunk buffer per chunk id").
package chunkbuf

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/five82/avchunk/internal/chunkspec"
	"github.com/five82/avchunk/internal/pixpack"
	"github.com/five82/avchunk/internal/source"
)

const rowAlign = 16

// plane is one Y, U, or V plane: rows for every frame in the chunk, stacked
// contiguously, stride rounded up to rowAlign bytes (spec §4.C).
type plane struct {
	data      []byte
	rowStride int
	width     int // logical, unpadded sample width
	padWidth  int // width after 10-bit 4-sample padding; == width for 8-bit
}

func newPlane(format chunkspec.PixelFormat, width, frameRows, frames int) plane {
	padWidth := width
	if format == chunkspec.Format10Bit420 {
		padWidth = pixpack.PadWidth(width)
	}
	raw := padWidth
	if format == chunkspec.Format10Bit420 {
		raw = pixpack.PackedRowLen(padWidth)
	}
	stride := alignUp(raw, rowAlign)
	return plane{
		data:      make([]byte, stride*frameRows*frames),
		rowStride: stride,
		width:     width,
		padWidth:  padWidth,
	}
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

func (p *plane) row(localFrame, rowsPerFrame, r int) []byte {
	off := (localFrame*rowsPerFrame + r) * p.rowStride
	return p.data[off : off+p.rowStride]
}

// Buffer owns one chunk's packed pixel data plus its frame range, pixel
// format, plane strides, and a reference count (spec §3 "Chunk buffer CB",
// §4.C).
//
// Created exclusively by the decode thread via Alloc, mutated only by
// WriteFrame (the decoder, before hand-off), immutable thereafter. Acquire
// and Release are the only thread-safe operations after hand-off.
type Buffer struct {
	Spec   chunkspec.Spec
	Format chunkspec.PixelFormat
	W, H   int

	y, u, v plane

	refs atomic.Int32
}

// Alloc allocates a chunk buffer sized exactly for spec's frame range at
// the given dimensions and pixel format. The scheduler's own reference
// (held until the chunk's output is committed, spec §4.C) is pre-counted;
// callers must Release it after commit in addition to any worker Acquires.
func Alloc(spec chunkspec.Spec, format chunkspec.PixelFormat, w, h int) *Buffer {
	frames := spec.Frames()
	chromaW, chromaH := w/2, h/2

	b := &Buffer{
		Spec:   spec,
		Format: format,
		W:      w,
		H:      h,
		y:      newPlane(format, w, h, frames),
		u:      newPlane(format, chromaW, chromaH, frames),
		v:      newPlane(format, chromaW, chromaH, frames),
	}
	b.refs.Store(1)
	return b
}

// Acquire adds a reference, e.g. when a worker takes ownership of the
// buffer off the scheduler's channel, or when TQ re-encodes reuse it
// across rounds.
func (b *Buffer) Acquire() {
	b.refs.Add(1)
}

// Release drops a reference, returning true when it was the last one. The
// caller that observes true is responsible for letting the buffer's
// storage be collected; Buffer itself holds no finalizer (spec §9: "no
// cycles can form, the reference graph is a star from the registry").
func (b *Buffer) Release() bool {
	return b.refs.Add(-1) == 0
}

// RefCount reports the current reference count, for tests asserting P5
// ("at most W chunk buffers exist simultaneously").
func (b *Buffer) RefCount() int32 {
	return b.refs.Load()
}

// WriteFrame packs and stores source frame view fv at the chunk-local frame
// index localFrame (global index spec.Start+localFrame). Only the decode
// thread may call this, and only before the buffer is handed to Q (spec
// I2).
func (b *Buffer) WriteFrame(localFrame int, fv source.FrameView) error {
	if localFrame < 0 || localFrame >= b.Spec.Frames() {
		return fmt.Errorf("chunkbuf: local frame %d out of range [0,%d)", localFrame, b.Spec.Frames())
	}
	if err := writePlane(&b.y, localFrame, b.H, fv.Y, fv.YStride, b.Format); err != nil {
		return fmt.Errorf("chunkbuf: luma: %w", err)
	}
	if err := writePlane(&b.u, localFrame, b.H/2, fv.U, fv.UStride, b.Format); err != nil {
		return fmt.Errorf("chunkbuf: chroma-u: %w", err)
	}
	if err := writePlane(&b.v, localFrame, b.H/2, fv.V, fv.VStride, b.Format); err != nil {
		return fmt.Errorf("chunkbuf: chroma-v: %w", err)
	}
	return nil
}

func writePlane(p *plane, localFrame, rows int, src []byte, srcStride int, format chunkspec.PixelFormat) error {
	var padScratch []uint16
	var rowSamples []uint16

	for r := 0; r < rows; r++ {
		dst := p.row(localFrame, rows, r)

		if format == chunkspec.Format8Bit420 {
			srcRow := src[r*srcStride : r*srcStride+p.width]
			copy(dst, srcRow)
			continue
		}

		if cap(rowSamples) < p.width {
			rowSamples = make([]uint16, p.width)
		}
		rowSamples = rowSamples[:p.width]
		srcRow := src[r*srcStride : r*srcStride+p.width*2]
		for i := 0; i < p.width; i++ {
			rowSamples[i] = uint16(srcRow[2*i]) | uint16(srcRow[2*i+1])<<8
		}

		padded := rowSamples
		if p.padWidth != p.width {
			padded, _ = pixpack.PadRow(rowSamples, padScratch)
			padScratch = padded
		}
		pixpack.PackRow(dst, padded)
	}
	return nil
}

// Scratch is the fixed reusable buffer (at most two rows) through which
// the unpack derivation is streamed to the encoder's stdin (spec §4.C).
// Workers own one Scratch and reuse it across every frame and every chunk
// they process.
type Scratch struct {
	samples [2][]uint16
	le      []byte
}

// StreamPlanar writes chunk-local frame localFrame's Y, U, V planes, in
// that order, as 16-bit little-endian samples in 10-bit range, to w (spec
// §6 "Encoder stdin format"; §6 "8-bit inputs are converted to 10-bit via
// left-shift by 2 before streaming").
func (b *Buffer) StreamPlanar(w io.Writer, localFrame int, scratch *Scratch) error {
	if localFrame < 0 || localFrame >= b.Spec.Frames() {
		return fmt.Errorf("chunkbuf: local frame %d out of range [0,%d)", localFrame, b.Spec.Frames())
	}
	if err := streamPlane(w, &b.y, localFrame, b.H, b.Format, scratch); err != nil {
		return err
	}
	if err := streamPlane(w, &b.u, localFrame, b.H/2, b.Format, scratch); err != nil {
		return err
	}
	if err := streamPlane(w, &b.v, localFrame, b.H/2, b.Format, scratch); err != nil {
		return err
	}
	return nil
}

// FrameSamples holds one frame's three planes as unpacked 16-bit samples
// (10-bit range, row-major, no stride padding), the shape the GPU metric
// library expects (spec §4.G score() operand "reference_frames =
// chunk_buffer_unpacked").
type FrameSamples struct {
	Y, U, V        []uint16
	YW, YH, CW, CH int
}

// PlaneScratch is the reusable full-frame buffer Unpack decodes into. One
// Scratch per metric worker goroutine, reused across every probe.
type PlaneScratch struct {
	y, u, v []uint16
}

// Unpack decodes chunk-local frame localFrame into scratch's three planes,
// returning views into it. The returned slices are valid only until the
// next Unpack call on the same scratch (spec §4.C "on-demand unpack
// derivation").
func (b *Buffer) Unpack(localFrame int, scratch *PlaneScratch) (FrameSamples, error) {
	if localFrame < 0 || localFrame >= b.Spec.Frames() {
		return FrameSamples{}, fmt.Errorf("chunkbuf: local frame %d out of range [0,%d)", localFrame, b.Spec.Frames())
	}
	cw, ch := b.W/2, b.H/2
	scratch.y = unpackPlane(&b.y, localFrame, b.H, b.Format, scratch.y)
	scratch.u = unpackPlane(&b.u, localFrame, ch, b.Format, scratch.u)
	scratch.v = unpackPlane(&b.v, localFrame, ch, b.Format, scratch.v)
	return FrameSamples{Y: scratch.y, U: scratch.u, V: scratch.v, YW: b.W, YH: b.H, CW: cw, CH: ch}, nil
}

func unpackPlane(p *plane, localFrame, rows int, format chunkspec.PixelFormat, dst []uint16) []uint16 {
	if cap(dst) < p.width*rows {
		dst = make([]uint16, p.width*rows)
	}
	dst = dst[:p.width*rows]

	for r := 0; r < rows; r++ {
		src := p.row(localFrame, rows, r)
		row := dst[r*p.width : (r+1)*p.width]
		switch format {
		case chunkspec.Format10Bit420:
			pixpack.UnpackRow(row, src[:pixpack.PackedRowLen(p.padWidth)])
		case chunkspec.Format8Bit420:
			for i := 0; i < p.width; i++ {
				row[i] = uint16(src[i]) << 2
			}
		}
	}
	return dst
}

func streamPlane(w io.Writer, p *plane, localFrame, rows int, format chunkspec.PixelFormat, scratch *Scratch) error {
	if cap(scratch.samples[0]) < p.width {
		scratch.samples[0] = make([]uint16, p.width)
	}
	if cap(scratch.le) < p.width*2 {
		scratch.le = make([]byte, p.width*2)
	}
	row := scratch.samples[0][:p.width]
	le := scratch.le[:p.width*2]

	for r := 0; r < rows; r++ {
		src := p.row(localFrame, rows, r)

		switch format {
		case chunkspec.Format10Bit420:
			pixpack.UnpackRow(row, src[:pixpack.PackedRowLen(p.padWidth)])
		case chunkspec.Format8Bit420:
			for i := 0; i < p.width; i++ {
				row[i] = uint16(src[i]) << 2
			}
		}

		for i := 0; i < p.width; i++ {
			le[2*i] = byte(row[i])
			le[2*i+1] = byte(row[i] >> 8)
		}
		if _, err := w.Write(le); err != nil {
			return err
		}
	}
	return nil
}
