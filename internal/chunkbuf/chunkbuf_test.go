package chunkbuf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/five82/avchunk/internal/chunkspec"
	"github.com/five82/avchunk/internal/source"
)

func TestWriteFrameStreamPlanar8Bit(t *testing.T) {
	const w, h = 8, 4
	spec := chunkspec.Spec{ID: 0, Start: 0, End: 2}
	b := Alloc(spec, chunkspec.Format8Bit420, w, h)

	y := make([]byte, w*h)
	u := make([]byte, (w/2)*(h/2))
	v := make([]byte, (w/2)*(h/2))
	for i := range y {
		y[i] = byte(i + 1)
	}
	for i := range u {
		u[i] = byte(200 + i)
		v[i] = byte(50 + i)
	}
	fv := source.FrameView{Y: y, U: u, V: v, YStride: w, UStride: w / 2, VStride: w / 2}

	if err := b.WriteFrame(0, fv); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var buf bytes.Buffer
	scratch := &Scratch{}
	if err := b.StreamPlanar(&buf, 0, scratch); err != nil {
		t.Fatalf("StreamPlanar: %v", err)
	}

	got := buf.Bytes()
	wantLen := (w*h + 2*(w/2)*(h/2)) * 2
	if len(got) != wantLen {
		t.Fatalf("streamed %d bytes, want %d", len(got), wantLen)
	}

	for i := 0; i < w*h; i++ {
		sample := uint16(got[2*i]) | uint16(got[2*i+1])<<8
		want := uint16(y[i]) << 2
		if sample != want {
			t.Fatalf("y[%d] = %d, want %d", i, sample, want)
		}
	}
}

func TestWriteFrameStreamPlanar10BitRoundTrip(t *testing.T) {
	const w, h = 8, 4
	spec := chunkspec.Spec{ID: 0, Start: 0, End: 1}
	b := Alloc(spec, chunkspec.Format10Bit420, w, h)

	y := make([]byte, w*h*2)
	u := make([]byte, (w/2)*(h/2)*2)
	v := make([]byte, (w/2)*(h/2)*2)
	fillSamples := func(dst []byte, base uint16) {
		for i := 0; i < len(dst)/2; i++ {
			v := (base + uint16(i)) & 0x3FF
			dst[2*i] = byte(v)
			dst[2*i+1] = byte(v >> 8)
		}
	}
	fillSamples(y, 0)
	fillSamples(u, 100)
	fillSamples(v, 500)

	fv := source.FrameView{Y: y, U: u, V: v, YStride: w * 2, UStride: (w / 2) * 2, VStride: (w / 2) * 2}
	if err := b.WriteFrame(0, fv); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var buf bytes.Buffer
	scratch := &Scratch{}
	if err := b.StreamPlanar(&buf, 0, scratch); err != nil {
		t.Fatalf("StreamPlanar: %v", err)
	}

	got := buf.Bytes()
	offset := 0
	checkPlane := func(name string, n int, base uint16) {
		for i := 0; i < n; i++ {
			sample := binary.LittleEndian.Uint16(got[offset+2*i : offset+2*i+2])
			want := (base + uint16(i)) & 0x3FF
			if sample != want {
				t.Fatalf("%s[%d] = %d, want %d", name, i, sample, want)
			}
		}
		offset += n * 2
	}
	checkPlane("y", w*h, 0)
	checkPlane("u", (w/2)*(h/2), 100)
	checkPlane("v", (w/2)*(h/2), 500)
}

func TestAcquireRelease(t *testing.T) {
	spec := chunkspec.Spec{ID: 0, Start: 0, End: 1}
	b := Alloc(spec, chunkspec.Format8Bit420, 4, 4)

	if b.RefCount() != 1 {
		t.Fatalf("RefCount after Alloc = %d, want 1", b.RefCount())
	}

	b.Acquire()
	if b.RefCount() != 2 {
		t.Fatalf("RefCount after Acquire = %d, want 2", b.RefCount())
	}

	if done := b.Release(); done {
		t.Fatal("Release should not report done with one reference remaining")
	}
	if done := b.Release(); !done {
		t.Fatal("Release should report done on the last reference")
	}
}

func TestUnpackMatchesStreamPlanar(t *testing.T) {
	const w, h = 8, 4
	spec := chunkspec.Spec{ID: 0, Start: 0, End: 1}
	b := Alloc(spec, chunkspec.Format10Bit420, w, h)

	y := make([]byte, w*h*2)
	u := make([]byte, (w/2)*(h/2)*2)
	v := make([]byte, (w/2)*(h/2)*2)
	fillSamples := func(dst []byte, base uint16) {
		for i := 0; i < len(dst)/2; i++ {
			v := (base + uint16(i)) & 0x3FF
			dst[2*i] = byte(v)
			dst[2*i+1] = byte(v >> 8)
		}
	}
	fillSamples(y, 0)
	fillSamples(u, 100)
	fillSamples(v, 500)

	fv := source.FrameView{Y: y, U: u, V: v, YStride: w * 2, UStride: (w / 2) * 2, VStride: (w / 2) * 2}
	if err := b.WriteFrame(0, fv); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var buf bytes.Buffer
	if err := b.StreamPlanar(&buf, 0, &Scratch{}); err != nil {
		t.Fatalf("StreamPlanar: %v", err)
	}
	streamed := buf.Bytes()

	samples, err := b.Unpack(0, &PlaneScratch{})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if len(samples.Y) != w*h || len(samples.U) != (w/2)*(h/2) || len(samples.V) != (w/2)*(h/2) {
		t.Fatalf("unexpected plane sizes: y=%d u=%d v=%d", len(samples.Y), len(samples.U), len(samples.V))
	}

	offset := 0
	checkPlane := func(name string, plane []uint16) {
		for i, got := range plane {
			want := binary.LittleEndian.Uint16(streamed[offset+2*i : offset+2*i+2])
			if got != want {
				t.Fatalf("Unpack %s[%d] = %d, want %d (from StreamPlanar)", name, i, got, want)
			}
		}
		offset += len(plane) * 2
	}
	checkPlane("y", samples.Y)
	checkPlane("u", samples.U)
	checkPlane("v", samples.V)
}

func TestWriteFrameOutOfRange(t *testing.T) {
	spec := chunkspec.Spec{ID: 0, Start: 10, End: 12}
	b := Alloc(spec, chunkspec.Format8Bit420, 4, 4)
	if err := b.WriteFrame(5, source.FrameView{}); err == nil {
		t.Fatal("WriteFrame with out-of-range local index should error")
	}
}
