// Package chunkspec holds the data types shared across the decode, SCD,
// and scheduler packages: pixel format, color metadata, and chunk specs.
package chunkspec

// PixelFormat enumerates the only two pixel formats the pipeline accepts
// (spec §3 "Pixel format P"). All other source formats are rejected at
// ingress by the source package.
type PixelFormat int

const (
	// Format8Bit420 is 8-bit 4:2:0.
	Format8Bit420 PixelFormat = iota
	// Format10Bit420 is 10-bit 4:2:0.
	Format10Bit420
)

func (p PixelFormat) String() string {
	switch p {
	case Format8Bit420:
		return "8bit420"
	case Format10Bit420:
		return "10bit420"
	default:
		return "unknown"
	}
}

// BitDepth returns 8 or 10.
func (p PixelFormat) BitDepth() int {
	if p == Format10Bit420 {
		return 10
	}
	return 8
}

// ColorMeta holds immutable color metadata probed from the source (spec §3
// "Color metadata M"). RPU, when present, addresses a Dolby Vision RPU blob
// by frame index; slicing across chunk boundaries is a stub per spec §9.
type ColorMeta struct {
	Primaries ColorValue
	Transfer  ColorValue
	Matrix    ColorValue
	Range     ColorRange
	HasRPU    bool
}

// ColorValue is an optional integer-coded color characteristic (primaries,
// transfer, or matrix coefficients); Present is false when the source did
// not signal a value.
type ColorValue struct {
	Value   int
	Present bool
}

// ColorRange enumerates limited vs. full range.
type ColorRange int

const (
	RangeLimited ColorRange = iota
	RangeFull
)

// Spec is one chunk's frame-index range (spec §3 "Chunk spec CS").
// 0 <= Start < End <= N, id is the chunk's position in the plan.
type Spec struct {
	ID    int
	Start int
	End   int
	// Hard marks a boundary the encoder is expected to treat as a key frame
	// (spec §4.D "hard boundary").
	Hard bool
}

// Frames returns End - Start.
func (s Spec) Frames() int {
	return s.End - s.Start
}

// RPURange is the stub described by spec §9: it returns the contiguous
// input frame range unchanged, leaving RPU slicing across chunk boundaries
// unimplemented by design.
func RPURange(start, end int) (int, int) {
	return start, end
}
