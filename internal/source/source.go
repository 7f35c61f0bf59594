// Package source wraps the video demuxer/decoder, exposing the narrow
// contract the rest of the pipeline needs: frame count, frame rate, color
// metadata, dimensions, bit depth, and indexed frame decode returning
// planar byte spans (spec §4.A "Source handle").
//
// The decoder/demuxer itself is an external collaborator (spec §1); only
// its interface contract is specified here. The CGO-backed implementation
// lives in source_ffms.go (build tag cgo_source) and binds an FFMS2-style
// library. A pure-Go Memory source backs tests without linking CGO.
package source

import (
	"fmt"

	"github.com/five82/avchunk/internal/chunkspec"
	"github.com/five82/avchunk/internal/ratespec"
)

// FrameView borrows planar Y, U, V byte spans. The spans are valid only
// until the next Decode call on the same Handle (spec §4.A).
type FrameView struct {
	Y, U, V []byte
	// YStride, UStride, VStride are byte strides per row for each plane.
	YStride, UStride, VStride int
}

// Handle is the narrow source contract every decoder backend must satisfy.
// Thread-safety: single-writer — only the decode thread calls Decode;
// construction may be shared (spec §4.A).
type Handle interface {
	Frames() int
	Rate() ratespec.Rate
	Size() (w, h int)
	Depth() chunkspec.PixelFormat
	Color() chunkspec.ColorMeta
	// Decode returns frame i. Successive calls with monotonically
	// increasing i must be O(1) amortized; random access is permitted but
	// discouraged (spec §4.A).
	Decode(i int) (FrameView, error)
	Close() error
}

// Open opens the input by path, building or loading its frame index, and
// returns a Handle, or a Fail{UnsupportedFormat, IoError, IndexBuild}.
//
// This indirection exists so callers (and tests) can use NewMemory
// without a build-tag dance; the real implementation is registered by
// source_ffms.go's init() when built with the cgo_source tag.
var openImpl func(path string) (Handle, error)

func Open(path string) (Handle, error) {
	if openImpl == nil {
		return nil, fmt.Errorf("source: no decoder backend registered (build with -tags cgo_source)")
	}
	return openImpl(path)
}
