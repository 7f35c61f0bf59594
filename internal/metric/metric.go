// Package metric implements the GPU perceptual-quality contract TQ drives
// against (spec §6 "score(chunk_id, distorted_path) -> f64"): decode an
// encoded probe, compare it frame-by-frame against the chunk's reference
// buffer on the GPU, and aggregate the per-frame scores into one number.
//
// The real GPU binding lives in metric_cgo.go behind the cgo_metric build
// tag; fake.go supplies a CGO-free Processor so the rest of the module and
// its tests build and run without a GPU.
package metric

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/five82/avchunk/internal/chunkbuf"
	"github.com/five82/avchunk/internal/chunkspec"
	"github.com/five82/avchunk/internal/corerr"
	"github.com/five82/avchunk/internal/source"
)

// Processor computes one frame's perceptual score between a reference and
// a distorted frame, both already unpacked to 16-bit planar samples.
// Higher is better (spec §6). Implementations own GPU or native resources
// and must be Closed when the worker goroutine that created them exits.
type Processor interface {
	Score(ref, dis chunkbuf.FrameSamples) (float64, error)
	Close() error
}

// newProcessorImpl is swapped to the real GPU backend by metric_cgo.go's
// init() when built with the cgo_metric tag; otherwise it is the fake
// backend, mirroring internal/source's openImpl indirection.
var newProcessorImpl = newFakeProcessor

// NewProcessor constructs a Processor sized and colorspace-configured for
// one chunk's dimensions and color metadata (spec §4.A "color metadata").
func NewProcessor(w, h int, color chunkspec.ColorMeta) (Processor, error) {
	return newProcessorImpl(w, h, color)
}

// initDeviceImpl is the GPU device initialization hook; a no-op unless
// metric_cgo.go registers the real one.
var initDeviceImpl = func() error { return nil }

// InitDevice initializes the GPU metric backend once, before any
// Processor is constructed (spec §6: the metric library is an opaque
// external collaborator whose init sequencing the scheduler must drive).
func InitDevice() error {
	return initDeviceImpl()
}

// Registry looks up the live chunk buffer for a chunk id. Implemented by
// the scheduler's chunk registry (spec §6: "the reference buffer looked
// up from the scheduler's chunk registry").
type Registry interface {
	Lookup(chunkID int) (*chunkbuf.Buffer, error)
}

// OpenFunc opens a decoded source by path; source.Open in production,
// stubbed in tests.
type OpenFunc func(path string) (source.Handle, error)

// Scorer implements the score() contract: it owns one Processor and a
// reusable scratch, and is not safe for concurrent use — each metric
// worker goroutine owns one Scorer (spec §4.G "metric workers").
type Scorer struct {
	registry Registry
	proc     Processor
	open     OpenFunc
	mode     string

	refScratch chunkbuf.PlaneScratch
	disScratch sampleScratch
}

// NewScorer builds a Scorer. mode selects frame-score aggregation: "mean"
// (spec's default) or "pN" for the Nth percentile across frames.
func NewScorer(registry Registry, proc Processor, mode string, open OpenFunc) *Scorer {
	if open == nil {
		open = source.Open
	}
	return &Scorer{registry: registry, proc: proc, mode: mode, open: open}
}

// Score implements spec §6's `score(chunk_id, distorted_path) -> f64`.
func (s *Scorer) Score(chunkID int, distortedPath string) (float64, error) {
	buf, err := s.registry.Lookup(chunkID)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindMetricFailed, "metric: chunk lookup", err)
	}

	dist, err := s.open(distortedPath)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindMetricFailed, "metric: open distorted probe", err)
	}
	defer dist.Close()

	n := buf.Spec.Frames()
	if dist.Frames() < n {
		return 0, corerr.New(corerr.KindMetricFailed,
			fmt.Sprintf("metric: distorted probe has %d frames, want >= %d", dist.Frames(), n))
	}
	w, h := buf.W, buf.H

	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		ref, err := buf.Unpack(i, &s.refScratch)
		if err != nil {
			return 0, corerr.Wrap(corerr.KindMetricFailed, "metric: unpack reference frame", err)
		}
		fv, err := dist.Decode(i)
		if err != nil {
			return 0, corerr.Wrap(corerr.KindMetricFailed, "metric: decode distorted frame", err)
		}
		dis := decodeSamples(fv, dist.Depth(), w, h, &s.disScratch)

		score, err := s.proc.Score(ref, dis)
		if err != nil {
			return 0, corerr.Wrap(corerr.KindMetricFailed, "metric: compute score", err)
		}
		scores[i] = score
	}

	return aggregate(scores, s.mode)
}

// sampleScratch reuses 16-bit plane buffers across Score's frame loop for
// the distorted side, mirroring chunkbuf.PlaneScratch for the reference
// side.
type sampleScratch struct {
	y, u, v []uint16
}

func decodeSamples(fv source.FrameView, format chunkspec.PixelFormat, w, h int, scratch *sampleScratch) chunkbuf.FrameSamples {
	cw, ch := w/2, h/2
	scratch.y = unpackPlaneSamples(fv.Y, fv.YStride, w, h, format, scratch.y)
	scratch.u = unpackPlaneSamples(fv.U, fv.UStride, cw, ch, format, scratch.u)
	scratch.v = unpackPlaneSamples(fv.V, fv.VStride, cw, ch, format, scratch.v)
	return chunkbuf.FrameSamples{Y: scratch.y, U: scratch.u, V: scratch.v, YW: w, YH: h, CW: cw, CH: ch}
}

// unpackPlaneSamples converts one plane of a decoded source frame (1 or 2
// bytes/sample depending on format) into 10-bit-range uint16 samples,
// matching chunkbuf's own unpack convention: 8-bit samples are left-shifted
// by 2 (spec §6 "8-bit inputs are converted to 10-bit via left-shift by 2").
func unpackPlaneSamples(src []byte, stride, width, rows int, format chunkspec.PixelFormat, dst []uint16) []uint16 {
	if cap(dst) < width*rows {
		dst = make([]uint16, width*rows)
	}
	dst = dst[:width*rows]

	for r := 0; r < rows; r++ {
		row := dst[r*width : (r+1)*width]
		switch format {
		case chunkspec.Format10Bit420:
			for i := 0; i < width; i++ {
				off := r*stride + 2*i
				row[i] = uint16(src[off]) | uint16(src[off+1])<<8
			}
		case chunkspec.Format8Bit420:
			for i := 0; i < width; i++ {
				row[i] = uint16(src[r*stride+i]) << 2
			}
		}
	}
	return dst
}

func aggregate(scores []float64, mode string) (float64, error) {
	if len(scores) == 0 {
		return 0, corerr.New(corerr.KindMetricFailed, "metric: no frames scored")
	}
	if mode == "" || mode == "mean" {
		var sum float64
		for _, s := range scores {
			sum += s
		}
		return sum / float64(len(scores)), nil
	}
	if strings.HasPrefix(mode, "p") {
		pct, err := strconv.Atoi(mode[1:])
		if err != nil || pct < 0 || pct > 100 {
			return 0, corerr.New(corerr.KindMetricFailed, fmt.Sprintf("metric: invalid metric mode %q", mode))
		}
		sorted := append([]float64(nil), scores...)
		sort.Float64s(sorted)
		idx := (pct * (len(sorted) - 1)) / 100
		return sorted[idx], nil
	}
	return 0, corerr.New(corerr.KindMetricFailed, fmt.Sprintf("metric: unknown metric mode %q", mode))
}
