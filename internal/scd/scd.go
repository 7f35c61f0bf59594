// Package scd implements the single-pass scene-change-detection planner
// (spec §4.D). It assigns chunk boundaries constrained by fps_min/fps_max
// and persists the result as a plain-text cache, one chunk's start/end pair
// per line after a key header line.
package scd

import (
	"fmt"

	"github.com/five82/avchunk/internal/chunkspec"
	"github.com/five82/avchunk/internal/corerr"
	"github.com/five82/avchunk/internal/ratespec"
)

// LumaFrame is the minimal per-frame input the detector needs: the luma
// plane and its row stride. Callers extract this from source.FrameView.
type LumaFrame struct {
	Y      []byte
	Stride int
	W, H   int
}

// Detector decides whether frame i is a scene cut relative to frame i-1.
// It must be deterministic given the same two frames (spec §4.D, §9 open
// question: "any monotone detector is acceptable provided it is
// deterministic").
type Detector interface {
	IsCut(prev, cur LumaFrame) bool
}

// histogramDetector implements the luma-histogram absolute-difference
// signal chosen in DESIGN.md for the open SCD-signal question: a 64-bin
// downsampled luma histogram per frame, compared against the previous
// frame's histogram via normalized L1 distance, thresholded.
type histogramDetector struct {
	threshold float64
}

// NewDetector returns the default scene-cut detector.
func NewDetector() Detector {
	return &histogramDetector{threshold: 0.35}
}

const histBins = 64

func lumaHistogram(f LumaFrame) [histBins]float64 {
	var hist [histBins]float64
	var total float64
	for row := 0; row < f.H; row++ {
		base := row * f.Stride
		for col := 0; col < f.W; col++ {
			bin := int(f.Y[base+col]) * histBins / 256
			hist[bin]++
			total++
		}
	}
	if total > 0 {
		for i := range hist {
			hist[i] /= total
		}
	}
	return hist
}

func (d *histogramDetector) IsCut(prev, cur LumaFrame) bool {
	hp := lumaHistogram(prev)
	hc := lumaHistogram(cur)
	var dist float64
	for i := range hp {
		diff := hp[i] - hc[i]
		if diff < 0 {
			diff = -diff
		}
		dist += diff
	}
	// L1 distance between two normalized histograms ranges over [0,2];
	// halve it to a [0,1] scale before thresholding.
	return dist/2 >= d.threshold
}

// Plan is the ordered list of chunk specs covering [0, N).
type Plan struct {
	Specs []chunkspec.Spec
}

// FrameSource is the narrow slice of source.Handle the planner needs.
type FrameSource interface {
	Frames() int
	Rate() ratespec.Rate
}

// LumaAt decodes frame i and returns its luma plane view.
type LumaAt func(i int) (LumaFrame, error)

// Build runs the single forward pass described in spec §4.D:
//
//	run_start = 0, cur = 0
//	for i in 1..N:
//	  s(i) = detector signal between frame i and i-1
//	  len = i - run_start
//	  cut if s(i) && len >= fps_min, or len == fps_max
//	after the loop, emit a final chunk [run_start, N)
//
// A decode failure at any frame aborts planning with Fail{Decode}.
func Build(src FrameSource, lumaAt LumaAt, det Detector) (*Plan, error) {
	n := src.Frames()
	if n <= 0 {
		return &Plan{}, nil
	}

	rate := src.Rate()
	fpsMin := rate.FPSMin()
	fpsMax := rate.FPSMax()
	if fpsMin < 1 {
		fpsMin = 1
	}
	if fpsMax < fpsMin {
		fpsMax = fpsMin
	}

	var specs []chunkspec.Spec
	runStart := 0

	prev, err := lumaAt(0)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindDecode, "decode frame 0 for scd", err)
	}

	for i := 1; i < n; i++ {
		cur, err := lumaAt(i)
		if err != nil {
			return nil, corerr.Wrap(corerr.KindDecode, fmt.Sprintf("decode frame %d for scd", i), err)
		}

		length := i - runStart
		cut := false
		if length >= fpsMax {
			cut = true
		} else if length >= fpsMin && det.IsCut(prev, cur) {
			cut = true
		}

		if cut {
			specs = append(specs, chunkspec.Spec{ID: len(specs), Start: runStart, End: i, Hard: true})
			runStart = i
		}

		prev = cur
	}

	specs = append(specs, chunkspec.Spec{ID: len(specs), Start: runStart, End: n, Hard: true})

	return &Plan{Specs: specs}, nil
}
