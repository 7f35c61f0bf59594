package worker

import (
	"fmt"

	"github.com/five82/avchunk/internal/chunkspec"
	"github.com/five82/avchunk/internal/ratespec"
)

// unspecifiedCICP is the CICP code for "unspecified" color characteristics,
// used whenever the source didn't signal a value (spec §4.A "color
// metadata" is optional per field).
const unspecifiedCICP = 2

// colorRangeCode maps chunkspec.ColorRange to the integer the encoder
// expects, following the same limited=1/full=2 convention internal/metric's
// colorspace construction uses for the equivalent VSHIP field.
func colorRangeCode(r chunkspec.ColorRange) int {
	if r == chunkspec.RangeFull {
		return 2
	}
	return 1
}

func cicpCode(v chunkspec.ColorValue) int {
	if !v.Present {
		return unspecifiedCICP
	}
	return v.Value
}

// BuildArgv constructs the encoder's argument list: the fixed portion spec
// §6 mandates verbatim, then the user's pass-through args verbatim, then
// --crf last (spec §6 "Encoder argv (fixed portion)... plus the user's
// pass-through string verbatim, plus --crf X").
//
// outputPath is appended as -b alongside the fixed portion: spec §6 lists
// the fixed flags without an explicit output flag because the per-chunk
// output path isn't part of the literally-fixed (identical across every
// invocation) set, but the encoder still needs a destination argument, so
// it's appended using SVT-AV1's own -b output flag.
//
// Trimmed to exactly the fixed flags spec §6 names: this repo's argv is
// not a general SVT-AV1 wrapper, so preset/tune/grain-table/variance-boost
// are dropped in favor of the pass-through string carrying whatever the
// caller wants.
func BuildArgv(w, h int, rate ratespec.Rate, color chunkspec.ColorMeta, passthrough []string, crf float64, outputPath string) []string {
	args := []string{
		"-i", "stdin",
		"--input-depth", "10",
		"--width", fmt.Sprintf("%d", w),
		"--height", fmt.Sprintf("%d", h),
		"--fps-num", fmt.Sprintf("%d", rate.Num),
		"--fps-denom", fmt.Sprintf("%d", rate.Den),
		"--keyint", "-1",
		"--rc", "0",
		"--color-primaries", fmt.Sprintf("%d", cicpCode(color.Primaries)),
		"--transfer-characteristics", fmt.Sprintf("%d", cicpCode(color.Transfer)),
		"--matrix-coefficients", fmt.Sprintf("%d", cicpCode(color.Matrix)),
		"--color-range", fmt.Sprintf("%d", colorRangeCode(color.Range)),
		"--progress", "3",
		"-b", outputPath,
	}
	args = append(args, passthrough...)
	args = append(args, "--crf", fmt.Sprintf("%.2f", crf))
	return args
}
