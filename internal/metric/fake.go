package metric

import (
	"math"

	"github.com/five82/avchunk/internal/chunkbuf"
	"github.com/five82/avchunk/internal/chunkspec"
)

// fakeProcessor is the CGO-free Processor used when the module is built
// without the cgo_metric tag (every non-release build, all tests). It
// derives a deterministic, monotone-in-distortion score from mean absolute
// sample difference, scaled onto roughly the same 0-100 range SSIMULACRA2
// reports, so code exercising the "higher is better" contract behaves
// sensibly without a GPU.
type fakeProcessor struct{}

func newFakeProcessor(_, _ int, _ chunkspec.ColorMeta) (Processor, error) {
	return fakeProcessor{}, nil
}

func (fakeProcessor) Score(ref, dis chunkbuf.FrameSamples) (float64, error) {
	var sumAbsDiff float64
	var n int

	accum := func(a, b []uint16) {
		for i := range a {
			d := int(a[i]) - int(b[i])
			if d < 0 {
				d = -d
			}
			sumAbsDiff += float64(d)
			n++
		}
	}
	accum(ref.Y, dis.Y)
	accum(ref.U, dis.U)
	accum(ref.V, dis.V)

	if n == 0 {
		return 100, nil
	}
	meanAbsDiff := sumAbsDiff / float64(n)
	// 1023 is the 10-bit sample ceiling; scale so a perfect match scores
	// 100 and the score falls off smoothly as distortion grows.
	score := 100 * math.Exp(-meanAbsDiff/32)
	return score, nil
}

func (fakeProcessor) Close() error { return nil }
