package tq

import (
	"context"
	"errors"
	"math"

	"github.com/five82/avchunk/internal/corerr"
)

// EncodeAndScore runs one probe: it must invoke the encoder at crf against
// the chunk's buffer and return the resulting perceptual-metric score and
// output size (spec §4.G: "run encoder at x; compute score = metric(...)").
// Implemented by the worker package, which owns the subprocess and GPU
// metric call; tq only owns the search itself.
type EncodeAndScore func(ctx context.Context, crf float64) (score float64, size uint64, err error)

// Result is the outcome of one chunk's TQ convergence loop.
type Result struct {
	CRF     float64
	Score   float64
	Size    uint64
	Round   int
	Outcome Outcome
}

var errNoCandidate = errors.New("tq: search ended with no usable candidate")

// Run drives the convergence loop in spec §4.G to completion: repeatedly
// picks a CRF (NextCRF), probes it, and shrinks the interval (Shrink)
// until HIT, IMPOSSIBLE, or EXHAUSTED.
//
// ctx is polled once per round, matching the coarse cancellation point
// "between TQ rounds" in spec §5; a cancelled context aborts the loop with
// ctx.Err() rather than reporting an Outcome.
func Run(ctx context.Context, state *State, encodeAndScore EncodeAndScore) (Result, error) {
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		crf, ok := NextCRF(state)
		if !ok {
			return impossibleResult(state)
		}

		score, size, err := encodeAndScore(ctx, crf)
		shrinkScore := score
		if err != nil {
			if !corerr.Is(err, corerr.KindEncoderCrashed) || state.Round >= MaxRounds {
				// All other worker error kinds (metric failure, I/O, a crash
				// during the final round) propagate rather than faking a score.
				return Result{}, err
			}
			// spec §7: a crashed probe during a non-final round is treated
			// as score = -inf; the interval still shrinks by raising lo.
			state.MarkUsed(crf)
			score = math.Inf(-1)
			// Shrink raises lo for any score above the band.
			shrinkScore = math.Inf(1)
		} else {
			state.AddCandidate(crf, score, size)
		}

		switch outcome := Shrink(state, crf, shrinkScore); outcome {
		case Hit:
			return Result{CRF: crf, Score: score, Size: size, Round: state.Round, Outcome: Hit}, nil
		case Impossible, Exhausted:
			best := state.Best()
			if best == nil {
				return Result{CRF: crf, Score: score, Size: size, Round: state.Round, Outcome: outcome}, nil
			}
			return Result{CRF: best.CRF, Score: best.Score, Size: best.Size, Round: state.Round, Outcome: outcome}, nil
		}
	}
}

func impossibleResult(state *State) (Result, error) {
	best := state.Best()
	if best == nil {
		return Result{}, errNoCandidate
	}
	return Result{CRF: best.CRF, Score: best.Score, Size: best.Size, Round: state.Round, Outcome: Impossible}, nil
}
