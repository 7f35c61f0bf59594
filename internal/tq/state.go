package tq

import "math"

// Outcome classifies how a chunk's TQ search ended (spec §4.G).
type Outcome int

const (
	// Pending means the search has not yet terminated.
	Pending Outcome = iota
	// Hit means a candidate's score landed inside the target band.
	Hit
	// Impossible means the search interval collapsed (lo > hi) before a hit.
	Impossible
	// Exhausted means round K was reached without a hit.
	Exhausted
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Impossible:
		return "impossible"
	case Exhausted:
		return "exhausted"
	default:
		return "pending"
	}
}

// Candidate is one probed (crf, score) pair (spec §3 "Candidate").
type Candidate struct {
	CRF   float64
	Score float64
	Size  uint64
}

// State is the per-chunk TQ search state (spec §4.G): the shrinking
// interval, the list of probed candidates, and the round counter.
type State struct {
	Candidates []Candidate

	Lo, Hi       float64 // current search interval, shrinks monotonically
	QPMin, QPMax float64 // original hard bounds, never exceeded

	TargetLo, TargetHi float64

	Round int // 1-indexed; NextCRF increments before picking

	used map[int64]bool
}

// NewState creates TQ state for one chunk. If predictedCRF > 0 (from the
// cross-chunk tracker), the interval narrows to [predicted-5, predicted+5]
// clamped to [qpMin, qpMax]; otherwise the full allowed range is used.
func NewState(targetLo, targetHi, qpMin, qpMax, predictedCRF float64) *State {
	lo, hi := qpMin, qpMax
	if predictedCRF > 0 {
		lo = math.Max(qpMin, predictedCRF-5)
		hi = math.Min(qpMax, predictedCRF+5)
	}
	return &State{
		Lo: lo, Hi: hi,
		QPMin: qpMin, QPMax: qpMax,
		TargetLo: targetLo, TargetHi: targetHi,
		used: make(map[int64]bool),
	}
}

// AddCandidate records a probed (crf, score) pair.
func (s *State) AddCandidate(crf, score float64, size uint64) {
	s.Candidates = append(s.Candidates, Candidate{CRF: crf, Score: score, Size: size})
	s.MarkUsed(crf)
}

// MarkUsed marks a grid point as tried without recording a candidate score
// for it, e.g. when the probe's encoder crashed (spec §7: a crashed
// non-final-round probe is scored -inf and shrinks the interval, but
// contributes no usable (crf, score) pair for interpolation).
func (s *State) MarkUsed(crf float64) {
	s.used[toTick(crf)] = true
}

// Target is the midpoint of the target band (spec §4.G "target = (t_lo +
// t_hi)/2"), used to tie-break among candidates when the search ends
// without a HIT.
func (s *State) Target() float64 {
	return (s.TargetLo + s.TargetHi) / 2
}

// Best returns the candidate closest to Target, preferring the higher CRF
// (smaller file) on ties (spec §4.G IMPOSSIBLE/EXHAUSTED tie-break).
func (s *State) Best() *Candidate {
	if len(s.Candidates) == 0 {
		return nil
	}
	target := s.Target()
	best := &s.Candidates[0]
	bestDiff := math.Abs(best.Score - target)
	for i := 1; i < len(s.Candidates); i++ {
		c := &s.Candidates[i]
		diff := math.Abs(c.Score - target)
		if diff < bestDiff || (diff == bestDiff && c.CRF > best.CRF) {
			best = c
			bestDiff = diff
		}
	}
	return best
}
