package tq

import "testing"

func TestNextCRFRound1And2AreBinary(t *testing.T) {
	state := NewState(9.49, 9.51, 0, 70, 0)

	crf1, ok := NextCRF(state)
	if !ok {
		t.Fatal("NextCRF() round 1: !ok")
	}
	if want := SnapToGrid((state.QPMin + state.QPMax) / 2); crf1 != want {
		t.Errorf("NextCRF() round 1 = %v, want %v", crf1, want)
	}
	if state.Round != 1 {
		t.Errorf("state.Round = %d, want 1", state.Round)
	}

	state.AddCandidate(crf1, 50, 1000)
	Shrink(state, crf1, 50) // score < targetLo, hi shrinks

	crf2, ok := NextCRF(state)
	if !ok {
		t.Fatal("NextCRF() round 2: !ok")
	}
	if state.Round != 2 {
		t.Errorf("state.Round = %d, want 2", state.Round)
	}
	if crf2 == crf1 {
		t.Errorf("NextCRF() round 2 should not repeat round 1's pick after shrink, got %v both times", crf1)
	}
}

func TestNextCRFRound3UsesLerp(t *testing.T) {
	state := NewState(9.49, 9.51, 0, 70, 0)
	state.AddCandidate(35.0, 6.5, 1000)
	state.AddCandidate(17.5, 8.25, 1000)
	state.Round = 2

	crf, ok := NextCRF(state)
	if !ok {
		t.Fatal("NextCRF() round 3: !ok")
	}
	if state.Round != 3 {
		t.Errorf("state.Round = %d, want 3", state.Round)
	}
	// Spec scenario 4: round 3 linearly extrapolates to ~5.0.
	if crf < 4 || crf > 6 {
		t.Errorf("NextCRF() round 3 = %v, want near 5.0", crf)
	}
}

func TestShrinkHitImpossibleExhausted(t *testing.T) {
	t.Run("hit", func(t *testing.T) {
		state := NewState(9.49, 9.51, 0, 70, 0)
		if outcome := Shrink(state, 50, 9.5); outcome != Hit {
			t.Errorf("Shrink() = %v, want Hit", outcome)
		}
	})

	t.Run("impossible", func(t *testing.T) {
		state := NewState(9.49, 9.51, 28.25, 28.25, 0)
		// score too low at the single remaining grid point forces lo past hi.
		if outcome := Shrink(state, 28.25, 1.0); outcome != Impossible {
			t.Errorf("Shrink() = %v, want Impossible", outcome)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		state := NewState(9.49, 9.51, 0, 70, 0)
		state.Round = MaxRounds
		if outcome := Shrink(state, 35, 100); outcome != Exhausted {
			t.Errorf("Shrink() = %v, want Exhausted", outcome)
		}
	})
}

func TestNextCRFFailsWhenNoUnusedGridPoint(t *testing.T) {
	state := NewState(9.49, 9.51, 10, 10.25, 0)
	crf1, ok := NextCRF(state)
	if !ok {
		t.Fatal("NextCRF(): !ok")
	}
	state.AddCandidate(crf1, 5, 1000)
	Shrink(state, crf1, 5)

	// Mark every grid point in [lo,hi] used, so the next pick collides and
	// no unused point is left to nudge to.
	state.used[toTick(10.0)] = true
	state.used[toTick(10.25)] = true
	if _, ok := NextCRF(state); ok {
		t.Fatal("NextCRF() should fail once every grid point in [lo,hi] is used")
	}
}

func TestStateBest(t *testing.T) {
	state := NewState(71, 74, 0, 70, 0)
	if state.Best() != nil {
		t.Fatal("Best() with no candidates should be nil")
	}

	state.AddCandidate(35, 65, 1200000)
	state.AddCandidate(28, 72, 1000000) // closest to target 72.5
	state.AddCandidate(22, 78, 800000)

	best := state.Best()
	if best == nil {
		t.Fatal("Best() = nil, want non-nil")
	}
	if best.CRF != 28 {
		t.Errorf("Best().CRF = %v, want 28 (closest to target 72.5)", best.CRF)
	}
}

func TestStateBestTieBreakPrefersHigherCRF(t *testing.T) {
	state := NewState(70, 70, 0, 70, 0)
	state.AddCandidate(20, 68, 0) // |68-70| = 2
	state.AddCandidate(30, 72, 0) // |72-70| = 2, tie: higher CRF wins

	best := state.Best()
	if best.CRF != 30 {
		t.Errorf("Best().CRF = %v, want 30 (tie-break prefers higher CRF)", best.CRF)
	}
}
