package scheduler

import (
	"sync"

	"github.com/five82/avchunk/internal/chunkspec"
)

// Dispatcher hands the decode loop its next chunk spec, preferring the
// spec nearest (by id) to an already-completed chunk once any chunk has
// completed, falling back to ascending id order otherwise (SPEC_FULL §3+
// "Adaptive dispatch"). This only reorders which chunk is decoded next; it
// does not affect completion order, so it cannot violate spec §4.E's
// produced-in-order guarantee.
type Dispatcher struct {
	mu        sync.Mutex
	ready     map[int]chunkspec.Spec
	completed map[int]bool
}

// NewDispatcher creates a dispatcher over the given specs.
func NewDispatcher(specs []chunkspec.Spec) *Dispatcher {
	ready := make(map[int]chunkspec.Spec, len(specs))
	for _, sp := range specs {
		ready[sp.ID] = sp
	}
	return &Dispatcher{ready: ready, completed: make(map[int]bool)}
}

// Next returns the next spec to decode, or false if none remain.
func (d *Dispatcher) Next() (chunkspec.Spec, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.ready) == 0 {
		return chunkspec.Spec{}, false
	}
	if len(d.completed) == 0 {
		return d.pickLowest(), true
	}

	var best chunkspec.Spec
	bestDist := -1
	for _, sp := range d.ready {
		dist := d.minDistToCompleted(sp.ID)
		if bestDist < 0 || dist < bestDist || (dist == bestDist && sp.ID < best.ID) {
			best = sp
			bestDist = dist
		}
	}
	delete(d.ready, best.ID)
	return best, true
}

// MarkComplete records a chunk as completed, feeding future Next calls.
func (d *Dispatcher) MarkComplete(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completed[id] = true
}

func (d *Dispatcher) pickLowest() chunkspec.Spec {
	lowestID := -1
	var lowest chunkspec.Spec
	for id, sp := range d.ready {
		if lowestID < 0 || id < lowestID {
			lowestID = id
			lowest = sp
		}
	}
	delete(d.ready, lowestID)
	return lowest
}

func (d *Dispatcher) minDistToCompleted(id int) int {
	minDist := -1
	for c := range d.completed {
		dist := id - c
		if dist < 0 {
			dist = -dist
		}
		if minDist < 0 || dist < minDist {
			minDist = dist
		}
	}
	return minDist
}
