package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/five82/avchunk/internal/chunkbuf"
	"github.com/five82/avchunk/internal/corerr"
)

// Completion is one chunk's terminal state (spec §4.E "per-chunk
// completion registry"). Err is set when the chunk could not be produced;
// the other fields are zero in that case.
type Completion struct {
	ChunkID int
	Path    string
	Frames  int
	Size    uint64
	CRF     float64
	Score   float64
	Round   int
	Err     error
}

// Registry is the scheduler's chunk registry: while a chunk is in flight,
// Lookup serves its live buffer to the metric package (spec §6 "the
// reference buffer looked up from the scheduler's chunk registry"); once
// committed, the buffer reference is dropped and the chunk's Completion
// becomes visible.
//
// Backed by a mutex-guarded map rather than a single completion channel,
// since worker goroutines also need synchronous buffer lookups mid-flight,
// not just a final completion feed.
type Registry struct {
	mu   sync.Mutex
	bufs map[int]*chunkbuf.Buffer
	done map[int]Completion
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bufs: make(map[int]*chunkbuf.Buffer), done: make(map[int]Completion)}
}

// Register makes buf visible to Lookup for chunkID's lifetime. Called by
// the decode loop immediately after chunkbuf.Alloc.
func (r *Registry) Register(chunkID int, buf *chunkbuf.Buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bufs[chunkID] = buf
}

// Lookup implements metric.Registry.
func (r *Registry) Lookup(chunkID int) (*chunkbuf.Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.bufs[chunkID]
	if !ok {
		return nil, corerr.New(corerr.KindMetricFailed, fmt.Sprintf("scheduler: chunk %d not registered", chunkID))
	}
	return buf, nil
}

// Commit records chunkID's terminal Completion, drops the scheduler's
// reference to buf (spec §4.C "the scheduler also holds a reference until
// the chunk's final encoded output has been committed"), and removes the
// chunk from the live-lookup map.
func (r *Registry) Commit(c Completion, buf *chunkbuf.Buffer) {
	buf.Release()
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bufs, c.ChunkID)
	r.done[c.ChunkID] = c
}

// CommitResumed records a Completion for a chunk recovered from done.txt
// on a resumed run — it never had a live buffer to release (SPEC_FULL §3+
// "Resume/cache state").
func (r *Registry) CommitResumed(c Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done[c.ChunkID] = c
}

// Snapshot returns every completion recorded so far, sorted by ChunkID
// ascending (spec §4.E "Output assembly... emits in id order").
func (r *Registry) Snapshot() []Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Completion, 0, len(r.done))
	for _, c := range r.done {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	return out
}
