// Package scheduler owns the pipeline scheduler (component E, spec §4.E):
// one decode goroutine producing chunk buffers, W encoder-worker goroutines
// each driving a chunk's full TQ convergence loop, and a completion
// registry doubling as the metric package's chunk lookup.
//
// Supervised by a single golang.org/x/sync/errgroup tree. Encode and metric
// scoring are not split into separate worker pools: spec §4.E describes a
// single "pop a chunk buffer from Q; run encode (or TQ loop)" worker loop,
// and TQ rounds within a worker are strictly sequential (spec §4.G), so one
// goroutine per in-flight chunk owns both its encoder probes and its own
// metric.Scorer.
package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/five82/avchunk/internal/chunkbuf"
	"github.com/five82/avchunk/internal/chunkspec"
	"github.com/five82/avchunk/internal/corerr"
	"github.com/five82/avchunk/internal/logging"
	"github.com/five82/avchunk/internal/metric"
	"github.com/five82/avchunk/internal/ratespec"
	"github.com/five82/avchunk/internal/source"
	"github.com/five82/avchunk/internal/tq"
	"github.com/five82/avchunk/internal/worker"
)

// Config holds the scheduler's own tunables; CRF/target-band bounds live
// in tq.Config, encoder argv/path in worker.Config (spec §4.E/§5).
type Config struct {
	// Workers is W (spec I4 "a configured W (worker count)").
	Workers int
	// WorkDir holds per-round probe files and committed chunk_<id>.ivf
	// outputs (spec §6).
	WorkDir string
	TQ      *tq.Config
	Worker  worker.Config
	// MetricMode selects frame-score aggregation ("mean" or "pN").
	MetricMode string
	// MetricOpen overrides how a probe's output file is opened for
	// scoring; nil uses source.Open. Tests substitute a decoder for their
	// fake encoder's output format.
	MetricOpen metric.OpenFunc
}

// ProgressFunc reports aggregate progress after each chunk completion.
type ProgressFunc func(worker.Progress)

// Scheduler drives a chunk plan to committed output files.
type Scheduler struct {
	cfg      Config
	src      source.Handle
	registry *Registry
	tracker  *tq.CRFTracker
}

// New constructs a Scheduler reading frames from src.
func New(cfg Config, src source.Handle) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Scheduler{cfg: cfg, src: src, registry: NewRegistry(), tracker: tq.NewTracker()}
}

// Registry exposes the completion registry, e.g. so a caller can build a
// metric.Scorer against it directly in tests.
func (s *Scheduler) Registry() *Registry { return s.registry }

// Run decodes and encodes every spec in specs, each through its own TQ
// convergence loop, and returns one Completion per spec (spec §4.E "Output
// assembly waits for all completions").
//
// A per-chunk failure (decode error, or an encoder crash on TQ's final
// round) is recorded as that chunk's Completion.Err and does not stop
// other chunks (spec P6 "all other chunks complete and assembly reports k
// as failed"); only ctx cancellation aborts the whole run, in which case
// Run returns the first cancellation error observed (ctx.Err() or a
// corerr Cancelled error) alongside whatever completions were recorded
// before the cancellation was observed.
func (s *Scheduler) Run(ctx context.Context, specs []chunkspec.Spec, onProgress ProgressFunc) ([]Completion, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	done, err := loadDone(s.cfg.WorkDir)
	if err != nil {
		return nil, err
	}

	totalFrames := 0
	for _, sp := range specs {
		totalFrames += sp.Frames()
	}

	remaining := make([]chunkspec.Spec, 0, len(specs))
	state := worker.Progress{ChunksTotal: len(specs), FramesTotal: totalFrames}
	for _, sp := range specs {
		if e, ok := done[sp.ID]; ok {
			state.ChunksComplete++
			state.FramesComplete += e.Frames
			state.BytesComplete += e.Size
			continue
		}
		remaining = append(remaining, sp)
	}

	dispatcher := NewDispatcher(remaining)
	for id := range done {
		dispatcher.MarkComplete(id)
	}
	for id, e := range done {
		s.registry.CommitResumed(Completion{
			ChunkID: id,
			Path:    worker.FinalPath(s.cfg.WorkDir, id),
			Frames:  e.Frames,
			Size:    e.Size,
		})
	}

	if len(remaining) == 0 {
		return s.registry.Snapshot(), nil
	}

	if err := metric.InitDevice(); err != nil {
		return nil, corerr.Wrap(corerr.KindMetricFailed, "scheduler: init metric device", err)
	}

	w, h := s.src.Size()
	color := s.src.Color()
	format := s.src.Depth()
	rate := s.src.Rate()

	ledger := newDoneLedger(s.cfg.WorkDir)
	queue := make(chan *chunkbuf.Buffer, s.cfg.Workers)
	progress := &progressTracker{onProgress: onProgress, state: state}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.decodeLoop(gctx, dispatcher, queue, format, w, h)
	})

	startWorker := func() {
		g.Go(func() error {
			return s.workerLoop(gctx, queue, w, h, rate, color, dispatcher, progress, ledger)
		})
	}
	ramp := newRampController(s.cfg.Workers, startWorker)
	progress.ramp = ramp
	ramp.start()

	err = g.Wait()
	return s.registry.Snapshot(), err
}

// decodeLoop is the pipeline's sole producer (spec §4.E "Decode thread
// loop"). For each dispatched spec it allocates a chunk buffer, decodes
// its frame range sequentially, registers the buffer for metric lookup,
// and sends it to queue — queue's bounded capacity (= W) is the pipeline's
// only backpressure mechanism (spec I4).
func (s *Scheduler) decodeLoop(ctx context.Context, dispatcher *Dispatcher, queue chan<- *chunkbuf.Buffer, format chunkspec.PixelFormat, w, h int) error {
	defer close(queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		spec, ok := dispatcher.Next()
		if !ok {
			return nil
		}

		buf := chunkbuf.Alloc(spec, format, w, h)
		s.registry.Register(spec.ID, buf)

		if err := s.decodeChunk(spec, buf); err != nil {
			logging.Error("decode chunk failed", "chunk_id", spec.ID, "err", err)
			s.registry.Commit(Completion{ChunkID: spec.ID, Err: err}, buf)
			dispatcher.MarkComplete(spec.ID)
			continue
		}

		select {
		case queue <- buf:
		case <-ctx.Done():
			s.registry.Commit(Completion{ChunkID: spec.ID, Err: corerr.Cancelled()}, buf)
			return ctx.Err()
		}
	}
}

func (s *Scheduler) decodeChunk(spec chunkspec.Spec, buf *chunkbuf.Buffer) error {
	for i := 0; i < spec.Frames(); i++ {
		fv, err := s.src.Decode(spec.Start + i)
		if err != nil {
			return corerr.Wrap(corerr.KindDecode, "scheduler: decode frame", err)
		}
		if err := buf.WriteFrame(i, fv); err != nil {
			return corerr.Wrap(corerr.KindDecode, "scheduler: write frame to buffer", err)
		}
	}
	return nil
}

// workerLoop is one of W consumers (spec §4.E "Worker loop"). It owns one
// GPU metric processor for its lifetime and drives each popped buffer's
// full TQ convergence loop before moving to the next.
func (s *Scheduler) workerLoop(ctx context.Context, queue <-chan *chunkbuf.Buffer, w, h int, rate ratespec.Rate, color chunkspec.ColorMeta, dispatcher *Dispatcher, progress *progressTracker, ledger *doneLedger) error {
	proc, err := metric.NewProcessor(w, h, color)
	if err != nil {
		return corerr.Wrap(corerr.KindMetricFailed, "scheduler: new metric processor", err)
	}
	defer func() { _ = proc.Close() }()

	scorer := metric.NewScorer(s.registry, proc, s.cfg.MetricMode, s.cfg.MetricOpen)

	for buf := range queue {
		select {
		case <-ctx.Done():
			s.registry.Commit(Completion{ChunkID: buf.Spec.ID, Err: corerr.Cancelled()}, buf)
			return ctx.Err()
		default:
		}

		comp := s.processChunk(ctx, buf, w, h, rate, color, scorer)
		s.registry.Commit(comp, buf)
		dispatcher.MarkComplete(buf.Spec.ID)
		progress.record(comp)

		if comp.Err == nil {
			if err := ledger.append(doneEntry{ChunkID: comp.ChunkID, Frames: comp.Frames, Size: comp.Size}); err != nil {
				logging.Error("append done.txt failed", "chunk_id", comp.ChunkID, "err", err)
			}
		}

		if corerr.IsCancelled(comp.Err) {
			return comp.Err
		}
	}
	return nil
}

// processChunk drives one chunk through tq.Run, committing the winning
// round's probe file to its final path on success (spec §4.G/§6).
func (s *Scheduler) processChunk(ctx context.Context, buf *chunkbuf.Buffer, w, h int, rate ratespec.Rate, color chunkspec.ColorMeta, scorer *metric.Scorer) Completion {
	chunkID := buf.Spec.ID
	// A zero default keeps NewState on the full CRF range until the tracker
	// has a completed chunk to predict from.
	predicted := s.tracker.Predict(chunkID, 0)
	state := tq.NewState(s.cfg.TQ.TargetMin, s.cfg.TQ.TargetMax, s.cfg.TQ.QPMin, s.cfg.TQ.QPMax, predicted)

	// NudgeToUnused guarantees every probed CRF within one chunk's search
	// is distinct, so CRF is a safe key back to the round that produced it
	// (tq.Result only reports the winning CRF/score, not its round).
	crfToRound := make(map[float64]int)

	encodeAndScore := func(ctx context.Context, crf float64) (float64, uint64, error) {
		round := state.Round
		probePath := worker.ProbePath(s.cfg.WorkDir, chunkID, round)
		res, err := worker.Encode(ctx, s.cfg.Worker, buf, w, h, rate, color, crf, probePath, nil)
		if err != nil {
			return 0, 0, err
		}
		score, err := scorer.Score(chunkID, res.Path)
		if err != nil {
			return 0, 0, err
		}
		crfToRound[crf] = round
		return score, res.Size, nil
	}

	result, err := tq.Run(ctx, state, encodeAndScore)
	if err != nil {
		return Completion{ChunkID: chunkID, Err: err}
	}

	winningRound, ok := crfToRound[result.CRF]
	if !ok {
		winningRound = result.Round
	}
	if err := worker.Commit(s.cfg.WorkDir, chunkID, winningRound, result.Round); err != nil {
		return Completion{ChunkID: chunkID, Err: err}
	}

	s.tracker.Record(chunkID, result.CRF)

	logging.Info("chunk converged", "chunk_id", chunkID, "crf", result.CRF, "score", result.Score,
		"round", result.Round, "outcome", result.Outcome.String())

	return Completion{
		ChunkID: chunkID,
		Path:    worker.FinalPath(s.cfg.WorkDir, chunkID),
		Frames:  buf.Spec.Frames(),
		Size:    result.Size,
		CRF:     result.CRF,
		Score:   result.Score,
		Round:   result.Round,
	}
}

// progressTracker aggregates per-chunk completions into worker.Progress
// and invokes the caller's callback under a mutex.
type progressTracker struct {
	mu         sync.Mutex
	state      worker.Progress
	onProgress ProgressFunc
	ramp       *rampController
}

func (p *progressTracker) record(c Completion) {
	p.mu.Lock()
	p.state.ChunksComplete++
	p.state.FramesComplete += c.Frames
	p.state.BytesComplete += c.Size
	snapshot := p.state
	p.mu.Unlock()

	if p.onProgress != nil {
		p.onProgress(snapshot)
	}
	if p.ramp != nil {
		p.ramp.onComplete()
	}
}

// rampStart and rampIncrement bound the scheduler's gradual worker ramp-up
// (SPEC_FULL §3+ "Gradual ramp-up"): begin with a small number of in-flight
// workers so early completions seed tq.CRFTracker's predictions, then widen
// toward the full W as chunks complete.
const (
	rampStart     = 2
	rampIncrement = 2
)

// rampController throttles how fast the scheduler reaches its full worker
// count W; it never exceeds W, it only delays reaching it.
type rampController struct {
	mu      sync.Mutex
	started int
	max     int
	launch  func()
}

func newRampController(workers int, launch func()) *rampController {
	return &rampController{max: workers, launch: launch}
}

// start launches the initial ramp-up batch (min(rampStart, W)).
func (r *rampController) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := rampStart
	if n > r.max {
		n = r.max
	}
	for i := 0; i < n; i++ {
		r.launch()
	}
	r.started = n
}

// onComplete widens the in-flight worker count by rampIncrement, capped at
// W, once a chunk has completed and can feed CRF prediction for the rest.
func (r *rampController) onComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started >= r.max {
		return
	}
	add := rampIncrement
	if r.started+add > r.max {
		add = r.max - r.started
	}
	for i := 0; i < add; i++ {
		r.launch()
	}
	r.started += add
}
