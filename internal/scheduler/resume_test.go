package scheduler

import (
	"context"
	"os"
	"testing"

	"github.com/five82/avchunk/internal/chunkspec"
	"github.com/five82/avchunk/internal/ratespec"
	"github.com/five82/avchunk/internal/source"
	"github.com/five82/avchunk/internal/tq"
	"github.com/five82/avchunk/internal/worker"
)

func TestDoneLedgerRoundTrip(t *testing.T) {
	dir := t.TempDir()

	entries, err := loadDone(dir)
	if err != nil {
		t.Fatalf("loadDone on a fresh dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("loadDone on a fresh dir = %v, want empty", entries)
	}

	ledger := newDoneLedger(dir)
	if err := ledger.append(doneEntry{ChunkID: 0, Frames: 48, Size: 1024}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := ledger.append(doneEntry{ChunkID: 2, Frames: 24, Size: 512}); err != nil {
		t.Fatalf("append: %v", err)
	}

	reloaded, err := loadDone(dir)
	if err != nil {
		t.Fatalf("loadDone after append: %v", err)
	}
	if len(reloaded) != 2 {
		t.Fatalf("loadDone = %d entries, want 2", len(reloaded))
	}
	if reloaded[0] != (doneEntry{ChunkID: 0, Frames: 48, Size: 1024}) {
		t.Errorf("entry 0 = %+v, want {0 48 1024}", reloaded[0])
	}
	if reloaded[2] != (doneEntry{ChunkID: 2, Frames: 24, Size: 512}) {
		t.Errorf("entry 2 = %+v, want {2 24 512}", reloaded[2])
	}
}

func TestDoneLedgerSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(donePath(dir), []byte("garbage line\n1 10 100\nnot numbers here\n"), 0o644); err != nil {
		t.Fatalf("seed done.txt: %v", err)
	}

	entries, err := loadDone(dir)
	if err != nil {
		t.Fatalf("loadDone: %v", err)
	}
	if len(entries) != 1 || entries[1] != (doneEntry{ChunkID: 1, Frames: 10, Size: 100}) {
		t.Fatalf("entries = %+v, want only {1 10 100}", entries)
	}
}

// TestSchedulerRunResumesFromDoneFile seeds done.txt with chunk 0 already
// committed and its chunk_0000.ivf already on disk, then runs the scheduler
// over both chunks. Only chunk 1 should actually invoke the encoder
// (SPEC_FULL §3+ "Resume/cache state": a killed-and-rerun invocation skips
// already-committed chunks).
func TestSchedulerRunResumesFromDoneFile(t *testing.T) {
	const w, h = 8, 4
	dir := t.TempDir()
	encoderPath := writeFakeEncoder(t, dir)

	frames := planarFrames(4, w, h, 128)
	src := source.NewMemory(frames, ratespec.Rate{Num: 24, Den: 1}, w, h, chunkspec.Format8Bit420, chunkspec.ColorMeta{})

	specs := []chunkspec.Spec{
		{ID: 0, Start: 0, End: 2, Hard: true},
		{ID: 1, Start: 2, End: 4, Hard: true},
	}

	// Seed the resume ledger and the chunk-0 output it claims already exists.
	if err := newDoneLedger(dir).append(doneEntry{ChunkID: 0, Frames: 2, Size: 999}); err != nil {
		t.Fatalf("seed done.txt: %v", err)
	}
	finalPath := worker.FinalPath(dir, 0)
	if err := os.WriteFile(finalPath, []byte("already-committed-chunk"), 0o644); err != nil {
		t.Fatalf("seed resumed chunk file: %v", err)
	}

	cfg := Config{
		Workers: 2,
		WorkDir: dir,
		TQ: &tq.Config{
			TargetMin: 100, TargetMax: 100,
			QPMin: 0, QPMax: 70,
			MaxRounds: tq.MaxRounds,
		},
		Worker:     worker.Config{EncoderPath: encoderPath},
		MetricMode: "mean",
		MetricOpen: rawOpener(w, h, 2),
	}

	sched := New(cfg, src)
	var lastProgress worker.Progress
	completions, err := sched.Run(context.Background(), specs, func(p worker.Progress) { lastProgress = p })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(completions) != 2 {
		t.Fatalf("completions = %d, want 2", len(completions))
	}

	var resumed, encoded *Completion
	for i := range completions {
		c := &completions[i]
		switch c.ChunkID {
		case 0:
			resumed = c
		case 1:
			encoded = c
		}
	}
	if resumed == nil || encoded == nil {
		t.Fatalf("expected completions for both chunk 0 and chunk 1, got %+v", completions)
	}

	if resumed.Size != 999 || resumed.Frames != 2 {
		t.Errorf("resumed completion = %+v, want the seeded done.txt values", resumed)
	}
	if resumed.Path != finalPath {
		t.Errorf("resumed.Path = %q, want %q", resumed.Path, finalPath)
	}
	data, err := os.ReadFile(finalPath)
	if err != nil || string(data) != "already-committed-chunk" {
		t.Errorf("resumed chunk file should not have been re-encoded, got %q, err %v", data, err)
	}

	if encoded.Err != nil {
		t.Errorf("chunk 1 should have actually encoded, got error %v", encoded.Err)
	}
	if _, err := os.Stat(worker.FinalPath(dir, 1)); err != nil {
		t.Errorf("chunk 1's output should exist after a real encode: %v", err)
	}

	// Chunk 0's resumed frames/bytes seed the initial progress snapshot;
	// the final callback should report both chunks complete.
	if lastProgress.ChunksComplete != 2 {
		t.Errorf("final ChunksComplete = %d, want 2", lastProgress.ChunksComplete)
	}

	reloaded, err := loadDone(dir)
	if err != nil {
		t.Fatalf("loadDone after run: %v", err)
	}
	if len(reloaded) != 2 {
		t.Fatalf("done.txt after run has %d entries, want 2 (chunk 1 should be appended)", len(reloaded))
	}
}

func TestRampControllerBoundedByWorkerCount(t *testing.T) {
	var launched int
	r := newRampController(3, func() { launched++ })

	r.start()
	if launched != 2 {
		t.Fatalf("after start, launched = %d, want min(rampStart, workers) = 2", launched)
	}

	r.onComplete()
	if launched != 3 {
		t.Fatalf("after one completion, launched = %d, want 3 (capped at workers)", launched)
	}

	// Further completions must not launch past the worker cap.
	r.onComplete()
	r.onComplete()
	if launched != 3 {
		t.Fatalf("launched = %d, want to stay capped at 3", launched)
	}
}

func TestRampControllerStartNeverExceedsWorkers(t *testing.T) {
	var launched int
	r := newRampController(1, func() { launched++ })
	r.start()
	if launched != 1 {
		t.Fatalf("launched = %d, want 1 when workers < rampStart", launched)
	}
	r.onComplete()
	if launched != 1 {
		t.Fatalf("launched = %d, want to stay at 1 (already at cap)", launched)
	}
}
