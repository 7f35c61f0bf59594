package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/five82/avchunk/internal/chunkspec"
	"github.com/five82/avchunk/internal/corerr"
	"github.com/five82/avchunk/internal/ratespec"
	"github.com/five82/avchunk/internal/source"
	"github.com/five82/avchunk/internal/tq"
	"github.com/five82/avchunk/internal/worker"
)

// writeFakeEncoder writes a shell script standing in for the real encoder:
// it copies stdin verbatim to the path following -b and emits one
// progress-3 stderr line, ignoring --crf (a lossless passthrough so the
// fake GPU metric scores every probe identically).
func writeFakeEncoder(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-encoder.sh")
	script := "#!/bin/sh\n" +
		"out=\"\"\nprev=\"\"\n" +
		"for arg in \"$@\"; do\n" +
		"  if [ \"$prev\" = \"-b\" ]; then out=\"$arg\"; fi\n" +
		"  prev=\"$arg\"\n" +
		"done\n" +
		"cat > \"$out\"\n" +
		"echo 'frame 1/1 fps 1.0 avg 1.0' 1>&2\n" +
		"exit 0\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake encoder: %v", err)
	}
	return path
}

// rawHandle decodes the flat 16-bit-LE planar stream the fake encoder
// wrote back out, which is exactly what chunkbuf.StreamPlanar fed to its
// stdin — the round trip is lossless, so the distorted samples a
// metric.Scorer reads back equal the reference samples exactly.
type rawHandle struct {
	data      []byte
	w, h, n   int
	frameSize int
}

func newRawHandle(path string, w, h, n int) (*rawHandle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ySize := w * h * 2
	cw, ch := w/2, h/2
	uSize := cw * ch * 2
	return &rawHandle{data: data, w: w, h: h, n: n, frameSize: ySize + 2*uSize}, nil
}

func (r *rawHandle) Frames() int                 { return r.n }
func (r *rawHandle) Rate() ratespec.Rate         { return ratespec.Rate{Num: 24, Den: 1} }
func (r *rawHandle) Size() (int, int)            { return r.w, r.h }
func (r *rawHandle) Depth() chunkspec.PixelFormat { return chunkspec.Format10Bit420 }
func (r *rawHandle) Color() chunkspec.ColorMeta  { return chunkspec.ColorMeta{} }
func (r *rawHandle) Close() error                { return nil }

func (r *rawHandle) Decode(i int) (source.FrameView, error) {
	off := i * r.frameSize
	ySize := r.w * r.h * 2
	cw, ch := r.w/2, r.h/2
	uSize := cw * ch * 2
	y := r.data[off : off+ySize]
	u := r.data[off+ySize : off+ySize+uSize]
	v := r.data[off+ySize+uSize : off+ySize+2*uSize]
	return source.FrameView{Y: y, U: u, V: v, YStride: r.w * 2, UStride: cw * 2, VStride: cw * 2}, nil
}

func rawOpener(w, h, n int) func(path string) (source.Handle, error) {
	return func(path string) (source.Handle, error) {
		return newRawHandle(path, w, h, n)
	}
}

func planarFrames(n, w, h int, fill byte) [][3][]byte {
	frames := make([][3][]byte, n)
	cw, ch := w/2, h/2
	for i := range frames {
		y := make([]byte, w*h)
		u := make([]byte, cw*ch)
		v := make([]byte, cw*ch)
		for j := range y {
			y[j] = fill
		}
		frames[i] = [3][]byte{y, u, v}
	}
	return frames
}

func TestSchedulerRunConvergesAllChunks(t *testing.T) {
	const w, h = 8, 4
	dir := t.TempDir()
	encoderPath := writeFakeEncoder(t, dir)

	frames := planarFrames(4, w, h, 128)
	src := source.NewMemory(frames, ratespec.Rate{Num: 24, Den: 1}, w, h, chunkspec.Format8Bit420, chunkspec.ColorMeta{})

	specs := []chunkspec.Spec{
		{ID: 0, Start: 0, End: 2, Hard: true},
		{ID: 1, Start: 2, End: 4, Hard: true},
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
	var progressCalls int
	completions, err := sched.Run(context.Background(), specs, func(worker.Progress) { progressCalls++ })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(completions) != 2 {
		t.Fatalf("completions = %d, want 2", len(completions))
	}
	if progressCalls != 2 {
		t.Errorf("progress callback invoked %d times, want 2", progressCalls)
	}

	for i, c := range completions {
		if c.ChunkID != i {
			t.Errorf("completions[%d].ChunkID = %d, want %d", i, c.ChunkID, i)
		}
		if c.Err != nil {
			t.Errorf("chunk %d: unexpected error %v", c.ChunkID, c.Err)
		}
		if c.Score < 99.9 {
			t.Errorf("chunk %d: score = %v, want ~100 (lossless passthrough)", c.ChunkID, c.Score)
		}
		if _, err := os.Stat(c.Path); err != nil {
			t.Errorf("chunk %d: final output missing: %v", c.ChunkID, err)
		}
		if _, err := os.Stat(worker.ProbePath(dir, c.ChunkID, c.Round)); !os.IsNotExist(err) {
			t.Errorf("chunk %d: probe file for winning round should have been renamed away", c.ChunkID)
		}
	}
}

func TestSchedulerRunCancellation(t *testing.T) {
	const w, h = 8, 4
	dir := t.TempDir()
	encoderPath := writeFakeEncoder(t, dir)

	frames := planarFrames(2, w, h, 128)
	src := source.NewMemory(frames, ratespec.Rate{Num: 24, Den: 1}, w, h, chunkspec.Format8Bit420, chunkspec.ColorMeta{})

	specs := []chunkspec.Spec{{ID: 0, Start: 0, End: 2, Hard: true}}

	cfg := Config{
		Workers: 1,
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
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sched.Run(ctx, specs, nil)
	if err == nil {
		t.Fatal("Run with a pre-cancelled context should return an error")
	}
	if !corerr.IsCancelled(err) && ctx.Err() == nil {
		t.Errorf("expected a cancellation-flavored error, got %v", err)
	}
}

func TestSchedulerRunEmptyPlan(t *testing.T) {
	src := source.NewMemory(nil, ratespec.Rate{Num: 24, Den: 1}, 8, 4, chunkspec.Format8Bit420, chunkspec.ColorMeta{})
	sched := New(Config{Workers: 1, TQ: tq.DefaultConfig()}, src)
	completions, err := sched.Run(context.Background(), nil, nil)
	if err != nil || completions != nil {
		t.Errorf("Run with no specs = (%v, %v), want (nil, nil)", completions, err)
	}
}

func TestSchedulerRunDecodeErrorIsolatesChunk(t *testing.T) {
	const w, h = 8, 4
	dir := t.TempDir()
	encoderPath := writeFakeEncoder(t, dir)

	frames := planarFrames(2, w, h, 128)
	src := source.NewMemory(frames, ratespec.Rate{Num: 24, Den: 1}, w, h, chunkspec.Format8Bit420, chunkspec.ColorMeta{})

	// Chunk 1's range runs past the memory source's two decoded frames,
	// so its decode fails while chunk 0 still completes (spec P6).
	specs := []chunkspec.Spec{
		{ID: 0, Start: 0, End: 2, Hard: true},
		{ID: 1, Start: 2, End: 4, Hard: true},
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
	completions, err := sched.Run(context.Background(), specs, nil)
	if err != nil {
		t.Fatalf("Run should not fail globally on a per-chunk decode error: %v", err)
	}
	if len(completions) != 2 {
		t.Fatalf("completions = %d, want 2", len(completions))
	}

	var sawFailure, sawSuccess bool
	for _, c := range completions {
		switch c.ChunkID {
		case 0:
			if c.Err != nil {
				t.Errorf("chunk 0 should have succeeded, got %v", c.Err)
			}
			sawSuccess = true
		case 1:
			if c.Err == nil {
				t.Error("chunk 1 should have failed (decode out of range)")
			}
			sawFailure = true
		}
	}
	if !sawSuccess || !sawFailure {
		t.Fatalf("expected one success and one failure, got %+v", completions)
	}
}

// TestMain_noop checks nothing; it only keeps the time import referenced.
func TestMain_noop(t *testing.T) { _ = time.Now }
