// Package avchunk provides a Go library for chunked AV1 video encoding:
// scene-change-constrained chunking, a target-quality CRF convergence
// loop per chunk, parallel chunk encoding, and lossless reassembly.
//
// Basic usage:
//
//	enc, err := avchunk.New("input.mkv", "output.mkv", "/tmp/avchunk-work")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := enc.Run(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Encoded: %s, %d chunks\n", result.OutputFile, result.ChunksTotal)
package avchunk

import (
	"context"
	"fmt"
	"time"

	"github.com/five82/avchunk/internal/assembly"
	"github.com/five82/avchunk/internal/config"
	"github.com/five82/avchunk/internal/corerr"
	"github.com/five82/avchunk/internal/reporter"
	"github.com/five82/avchunk/internal/scd"
	"github.com/five82/avchunk/internal/scheduler"
	"github.com/five82/avchunk/internal/source"
	"github.com/five82/avchunk/internal/util"
	"github.com/five82/avchunk/internal/worker"
)

// Option configures an Encoder at construction time.
type Option func(*config.Config)

// WithWorkers overrides the encoder worker count W (spec I4).
func WithWorkers(n int) Option {
	return func(c *config.Config) { c.Workers = n }
}

// WithCRFRange overrides the CRF search interval TQ draws candidates from.
func WithCRFRange(min, max float64) Option {
	return func(c *config.Config) { c.CRFMin, c.CRFMax = min, max }
}

// WithTargetBand sets the target perceptual-quality band [min, max] TQ
// converges each chunk's CRF toward. Required: config.New leaves this
// zero, and Validate rejects a zero-width band.
func WithTargetBand(min, max float64) Option {
	return func(c *config.Config) { c.TargetMin, c.TargetMax = min, max }
}

// WithMetricMode overrides frame-score aggregation ("mean" or "pN").
func WithMetricMode(mode string) Option {
	return func(c *config.Config) { c.MetricMode = mode }
}

// WithPassthrough sets the user's pass-through encoder argument string,
// inserted verbatim before --crf on every invocation (spec §6).
func WithPassthrough(args string) Option {
	return func(c *config.Config) { c.Passthrough = args }
}

// WithEncoderPath overrides the encoder executable (default SvtAv1EncApp).
func WithEncoderPath(path string) Option {
	return func(c *config.Config) { c.EncoderPath = path }
}

// WithConcatPath overrides the external concatenator executable (default
// mkvmerge).
func WithConcatPath(path string) Option {
	return func(c *config.Config) { c.ConcatPath = path }
}

// WithVerbose enables verbose reporter output.
func WithVerbose() Option {
	return func(c *config.Config) { c.Verbose = true }
}

// Encoder drives one input through the full pipeline: source decode, SCD
// chunk planning, parallel TQ-converged chunk encoding, and assembly.
type Encoder struct {
	cfg *config.Config
}

// New builds an Encoder for one input/output/work-directory triple. The
// target quality band has no default (WithTargetBand is effectively
// required); Run's first call to Validate surfaces its absence.
func New(inputPath, outputPath, workDir string, opts ...Option) (*Encoder, error) {
	cfg := config.New(inputPath, outputPath, workDir)
	for _, opt := range opts {
		opt(cfg)
	}
	return &Encoder{cfg: cfg}, nil
}

// Result contains the outcome of one encode.
type Result struct {
	OutputFile   string
	OriginalSize uint64
	EncodedSize  uint64
	ChunksTotal  int
	TotalTime    time.Duration
}

// Run executes the pipeline end to end: open the source, build or load
// the chunk plan, run the scheduler to convergence for every chunk, and
// assemble the committed per-chunk files into the final output. rep may
// be nil, in which case progress is discarded.
func (e *Encoder) Run(ctx context.Context, rep reporter.Reporter) (*Result, error) {
	if rep == nil {
		rep = reporter.NullReporter{}
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()

	if err := util.EnsureDirectory(e.cfg.WorkDir); err != nil {
		return nil, corerr.Wrap(corerr.KindIO, "avchunk: create work dir", err)
	}

	rep.StageProgress(reporter.StageProgress{Stage: "source", Message: "opening " + e.cfg.InputPath})
	src, err := source.Open(e.cfg.InputPath)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindIO, "avchunk: open source", err)
	}
	defer func() { _ = src.Close() }()

	w, h := src.Size()
	rep.Initialization(reporter.InitializationSummary{
		InputFile:    e.cfg.InputPath,
		OutputFile:   e.cfg.OutputPath,
		Duration:     util.FormatDurationFromSecs(int64(float64(src.Frames()) / src.Rate().FPS())),
		Resolution:   fmt.Sprintf("%dx%d", w, h),
		DynamicRange: src.Depth().String(),
	})
	rep.EncodingConfig(reporter.EncodingConfigSummary{
		Encoder:     e.cfg.EncoderPath,
		Workers:     e.cfg.Workers,
		CRFRange:    fmt.Sprintf("%.2f-%.2f", e.cfg.CRFMin, e.cfg.CRFMax),
		TargetBand:  fmt.Sprintf("%.2f-%.2f", e.cfg.TargetMin, e.cfg.TargetMax),
		MetricMode:  e.cfg.MetricMode,
		Passthrough: e.cfg.Passthrough,
	})

	rep.StageProgress(reporter.StageProgress{Stage: "scd", Message: "planning chunk boundaries"})
	plan, err := e.buildPlan(src)
	if err != nil {
		return nil, err
	}

	rep.StageProgress(reporter.StageProgress{
		Stage:   "encoding",
		Message: fmt.Sprintf("%d chunks, %d workers", len(plan.Specs), e.cfg.Workers),
	})

	sched := scheduler.New(scheduler.Config{
		Workers:    e.cfg.Workers,
		WorkDir:    e.cfg.WorkDir,
		TQ:         e.cfg.TQConfig(),
		Worker:     e.cfg.WorkerConfig(),
		MetricMode: e.cfg.MetricMode,
	}, src)

	runStart := time.Now()
	rep.EncodingStarted(uint64(src.Frames()))
	completions, err := sched.Run(ctx, plan.Specs, func(p worker.Progress) {
		elapsed := time.Since(runStart)
		var eta time.Duration
		if p.FramesComplete > 0 {
			perFrame := elapsed / time.Duration(p.FramesComplete)
			eta = perFrame * time.Duration(p.FramesTotal-p.FramesComplete)
		}
		rep.EncodingProgress(reporter.ProgressSnapshot{
			ChunksComplete: p.ChunksComplete,
			ChunksTotal:    p.ChunksTotal,
			FramesComplete: uint64(p.FramesComplete),
			FramesTotal:    uint64(p.FramesTotal),
			BytesComplete:  p.BytesComplete,
			Percent:        p.Percent(),
			ETA:            eta,
		})
	})
	if err != nil && completions == nil {
		return nil, corerr.Wrap(corerr.KindDecode, "avchunk: scheduler run", err)
	}

	rep.StageProgress(reporter.StageProgress{Stage: "assembly", Message: "concatenating chunks"})
	if aerr := assembly.Assemble(ctx, completions, assembly.Config{
		ConcatPath: e.cfg.ConcatPath,
		OutputPath: e.cfg.OutputPath,
	}); aerr != nil {
		return nil, aerr
	}

	originalSize, _ := util.GetFileSize(e.cfg.InputPath)
	encodedSize, _ := util.GetFileSize(e.cfg.OutputPath)

	outcome := reporter.EncodingOutcome{
		InputFile:    e.cfg.InputPath,
		OutputFile:   e.cfg.OutputPath,
		OriginalSize: originalSize,
		EncodedSize:  encodedSize,
		ChunksTotal:  len(plan.Specs),
		TotalTime:    time.Since(start),
	}
	rep.EncodingComplete(outcome)
	rep.OperationComplete("encode complete")

	return &Result{
		OutputFile:   e.cfg.OutputPath,
		OriginalSize: originalSize,
		EncodedSize:  encodedSize,
		ChunksTotal:  len(plan.Specs),
		TotalTime:    outcome.TotalTime,
	}, nil
}

// buildPlan loads a cached chunk plan matching this input's frame count,
// rate, and dimensions, or runs SCD and persists the result (spec §6
// "when present and matching N, R, size, SCD is skipped").
func (e *Encoder) buildPlan(src source.Handle) (*scd.Plan, error) {
	w, h := src.Size()
	key := scd.CacheKey{Frames: src.Frames(), Rate: src.Rate(), W: w, H: h}
	cachePath := scd.CachePath(e.cfg.WorkDir, e.cfg.InputPath)

	if plan, err := scd.Load(cachePath, key); err == nil {
		return plan, nil
	}

	det := scd.NewDetector()
	plan, err := scd.Build(src, func(i int) (scd.LumaFrame, error) {
		fv, err := src.Decode(i)
		if err != nil {
			return scd.LumaFrame{}, err
		}
		w, h := src.Size()
		return scd.LumaFrame{Y: fv.Y, Stride: fv.YStride, W: w, H: h}, nil
	}, det)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindDecode, "avchunk: build chunk plan", err)
	}

	if err := scd.Save(cachePath, key, plan); err != nil {
		return nil, corerr.Wrap(corerr.KindIO, "avchunk: save chunk plan cache", err)
	}
	return plan, nil
}
