// Package config holds the framework's top-level, user-facing
// configuration: paths, worker count, the CRF search range, the target
// quality band, and the pass-through encoder argument string.
//
// Chunk-length bounds are deliberately absent: they are derived from the
// source's frame rate (ratespec.Rate.FPSMin/FPSMax), not configured, per
// spec §4.D.
package config

import (
	"strings"

	"github.com/five82/avchunk/internal/tq"
	"github.com/five82/avchunk/internal/worker"
)

// DefaultWorkers is a conservative default worker count; most hosts can
// push this higher, but an under-provisioned default is safer than an
// over-provisioned one since each worker holds a decoded chunk buffer.
const DefaultWorkers = 8

// Config holds all configuration for one encoding run.
type Config struct {
	InputPath  string
	OutputPath string
	WorkDir    string

	// EncoderPath and ConcatPath are the two external collaborators the
	// pipeline shells out to (spec §1 "opaque process" / §6 "external
	// multiplexer").
	EncoderPath string
	ConcatPath  string

	// Passthrough is the user-supplied encoder argument string, split
	// into argv form and inserted verbatim before --crf (spec §6).
	Passthrough string

	// Workers is W, the configured encoder worker count (spec I4).
	Workers int

	// CRFMin and CRFMax bound the TQ search interval (spec §3 "crf ∈
	// [0.0, 70.0]").
	CRFMin float64
	CRFMax float64

	// TargetMin and TargetMax are the target quality band [t_lo, t_hi]
	// (spec §3). No sensible default exists; the caller must set these.
	TargetMin float64
	TargetMax float64

	// MetricMode selects frame-score aggregation ("mean" or "pN").
	MetricMode string

	Verbose bool
}

// New returns a Config with default CRF range, worker count, and metric
// aggregation mode. TargetMin/TargetMax are left zero; the caller must
// set them (e.g. via tq.ParseTargetRange) before Validate.
func New(inputPath, outputPath, workDir string) *Config {
	return &Config{
		InputPath:   inputPath,
		OutputPath:  outputPath,
		WorkDir:     workDir,
		EncoderPath: worker.DefaultConfig().EncoderPath,
		ConcatPath:  "mkvmerge",
		Workers:     DefaultWorkers,
		CRFMin:      0.0,
		CRFMax:      70.0,
		MetricMode:  "mean",
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.InputPath == "" {
		return ErrMissingInputPath
	}
	if c.OutputPath == "" {
		return ErrMissingOutputPath
	}
	if c.EncoderPath == "" {
		return ErrMissingEncoderPath
	}
	if c.ConcatPath == "" {
		return ErrMissingConcatPath
	}
	if c.Workers < 1 {
		return ErrInvalidWorkers
	}
	if c.CRFMin < 0 || c.CRFMax > 70 || c.CRFMin >= c.CRFMax {
		return ErrInvalidCRFRange
	}
	if c.TargetMin < 0 || c.TargetMax > 100 || c.TargetMin >= c.TargetMax {
		return ErrInvalidTargetRange
	}
	if c.MetricMode != "mean" && !strings.HasPrefix(c.MetricMode, "p") {
		return ErrInvalidMetricMode
	}
	return nil
}

// TQConfig builds the tq.Config this run's CRF and target-band settings
// imply.
func (c *Config) TQConfig() *tq.Config {
	return &tq.Config{
		TargetMin:  c.TargetMin,
		TargetMax:  c.TargetMax,
		QPMin:      c.CRFMin,
		QPMax:      c.CRFMax,
		MaxRounds:  tq.MaxRounds,
		MetricMode: c.MetricMode,
	}
}

// WorkerConfig builds the worker.Config this run's encoder settings
// imply, splitting the pass-through string into argv form.
func (c *Config) WorkerConfig() worker.Config {
	return worker.Config{
		EncoderPath: c.EncoderPath,
		Passthrough: splitPassthrough(c.Passthrough),
	}
}

func splitPassthrough(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
