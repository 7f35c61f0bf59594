// Package reporter provides progress reporting interfaces and implementations.
package reporter

import "time"

// InitializationSummary describes the input before encoding begins.
type InitializationSummary struct {
	InputFile    string
	OutputFile   string
	Duration     string
	Resolution   string
	DynamicRange string
}

// EncodingConfigSummary describes the resolved run configuration.
type EncodingConfigSummary struct {
	Encoder     string
	Workers     int
	CRFRange    string // e.g. "0.00-70.00"
	TargetBand  string // e.g. "70.00-75.00"
	MetricMode  string
	Passthrough string
}

// ProgressSnapshot mirrors worker.Progress for terminal/JSON rendering.
type ProgressSnapshot struct {
	ChunksComplete int
	ChunksTotal    int
	FramesComplete uint64
	FramesTotal    uint64
	BytesComplete  uint64
	Percent        float64
	ETA            time.Duration
}

// StageProgress is a generic named-stage update (e.g. "scd", "encoding",
// "assembly").
type StageProgress struct {
	Stage   string
	Message string
}

// EncodingOutcome contains final encoding results.
type EncodingOutcome struct {
	InputFile    string
	OutputFile   string
	OriginalSize uint64
	EncodedSize  uint64
	ChunksTotal  int
	TotalTime    time.Duration
}

// ReporterError contains error information.
type ReporterError struct {
	Title   string
	Message string
	Context string
}
