// Package tq implements the target-quality CRF convergence loop (spec
// §4.G): per-chunk candidate search, interval shrinkage, and round-table
// interpolator selection.
package tq

import (
	"fmt"
	"strconv"
	"strings"
)

// Config holds target quality configuration. There is no midpoint/tolerance
// pair here: State.Target derives the band's midpoint on demand from
// TargetMin/TargetMax, and Shrink/Outcome compare a candidate's score
// against TargetMin/TargetMax directly (spec §4.G), so a separately stored
// midpoint would just be a second, driftable copy of the same number.
type Config struct {
	// TargetMin and TargetMax define the acceptable perceptual-metric
	// score range (spec §3 "Target band [t_lo, t_hi]").
	TargetMin float64
	TargetMax float64

	// QPMin and QPMax define the CRF search bounds (spec §3 "crf ∈
	// [0.0, 70.0]").
	QPMin float64
	QPMax float64

	// MaxRounds is the maximum number of iterations before accepting the
	// best result (spec §4.G: "Rounds 1...K, K=7").
	MaxRounds int

	// MetricMode specifies how to aggregate frame scores ("mean" or "pN").
	MetricMode string
}

// DefaultConfig returns a Config with the default CRF range and round cap.
func DefaultConfig() *Config {
	return &Config{
		QPMin:      0.0,
		QPMax:      70.0,
		MaxRounds:  MaxRounds,
		MetricMode: "mean",
	}
}

// ParseTargetRange parses a target quality range string (e.g., "70-75")
// into a Config with TargetMin/TargetMax set to the parsed band.
func ParseTargetRange(s string) (*Config, error) {
	cfg := DefaultConfig()

	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid target quality format %q, expected 'min-max' (e.g., '70-75')", s)
	}

	minVal, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid target quality min %q: %w", parts[0], err)
	}

	maxVal, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid target quality max %q: %w", parts[1], err)
	}

	if minVal >= maxVal {
		return nil, fmt.Errorf("target quality min (%v) must be less than max (%v)", minVal, maxVal)
	}
	if minVal < 0 || maxVal > 100 {
		return nil, fmt.Errorf("target quality band [%v, %v] must fall within [0, 100]", minVal, maxVal)
	}

	cfg.TargetMin = minVal
	cfg.TargetMax = maxVal

	return cfg, nil
}

// ParseQPRange parses a CRF search range string (e.g., "8-48").
func ParseQPRange(s string) (min, max float64, err error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid QP range format %q, expected 'min-max' (e.g., '8-48')", s)
	}

	min, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid QP range min %q: %w", parts[0], err)
	}

	max, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid QP range max %q: %w", parts[1], err)
	}

	if min >= max {
		return 0, 0, fmt.Errorf("QP range min (%v) must be less than max (%v)", min, max)
	}

	return min, max, nil
}
