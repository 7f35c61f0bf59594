package config

import "errors"

// Sentinel errors for configuration validation.
var (
	ErrMissingInputPath   = errors.New("input path is required")
	ErrMissingOutputPath  = errors.New("output path is required")
	ErrMissingEncoderPath = errors.New("encoder path is required")
	ErrMissingConcatPath  = errors.New("concatenator path is required")
	ErrInvalidWorkers     = errors.New("workers must be at least 1")
	ErrInvalidCRFRange    = errors.New("CRF range must satisfy 0 <= min < max <= 70")
	ErrInvalidTargetRange = errors.New("target quality range must satisfy 0 <= min < max <= 100")
	ErrInvalidMetricMode  = errors.New("metric mode must be \"mean\" or \"pN\"")
)
