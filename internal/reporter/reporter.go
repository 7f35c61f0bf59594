package reporter

// Reporter defines the interface for progress reporting.
type Reporter interface {
	Initialization(summary InitializationSummary)
	EncodingConfig(summary EncodingConfigSummary)
	StageProgress(update StageProgress)
	EncodingStarted(totalFrames uint64)
	EncodingProgress(progress ProgressSnapshot)
	EncodingComplete(summary EncodingOutcome)
	Warning(message string)
	Error(err ReporterError)
	OperationComplete(message string)
	Verbose(message string)
}

// NullReporter is a no-op reporter that discards all updates.
type NullReporter struct{}

func (NullReporter) Initialization(InitializationSummary) {}
func (NullReporter) EncodingConfig(EncodingConfigSummary) {}
func (NullReporter) StageProgress(StageProgress)          {}
func (NullReporter) EncodingStarted(uint64)               {}
func (NullReporter) EncodingProgress(ProgressSnapshot)    {}
func (NullReporter) EncodingComplete(EncodingOutcome)     {}
func (NullReporter) Warning(string)                       {}
func (NullReporter) Error(ReporterError)                  {}
func (NullReporter) OperationComplete(string)             {}
func (NullReporter) Verbose(string)                       {}
