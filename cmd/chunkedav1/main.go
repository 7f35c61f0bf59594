// Package main provides the CLI entry point for avchunk.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/five82/avchunk"
	"github.com/five82/avchunk/internal/logging"
	"github.com/five82/avchunk/internal/reporter"
	"github.com/five82/avchunk/internal/tq"
	"github.com/five82/avchunk/internal/util"
)

const appVersion = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "chunkedav1",
		Short:   "Chunked AV1 encoding with per-chunk target-quality convergence",
		Version: appVersion,
	}
	root.AddCommand(newEncodeCmd())
	return root
}

type encodeFlags struct {
	output      string
	workDir     string
	workers     int
	crfRange    string
	targetBand  string
	metricMode  string
	passthrough string
	encoderPath string
	concatPath  string
	verbose     bool
	jsonOutput  bool
}

func newEncodeCmd() *cobra.Command {
	var f encodeFlags

	cmd := &cobra.Command{
		Use:   "encode <input>",
		Short: "Encode a video file to AV1 using chunked target-quality convergence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(args[0], f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.output, "output", "o", "", "output file path (required)")
	flags.StringVarP(&f.workDir, "work-dir", "w", "", "scratch directory for probes and scene cache (defaults to a temp dir next to output)")
	flags.IntVar(&f.workers, "workers", 0, "encoder worker count (default 8)")
	flags.StringVar(&f.crfRange, "crf-range", "", "CRF search bounds \"min-max\" (default 0-70)")
	flags.StringVar(&f.targetBand, "target", "", "target perceptual-quality band \"min-max\" (required, e.g. \"70-75\")")
	flags.StringVar(&f.metricMode, "metric-mode", "mean", "frame-score aggregation: \"mean\" or \"pN\" for the Nth percentile")
	flags.StringVar(&f.passthrough, "passthrough", "", "extra encoder arguments inserted verbatim before --crf")
	flags.StringVar(&f.encoderPath, "encoder", "", "encoder executable (default SvtAv1EncApp)")
	flags.StringVar(&f.concatPath, "concat", "", "concatenator executable (default mkvmerge)")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVar(&f.jsonOutput, "json", false, "emit NDJSON progress events instead of terminal output")

	_ = cmd.MarkFlagRequired("output")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

func runEncode(inputPath string, f encodeFlags) error {
	inputPath, err := filepath.Abs(inputPath)
	if err != nil {
		return fmt.Errorf("invalid input path: %w", err)
	}
	if !util.FileExists(inputPath) {
		return fmt.Errorf("input path does not exist: %s", inputPath)
	}

	outputPath, err := filepath.Abs(f.output)
	if err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}
	if err := util.EnsureDirectory(filepath.Dir(outputPath)); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	workDir := f.workDir
	if workDir == "" {
		workDir = filepath.Join(filepath.Dir(outputPath), "."+util.GetFileStem(outputPath)+".avchunk-work")
	}
	if err := util.EnsureDirectory(workDir); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}

	logging.SetGlobal(logging.New(logging.Config{
		Level:   logging.LevelInfo,
		WorkDir: workDir,
		Enabled: true,
	}))

	opts := []avchunk.Option{}
	if f.workers > 0 {
		opts = append(opts, avchunk.WithWorkers(f.workers))
	}
	if f.crfRange != "" {
		crfMin, crfMax, err := tq.ParseQPRange(f.crfRange)
		if err != nil {
			return fmt.Errorf("invalid --crf-range: %w", err)
		}
		opts = append(opts, avchunk.WithCRFRange(crfMin, crfMax))
	}
	tqCfg, err := tq.ParseTargetRange(f.targetBand)
	if err != nil {
		return fmt.Errorf("invalid --target: %w", err)
	}
	opts = append(opts, avchunk.WithTargetBand(tqCfg.TargetMin, tqCfg.TargetMax))
	if f.metricMode != "" {
		opts = append(opts, avchunk.WithMetricMode(f.metricMode))
	}
	if f.passthrough != "" {
		opts = append(opts, avchunk.WithPassthrough(f.passthrough))
	}
	if f.encoderPath != "" {
		opts = append(opts, avchunk.WithEncoderPath(f.encoderPath))
	}
	if f.concatPath != "" {
		opts = append(opts, avchunk.WithConcatPath(f.concatPath))
	}
	if f.verbose {
		opts = append(opts, avchunk.WithVerbose())
	}

	enc, err := avchunk.New(inputPath, outputPath, workDir, opts...)
	if err != nil {
		return err
	}

	var rep reporter.Reporter
	if f.jsonOutput {
		rep = reporter.NewJSONReporter()
	} else {
		rep = reporter.NewTerminalReporter()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	_, err = enc.Run(ctx, rep)
	return err
}
