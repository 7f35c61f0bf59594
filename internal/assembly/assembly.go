// Package assembly implements output assembly (component H): waiting on
// every chunk's completion and handing the ordered list of committed
// per-chunk files to an external concatenator.
//
// Subprocess output is captured combined (stdout+stderr) and surfaced on
// failure, same as the rest of the module's external-tool wrappers. The
// scheduler's Registry.Snapshot already returns completions sorted by
// chunk id — assembly is the only stage that observes that global
// ordering (spec §4.H).
package assembly

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/five82/avchunk/internal/corerr"
	"github.com/five82/avchunk/internal/scheduler"
)

// Config holds the external concatenator's invocation shape.
type Config struct {
	// ConcatPath is the muxer binary, e.g. "mkvmerge".
	ConcatPath string
	// OutputPath is the final multiplexed file.
	OutputPath string
}

// DefaultConfig returns mkvmerge as the concatenator, matching the
// append ("+") syntax BuildArgv emits.
func DefaultConfig(outputPath string) Config {
	return Config{ConcatPath: "mkvmerge", OutputPath: outputPath}
}

// BuildArgv builds the concatenator's argv. mkvmerge joins same-codec
// elementary streams with "+" between input paths (spec §6 "the ordered
// list of per-chunk file paths and an output path").
func BuildArgv(outputPath string, chunkPaths []string) []string {
	args := []string{"-o", outputPath}
	for i, p := range chunkPaths {
		if i > 0 {
			args = append(args, "+")
		}
		args = append(args, p)
	}
	return args
}

// Assemble waits on every chunk's Completion — already collected by
// scheduler.Run, which blocks until every worker goroutine has returned —
// and, if every chunk succeeded, invokes the external concatenator over
// their committed files in id order (spec §4.H). If any chunk failed, no
// muxing is attempted and the returned error names every failed chunk
// (spec P6 "assembly reports k as failed").
//
// The concatenator's combined stdout/stderr is attached to the returned
// error's StderrTail on failure, and its exit status is propagated via
// ExitCode (spec §6 "stdout/stderr is surfaced on failure. Exit status is
// propagated").
func Assemble(ctx context.Context, completions []scheduler.Completion, cfg Config) error {
	var failed []string
	paths := make([]string, 0, len(completions))
	for _, c := range completions {
		if c.Err != nil {
			failed = append(failed, fmt.Sprintf("chunk %d: %v", c.ChunkID, c.Err))
			continue
		}
		paths = append(paths, c.Path)
	}
	if len(failed) > 0 {
		return corerr.New(corerr.KindAssemblyFailed, "assembly: "+strings.Join(failed, "; "))
	}
	if len(paths) == 0 {
		return corerr.New(corerr.KindAssemblyFailed, "assembly: no chunks to assemble")
	}

	args := BuildArgv(cfg.OutputPath, paths)
	cmd := exec.CommandContext(ctx, cfg.ConcatPath, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &corerr.Error{
			Kind:       corerr.KindAssemblyFailed,
			Message:    fmt.Sprintf("assembly: concatenator exited (exit %d)", exitCode),
			Underlying: err,
			ExitCode:   exitCode,
			StderrTail: out.String(),
		}
	}
	return nil
}
