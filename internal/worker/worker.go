// Package worker owns the encoder subprocess lifecycle (component F):
// argv construction (argv.go), stdin streaming of a chunk buffer, stderr
// progress-3 parsing (progress.go), and atomic output rename.
//
// stderr is scanned for progress-3 lines (spec §6) instead of being
// forwarded raw, and cancellation terminates the encoder's process group
// via internal/procutil instead of relying on exec.CommandContext's
// immediate SIGKILL.
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/five82/avchunk/internal/chunkbuf"
	"github.com/five82/avchunk/internal/chunkspec"
	"github.com/five82/avchunk/internal/corerr"
	"github.com/five82/avchunk/internal/procutil"
	"github.com/five82/avchunk/internal/ratespec"
)

// Config holds the per-process encoder settings shared by every probe.
type Config struct {
	// EncoderPath is the encoder executable, resolved once at startup
	// (spec §1 "the encoder executable itself: opaque process").
	EncoderPath string
	// Passthrough is the user's pass-through argument string, split into
	// argv form, inserted verbatim before --crf (spec §6).
	Passthrough []string
}

// DefaultConfig returns a Config naming the conventional AV1 encoder
// binary used throughout the example pack.
func DefaultConfig() Config {
	return Config{EncoderPath: "SvtAv1EncApp"}
}

// Result is one completed encode's output.
type Result struct {
	Path       string
	Size       uint64
	StderrTail []string
}


// Progress represents encoding progress information across all chunks.
type Progress struct {
	ChunksComplete int
	ChunksTotal    int
	FramesComplete int
	FramesTotal    int
	BytesComplete  uint64
}

// Percent returns the completion percentage.
func (p Progress) Percent() float64 {
	if p.FramesTotal == 0 {
		return 0
	}
	return float64(p.FramesComplete) / float64(p.FramesTotal) * 100
}

// Encode runs one probe: it spawns the encoder, streams buf's frames to
// its stdin, parses stderr progress-3 lines, and on success atomically
// renames the temp output to outputPath (spec §6 "Written to
// chunk_<id>.ivf.tmp and renamed on success"). On any failure the temp
// file is removed before returning (spec P6 "without leaking temp
// files").
//
// ctx cancellation terminates the encoder's process group (SIGTERM, then
// SIGKILL after procutil.Grace) rather than returning immediately; the
// caller still observes ctx.Err() once the subprocess has actually exited.
func Encode(
	ctx context.Context,
	cfg Config,
	buf *chunkbuf.Buffer,
	w, h int,
	rate ratespec.Rate,
	color chunkspec.ColorMeta,
	crf float64,
	outputPath string,
	onProgress func(ProgressLine),
) (Result, error) {
	tmpPath := outputPath + ".tmp"
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	args := BuildArgv(w, h, rate, color, cfg.Passthrough, crf, tmpPath)
	cmd := exec.Command(cfg.EncoderPath, args...)
	procutil.Setpgid(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, corerr.Wrap(corerr.KindIO, "worker: create stdin pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, corerr.Wrap(corerr.KindIO, "worker: create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, corerr.Wrap(corerr.KindIO, "worker: start encoder", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			procutil.Terminate(cmd, done)
		case <-done:
		}
	}()

	var tail []string
	tailDone := make(chan struct{})
	go func() {
		tail = scanStderr(stderr, onProgress)
		close(tailDone)
	}()

	writeErr := streamFrames(buf, stdin)
	_ = stdin.Close()

	waitErr := cmd.Wait()
	close(done)
	<-tailDone

	if ctx.Err() != nil {
		return Result{}, corerr.Cancelled()
	}

	if writeErr != nil {
		return Result{}, corerr.Wrap(corerr.KindIO, "worker: write stdin", writeErr)
	}

	if waitErr != nil {
		exitCode := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return Result{}, corerr.EncoderCrashed(
			fmt.Sprintf("worker: encoder exited: %v", waitErr), exitCode, strings.Join(tail, "\n"))
	}

	stat, err := os.Stat(tmpPath)
	if err != nil {
		return Result{}, corerr.Wrap(corerr.KindIO, "worker: stat output", err)
	}
	if stat.Size() == 0 {
		// spec §4.F step 5: exit status 0 with an empty output file is still
		// EncoderCrashed, not a successful zero-byte chunk.
		return Result{}, corerr.EncoderCrashed(
			"worker: encoder exited 0 but produced an empty output file", 0, strings.Join(tail, "\n"))
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return Result{}, corerr.Wrap(corerr.KindIO, "worker: rename output", err)
	}
	committed = true

	return Result{Path: outputPath, Size: uint64(stat.Size()), StderrTail: tail}, nil
}

func streamFrames(buf *chunkbuf.Buffer, w io.Writer) error {
	// NOTE: the chunkbuf.Scratch lives for the duration of one probe; it
	// is not shared across concurrent probes, matching one Scratch per
	// worker goroutine (spec §4.C).
	scratch := &chunkbuf.Scratch{}
	n := buf.Spec.Frames()
	for i := 0; i < n; i++ {
		if err := buf.StreamPlanar(w, i, scratch); err != nil {
			return err
		}
	}
	return nil
}

// ProbePath is the per-round output path for one chunk's TQ search, kept
// distinct from the committed chunk_<id>.ivf so multiple rounds can be
// probed without clobbering each other (spec §4.C "chunk buffer reuse
// across TQ rounds").
func ProbePath(workDir string, chunkID, round int) string {
	return fmt.Sprintf("%s/chunk_%04d_r%02d.ivf", workDir, chunkID, round)
}

// FinalPath is the committed per-chunk output path (spec §6 "A file named
// chunk_<id>.ivf").
func FinalPath(workDir string, chunkID int) string {
	return fmt.Sprintf("%s/chunk_%04d.ivf", workDir, chunkID)
}

// Commit promotes round's probe output to the chunk's final path once TQ
// has picked a winner, and removes every other round's probe file.
func Commit(workDir string, chunkID, winningRound, totalRounds int) error {
	final := FinalPath(workDir, chunkID)
	winner := ProbePath(workDir, chunkID, winningRound)
	if err := os.Rename(winner, final); err != nil {
		return corerr.Wrap(corerr.KindIO, "worker: commit chunk output", err)
	}
	for r := 1; r <= totalRounds; r++ {
		if r == winningRound {
			continue
		}
		_ = os.Remove(ProbePath(workDir, chunkID, r))
	}
	return nil
}
