package worker

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
)

// ProgressLine is one parsed `frame <i>/<N> fps <inst> avg <avg>` line from
// the encoder's stderr (spec §6 "Encoder stderr").
type ProgressLine struct {
	Frame, Total int
	FPS, Avg     float64
}

var progressRe = regexp.MustCompile(`^frame (\d+)/(\d+) fps ([\d.]+) avg ([\d.]+)`)

// stderrTailSize bounds how many unrecognized lines are kept for
// EncoderCrashed's stderr_tail (spec §7), so a runaway encoder can't
// exhaust memory logging to a worker.
const stderrTailSize = 20

// scanStderr reads r line by line, calling onProgress for each parsed
// progress-3 line and returning the trailing unrecognized lines (most
// recent last) for error diagnostics (spec §6 "other lines are retained
// for error diagnostics").
func scanStderr(r io.Reader, onProgress func(ProgressLine)) []string {
	tail := make([]string, 0, stderrTailSize)
	scanner := bufio.NewScanner(r)
	// Encoder progress lines are short, but be generous to avoid
	// bufio.Scanner choking on an unexpectedly long diagnostic line.
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		if m := progressRe.FindStringSubmatch(line); m != nil {
			if onProgress != nil {
				frame, _ := strconv.Atoi(m[1])
				total, _ := strconv.Atoi(m[2])
				fps, _ := strconv.ParseFloat(m[3], 64)
				avg, _ := strconv.ParseFloat(m[4], 64)
				onProgress(ProgressLine{Frame: frame, Total: total, FPS: fps, Avg: avg})
			}
			continue
		}
		tail = append(tail, line)
		if len(tail) > stderrTailSize {
			tail = tail[len(tail)-stderrTailSize:]
		}
	}
	return tail
}
