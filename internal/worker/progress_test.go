package worker

import (
	"strings"
	"testing"
)

func TestScanStderrParsesProgressAndRetainsOthers(t *testing.T) {
	input := strings.Join([]string{
		"SVT-AV1 startup banner",
		"frame 1/100 fps 42.5 avg 42.5",
		"frame 2/100 fps 40.0 avg 41.25",
		"a stray diagnostic line",
	}, "\n") + "\n"

	var lines []ProgressLine
	tail := scanStderr(strings.NewReader(input), func(p ProgressLine) {
		lines = append(lines, p)
	})

	if len(lines) != 2 {
		t.Fatalf("parsed %d progress lines, want 2", len(lines))
	}
	if lines[1].Frame != 2 || lines[1].Total != 100 || lines[1].FPS != 40.0 || lines[1].Avg != 41.25 {
		t.Errorf("second progress line = %+v, unexpected fields", lines[1])
	}

	wantTail := []string{"SVT-AV1 startup banner", "a stray diagnostic line"}
	if len(tail) != len(wantTail) {
		t.Fatalf("tail = %v, want %v", tail, wantTail)
	}
	for i := range wantTail {
		if tail[i] != wantTail[i] {
			t.Errorf("tail[%d] = %q, want %q", i, tail[i], wantTail[i])
		}
	}
}

func TestScanStderrBoundsTailSize(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < stderrTailSize+10; i++ {
		sb.WriteString("noise line\n")
	}
	tail := scanStderr(strings.NewReader(sb.String()), nil)
	if len(tail) != stderrTailSize {
		t.Errorf("tail length = %d, want %d", len(tail), stderrTailSize)
	}
}
