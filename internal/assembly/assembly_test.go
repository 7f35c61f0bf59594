package assembly

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/five82/avchunk/internal/corerr"
	"github.com/five82/avchunk/internal/scheduler"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestBuildArgv(t *testing.T) {
	got := BuildArgv("/out/final.mkv", []string{"/w/chunk_0000.ivf", "/w/chunk_0001.ivf", "/w/chunk_0002.ivf"})
	want := []string{"-o", "/out/final.mkv", "/w/chunk_0000.ivf", "+", "/w/chunk_0001.ivf", "+", "/w/chunk_0002.ivf"}
	if len(got) != len(want) {
		t.Fatalf("BuildArgv = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("BuildArgv[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAssembleConcatenatesInOrder(t *testing.T) {
	dir := t.TempDir()
	chunk0 := filepath.Join(dir, "chunk_0000.ivf")
	chunk1 := filepath.Join(dir, "chunk_0001.ivf")
	if err := os.WriteFile(chunk0, []byte("AAA"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(chunk1, []byte("BBB"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Stand-in for a real muxer: cats every path after "-o <out>" into out,
	// preserving argv order, to confirm assembly passes chunks in id order.
	concat := writeScript(t, dir, "fake-concat.sh", `
out=""
prev=""
files=""
for arg in "$@"; do
  if [ "$prev" = "-o" ]; then out="$arg"; prev="$arg"; continue; fi
  if [ "$arg" = "+" ]; then prev="$arg"; continue; fi
  files="$files $arg"
  prev="$arg"
done
cat $files > "$out"
`)

	completions := []scheduler.Completion{
		{ChunkID: 0, Path: chunk0},
		{ChunkID: 1, Path: chunk1},
	}
	outputPath := filepath.Join(dir, "final.ivf")
	cfg := Config{ConcatPath: concat, OutputPath: outputPath}

	if err := Assemble(context.Background(), completions, cfg); err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != "AAABBB" {
		t.Errorf("output = %q, want %q (chunks concatenated in id order)", got, "AAABBB")
	}
}

func TestAssembleFailedChunkSkipsConcatenator(t *testing.T) {
	dir := t.TempDir()
	sentinel := filepath.Join(dir, "invoked")
	concat := writeScript(t, dir, "fake-concat.sh", "touch "+sentinel+"\n")

	completions := []scheduler.Completion{
		{ChunkID: 0, Path: filepath.Join(dir, "chunk_0000.ivf")},
		{ChunkID: 1, Err: corerr.EncoderCrashed("boom", 1, "segfault")},
	}
	cfg := Config{ConcatPath: concat, OutputPath: filepath.Join(dir, "final.ivf")}

	err := Assemble(context.Background(), completions, cfg)
	if err == nil {
		t.Fatal("Assemble should fail when a chunk has an Err")
	}
	if !corerr.Is(err, corerr.KindAssemblyFailed) {
		t.Errorf("Assemble error kind = %v, want KindAssemblyFailed", err)
	}
	if _, statErr := os.Stat(sentinel); !os.IsNotExist(statErr) {
		t.Error("concatenator should not have been invoked when a chunk failed")
	}
}

func TestAssembleConcatenatorExitPropagates(t *testing.T) {
	dir := t.TempDir()
	chunk0 := filepath.Join(dir, "chunk_0000.ivf")
	if err := os.WriteFile(chunk0, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	concat := writeScript(t, dir, "fake-concat.sh", "echo 'mux error' 1>&2\nexit 7\n")

	completions := []scheduler.Completion{{ChunkID: 0, Path: chunk0}}
	cfg := Config{ConcatPath: concat, OutputPath: filepath.Join(dir, "final.ivf")}

	err := Assemble(context.Background(), completions, cfg)
	if err == nil {
		t.Fatal("Assemble should surface the concatenator's non-zero exit")
	}
	var cerr *corerr.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *corerr.Error", err)
	}
	if cerr.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", cerr.ExitCode)
	}
	if !strings.Contains(cerr.StderrTail, "mux error") {
		t.Errorf("StderrTail = %q, want it to contain %q", cerr.StderrTail, "mux error")
	}
}

func TestAssembleEmptyCompletions(t *testing.T) {
	cfg := Config{ConcatPath: "/bin/true", OutputPath: "/tmp/final.ivf"}
	err := Assemble(context.Background(), nil, cfg)
	if err == nil || !corerr.Is(err, corerr.KindAssemblyFailed) {
		t.Errorf("Assemble(nil) = %v, want a KindAssemblyFailed error", err)
	}
}
