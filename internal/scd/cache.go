package scd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/five82/avchunk/internal/chunkspec"
	"github.com/five82/avchunk/internal/corerr"
	"github.com/five82/avchunk/internal/ratespec"
)

// CacheKey identifies the inputs a cached plan was computed against, so a
// stale cache can be detected as Fail{PlanMismatch} (spec §6).
type CacheKey struct {
	Frames int
	Rate   ratespec.Rate
	W, H   int
}

// CachePath returns the plain-text cache path for a given input, following
// the "scd_<input>.txt" convention.
func CachePath(workDir, inputPath string) string {
	base := filepath.Base(inputPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(workDir, fmt.Sprintf("scd_%s.txt", name))
}

// Load reads a cached plan file. The file holds one "start end" pair per
// line plus a leading "# key frames rateNum rateDen w h" comment line used
// to validate the cache against the current input (spec §6: "when present
// and matching N, R, size, SCD is skipped").
func Load(path string, key CacheKey) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	var specs []chunkspec.Spec
	sawKey := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			fields := strings.Fields(strings.TrimPrefix(line, "#"))
			if len(fields) != 6 || fields[0] != "key" {
				continue
			}
			frames, _ := strconv.Atoi(fields[1])
			num, _ := strconv.ParseUint(fields[2], 10, 32)
			den, _ := strconv.ParseUint(fields[3], 10, 32)
			w, _ := strconv.Atoi(fields[4])
			h, _ := strconv.Atoi(fields[5])
			cached := CacheKey{Frames: frames, Rate: ratespec.Rate{Num: uint32(num), Den: uint32(den)}, W: w, H: h}
			if cached != key {
				return nil, corerr.New(corerr.KindPlanMismatch, "cached scd plan does not match current input")
			}
			sawKey = true
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, corerr.New(corerr.KindPlanMismatch, fmt.Sprintf("malformed cache line %q", line))
		}
		start, err1 := strconv.Atoi(fields[0])
		end, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			return nil, corerr.New(corerr.KindPlanMismatch, fmt.Sprintf("malformed cache line %q", line))
		}
		specs = append(specs, chunkspec.Spec{ID: len(specs), Start: start, End: end, Hard: true})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawKey {
		return nil, corerr.New(corerr.KindPlanMismatch, "cache file missing key header")
	}

	if err := validateCover(specs, key.Frames); err != nil {
		return nil, corerr.Wrap(corerr.KindPlanMismatch, "cached plan fails cover validation", err)
	}

	return &Plan{Specs: specs}, nil
}

// Save writes a plan to the cache path, keyed against the given input
// identity (spec §6).
func Save(path string, key CacheKey, plan *Plan) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	if _, err := fmt.Fprintf(w, "# key %d %d %d %d %d\n", key.Frames, key.Rate.Num, key.Rate.Den, key.W, key.H); err != nil {
		return err
	}
	for _, s := range plan.Specs {
		if _, err := fmt.Fprintf(w, "%d %d\n", s.Start, s.End); err != nil {
			return err
		}
	}
	return w.Flush()
}

func validateCover(specs []chunkspec.Spec, n int) error {
	if len(specs) == 0 {
		if n == 0 {
			return nil
		}
		return fmt.Errorf("empty plan for %d frames", n)
	}
	if specs[0].Start != 0 {
		return fmt.Errorf("plan does not start at 0")
	}
	for i := 1; i < len(specs); i++ {
		if specs[i].Start != specs[i-1].End {
			return fmt.Errorf("gap or overlap between chunk %d and %d", i-1, i)
		}
	}
	if specs[len(specs)-1].End != n {
		return fmt.Errorf("plan does not cover through frame %d", n)
	}
	return nil
}
