package avchunk

import (
	"context"
	"errors"
	"testing"

	"github.com/five82/avchunk/internal/config"
)

func TestRunValidatesBeforeOpeningSource(t *testing.T) {
	// No WithTargetBand: Validate must reject this before Run ever tries
	// to open the (nonexistent) input.
	enc, err := New("/no/such/input.mkv", "/no/such/output.mkv", t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = enc.Run(context.Background(), nil)
	if !errors.Is(err, config.ErrInvalidTargetRange) {
		t.Fatalf("Run() error = %v, want %v", err, config.ErrInvalidTargetRange)
	}
}

func TestOptionsApplyBeforeValidate(t *testing.T) {
	enc, err := New("/no/such/input.mkv", "/no/such/output.mkv", t.TempDir(),
		WithWorkers(0),
		WithCRFRange(10, 20),
		WithTargetBand(70, 75),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if enc.cfg.Workers != 0 {
		t.Fatalf("Workers = %d, want 0 (invalid, to exercise ErrInvalidWorkers)", enc.cfg.Workers)
	}

	_, err = enc.Run(context.Background(), nil)
	if !errors.Is(err, config.ErrInvalidWorkers) {
		t.Fatalf("Run() error = %v, want %v", err, config.ErrInvalidWorkers)
	}
}

func TestRunOpensSourceOnceConfigValid(t *testing.T) {
	enc, err := New("/no/such/input.mkv", "/no/such/output.mkv", t.TempDir(),
		WithTargetBand(70, 75),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Config is now valid, so Run proceeds to source.Open, which fails
	// because no decoder backend is registered in a cgo-free test binary.
	_, err = enc.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("Run() error = nil, want a source-open failure")
	}
}
