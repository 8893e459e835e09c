// Package checkpoint persists model snapshots as CBOR files.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/23skdu/longbow-charnn/internal/charnn"
)

// FormatVersion is written into every checkpoint file.
const FormatVersion = 1

// ErrVersion is returned when a checkpoint was written by an unknown format version.
var ErrVersion = errors.New("checkpoint: unsupported format version")

var tracer = otel.Tracer("charnn-checkpoint")

type envelope struct {
	Version  int             `cbor:"version"`
	Snapshot charnn.Snapshot `cbor:"snapshot"`
}

var encMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	// keep float64 bits exact
	opts.ShortestFloat = cbor.ShortestFloatNone
	var err error
	if encMode, err = opts.EncMode(); err != nil {
		panic(err)
	}
}

// Encode writes s to w.
func Encode(w io.Writer, s charnn.Snapshot) error {
	if err := encMode.NewEncoder(w).Encode(envelope{Version: FormatVersion, Snapshot: s}); err != nil {
		return fmt.Errorf("checkpoint encode: %w", err)
	}
	return nil
}

// Decode reads a snapshot written by Encode.
func Decode(r io.Reader) (charnn.Snapshot, error) {
	var env envelope
	if err := cbor.NewDecoder(r).Decode(&env); err != nil {
		return charnn.Snapshot{}, fmt.Errorf("checkpoint decode: %w", err)
	}
	if env.Version != FormatVersion {
		return charnn.Snapshot{}, fmt.Errorf("%w: %d", ErrVersion, env.Version)
	}
	return env.Snapshot, nil
}

// Save writes s to path. The file is written next to path and renamed into
// place, so readers never observe a partial checkpoint.
func Save(ctx context.Context, path string, s charnn.Snapshot) error {
	_, span := tracer.Start(ctx, "checkpoint.Save")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("checkpoint save: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, s); err != nil {
		tmp.Close()
		span.RecordError(err)
		return err
	}
	if err := tmp.Close(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("checkpoint save: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		span.RecordError(err)
		return fmt.Errorf("checkpoint save: %w", err)
	}
	return nil
}

// Load reads the snapshot stored at path.
func Load(ctx context.Context, path string) (charnn.Snapshot, error) {
	_, span := tracer.Start(ctx, "checkpoint.Load")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		span.RecordError(err)
		return charnn.Snapshot{}, fmt.Errorf("checkpoint load: %w", err)
	}
	defer f.Close()

	s, err := Decode(f)
	if err != nil {
		span.RecordError(err)
		return charnn.Snapshot{}, err
	}
	return s, nil
}

// File is a charnn.Checkpointer that overwrites a single checkpoint file.
type File struct {
	Path string
}

// Checkpoint implements charnn.Checkpointer.
func (f File) Checkpoint(ctx context.Context, s charnn.Snapshot) error {
	if err := Save(ctx, f.Path, s); err != nil {
		return err
	}
	step := 0
	if s.Optimizer != nil {
		step = s.Optimizer.Step
	}
	log.Debug().Str("path", f.Path).Int("step", step).Msg("Checkpoint written")
	return nil
}
