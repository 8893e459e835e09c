package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-charnn/internal/charnn"
)

// ErrCircuitOpen is returned when a sink skips a write because its circuit
// breaker is open.
var ErrCircuitOpen = errors.New("client: circuit open")

// BatchSink consumes progress batches.
type BatchSink interface {
	WriteBatch(ctx context.Context, rec arrow.RecordBatch) error
	Close() error
}

// IPCSink writes progress batches as an Arrow IPC stream.
type IPCSink struct {
	w *ipc.Writer
}

// NewIPCSink starts an IPC stream with ProgressSchema on w.
func NewIPCSink(w io.Writer, mem memory.Allocator) *IPCSink {
	return &IPCSink{w: ipc.NewWriter(w, ipc.WithSchema(ProgressSchema), ipc.WithAllocator(mem))}
}

func (s *IPCSink) WriteBatch(_ context.Context, rec arrow.RecordBatch) error {
	if err := s.w.Write(rec); err != nil {
		return fmt.Errorf("ipc write: %w", err)
	}
	return nil
}

// Close writes the end-of-stream marker. It does not close the underlying writer.
func (s *IPCSink) Close() error {
	return s.w.Close()
}

// Putter is the subset of FlightClient used to push batches.
type Putter interface {
	DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error
}

// FlightSink pushes progress batches to a dataset, guarded by a circuit
// breaker so an unreachable server does not stall training.
type FlightSink struct {
	putter  Putter
	dataset string
	breaker *CircuitBreaker
	timeout time.Duration
}

// NewFlightSink creates a sink that trips after maxFailures consecutive errors.
func NewFlightSink(p Putter, dataset string, maxFailures int, cooldown, timeout time.Duration) *FlightSink {
	return &FlightSink{
		putter:  p,
		dataset: dataset,
		breaker: NewCircuitBreaker(maxFailures, cooldown),
		timeout: timeout,
	}
}

func (s *FlightSink) WriteBatch(ctx context.Context, rec arrow.RecordBatch) error {
	if !s.breaker.Allow() {
		return ErrCircuitOpen
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.putter.DoPut(ctx, s.dataset, rec); err != nil {
		s.breaker.Failure()
		return err
	}
	s.breaker.Success()
	return nil
}

// Breaker exposes the sink's circuit breaker state.
func (s *FlightSink) Breaker() *CircuitBreaker {
	return s.breaker
}

func (s *FlightSink) Close() error {
	return nil
}

// ProgressExporter is a charnn.ProgressSink that buffers progress rows and
// hands them to its sinks in batches. Sink failures are logged and never
// reach the trainer.
type ProgressExporter struct {
	ctx       context.Context
	builder   *RecordBatchBuilder
	batchSize int
	sinks     []BatchSink

	mu      sync.Mutex
	pending []charnn.Progress
}

var _ charnn.ProgressSink = (*ProgressExporter)(nil)

// NewProgressExporter flushes every batchSize rows.
func NewProgressExporter(ctx context.Context, mem memory.Allocator, batchSize int, sinks ...BatchSink) *ProgressExporter {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &ProgressExporter{
		ctx:       ctx,
		builder:   NewRecordBatchBuilder(mem),
		batchSize: batchSize,
		sinks:     sinks,
		pending:   make([]charnn.Progress, 0, batchSize),
	}
}

// Record implements charnn.ProgressSink.
func (e *ProgressExporter) Record(p charnn.Progress) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending = append(e.pending, p)
	if len(e.pending) >= e.batchSize {
		e.flushLocked()
	}
}

// Flush sends any buffered rows.
func (e *ProgressExporter) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushLocked()
}

func (e *ProgressExporter) flushLocked() {
	rec := e.builder.BuildProgressBatch(e.pending)
	e.pending = e.pending[:0]
	if rec == nil {
		return
	}
	defer rec.Release()

	for _, s := range e.sinks {
		if err := s.WriteBatch(e.ctx, rec); err != nil {
			if errors.Is(err, ErrCircuitOpen) {
				log.Debug().Msg("Progress export skipped, circuit open")
				continue
			}
			log.Warn().Err(err).Int64("rows", rec.NumRows()).Msg("Progress export failed")
		}
	}
}

// Close flushes and closes every sink.
func (e *ProgressExporter) Close() error {
	e.Flush()
	var errs []error
	for _, s := range e.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
