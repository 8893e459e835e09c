package charnn

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-charnn/internal/vocab"
)

var tracer = otel.Tracer("charnn")

// TrainerConfig controls the training loop.
type TrainerConfig struct {
	// MaxSteps is the last iteration index; iterations 0..MaxSteps run.
	MaxSteps int
	// SampleEvery is how often (in iterations) a sample is logged along with
	// the smoothed loss. Zero disables sampling.
	SampleEvery  int
	SampleLength int
	// CheckpointEvery saves a snapshot through the Checkpointer every N
	// iterations. Zero disables periodic checkpoints.
	CheckpointEvery int
}

// DefaultTrainerConfig samples 200 symbols every 100 iterations.
func DefaultTrainerConfig(maxSteps int) TrainerConfig {
	return TrainerConfig{
		MaxSteps:     maxSteps,
		SampleEvery:  100,
		SampleLength: 200,
	}
}

// Progress describes one completed iteration.
type Progress struct {
	Iteration  int
	Position   int
	Reset      bool
	Loss       float64
	SmoothLoss float64
}

// ProgressSink receives every completed iteration. Sinks handle their own
// failures; training never stops because of a sink.
type ProgressSink interface {
	Record(p Progress)
}

// Checkpointer persists snapshots during training.
type Checkpointer interface {
	Checkpoint(ctx context.Context, s Snapshot) error
}

// TrainerOption configures optional collaborators.
type TrainerOption func(*Trainer)

// WithProgressSink attaches a sink for per-iteration progress.
func WithProgressSink(s ProgressSink) TrainerOption {
	return func(t *Trainer) { t.sink = s }
}

// WithCheckpointer attaches a checkpointer used every CheckpointEvery iterations.
func WithCheckpointer(c Checkpointer) TrainerOption {
	return func(t *Trainer) { t.ckpt = c }
}

// Trainer walks a corpus window by window, carrying the hidden state between
// consecutive windows and resetting it when the corpus wraps around.
type Trainer struct {
	model *Model
	ids   []int
	cfg   TrainerConfig
	rng   *rand.Rand
	sink  ProgressSink
	ckpt  Checkpointer

	pos        int
	iter       int
	smoothLoss float64
}

// NewTrainer validates the encoded corpus against the model.
func NewTrainer(m *Model, ids []int, cfg TrainerConfig, rng *rand.Rand, opts ...TrainerOption) (*Trainer, error) {
	seq := m.Config.SeqLength
	if len(ids) < seq+1 {
		return nil, fmt.Errorf("%w: %d symbols, need %d", ErrEmptyCorpus, len(ids), seq+1)
	}
	for i, id := range ids {
		if !m.Vocab.Contains(id) {
			return nil, fmt.Errorf("corpus[%d]: %w: id %d", i, vocab.ErrUnknownSymbol, id)
		}
	}

	t := &Trainer{
		model: m,
		ids:   ids,
		cfg:   cfg,
		rng:   rng,
		// expected loss of a uniform predictor over the window
		smoothLoss: -math.Log(1/float64(m.VocabSize())) * float64(seq),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Iteration returns the index of the next iteration to run.
func (t *Trainer) Iteration() int { return t.iter }

// Position returns the corpus cursor.
func (t *Trainer) Position() int { return t.pos }

// SmoothLoss returns the exponentially smoothed loss.
func (t *Trainer) SmoothLoss() float64 { return t.smoothLoss }

// Done reports whether the iteration budget is exhausted.
func (t *Trainer) Done() bool { return t.iter > t.cfg.MaxSteps }

// Run trains until the iteration budget is exhausted or ctx is cancelled.
func (t *Trainer) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "charnn.Train", trace.WithAttributes(
		attribute.Int("max_steps", t.cfg.MaxSteps),
		attribute.Int("corpus_len", len(t.ids)),
		attribute.Int("vocab_size", t.model.VocabSize()),
		attribute.Int("hidden_size", t.model.Config.HiddenSize),
		attribute.Int("seq_length", t.model.Config.SeqLength),
	))
	defer span.End()

	start := time.Now()
	for !t.Done() {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return err
		}
		if _, err := t.Next(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	span.SetAttributes(attribute.Float64("smooth_loss", t.smoothLoss))
	log.Info().
		Int("iterations", t.iter).
		Float64("smooth_loss", t.smoothLoss).
		Dur("elapsed", time.Since(start)).
		Msg("Training complete")
	return nil
}

// nextWindow positions the cursor for the current iteration, resetting the
// hidden state at the start of a pass, and slices the window.
func (t *Trainer) nextWindow() (Window, bool) {
	seq := t.model.Config.SeqLength
	reset := t.iter == 0 || t.pos+seq+1 > len(t.ids)
	if reset {
		copy(t.model.hidden, t.model.ZeroState())
		t.pos = 0
		hiddenResets.Inc()
	}
	return Window{
		Inputs:  t.ids[t.pos : t.pos+seq],
		Targets: t.ids[t.pos+1 : t.pos+seq+1],
	}, reset
}

// Next runs a single iteration.
func (t *Trainer) Next(ctx context.Context) (Progress, error) {
	w, reset := t.nextWindow()
	m := t.model

	if t.cfg.SampleEvery > 0 && t.iter%t.cfg.SampleEvery == 0 {
		text, err := m.SampleText(m.HiddenState(), w.Inputs[0], t.cfg.SampleLength, t.rng)
		if err != nil {
			return Progress{}, fmt.Errorf("iteration %d sample: %w", t.iter, err)
		}
		log.Info().Int("iter", t.iter).Str("sample", text).Msg("Sample")
	}

	stepStart := time.Now()
	rec, err := m.TrainStep(w, m.hidden)
	if err != nil {
		return Progress{}, fmt.Errorf("iteration %d at position %d: %w", t.iter, t.pos, err)
	}
	if err := m.ApplyUpdate(rec); err != nil {
		return Progress{}, fmt.Errorf("iteration %d update: %w", t.iter, err)
	}
	copy(m.hidden, rec.Hidden)
	stepDuration.Observe(time.Since(stepStart).Seconds())

	t.smoothLoss = t.smoothLoss*0.999 + rec.Loss*0.001
	p := Progress{
		Iteration:  t.iter,
		Position:   t.pos,
		Reset:      reset,
		Loss:       rec.Loss,
		SmoothLoss: t.smoothLoss,
	}

	trainIterations.Inc()
	trainWindowLoss.Set(rec.Loss)
	trainSmoothLoss.Set(t.smoothLoss)
	if t.cfg.SampleEvery > 0 && t.iter%t.cfg.SampleEvery == 0 {
		log.Info().Int("iter", t.iter).Float64("loss", t.smoothLoss).Msg("Training progress")
	}
	if t.sink != nil {
		t.sink.Record(p)
	}

	t.pos += m.Config.SeqLength
	t.iter++

	if t.ckpt != nil && t.cfg.CheckpointEvery > 0 && t.iter%t.cfg.CheckpointEvery == 0 {
		if err := t.ckpt.Checkpoint(ctx, m.Snapshot()); err != nil {
			return p, fmt.Errorf("checkpoint at iteration %d: %w", t.iter, err)
		}
	}
	return p, nil
}
