package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-charnn/internal/charnn"
	"github.com/23skdu/longbow-charnn/internal/checkpoint"
	"github.com/23skdu/longbow-charnn/internal/client"
	"github.com/23skdu/longbow-charnn/internal/corpus"
)

var (
	defaults      = charnn.DefaultConfig()
	trainDefaults = charnn.DefaultTrainerConfig(10000)
)

var (
	corpusPath   = flag.String("corpus", "", "Path to the UTF-8 training text")
	loremParas   = flag.Int("lorem", 0, "Train on N generated lorem ipsum paragraphs instead of -corpus")
	normalize    = flag.Bool("nfc", false, "Normalize the corpus to NFC before building the vocabulary")
	hiddenSize   = flag.Int("hidden", defaults.HiddenSize, "Hidden state size")
	seqLength    = flag.Int("seq", defaults.SeqLength, "Truncated BPTT window length")
	learningRate = flag.Float64("lr", defaults.LearningRate, "Adagrad learning rate")
	maxSteps     = flag.Int("steps", trainDefaults.MaxSteps, "Last training iteration (iterations 0..steps run)")
	sampleEvery  = flag.Int("sample-every", trainDefaults.SampleEvery, "Log a sample and the smoothed loss every N iterations (0 disables)")
	sampleLength = flag.Int("sample-length", trainDefaults.SampleLength, "Symbols per training sample")
	seed         = flag.Int64("seed", 1, "Seed for weight initialization and sampling")

	checkpointPath  = flag.String("checkpoint", "", "Write checkpoints to this file")
	checkpointEvery = flag.Int("checkpoint-every", 1000, "Checkpoint every N iterations (0 saves only at the end)")
	resumePath      = flag.String("resume", "", "Restore the model from a checkpoint file")

	generate    = flag.Bool("generate", false, "Generate text from the model instead of training")
	prime       = flag.String("prime", "", "Prime text for -generate (defaults to the first vocabulary symbol)")
	genLength   = flag.Int("length", 200, "Symbols to generate after the prime")
	lossOut     = flag.String("loss-out", "", "Write training progress as an Arrow IPC stream to this file")
	exportBatch = flag.Int("export-batch", 100, "Progress rows per exported Arrow batch")
	serverAddr  = flag.String("server", "", "Longbow server address receiving progress batches (e.g., localhost:3000)")
	datasetName = flag.String("dataset", "charnn_progress", "Target dataset name on server")

	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr    = flag.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)")
	maxConcurrent = flag.Int("max-concurrent", 64, "Maximum number of concurrent generation requests")
	cacheSize     = flag.Int("cache-size", 1024, "Cached generations for seeded requests (0 disables)")

	cpuProfile = flag.String("cpuprofile", "", "Write cpu profile to file")
	enableOTel = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	shutdownTracer := func(context.Context) error { return nil }
	if *enableOTel {
		shutdownTracer, err = initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdownTracer(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		// deferred shutdowns are skipped by Fatal, so flush them first
		stop()
		pprof.StopCPUProfile()
		_ = shutdownTracer(context.Background())
		log.Fatal().Err(err).Msg("charnn failed")
	}
}

func run(ctx context.Context) error {
	rng := rand.New(rand.NewSource(*seed))

	var symbols []rune
	if *corpusPath != "" || *loremParas > 0 {
		var err error
		if symbols, err = loadCorpus(); err != nil {
			return err
		}
	}

	model, err := loadModel(ctx, symbols, rng)
	if err != nil {
		return err
	}
	log.Info().
		Int("vocab_size", model.VocabSize()).
		Int("hidden_size", model.Config.HiddenSize).
		Int("seq_length", model.Config.SeqLength).
		Int("steps_done", model.Steps()).
		Msg("Model ready")

	switch {
	case *generate:
		text, err := generateText(model, rng)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	case *listenAddr != "" || *flightAddr != "":
		return serve(ctx, model)
	}

	if symbols == nil {
		return errors.New("training needs -corpus or -lorem")
	}
	return train(ctx, model, symbols, rng)
}

func loadCorpus() ([]rune, error) {
	if *loremParas > 0 {
		text := corpus.GenerateLorem(*loremParas, *seed)
		return corpus.ReadFrom(strings.NewReader(text), *normalize)
	}
	symbols, err := corpus.Read(*corpusPath, *normalize)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", *corpusPath).Int("symbols", len(symbols)).Msg("Corpus loaded")
	return symbols, nil
}

func loadModel(ctx context.Context, symbols []rune, rng *rand.Rand) (*charnn.Model, error) {
	if *resumePath != "" {
		s, err := checkpoint.Load(ctx, *resumePath)
		if err != nil {
			return nil, err
		}
		m, err := charnn.Restore(s)
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", *resumePath, err)
		}
		log.Info().Str("path", *resumePath).Msg("Model restored")
		return m, nil
	}
	if symbols == nil {
		return nil, errors.New("no model: pass -resume, -corpus or -lorem")
	}
	return charnn.New(symbols, charnn.Config{
		HiddenSize:   *hiddenSize,
		SeqLength:    *seqLength,
		LearningRate: *learningRate,
	}, rng)
}

func generateText(m *charnn.Model, rng *rand.Rand) (string, error) {
	p := *prime
	if p == "" {
		first, err := m.Vocab.Symbol(0)
		if err != nil {
			return "", err
		}
		p = string(first)
	}
	return m.Generate(p, *genLength, rng)
}

func train(ctx context.Context, m *charnn.Model, symbols []rune, rng *rand.Rand) error {
	ids, err := m.Vocab.EncodeRunes(symbols)
	if err != nil {
		return fmt.Errorf("encode corpus: %w", err)
	}

	cfg := charnn.TrainerConfig{
		MaxSteps:     *maxSteps,
		SampleEvery:  *sampleEvery,
		SampleLength: *sampleLength,
	}
	var opts []charnn.TrainerOption
	if *checkpointPath != "" {
		cfg.CheckpointEvery = *checkpointEvery
		opts = append(opts, charnn.WithCheckpointer(checkpoint.File{Path: *checkpointPath}))
	}

	exporter, err := newExporter(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	if exporter != nil {
		opts = append(opts, charnn.WithProgressSink(exporter))
		defer func() {
			if err := exporter.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close progress export")
			}
		}()
	}

	trainer, err := charnn.NewTrainer(m, ids, cfg, rng, opts...)
	if err != nil {
		return err
	}

	runErr := trainer.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		log.Warn().Int("iter", trainer.Iteration()).Msg("Training interrupted")
		runErr = nil
	}

	if *checkpointPath != "" {
		// background context: the final save must happen even after an interrupt
		if err := checkpoint.Save(context.Background(), *checkpointPath, m.Snapshot()); err != nil {
			return errors.Join(runErr, err)
		}
		log.Info().Str("path", *checkpointPath).Int("iter", trainer.Iteration()).Msg("Checkpoint saved")
	}
	return runErr
}

// newExporter wires the optional progress outputs. It returns nil when none
// is configured.
func newExporter(ctx context.Context) (*client.ProgressExporter, error) {
	mem := memory.NewGoAllocator()
	var sinks []client.BatchSink

	if *lossOut != "" {
		f, err := os.Create(*lossOut)
		if err != nil {
			return nil, fmt.Errorf("create loss output: %w", err)
		}
		sinks = append(sinks, fileSink{IPCSink: client.NewIPCSink(f, mem), f: f})
	}

	if *serverAddr != "" {
		fc, err := client.NewFlightClient(*serverAddr)
		if err != nil {
			return nil, err
		}
		log.Info().Str("addr", *serverAddr).Str("dataset", *datasetName).Msg("Exporting progress to Longbow")
		sinks = append(sinks, flightSink{
			FlightSink: client.NewFlightSink(fc, *datasetName, 3, 30*time.Second, 10*time.Second),
			fc:         fc,
		})
	}

	if len(sinks) == 0 {
		return nil, nil
	}
	return client.NewProgressExporter(ctx, mem, *exportBatch, sinks...), nil
}

// fileSink closes the output file after the IPC end-of-stream marker.
type fileSink struct {
	*client.IPCSink
	f *os.File
}

func (s fileSink) Close() error {
	return errors.Join(s.IPCSink.Close(), s.f.Close())
}

type flightSink struct {
	*client.FlightSink
	fc *client.FlightClient
}

func (s flightSink) Close() error {
	return s.fc.Close()
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("charnn"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
