package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-charnn/internal/cache"
	"github.com/23skdu/longbow-charnn/internal/charnn"
	"github.com/23skdu/longbow-charnn/internal/vocab"
)

var (
	generateRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "charnn_generate_requests_total",
		Help: "Generation requests by outcome",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "charnn_request_duration_seconds",
		Help:    "Time spent processing generate requests",
		Buckets: prometheus.DefBuckets,
	})
)

const (
	// maxGenerateLength bounds the prime plus generated symbols of one request.
	maxGenerateLength = 100000
	// maxRequestBytes fits a prime of maxGenerateLength four-byte runes.
	maxRequestBytes = 4*maxGenerateLength + 1024
)

var (
	errBadRequest = errors.New("bad request")
	errBusy       = errors.New("server busy")
)

// GenerateRequest asks for Length symbols continuing Prime. Requests with a
// Seed are deterministic and may be served from the cache.
type GenerateRequest struct {
	Prime  string `cbor:"prime"`
	Length int    `cbor:"length"`
	Seed   *int64 `cbor:"seed,omitempty"`
}

type GenerateResponse struct {
	Text string `cbor:"text"`
}

type Server struct {
	model *charnn.Model
	cache cache.TextCache
	sem   *semaphore.Weighted

	mu  sync.Mutex
	rng *rand.Rand
}

// NewServer serves generations from m. The model must not be trained while
// the server runs. c may be nil.
func NewServer(m *charnn.Model, c cache.TextCache, maxConcurrent int, seed int64) *Server {
	return &Server{
		model: m,
		cache: c,
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

var tracer = otel.Tracer("charnn-server")

func cacheKey(req GenerateRequest) string {
	return fmt.Sprintf("%d|%d|%s", *req.Seed, req.Length, req.Prime)
}

// Generate runs one request under admission control.
func (s *Server) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "Generate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("length", req.Length),
		attribute.Bool("seeded", req.Seed != nil),
	)

	if req.Prime == "" {
		return "", fmt.Errorf("%w: empty prime", errBadRequest)
	}
	if req.Length < 0 || req.Length > maxGenerateLength {
		return "", fmt.Errorf("%w: length %d outside [0,%d]", errBadRequest, req.Length, maxGenerateLength)
	}
	if n := utf8.RuneCountInString(req.Prime); n+req.Length > maxGenerateLength {
		return "", fmt.Errorf("%w: prime of %d symbols plus length %d exceeds %d", errBadRequest, n, req.Length, maxGenerateLength)
	}

	cacheable := req.Seed != nil && s.cache != nil
	if cacheable {
		if text, ok := s.cache.Get(cacheKey(req)); ok {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return text, nil
		}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		return "", fmt.Errorf("%w: %v", errBusy, err)
	}
	defer s.sem.Release(1)

	var rng *rand.Rand
	if req.Seed != nil {
		rng = rand.New(rand.NewSource(*req.Seed))
	} else {
		s.mu.Lock()
		rng = rand.New(rand.NewSource(s.rng.Int63()))
		s.mu.Unlock()
	}

	text, err := s.model.Generate(req.Prime, req.Length, rng)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if cacheable {
		s.cache.Put(cacheKey(req), text)
	}
	return text, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, vocab.ErrUnknownSymbol), errors.Is(err, charnn.ErrShape):
		return http.StatusBadRequest
	case errors.Is(err, errBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			generateRequests.WithLabelValues("too_large").Inc()
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		generateRequests.WithLabelValues("bad_request").Inc()
		http.Error(w, fmt.Sprintf("Bad Request: %v", err), http.StatusBadRequest)
		return
	}

	var req GenerateRequest
	if err := cbor.Unmarshal(body, &req); err != nil {
		generateRequests.WithLabelValues("bad_request").Inc()
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}

	text, err := s.Generate(r.Context(), req)
	if err != nil {
		code := statusFor(err)
		generateRequests.WithLabelValues(http.StatusText(code)).Inc()
		if code == http.StatusInternalServerError {
			log.Error().Err(err).Msg("Generation failed")
		}
		http.Error(w, err.Error(), code)
		return
	}

	resp, err := cbor.Marshal(GenerateResponse{Text: text})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generateRequests.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/generate", s.handleGenerate)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// serve runs the HTTP and Flight servers that are configured until ctx is done.
func serve(ctx context.Context, m *charnn.Model) error {
	var c cache.TextCache
	if *cacheSize > 0 {
		c = cache.NewMapCache(*cacheSize)
	}
	srv := NewServer(m, c, *maxConcurrent, *seed)
	errCh := make(chan error, 2)

	if *listenAddr != "" {
		hs := &http.Server{Addr: *listenAddr, Handler: srv.routes()}
		go func() {
			log.Info().Str("addr", *listenAddr).Msg("Starting charnn HTTP Server")
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = hs.Shutdown(shutdownCtx)
		}()
	}

	if *flightAddr != "" {
		fs, err := newFlightServer(*flightAddr, srv)
		if err != nil {
			return err
		}
		go func() {
			log.Info().Str("addr", fs.Addr().String()).Msg("Starting charnn Flight Server")
			if err := fs.Serve(); err != nil {
				errCh <- fmt.Errorf("flight server: %w", err)
			}
		}()
		defer fs.Shutdown()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}
