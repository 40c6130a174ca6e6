// cmd/server/server.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/tycho01/parsz/internal/config"
	"github.com/tycho01/parsz/internal/monitoring"
	"github.com/tycho01/parsz/internal/output"
	"github.com/tycho01/parsz/internal/parselet"
	"github.com/tycho01/parsz/internal/pipeline"
	"github.com/tycho01/parsz/internal/scraper"
	"github.com/tycho01/parsz/internal/security"
	"github.com/tycho01/parsz/internal/utils"
	"github.com/tycho01/parsz/pkg/api"
	"github.com/tycho01/parsz/pkg/types"
)

// Error kinds returned in types.ErrorResponse.
const (
	kindRequest   = "request"
	kindGrammar   = "grammar"
	kindFetch     = "fetch"
	kindTransform = "transform"
	kindOutput    = "output"
	kindTimeout   = "timeout"
	kindInternal  = "internal"
	kindForbidden = "forbidden"
)

// Server serves the extraction API.
type Server struct {
	mu     sync.RWMutex
	cfg    *config.Config
	client *api.Client
	opts   []api.Option

	logger  utils.Logger
	metrics *monitoring.Metrics
	health  *monitoring.HealthManager

	// sink stores every successful extraction when the output section
	// names a database.
	sink   output.Writer
	sinkMu sync.Mutex
}

// NewServer builds the API client, metrics and health checks for cfg. An
// extra option replaces, for example, the fetcher in tests.
func NewServer(ctx context.Context, cfg *config.Config, logger utils.Logger, opts ...api.Option) (*Server, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	metrics := monitoring.NewMetrics(monitoring.MetricsConfig{
		Namespace:       cfg.Metrics.Namespace,
		EnableGoMetrics: true,
	})

	opts = append([]api.Option{api.WithLogger(logger), api.WithMetrics(metrics)}, opts...)
	client, err := api.NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		client:  client,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		health:  monitoring.NewHealthManager(version),
	}
	s.health.RegisterCheck(monitoring.GoroutineHealthCheck(10000))

	if cfg.Output.IsDatabase() || cfg.Output.Format == config.FormatMongoDB {
		sink, err := output.New(ctx, output.Config{
			Format:     cfg.Output.Format,
			DSN:        cfg.Output.DSN,
			Table:      cfg.Output.Table,
			URI:        cfg.Output.URI,
			Database:   cfg.Output.Database,
			Collection: cfg.Output.Collection,
		}, nil, metrics)
		if err != nil {
			client.Close()
			return nil, err
		}
		s.sink = sink
		if p, ok := sink.(output.Pinger); ok {
			s.health.RegisterCheck(monitoring.PingHealthCheck("output", p.Ping))
		}
	}

	return s, nil
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/health", s.health.HealthHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	if s.cfg.Server.APIKey != "" {
		apiRouter.Use(authMiddleware(s.cfg.Server.APIKey))
	}
	if s.cfg.Server.RateLimit > 0 {
		apiRouter.Use(rateLimitMiddleware(rate.NewLimiter(rate.Limit(s.cfg.Server.RateLimit), s.cfg.Server.Burst)))
	}
	apiRouter.HandleFunc("/extract", s.handleExtract).Methods(http.MethodPost)
	apiRouter.HandleFunc("/transforms", s.handleTransforms).Methods(http.MethodGet)

	return r
}

// Reload swaps in a client built from cfg. Requests in flight finish on
// the old client. The server address, output sink and middleware settings
// keep their startup values.
func (s *Server) Reload(cfg *config.Config) error {
	client, err := api.NewClient(cfg, s.opts...)
	if err != nil {
		return err
	}
	s.mu.Lock()
	old := s.client
	s.client = client
	s.cfg.Context = cfg.Context
	s.cfg.Optional = cfg.Optional
	s.cfg.AllowExpressions = cfg.AllowExpressions
	s.mu.Unlock()

	s.logger.Info("configuration reloaded")
	return old.Close()
}

func (s *Server) current() (*api.Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client, s.cfg.AllowExpressions
}

// Close releases the client and the output sink.
func (s *Server) Close() error {
	s.mu.Lock()
	err := s.client.Close()
	s.mu.Unlock()
	if s.sink != nil {
		if serr := s.sink.Close(); err == nil {
			err = serr
		}
	}
	return err
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)

	var req types.ExtractRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, kindRequest, err)
			return
		}
		writeError(w, http.StatusBadRequest, kindRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, kindRequest, err)
		return
	}

	schema, err := parselet.Parse(req.Parselet)
	if err != nil {
		writeError(w, http.StatusBadRequest, kindGrammar, err)
		return
	}

	client, _ := s.current()
	if req.Context != "" || req.Optional {
		client = client.WithOptions(api.ExtractOptions{Context: req.Context, Optional: req.Optional})
	}

	var res *scraper.ScrapingResult
	if req.URL != "" {
		res, err = client.ExtractURL(r.Context(), schema, req.URL)
	} else {
		res, err = client.ExtractHTML(r.Context(), schema, req.HTML, req.Context)
	}
	if err != nil {
		status, kind := classify(err)
		s.logger.WithFields(map[string]interface{}{
			"kind":   kind,
			"status": status,
		}).Warnf("extraction failed: %v", err)
		writeError(w, status, kind, err)
		return
	}

	if s.sink != nil {
		if err := s.store(r.Context(), res); err != nil {
			s.logger.Errorf("failed to store result: %v", err)
			writeError(w, http.StatusInternalServerError, kindOutput, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, types.NewExtractResponse(res))
}

func (s *Server) store(ctx context.Context, res *scraper.ScrapingResult) error {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	return s.sink.Write(ctx, output.NewRecord(res.URL, res.Data))
}

func (s *Server) handleTransforms(w http.ResponseWriter, r *http.Request) {
	_, expressions := s.current()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transforms":  pipeline.DefaultRegistry().Names(),
		"expressions": expressions,
	})
}

// classify maps an extraction error to an HTTP status and error kind.
func classify(err error) (int, string) {
	var (
		ge *parselet.GrammarError
		fe *scraper.FetchError
		nf *pipeline.TransformNotFoundError
		te *pipeline.TransformError
		be *security.BlockedError
	)
	switch {
	case errors.As(err, &ge):
		return http.StatusBadRequest, kindGrammar
	case errors.As(err, &be):
		return http.StatusForbidden, kindForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, kindTimeout
	case errors.As(err, &fe):
		return http.StatusBadGateway, kindFetch
	case errors.As(err, &nf), errors.As(err, &te), errors.Is(err, pipeline.ErrExpressionsDisabled):
		return http.StatusUnprocessableEntity, kindTransform
	default:
		return http.StatusInternalServerError, kindInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, types.ErrorResponse{Error: err.Error(), Kind: kind})
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}

func authMiddleware(apiKey string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, kindRequest, errors.New("missing bearer token"))
				return
			}
			if strings.TrimPrefix(authHeader, "Bearer ") != apiKey {
				writeError(w, http.StatusUnauthorized, kindRequest, errors.New("invalid API key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitMiddleware(limiter *rate.Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, kindRequest, errors.New("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
