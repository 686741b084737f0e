package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_fanout/internal/delivery"
	"github.com/austindbirch/harbor_fanout/internal/logging"
	"github.com/austindbirch/harbor_fanout/internal/metrics"
	"github.com/austindbirch/harbor_fanout/internal/tracing"
)

const (
	RequestIDHeader = "X-Request-Id"

	// EnqueuedCountHeader reports how many targets were admitted, including on
	// a 503 where part of the fan-out is still delivered.
	EnqueuedCountHeader = "X-Enqueued-Count"

	defaultMaxBodyBytes = 10 << 20
	banner              = "<h1>Http Request Duplicator</h1>"
)

// Response is the JSON body returned to callers of the duplicate routes.
type Response string

const (
	ResponseOk    Response = "Ok"
	ResponseError Response = "Error"
)

var (
	ErrMissingTargets = errors.New("missing targets header")
	ErrInvalidTargets = errors.New("invalid targets header")
)

// Options configures a Server. Zero values fall back to defaults.
type Options struct {
	TargetsHeader  string
	MaxBodyBytes   int64
	RetryBudget    int
	EnqueueTimeout time.Duration

	// FlushAuth wraps the flush route, e.g. with a JWT check.
	FlushAuth func(http.Handler) http.Handler
	// Prometheus and Health are mounted when set.
	Prometheus http.Handler
	Health     http.Handler
}

// Server is the HTTP front-end. It turns each inbound request into one task
// per target and hands them to the queues.
type Server struct {
	queues  *delivery.Queues
	flusher delivery.Flusher
	targets *delivery.TargetLog
	opts    Options
	logger  *logging.Logger
}

func NewServer(q *delivery.Queues, f delivery.Flusher, targets *delivery.TargetLog, opts Options, logger *logging.Logger) *Server {
	if opts.TargetsHeader == "" {
		opts.TargetsHeader = delivery.DefaultTargetsHeader
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.RetryBudget < 1 {
		opts.RetryBudget = delivery.DefaultRetryCount
	}
	if logger == nil {
		logger = logging.New("harborfanout-ingest")
	}
	return &Server{queues: q, flusher: f, targets: targets, opts: opts, logger: logger}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.root)
	mux.Handle("/duplicate/high_priority", s.duplicate(delivery.High))
	mux.Handle("/duplicate/low_priority", s.duplicate(delivery.Low))

	var flush http.Handler = http.HandlerFunc(s.flush)
	if s.opts.FlushAuth != nil {
		flush = s.opts.FlushAuth(flush)
	}
	mux.Handle("POST /flush/low_priority", flush)

	mux.HandleFunc("GET /metrics", s.queueMetrics)
	mux.HandleFunc("GET /target_metrics", s.targetMetrics)
	if s.opts.Prometheus != nil {
		mux.Handle("GET /metrics/prometheus", s.opts.Prometheus)
	}
	if s.opts.Health != nil {
		mux.Handle("GET /healthz", s.opts.Health)
	}
	return mux
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, banner)
}

// ParseTargets decodes the targets header: a JSON array of absolute http or
// https URLs. An empty array is valid and fans out to nobody.
func ParseTargets(v string) ([]string, error) {
	if v == "" {
		return nil, ErrMissingTargets
	}
	var targets []string
	if err := json.Unmarshal([]byte(v), &targets); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTargets, err)
	}
	if targets == nil {
		return nil, fmt.Errorf("%w: null", ErrInvalidTargets)
	}
	for _, t := range targets {
		u, err := url.ParseRequestURI(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTargets, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: %q is not an http(s) url", ErrInvalidTargets, t)
		}
	}
	return targets, nil
}

func (s *Server) duplicate(p delivery.Priority) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := tracing.ExtractHTTP(r.Context(), r.Header)
		ctx, span := tracing.StartSpan(ctx, "ingest.duplicate",
			attribute.String("priority", p.String()),
			attribute.String("request_id", requestID),
		)
		defer span.End()

		entry := func() *logging.LogEntry {
			return s.logger.WithContext(ctx).WithRequest(requestID).WithPriority(p.String())
		}

		targets, err := ParseTargets(r.Header.Get(s.opts.TargetsHeader))
		if err != nil {
			tracing.SetSpanError(ctx, err)
			metrics.RecordRequest(p.String(), "bad_request")
			entry().WithError(err).Warn("rejected duplicate request")
			writeJSON(w, http.StatusBadRequest, ResponseError)
			return
		}
		span.SetAttributes(attribute.Int("targets", len(targets)))

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
		if err != nil {
			status := http.StatusBadRequest
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				status = http.StatusRequestEntityTooLarge
			}
			tracing.SetSpanError(ctx, err)
			metrics.RecordRequest(p.String(), "bad_request")
			entry().WithError(err).Warn("failed to read request body")
			writeJSON(w, status, ResponseError)
			return
		}

		req := delivery.NewSharedRequest(r.Method, r.Header, body, s.opts.TargetsHeader)
		req.RequestID = requestID
		req.TraceHeaders = tracing.InjectTrace(ctx)

		counters := s.queues.Counters()
		entry().WithFields(map[string]any{
			"targets":     len(targets),
			"queued_high": counters.Queued(delivery.High),
			"queued_low":  counters.Queued(delivery.Low),
		}).Info("duplicating request")

		n, err := s.enqueue(r.Context(), req, targets, p)
		metrics.RecordEnqueued(p.String(), n)
		w.Header().Set(EnqueuedCountHeader, strconv.Itoa(n))
		if err != nil {
			tracing.SetSpanError(ctx, err)
			metrics.RecordRejected(p.String())
			metrics.RecordRequest(p.String(), "rejected")
			entry().WithError(err).WithFields(map[string]any{
				"enqueued": n,
				"targets":  len(targets),
			}).Warn("queue full, request partially enqueued")
			writeJSON(w, http.StatusServiceUnavailable, ResponseError)
			return
		}

		metrics.RecordRequest(p.String(), "accepted")
		writeJSON(w, http.StatusAccepted, ResponseOk)
	})
}

// enqueue admits one task per target and stops at the first refusal. It
// returns how many tasks were admitted.
func (s *Server) enqueue(ctx context.Context, req *delivery.SharedRequest, targets []string, p delivery.Priority) (int, error) {
	ectx := context.Background()
	if s.opts.EnqueueTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, s.opts.EnqueueTimeout)
		defer cancel()
	}
	for i, target := range targets {
		if err := s.queues.Enqueue(ectx, delivery.NewTask(target, req, s.opts.RetryBudget, p)); err != nil {
			return i, err
		}
	}
	return len(targets), nil
}

func (s *Server) flush(w http.ResponseWriter, r *http.Request) {
	s.flusher.FlushLowPriority()
	s.logger.WithContext(r.Context()).WithPriority(delivery.Low.String()).Info("flush requested")
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) queueMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queues.Counters().Snapshot())
}

func (s *Server) targetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.targets.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
