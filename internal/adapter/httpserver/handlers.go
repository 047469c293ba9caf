package httpserver

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/bulkfile"
	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/feedback-analyzer/internal/config"
	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
	"github.com/fairyhunter13/feedback-analyzer/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg         config.Config
	Feedback    usecase.FeedbackService
	Metrics     usecase.MetricsService
	Bulk        usecase.BulkService
	Broadcaster BroadcasterStats
	StoreCheck  func(ctx domain.Context) error
}

// BroadcasterStats is the slice of the broadcaster the HTTP layer needs.
type BroadcasterStats interface {
	ClientCount() int
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// NewServer constructs a Server with all handlers wired.
func NewServer(cfg config.Config, feedback usecase.FeedbackService, metrics usecase.MetricsService, bulk usecase.BulkService, bc BroadcasterStats, storeCheck func(ctx domain.Context) error) *Server {
	return &Server{Cfg: cfg, Feedback: feedback, Metrics: metrics, Bulk: bulk, Broadcaster: bc, StoreCheck: storeCheck}
}

type submitRequest struct {
	Text   string  `json:"text" validate:"required,min=1,max=10000"`
	UserID *string `json:"userId" validate:"omitempty,max=200"`
}

// SubmitHandler accepts one feedback text, analyzes it synchronously and
// returns the enriched record.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		rec, err := s.Feedback.Submit(r.Context(), req.Text, req.UserID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"record": rec})
	}
}

// HistoryHandler returns all records as history items, newest first.
func (s *Server) HistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := s.Feedback.History(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// MetricsHandler returns the aggregate analytics envelope.
func (s *Server) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := s.Metrics.Compute(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// BulkHandler accepts a CSV or JSON multipart upload and runs the bulk
// enrichment engine. Engine knobs come from query parameters, falling back to
// the configured defaults.
func (s *Server) BulkHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}
		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
					Code:    "INVALID_ARGUMENT",
					Message: "payload too large",
					Details: map[string]int64{"max_mb": s.Cfg.MaxUploadMB},
				}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: file required", domain.ErrInvalidArgument), map[string]string{"field": "file"})
			return
		}
		defer func() { _ = file.Close() }()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: read upload: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		if !allowedBulkUpload(data, header.Filename) {
			writeError(w, r, fmt.Errorf("%w: upload must be CSV or JSON", domain.ErrInvalidArgument), map[string]string{"filename": header.Filename})
			return
		}
		items, err := bulkfile.Parse(strings.NewReader(string(data)), header.Filename)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		opts, err := s.bulkOptions(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		result, err := s.Bulk.Process(r.Context(), items, opts)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		observability.BulkBatchesTotal.WithLabelValues("completed").Add(float64(result.Batches))
		observability.BulkItemsTotal.WithLabelValues("success").Add(float64(len(result.Success)))
		observability.BulkItemsTotal.WithLabelValues("failed").Add(float64(len(result.Failed)))
		writeJSON(w, http.StatusOK, result)
	}
}

// bulkOptions reads the engine knobs from query parameters. Absent parameters
// use configured defaults; malformed or out-of-range values are rejected.
func (s *Server) bulkOptions(r *http.Request) (usecase.BulkOptions, error) {
	opts := usecase.BulkOptions{
		RateLimitRPM:   s.Cfg.BulkRateLimitRPM,
		BatchSize:      s.Cfg.BulkBatchSize,
		MaxConcurrency: s.Cfg.BulkMaxConcurrency,
	}
	q := r.URL.Query()
	if v := queryAlias(q, "rate_limit_rpm", "rateLimitRpm"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return opts, fmt.Errorf("%w: rate_limit_rpm must be a positive number", domain.ErrInvalidArgument)
		}
		opts.RateLimitRPM = f
	}
	if v := queryAlias(q, "batch_size", "batchSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > usecase.MaxBulkBatchSize {
			return opts, fmt.Errorf("%w: batch_size must be between 1 and %d", domain.ErrInvalidArgument, usecase.MaxBulkBatchSize)
		}
		opts.BatchSize = n
	}
	if v := queryAlias(q, "max_concurrency", "maxConcurrency"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > usecase.MaxBulkConcurrency {
			return opts, fmt.Errorf("%w: max_concurrency must be between 1 and %d", domain.ErrInvalidArgument, usecase.MaxBulkConcurrency)
		}
		opts.MaxConcurrency = n
	}
	return opts, nil
}

func queryAlias(q url.Values, names ...string) string {
	for _, n := range names {
		if v := q.Get(n); v != "" {
			return v
		}
	}
	return ""
}

// allowedBulkUpload accepts CSV and JSON by extension, with a content sniff
// for extensionless uploads.
func allowedBulkUpload(data []byte, filename string) bool {
	n := strings.ToLower(filename)
	if strings.HasSuffix(n, ".csv") || strings.HasSuffix(n, ".json") {
		return true
	}
	mt := mimetype.Detect(data)
	return mt.Is("application/json") || mt.Is("text/csv") || strings.HasPrefix(mt.String(), "text/")
}

// RootHandler returns a small service banner with the endpoint map.
func (s *Server) RootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service": "feedback-analyzer",
			"endpoints": map[string]string{
				"submit":  "POST /api/v1/feedback",
				"bulk":    "POST /api/v1/feedback/bulk",
				"history": "GET /api/v1/history",
				"metrics": "GET /api/v1/metrics",
				"events":  "GET /ws/events",
			},
		})
	}
}

// HealthzHandler reports liveness.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler reports readiness: the record store must be reachable.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		ready := true
		if s.StoreCheck != nil {
			if err := s.StoreCheck(r.Context()); err != nil {
				checks["store"] = err.Error()
				ready = false
			} else {
				checks["store"] = "ok"
			}
		}
		if s.Broadcaster != nil {
			checks["broadcastClients"] = strconv.Itoa(s.Broadcaster.ClientCount())
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
	}
}
