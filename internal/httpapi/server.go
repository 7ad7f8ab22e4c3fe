package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/txnsync/internal/ledger"
	"github.com/agentworkforce/txnsync/internal/monzo"
	"github.com/agentworkforce/txnsync/internal/store"
	"github.com/agentworkforce/txnsync/internal/syncer"
)

// Reader is the read side of a transaction store.
type Reader interface {
	Watermark(ctx context.Context) (time.Time, bool, error)
	HasAnyEntries(ctx context.Context) (bool, error)
	QueryByDateRange(ctx context.Context, start, end time.Time) ([]ledger.Transaction, error)
}

// Runner starts one synchronization run.
type Runner interface {
	Run(ctx context.Context) (syncer.Result, error)
}

type ServerConfig struct {
	APIToken        string
	RateLimitMax    int
	RateLimitWindow time.Duration
	// MaxRange bounds the span of one transactions query.
	MaxRange time.Duration
	Now      func() time.Time
	Logger   *zerolog.Logger
}

type Server struct {
	reader      Reader
	runner      Runner
	cfg         ServerConfig
	log         zerolog.Logger
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(reader Reader, runner Runner, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxRange <= 0 {
		cfg.MaxRange = 366 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		reader:      reader,
		runner:      runner,
		cfg:         cfg,
		log:         log,
		rateLimiter: limiter,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	correlationID := getCorrelationID(r)
	var handler func(http.ResponseWriter, *http.Request, string)
	switch {
	case r.URL.Path == "/v1/status" && r.Method == http.MethodGet:
		handler = s.handleStatus
	case r.URL.Path == "/v1/transactions" && r.Method == http.MethodGet:
		handler = s.handleTransactions
	case r.URL.Path == "/v1/sync" && r.Method == http.MethodPost:
		if s.runner == nil {
			writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
			return
		}
		handler = s.handleSync
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	if authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.APIToken); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(clientKey(r.RemoteAddr), s.cfg.Now().UTC()) {
		retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
		return
	}
	handler(w, r, correlationID)
}

type statusResponse struct {
	HasEntries bool       `json:"hasEntries"`
	Watermark  *time.Time `json:"watermark,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, correlationID string) {
	hasEntries, err := s.reader.HasAnyEntries(r.Context())
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	resp := statusResponse{HasEntries: hasEntries}
	if hasEntries {
		watermark, ok, err := s.reader.Watermark(r.Context())
		if err != nil {
			s.writeStoreError(w, err, correlationID)
			return
		}
		if ok {
			resp.Watermark = &watermark
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type transactionView struct {
	ledger.Transaction
	AmountDisplay string `json:"amountDisplay"`
}

type transactionsResponse struct {
	Start        time.Time         `json:"start"`
	End          time.Time         `json:"end"`
	Transactions []transactionView `json:"transactions"`
	Totals       ledger.Summary    `json:"totals"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request, correlationID string) {
	query := r.URL.Query()
	start, err := parseInstant(query.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "start must be RFC3339 or YYYY-MM-DD", correlationID)
		return
	}
	end := s.cfg.Now().UTC()
	if raw := strings.TrimSpace(query.Get("end")); raw != "" {
		end, err = parseInstant(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "end must be RFC3339 or YYYY-MM-DD", correlationID)
			return
		}
	}
	if !start.Before(end) {
		writeError(w, http.StatusBadRequest, "bad_request", "start must be before end", correlationID)
		return
	}
	if end.Sub(start) > s.cfg.MaxRange {
		writeError(w, http.StatusBadRequest, "bad_request", "range exceeds "+s.cfg.MaxRange.String(), correlationID)
		return
	}

	records, err := s.reader.QueryByDateRange(r.Context(), start, end)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	views := make([]transactionView, 0, len(records))
	for _, record := range records {
		views = append(views, transactionView{Transaction: record, AmountDisplay: ledger.FormatAmount(record.Amount)})
	}
	writeJSON(w, http.StatusOK, transactionsResponse{
		Start:        start,
		End:          end,
		Transactions: views,
		Totals:       ledger.Summarize(records),
	})
}

type syncResponse struct {
	Result syncer.Result `json:"result"`
	Error  string        `json:"error,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, correlationID string) {
	res, err := s.runner.Run(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, syncResponse{Result: res})
		return
	}
	s.log.Warn().Err(err).Str("correlation_id", correlationID).Msg("sync request failed")

	status, code := http.StatusBadGateway, "sync_failed"
	var rateErr *monzo.RateLimitError
	switch {
	case errors.Is(err, syncer.ErrRunInProgress):
		writeError(w, http.StatusConflict, "sync_in_progress", err.Error(), correlationID)
		return
	case errors.Is(err, syncer.ErrPrecondition):
		status, code = http.StatusUnprocessableEntity, "precondition_failed"
	case errors.Is(err, monzo.ErrAuth):
		code = "upstream_unauthorized"
	case errors.As(err, &rateErr):
		status, code = http.StatusServiceUnavailable, "upstream_rate_limited"
		if rateErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rateErr.RetryAfter.Seconds()))))
		}
	case errors.Is(err, store.ErrStorage):
		status, code = http.StatusInternalServerError, "storage_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "sync_interrupted"
	}
	w.Header().Set("X-Error-Code", code)
	writeJSON(w, status, syncResponse{Result: res, Error: err.Error()})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, correlationID string) {
	s.log.Error().Err(err).Str("correlation_id", correlationID).Msg("store read failed")
	writeError(w, http.StatusInternalServerError, "storage_failed", "store read failed", correlationID)
}

// parseInstant accepts RFC3339 timestamps and bare dates, which mean UTC
// midnight.
func parseInstant(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func getCorrelationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Correlation-Id")); id != "" {
		return id
	}
	return "txnsync_" + uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
