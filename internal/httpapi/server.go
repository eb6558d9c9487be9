// Package httpapi exposes the inbound inquiry endpoint. Turns on the same
// thread are serialized here with a per-thread lock so a later turn always
// observes the previous turn's persisted state; different threads run fully
// in parallel.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kediaman/orchestrator/internal/metrics"
	"github.com/kediaman/orchestrator/internal/models"
	"github.com/kediaman/orchestrator/internal/tracing"
	"github.com/kediaman/orchestrator/internal/workflows"
)

// TurnRunner executes one inquiry turn. The Temporal-backed implementation
// lives alongside; tests substitute their own.
type TurnRunner interface {
	RunTurn(ctx context.Context, input workflows.TurnInput) (workflows.TurnResult, error)
}

// Server handles inquiry requests.
type Server struct {
	runner TurnRunner
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*threadLock
}

// threadLock serializes turns on one thread and counts waiters so idle locks
// can be dropped.
type threadLock struct {
	sync.Mutex
	refs int
}

func NewServer(runner TurnRunner, logger *zap.Logger) *Server {
	return &Server{
		runner: runner,
		logger: logger,
		locks:  make(map[string]*threadLock),
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/inquiry", s.handleInquiry)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// InquiryRequest is the inbound payload.
type InquiryRequest struct {
	Query    string `json:"query"`
	ThreadID string `json:"thread_id,omitempty"`
}

// InquiryResponse mirrors the turn outcome for the caller.
type InquiryResponse struct {
	Response           string                  `json:"response"`
	ThreadID           string                  `json:"thread_id"`
	RelevantProperties []models.PropertyRecord `json:"relevant_properties,omitempty"`
	AdditionalInfo     AdditionalInfo          `json:"additional_info"`
}

type AdditionalInfo struct {
	WebSearchConducted bool     `json:"web_search_conducted"`
	CitedProperties    []string `json:"cited_properties,omitempty"`
	Clarification      bool     `json:"clarification,omitempty"`
	// PersistFailed warns the caller the exchange may not be remembered in
	// future turns.
	PersistFailed bool `json:"persist_failed,omitempty"`
}

func (s *Server) handleInquiry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req InquiryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	// An absent thread id gets one assigned here so the per-thread lock and
	// the turn agree on the key; the store adopts the id transparently.
	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = uuid.New().String()
	}

	ctx, span := tracing.StartHTTPSpan(r.Context(), r.Method, r.URL.Path)
	defer span.End()

	metrics.TurnsStarted.Inc()
	start := time.Now()

	lock := s.acquireThread(threadID)
	defer s.releaseThread(threadID, lock)

	result, err := s.runner.RunTurn(ctx, workflows.TurnInput{ThreadID: threadID, Query: req.Query})
	metrics.TurnDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TurnsCompleted.WithLabelValues("error").Inc()
		s.logger.Error("Inquiry turn failed",
			zap.String("thread_id", threadID),
			zap.Error(err),
		)
		http.Error(w, "failed to process inquiry", http.StatusInternalServerError)
		return
	}
	status := "ok"
	if result.PersistFailed {
		status = "persist_failed"
	}
	metrics.TurnsCompleted.WithLabelValues(status).Inc()

	text := result.Response.Text
	if result.PersistFailed {
		text = text + " (Note: I couldn't save this exchange, so I may not remember it in future messages.)"
	}

	resp := InquiryResponse{
		Response:           text,
		ThreadID:           result.ThreadID,
		RelevantProperties: result.RelevantProperties,
		AdditionalInfo: AdditionalInfo{
			WebSearchConducted: result.WebSearchConducted,
			CitedProperties:    result.Response.CitedProperties,
			Clarification:      result.Response.Clarification,
			PersistFailed:      result.PersistFailed,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("Failed to write inquiry response", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// acquireThread takes the per-thread lock, creating it on first use.
func (s *Server) acquireThread(threadID string) *threadLock {
	s.mu.Lock()
	lock, ok := s.locks[threadID]
	if !ok {
		lock = &threadLock{}
		s.locks[threadID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.Lock()
	return lock
}

// releaseThread unlocks and drops the lock once no turn is waiting on it.
func (s *Server) releaseThread(threadID string, lock *threadLock) {
	lock.Unlock()

	s.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, threadID)
	}
	s.mu.Unlock()
}
