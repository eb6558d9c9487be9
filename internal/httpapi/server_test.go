package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kediaman/orchestrator/internal/models"
	"github.com/kediaman/orchestrator/internal/workflows"
)

type stubRunner struct {
	mu     sync.Mutex
	inputs []workflows.TurnInput
	result workflows.TurnResult
	err    error
	delay  time.Duration

	inFlight    map[string]int
	overlapSeen bool
}

func (s *stubRunner) RunTurn(_ context.Context, input workflows.TurnInput) (workflows.TurnResult, error) {
	s.mu.Lock()
	s.inputs = append(s.inputs, input)
	if s.inFlight == nil {
		s.inFlight = make(map[string]int)
	}
	if s.inFlight[input.ThreadID] > 0 {
		s.overlapSeen = true
	}
	s.inFlight[input.ThreadID]++
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.inFlight[input.ThreadID]--
	s.mu.Unlock()

	if s.err != nil {
		return workflows.TurnResult{}, s.err
	}
	result := s.result
	result.ThreadID = input.ThreadID
	return result, nil
}

func postInquiry(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inquiry", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestInquiryHappyPath(t *testing.T) {
	runner := &stubRunner{result: workflows.TurnResult{
		Response: models.AgentResponse{
			Text:            "Here are three condos.",
			CitedProperties: []string{"prop-1", "prop-2"},
		},
		RelevantProperties: []models.PropertyRecord{{ID: "prop-1"}, {ID: "prop-2"}},
		WebSearchConducted: false,
	}}
	srv := NewServer(runner, zap.NewNop())

	rec := postInquiry(t, srv.Routes(), `{"query": "condos in Bangsar", "thread_id": "thread-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InquiryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Here are three condos.", resp.Response)
	assert.Equal(t, "thread-1", resp.ThreadID)
	assert.Len(t, resp.RelevantProperties, 2)
	assert.False(t, resp.AdditionalInfo.WebSearchConducted)
	assert.Equal(t, []string{"prop-1", "prop-2"}, resp.AdditionalInfo.CitedProperties)
}

func TestInquiryAssignsThreadID(t *testing.T) {
	runner := &stubRunner{}
	srv := NewServer(runner, zap.NewNop())

	rec := postInquiry(t, srv.Routes(), `{"query": "condos in Bangsar"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InquiryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ThreadID)
	require.Len(t, runner.inputs, 1)
	assert.Equal(t, resp.ThreadID, runner.inputs[0].ThreadID)
}

func TestInquiryValidation(t *testing.T) {
	srv := NewServer(&stubRunner{}, zap.NewNop())
	handler := srv.Routes()

	rec := postInquiry(t, handler, `{"query": "   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postInquiry(t, handler, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/inquiry", nil)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, getRec.Code)
}

func TestInquiryRunnerError(t *testing.T) {
	runner := &stubRunner{err: errors.New("workflow failed")}
	srv := NewServer(runner, zap.NewNop())

	rec := postInquiry(t, srv.Routes(), `{"query": "condos", "thread_id": "thread-1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestInquiryPersistFailureWarnsCaller(t *testing.T) {
	runner := &stubRunner{result: workflows.TurnResult{
		Response:      models.AgentResponse{Text: "Here are three condos."},
		PersistFailed: true,
	}}
	srv := NewServer(runner, zap.NewNop())

	rec := postInquiry(t, srv.Routes(), `{"query": "condos in Bangsar", "thread_id": "thread-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InquiryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.AdditionalInfo.PersistFailed)
	assert.Contains(t, resp.Response, "may not remember")
	assert.Contains(t, resp.Response, "Here are three condos.")
}

func TestInquirySerializesSameThread(t *testing.T) {
	runner := &stubRunner{delay: 20 * time.Millisecond}
	srv := NewServer(runner, zap.NewNop())
	handler := srv.Routes()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := postInquiry(t, handler, `{"query": "condos", "thread_id": "shared"}`)
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()

	assert.False(t, runner.overlapSeen, "turns on the same thread must not overlap")
	assert.Len(t, runner.inputs, 4)
}

func TestInquiryParallelAcrossThreads(t *testing.T) {
	runner := &stubRunner{delay: 10 * time.Millisecond}
	srv := NewServer(runner, zap.NewNop())
	handler := srv.Routes()

	start := time.Now()
	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(threadID string) {
			defer wg.Done()
			postInquiry(t, handler, `{"query": "condos", "thread_id": "`+threadID+`"}`)
		}(id)
	}
	wg.Wait()

	// Four independent threads should not take four serialized delays.
	assert.Less(t, time.Since(start), 40*time.Millisecond)
	assert.False(t, runner.overlapSeen)
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(&stubRunner{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
