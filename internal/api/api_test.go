// SPDX-License-Identifier: MIT

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/taskstream/internal/buffer"
	"github.com/ManuGH/taskstream/internal/chat"
	"github.com/ManuGH/taskstream/internal/config"
	"github.com/ManuGH/taskstream/internal/jobstate"
	"github.com/ManuGH/taskstream/internal/media"
	"github.com/ManuGH/taskstream/internal/sse"
	"github.com/ManuGH/taskstream/internal/store"
	"github.com/ManuGH/taskstream/internal/task"
)

func testServer(t *testing.T) (*Server, *jobstate.Store) {
	t.Helper()
	jobs, err := jobstate.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = jobs.Close() })

	deps := task.Deps{
		Transcoder:   &media.ScriptedTranscoder{Steps: []float64{100}},
		Recognizer:   &media.ScriptedRecognizer{Steps: []float64{100}},
		Concatenator: &media.ScriptedConcatenator{Steps: []float64{100}},
		Synthesizer:  &media.ScriptedSynthesizer{Steps: []float64{100}},
		Options: task.Options{
			MinProgressInterval: time.Nanosecond,
			MinProgressDelta:    0.001,
		},
	}
	buf := buffer.New(buffer.Options{})
	completion := chat.NewCompletion(chat.Deps{
		Buffer:   buf,
		Factory:  task.NewFactory(deps),
		Sessions: store.NewMemoryStore(),
	})
	cfg := config.Defaults().Server
	return NewServer(completion, buf, jobs, cfg), jobs
}

type frame struct {
	id    string
	event string
	data  string
}

func parseSSE(t *testing.T, body string) []frame {
	t.Helper()
	var frames []frame
	var cur frame
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.event != "" {
				frames = append(frames, cur)
			}
			cur = frame{}
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return frames
}

func postCompletion(t *testing.T, router http.Handler, req chat.Request, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestCompletionsStreamsSSE(t *testing.T) {
	s, _ := testServer(t)
	router := s.Router()

	w := postCompletion(t, router, chat.Request{
		Prompt:     "transcribe",
		TaskType:   "asr",
		RefFileIDs: []string{"clip.mp3"},
	}, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Session-ID"))

	frames := parseSSE(t, w.Body.String())
	require.NotEmpty(t, frames)
	assert.Equal(t, "ready", frames[0].event)
	assert.NotEmpty(t, frames[0].id)

	last := frames[len(frames)-1]
	assert.Equal(t, "completed", last.event)

	// data lines decode back into typed events
	var e sse.Event
	require.NoError(t, json.Unmarshal([]byte(last.data), &e))
	done, ok := e.Payload.(sse.CompletedPayload)
	require.True(t, ok)
	assert.Equal(t, 1, done.Succeeded)
}

func TestCompletionsValidationError(t *testing.T) {
	s, _ := testServer(t)
	w := postCompletion(t, s.Router(), chat.Request{Prompt: "   "}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompletionsMalformedBody(t *testing.T) {
	s, _ := testServer(t)
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompletionsUnknownSession(t *testing.T) {
	s, _ := testServer(t)
	w := postCompletion(t, s.Router(), chat.Request{Prompt: "hi", SessionID: "ghost"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLastEventIDHeaderResumes(t *testing.T) {
	s, _ := testServer(t)
	router := s.Router()

	first := postCompletion(t, router, chat.Request{Prompt: "hello"}, nil)
	frames := parseSSE(t, first.Body.String())
	require.NotEmpty(t, frames)
	cursor := frames[0].id

	second := postCompletion(t, router, chat.Request{Prompt: "resume"}, map[string]string{
		"Last-Event-ID": cursor,
	})
	var sawReplay bool
	for _, f := range parseSSE(t, second.Body.String()) {
		var e sse.Event
		require.NoError(t, json.Unmarshal([]byte(f.data), &e))
		if e.Replay {
			sawReplay = true
		}
	}
	assert.True(t, sawReplay, "expected replayed frames after Last-Event-ID resume")
}

func TestRateLimitReturns429(t *testing.T) {
	s, _ := testServer(t)
	s.cfg.RateLimit = 1
	s.cfg.RateLimitWindow = time.Minute
	router := s.Router()

	first := postCompletion(t, router, chat.Request{Prompt: "hello"}, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := postCompletion(t, router, chat.Request{Prompt: "hello again"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestHealthz(t *testing.T) {
	s, _ := testServer(t)
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := testServer(t)
	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "taskstream_buffer_events")
}

func TestBufferStats(t *testing.T) {
	s, _ := testServer(t)
	s.buffer.Append(sse.New(sse.ProgressPayload{Percentage: 50}))

	r := httptest.NewRequest(http.MethodGet, "/v1/buffer/stats", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var stats buffer.Statistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalEvents)
}

func TestJobLookup(t *testing.T) {
	s, jobs := testServer(t)
	router := s.Router()

	r := httptest.NewRequest(http.MethodGet, "/v1/jobs/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)

	job := task.NewJob("asr", []string{"a.mp3"})
	require.NoError(t, jobs.Put(context.Background(), job))

	r = httptest.NewRequest(http.MethodGet, "/v1/jobs/"+job.ID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var got task.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, job.ID, got.ID)
}

func TestRequestIDPropagation(t *testing.T) {
	s, _ := testServer(t)
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set(requestIDHeader, "trace-me")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)

	assert.Equal(t, "trace-me", w.Header().Get(requestIDHeader))

	// generated when absent
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}
