// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/taskstream/internal/chat"
	"github.com/ManuGH/taskstream/internal/log"
	"github.com/ManuGH/taskstream/internal/sse"
	"github.com/ManuGH/taskstream/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBufferStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.buffer.Stats())
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.jobs == nil {
		writeError(w, http.StatusNotFound, "job state store disabled")
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCompletions runs one completion and streams its events as
// text/event-stream frames. The Last-Event-ID header takes precedence over
// the request body's lastEventId field, matching how EventSource reconnects.
func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if h := r.Header.Get("Last-Event-ID"); h != "" {
		req.LastEventID = h
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	st, err := s.completion.Send(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			s.logger.Error().
				Err(err).
				Str("event", "api.completion_failed").
				Msg("completion setup failed")
			writeError(w, http.StatusInternalServerError, "completion failed")
		}
		return
	}
	defer st.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Session-ID", st.SessionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := log.WithComponentFromContext(r.Context(), "api")
	for event := range st.Events() {
		if err := writeSSE(w, event); err != nil {
			logger.Debug().
				Err(err).
				Str("event", "api.stream_write_failed").
				Msg("client went away")
			return
		}
		flusher.Flush()
	}
}

// writeSSE renders one event in EventSource framing. The data line carries
// the event's wire JSON, so replayed events advertise themselves through
// the replay field and clients can suppress side effects.
func writeSSE(w http.ResponseWriter, e sse.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Kind(), err)
	}
	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\n", e.ID, e.Kind()); err != nil {
		return err
	}
	if e.Retry > 0 {
		if _, err := fmt.Fprintf(w, "retry: %s\n", strconv.FormatInt(e.Retry.Milliseconds(), 10)); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", body)
	return err
}
