// SPDX-License-Identifier: MIT

package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/taskstream/internal/buffer"
	"github.com/ManuGH/taskstream/internal/log"
	"github.com/ManuGH/taskstream/internal/metrics"
	"github.com/ManuGH/taskstream/internal/sse"
	"github.com/ManuGH/taskstream/internal/store"
	"github.com/ManuGH/taskstream/internal/task"
)

const (
	// streamChannelDepth absorbs producer bursts between consumer reads.
	streamChannelDepth = 64
	// persistTimeout bounds the final assistant-message write, which runs
	// on its own context so a disconnecting caller cannot lose the result.
	persistTimeout = 5 * time.Second
	// titleLimit truncates the prompt used as a new session's title.
	titleLimit = 80
)

// Deps are the collaborators a Completion needs. All are required.
type Deps struct {
	Buffer   *buffer.Buffer
	Factory  *task.Factory
	Sessions store.SessionStore
}

// Completion orchestrates one stream per Send call: ready event first,
// tagged replay next, live job events in channel order, exactly one
// terminal event, then channel close.
type Completion struct {
	deps   Deps
	logger zerolog.Logger
}

// NewCompletion builds the orchestrator.
func NewCompletion(deps Deps) *Completion {
	return &Completion{
		deps:   deps,
		logger: log.WithComponent("chat"),
	}
}

// Send validates the request, persists the user message, and starts the
// background job. Validation and persistence errors are returned
// synchronously; everything after that is reported through the stream.
func (c *Completion) Send(ctx context.Context, req Request) (*Stream, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.TaskType != "" && !c.deps.Factory.Known(req.TaskType) {
		return nil, &ValidationError{Field: "taskType", Reason: fmt.Sprintf("unknown task type %q", req.TaskType)}
	}

	session, err := c.resolveSession(ctx, &req)
	if err != nil {
		return nil, err
	}

	reqID, respID := req.MessageIDs()
	if err := c.deps.Sessions.AppendMessage(ctx, session.ID, store.Message{
		ID:              reqID,
		Role:            "user",
		Content:         req.Prompt,
		TaskType:        req.TaskType,
		ThinkingEnabled: req.ThinkingEnabled,
	}); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	streamID := uuid.NewString()
	clientID := req.ClientID
	if clientID == "" {
		clientID = streamID
	}
	c.deps.Buffer.RegisterClient(clientID, req.LastEventID)

	jobCtx, cancel := context.WithCancel(ctx)
	st := &Stream{
		ID:                streamID,
		SessionID:         session.ID,
		RequestMessageID:  reqID,
		ResponseMessageID: respID,
		events:            make(chan sse.Event, streamChannelDepth),
		cancel:            cancel,
		done:              make(chan struct{}),
	}

	metrics.ActiveStreams.Inc()
	go c.run(jobCtx, req, st, clientID)
	return st, nil
}

func (c *Completion) resolveSession(ctx context.Context, req *Request) (*store.Session, error) {
	if req.SessionID != "" {
		return c.deps.Sessions.GetSession(ctx, req.SessionID)
	}
	title := req.Prompt
	if len(title) > titleLimit {
		title = title[:titleLimit]
	}
	return c.deps.Sessions.CreateSession(ctx, store.Session{Title: title})
}

// run is the single background writer for one stream. The deferred close of
// the event channel is the stream's sole termination signal and fires on
// every path.
func (c *Completion) run(ctx context.Context, req Request, st *Stream, clientID string) {
	logger := c.logger.With().
		Str(log.FieldSessionID, st.SessionID).
		Str(log.FieldClientID, clientID).
		Logger()

	defer close(st.done)
	defer metrics.ActiveStreams.Dec()
	defer close(st.events)

	// relay to the consumer; gives up when the caller is gone so no writer
	// outlives its stream
	send := func(e sse.Event) bool {
		select {
		case st.events <- e:
			metrics.IncStreamEvent(string(e.Payload.Kind()))
			c.deps.Buffer.TouchClient(clientID, e.ID)
			return true
		case <-ctx.Done():
			return false
		}
	}
	// live events go into the buffer first so a future resume can catch up
	emit := func(e sse.Event) {
		send(c.deps.Buffer.Append(e))
	}

	// snapshot catch-up events before ready enters the buffer, so the
	// replay never includes this stream's own events
	var replay []sse.Event
	if req.LastEventID != "" {
		replay = c.deps.Buffer.EventsSince(req.LastEventID, 0)
	}

	emit(sse.New(sse.ReadyPayload{
		RequestMessageID:  st.RequestMessageID,
		ResponseMessageID: st.ResponseMessageID,
	}))

	// pure retransmission: tagged, original order, never re-appended
	for _, e := range replay {
		e.Replay = true
		if !send(e) {
			return
		}
	}

	if req.TaskType == "" {
		emit(sse.New(sse.CompletedPayload{}))
		logger.Debug().
			Str("event", "chat.stream_finished").
			Msg("stream finished without background job")
		return
	}

	pipeline, err := c.deps.Factory.Create(req.TaskType)
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "chat.pipeline_create_failed").
			Str(log.FieldTaskType, req.TaskType).
			Msg("cannot build pipeline")
		emit(sse.New(sse.ErrorPayload{Error: err.Error()}))
		return
	}

	job := task.NewJob(req.TaskType, req.inputs())
	logger = logger.With().Str(log.FieldJobID, job.ID).Logger()

	if err := pipeline.Run(ctx, job, emit); err != nil {
		if ctx.Err() != nil {
			// cancelled: statuses are stamped, the closing channel is the signal
			logger.Info().
				Str("event", "chat.stream_cancelled").
				Msg("stream cancelled")
			return
		}
		logger.Error().
			Err(err).
			Str("event", "chat.job_failed").
			Msg("background job failed")
		emit(sse.New(sse.ErrorPayload{Error: err.Error()}))
		return
	}

	c.persistResult(st, job, logger)
	logger.Info().
		Str("event", "chat.stream_finished").
		Msg("stream finished")
}

// persistResult writes the assistant message on its own context: the job is
// done, so a caller disconnect must not lose the result.
func (c *Completion) persistResult(st *Stream, job *task.Job, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	err := c.deps.Sessions.AppendMessage(ctx, st.SessionID, store.Message{
		ID:       st.ResponseMessageID,
		Role:     "assistant",
		Content:  job.Result,
		TaskType: job.TaskType,
		Outputs:  job.Outputs,
	})
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "chat.persist_failed").
			Msg("failed to persist assistant message")
	}
}
