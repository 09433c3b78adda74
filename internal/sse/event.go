// SPDX-License-Identifier: MIT

// Package sse defines the typed event model for the server-push stream.
package sse

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the event variant on the wire.
type Kind string

const (
	KindReady         Kind = "ready"
	KindProgress      Kind = "progress"
	KindStageComplete Kind = "stage-complete"
	KindFileComplete  Kind = "file-complete"
	KindCompleted     Kind = "completed"
	KindError         Kind = "error"
)

// IsTerminal reports whether an event of this kind ends a stream.
func (k Kind) IsTerminal() bool {
	switch k {
	case KindCompleted, KindError:
		return true
	}
	return false
}

// Payload is the closed set of event payloads. Each variant carries its own
// strongly-typed data so consumers can switch exhaustively.
type Payload interface {
	Kind() Kind
}

// ReadyPayload announces the message IDs assigned to a request before any
// work starts. It is the first element of every stream.
type ReadyPayload struct {
	RequestMessageID  int `json:"requestMessageId"`
	ResponseMessageID int `json:"responseMessageId"`
}

// ProgressPayload reports weighted overall progress for a job, optionally
// scoped to a single input file.
type ProgressPayload struct {
	Percentage float64 `json:"percentage"`
	FileIndex  *int    `json:"fileIndex,omitempty"`
}

// StageCompletePayload reports one pipeline stage finishing for one file.
type StageCompletePayload struct {
	FileID             string  `json:"fileId"`
	Stage              string  `json:"stage"`
	StageWeight        int     `json:"stageWeight"`
	FileWeightProgress float64 `json:"fileWeightProgress"`
}

// FileCompletePayload reports all stages finishing for one file.
type FileCompletePayload struct {
	FileID       string  `json:"fileId"`
	TotalSeconds float64 `json:"totalTime"`
}

// CompletedPayload is the successful terminal event, carrying the
// succeeded/failed unit counts of the job.
type CompletedPayload struct {
	Result    string `json:"result,omitempty"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// ErrorPayload is the failure terminal event.
type ErrorPayload struct {
	Error string `json:"error"`
}

func (ReadyPayload) Kind() Kind         { return KindReady }
func (ProgressPayload) Kind() Kind      { return KindProgress }
func (StageCompletePayload) Kind() Kind { return KindStageComplete }
func (FileCompletePayload) Kind() Kind  { return KindFileComplete }
func (CompletedPayload) Kind() Kind     { return KindCompleted }
func (ErrorPayload) Kind() Kind         { return KindError }

// Event is one element of the push stream. Events are immutable once
// created; the Replay flag is the only field set after the fact, and only on
// copies handed out during catch-up.
type Event struct {
	ID        string
	Timestamp time.Time
	Retry     time.Duration // optional client retry hint
	Replay    bool          // true when retransmitted from the buffer
	Payload   Payload
}

// New creates an event with a fresh ID and UTC timestamp.
func New(p Payload) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Payload:   p,
	}
}

// Kind returns the variant tag of the payload, or "" for a zero event.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Before orders events by (timestamp, id) ascending.
func (e Event) Before(other Event) bool {
	if !e.Timestamp.Equal(other.Timestamp) {
		return e.Timestamp.Before(other.Timestamp)
	}
	return e.ID < other.ID
}

type wireEvent struct {
	ID        string          `json:"id"`
	EventType Kind            `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
	RetryMs   int64           `json:"retryMs,omitempty"`
	Replay    bool            `json:"replay,omitempty"`
}

// MarshalJSON emits the wire shape: id, event tag, payload under "data",
// millisecond timestamp and optional retry hint.
func (e Event) MarshalJSON() ([]byte, error) {
	var data json.RawMessage
	if e.Payload != nil {
		buf, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", e.Kind(), err)
		}
		data = buf
	}
	return json.Marshal(wireEvent{
		ID:        e.ID,
		EventType: e.Kind(),
		Data:      data,
		Timestamp: e.Timestamp.UnixMilli(),
		RetryMs:   e.Retry.Milliseconds(),
		Replay:    e.Replay,
	})
}

// UnmarshalJSON decodes the wire shape back into a typed payload. Unknown
// event tags are rejected so the variant set stays closed.
func (e *Event) UnmarshalJSON(buf []byte) error {
	var w wireEvent
	if err := json.Unmarshal(buf, &w); err != nil {
		return err
	}

	var payload Payload
	switch w.EventType {
	case KindReady:
		payload = &ReadyPayload{}
	case KindProgress:
		payload = &ProgressPayload{}
	case KindStageComplete:
		payload = &StageCompletePayload{}
	case KindFileComplete:
		payload = &FileCompletePayload{}
	case KindCompleted:
		payload = &CompletedPayload{}
	case KindError:
		payload = &ErrorPayload{}
	default:
		return fmt.Errorf("unknown event type %q", w.EventType)
	}
	if len(w.Data) > 0 {
		if err := json.Unmarshal(w.Data, payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", w.EventType, err)
		}
	}

	e.ID = w.ID
	e.Timestamp = time.UnixMilli(w.Timestamp).UTC()
	e.Retry = time.Duration(w.RetryMs) * time.Millisecond
	e.Replay = w.Replay
	e.Payload = derefPayload(payload)
	return nil
}

func derefPayload(p Payload) Payload {
	switch v := p.(type) {
	case *ReadyPayload:
		return *v
	case *ProgressPayload:
		return *v
	case *StageCompletePayload:
		return *v
	case *FileCompletePayload:
		return *v
	case *CompletedPayload:
		return *v
	case *ErrorPayload:
		return *v
	}
	return p
}
