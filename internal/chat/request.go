// SPDX-License-Identifier: MIT

// Package chat binds one client request to one background job and exposes
// the result as a single ordered, resumable event stream.
package chat

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation marks requests rejected before any background work starts.
var ErrValidation = errors.New("invalid request")

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation.Error(), e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Request is the logical completion request, transport-agnostic.
type Request struct {
	Prompt          string   `json:"prompt"`
	SessionID       string   `json:"sessionId,omitempty"`
	ParentMessageID *int     `json:"parentMessageId,omitempty"`
	TaskType        string   `json:"taskType,omitempty"` // asr, merge, tts or empty
	RefFileIDs      []string `json:"refFileIds,omitempty"`
	LastEventID     string   `json:"lastEventId,omitempty"`
	ClientID        string   `json:"clientId,omitempty"`
	ThinkingEnabled bool     `json:"thinkingEnabled,omitempty"`
}

// MessageIDs derives the request/response message ID pair from the parent.
func (r *Request) MessageIDs() (request, response int) {
	parent := 0
	if r.ParentMessageID != nil {
		parent = *r.ParentMessageID
	}
	return parent + 1, parent + 2
}

// validate rejects structurally bad requests. Task-type existence is the
// orchestrator's job since it owns the factory.
func (r *Request) validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return &ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if r.ParentMessageID != nil && *r.ParentMessageID < 0 {
		return &ValidationError{Field: "parentMessageId", Reason: "must not be negative"}
	}
	switch r.TaskType {
	case "", "tts":
	case "asr", "merge":
		if len(r.RefFileIDs) == 0 {
			return &ValidationError{Field: "refFileIds", Reason: "required for task type " + r.TaskType}
		}
	default:
		// unknown types are still checked against the factory later; only
		// structurally invalid values are rejected here
	}
	return nil
}

// inputs returns the units the pipeline will process: referenced files for
// media tasks, the prompt text for synthesis.
func (r *Request) inputs() []string {
	if r.TaskType == "tts" {
		return []string{r.Prompt}
	}
	return r.RefFileIDs
}
