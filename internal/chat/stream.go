// SPDX-License-Identifier: MIT

package chat

import (
	"context"

	"github.com/ManuGH/taskstream/internal/sse"
)

// Stream is the handle for one in-flight completion. The consumer drains
// Events until it closes; closure is the only termination signal. Cancel
// stops the background job; the channel still closes afterwards, so a
// consumer can always range to the end.
type Stream struct {
	ID                string
	SessionID         string
	RequestMessageID  int
	ResponseMessageID int

	events chan sse.Event
	cancel context.CancelFunc
	done   chan struct{}
}

// Events returns the ordered event sequence. The first event is always
// ready; the last, when the job was not cancelled, is the single terminal
// event.
func (s *Stream) Events() <-chan sse.Event { return s.events }

// Cancel stops the background job. Safe to call more than once.
func (s *Stream) Cancel() { s.cancel() }

// Done is closed once the background writer has fully exited.
func (s *Stream) Done() <-chan struct{} { return s.done }
