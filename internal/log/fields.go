// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldClientID  = "client_id"
	FieldJobID     = "job_id"
	FieldEventID   = "event_id"
	FieldSessionID = "session_id"
	FieldStageID   = "stage_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldTaskType  = "task_type"
	FieldStage     = "stage"

	// State fields
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"

	// Path fields
	FieldPath       = "path"
	FieldInputFile  = "input_file"
	FieldOutputFile = "output_file"
)
