// SPDX-License-Identifier: MIT

// Package task runs named multi-stage jobs and reports weighted progress
// through buffer-ready events. A pipeline owns its job's state exclusively;
// callers observe it through the emitted events and completion hooks.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle of a job or one of its stage items.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
	StatusCancelled  Status = "Cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is one pipeline execution over a set of input files.
type Job struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	TaskType  string     `json:"taskType"`
	Status    Status     `json:"status"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Inputs    []string   `json:"inputs"`
	Outputs   []string   `json:"outputs,omitempty"`
	Result    string     `json:"result,omitempty"`
	SubTasks  []*JobStage `json:"subTasks"`
}

// JobStage tracks one unit of work: one input file's pass through the
// per-unit stages, or the job-level final stage. Terminal fields are set
// once and never mutated afterwards.
type JobStage struct {
	ID           string     `json:"id"`
	Stage        string     `json:"stage"`
	InputRef     string     `json:"inputRef,omitempty"`
	OutputRef    string     `json:"outputRef,omitempty"`
	Status       Status     `json:"status"`
	StartTime    *time.Time `json:"startTime,omitempty"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// NewJob creates a Pending job for taskType over inputs, with one Pending
// stage item per input.
func NewJob(taskType string, inputs []string) *Job {
	j := &Job{
		ID:       uuid.NewString(),
		Name:     taskType,
		TaskType: taskType,
		Status:   StatusPending,
		Inputs:   append([]string(nil), inputs...),
	}
	for _, in := range inputs {
		j.SubTasks = append(j.SubTasks, &JobStage{
			ID:       uuid.NewString(),
			InputRef: in,
			Status:   StatusPending,
		})
	}
	return j
}

// Counts returns how many stage items ended Completed and Failed.
func (j *Job) Counts() (succeeded, failed int) {
	for _, st := range j.SubTasks {
		switch st.Status {
		case StatusCompleted:
			succeeded++
		case StatusFailed:
			failed++
		}
	}
	return succeeded, failed
}
