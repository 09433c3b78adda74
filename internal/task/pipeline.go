// SPDX-License-Identifier: MIT

package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/taskstream/internal/log"
	"github.com/ManuGH/taskstream/internal/media"
	"github.com/ManuGH/taskstream/internal/metrics"
	"github.com/ManuGH/taskstream/internal/sse"
)

// ErrInvalidStages rejects a pipeline definition whose weights do not sum
// to exactly 100, carry a non-positive weight, or lack a stage name.
var ErrInvalidStages = errors.New("task: invalid stage definition")

// Stage is one per-unit step: every input file passes through each unit
// stage in order, the output of one feeding the next.
type Stage struct {
	Name   string
	Weight int
	Run    func(ctx context.Context, input string, onProgress media.ProgressFunc) (string, error)
}

// FinalStage is an optional job-level step run once over the successful
// unit outputs, e.g. the concat step of a merge job.
type FinalStage struct {
	Name   string
	Weight int
	Run    func(ctx context.Context, inputs []string, onProgress media.ProgressFunc) (string, error)
}

// Options tunes a pipeline. Zero values select the production defaults.
type Options struct {
	MinProgressInterval time.Duration
	MinProgressDelta    float64
	Clock               func() time.Time // test hook

	// OnStageCompleted fires after each stage item reaches a terminal
	// status; OnJobCompleted fires once after the job does. Both are
	// invoked synchronously from the run loop.
	OnStageCompleted func(*Job, *JobStage)
	OnJobCompleted   func(*Job)
}

// Pipeline executes one job at a time; a single instance must not be shared
// across concurrent Run calls.
type Pipeline struct {
	taskType   string
	unitStages []Stage
	finalStage *FinalStage
	opts       Options
	logger     zerolog.Logger
}

// New validates the stage definition and builds a pipeline. Weights across
// unit stages plus the final stage must sum to exactly 100; this is a
// configuration error and fails before any job runs.
func New(taskType string, unitStages []Stage, finalStage *FinalStage, opts Options) (*Pipeline, error) {
	if len(unitStages) == 0 {
		return nil, fmt.Errorf("%w: %s has no stages", ErrInvalidStages, taskType)
	}
	sum := 0
	seen := make(map[string]bool)
	for _, s := range unitStages {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: %s has an unnamed stage", ErrInvalidStages, taskType)
		}
		if s.Weight <= 0 {
			return nil, fmt.Errorf("%w: %s stage %s has weight %d", ErrInvalidStages, taskType, s.Name, s.Weight)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("%w: %s has duplicate stage %s", ErrInvalidStages, taskType, s.Name)
		}
		seen[s.Name] = true
		sum += s.Weight
	}
	if finalStage != nil {
		if finalStage.Name == "" {
			return nil, fmt.Errorf("%w: %s has an unnamed final stage", ErrInvalidStages, taskType)
		}
		if finalStage.Weight <= 0 {
			return nil, fmt.Errorf("%w: %s final stage %s has weight %d", ErrInvalidStages, taskType, finalStage.Name, finalStage.Weight)
		}
		sum += finalStage.Weight
	}
	if sum != 100 {
		return nil, fmt.Errorf("%w: %s weights sum to %d, want 100", ErrInvalidStages, taskType, sum)
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Pipeline{
		taskType:   taskType,
		unitStages: unitStages,
		finalStage: finalStage,
		opts:       opts,
		logger:     log.WithComponent("pipeline").With().Str(log.FieldTaskType, taskType).Logger(),
	}, nil
}

// progress tracks weighted overall percentage across units and the final
// stage. Overall never decreases within a run.
type progress struct {
	unitLocals [][]float64 // [unit][stage] local percent
	finalLocal float64
	unitStages []Stage
	finalW     int
	overall    float64
}

func newProgress(units int, unitStages []Stage, finalW int) *progress {
	locals := make([][]float64, units)
	for i := range locals {
		locals[i] = make([]float64, len(unitStages))
	}
	return &progress{unitLocals: locals, unitStages: unitStages, finalW: finalW}
}

// set records a local percentage and returns the recomputed overall.
func (p *progress) set(unit, stage int, local float64) float64 {
	if local < 0 {
		local = 0
	}
	if local > 100 {
		local = 100
	}
	if local > p.unitLocals[unit][stage] {
		p.unitLocals[unit][stage] = local
	}
	return p.recompute()
}

func (p *progress) setFinal(local float64) float64 {
	if local > p.finalLocal && local <= 100 {
		p.finalLocal = local
	}
	return p.recompute()
}

func (p *progress) recompute() float64 {
	var sum float64
	for _, locals := range p.unitLocals {
		for s, local := range locals {
			sum += float64(p.unitStages[s].Weight) * local / 100
		}
	}
	sum /= float64(len(p.unitLocals))
	sum += float64(p.finalW) * p.finalLocal / 100
	if sum > p.overall {
		p.overall = sum
	}
	return p.overall
}

// Run executes the job, writing events through emit. It returns nil when
// the job reached a terminal event (completed, possibly with per-unit
// failures) and the context error when cancelled; a cancelled run emits no
// terminal event. The caller owns the sink and closes it after Run returns.
func (p *Pipeline) Run(ctx context.Context, job *Job, emit func(sse.Event)) error {
	now := p.opts.Clock().UTC()
	job.Status = StatusProcessing
	job.StartTime = now

	finalW := 0
	if p.finalStage != nil {
		finalW = p.finalStage.Weight
	}
	prog := newProgress(len(job.SubTasks), p.unitStages, finalW)
	gate := newProgressGate(p.opts.MinProgressInterval, p.opts.MinProgressDelta)

	p.logger.Info().
		Str("event", "pipeline.job_started").
		Str(log.FieldJobID, job.ID).
		Int("inputs", len(job.Inputs)).
		Msg("job started")

	for i, item := range job.SubTasks {
		if err := ctx.Err(); err != nil {
			p.cancelFrom(job, i)
			return err
		}
		if err := p.runUnit(ctx, job, i, item, prog, gate, emit); err != nil {
			p.cancelFrom(job, i)
			return err
		}
	}

	if p.finalStage != nil {
		if err := p.runFinal(ctx, job, prog, gate, emit); err != nil {
			return err
		}
	} else if len(job.Outputs) > 0 {
		job.Result = strings.Join(job.Outputs, "\n")
	}

	p.finish(job, emit)
	return nil
}

// runUnit pushes one input through every unit stage. Stage failures are
// absorbed: the item ends Failed and the next unit still runs. Only a
// cancellation is returned.
func (p *Pipeline) runUnit(ctx context.Context, job *Job, idx int, item *JobStage, prog *progress, gate *progressGate, emit func(sse.Event)) error {
	start := p.opts.Clock().UTC()
	item.Status = StatusProcessing
	item.StartTime = &start

	input := item.InputRef
	cumWeight := 0
	for s, stage := range p.unitStages {
		item.Stage = stage.Name

		output, err := stage.Run(ctx, input, func(local float64) {
			overall := prog.set(idx, s, local)
			p.emitProgress(emit, gate, overall, idx, false)
		})
		if err != nil {
			if isCancellation(ctx, err) {
				p.finalizeItem(job, item, StatusCancelled, "")
				return err
			}
			metrics.IncStageFailure(job.TaskType, stage.Name)
			p.logger.Warn().
				Err(err).
				Str("event", "pipeline.stage_failed").
				Str(log.FieldJobID, job.ID).
				Str(log.FieldStage, stage.Name).
				Str(log.FieldInputFile, item.InputRef).
				Msg("stage failed, continuing with next unit")
			p.finalizeItem(job, item, StatusFailed, err.Error())
			return nil
		}

		overall := prog.set(idx, s, 100)
		cumWeight += stage.Weight
		emit(sse.New(sse.StageCompletePayload{
			FileID:             item.ID,
			Stage:              stage.Name,
			StageWeight:        stage.Weight,
			FileWeightProgress: float64(cumWeight),
		}))
		p.emitProgress(emit, gate, overall, idx, true)
		input = output
	}

	item.OutputRef = input
	job.Outputs = append(job.Outputs, input)
	p.finalizeItem(job, item, StatusCompleted, "")
	emit(sse.New(sse.FileCompletePayload{
		FileID:       item.ID,
		TotalSeconds: p.opts.Clock().UTC().Sub(start).Seconds(),
	}))
	return nil
}

// runFinal executes the job-level stage over the successful unit outputs.
// Its failure is absorbed like a unit failure so the stream still ends with
// a counted terminal event.
func (p *Pipeline) runFinal(ctx context.Context, job *Job, prog *progress, gate *progressGate, emit func(sse.Event)) error {
	start := p.opts.Clock().UTC()
	item := &JobStage{
		ID:        uuid.NewString(),
		Stage:     p.finalStage.Name,
		Status:    StatusProcessing,
		StartTime: &start,
	}
	job.SubTasks = append(job.SubTasks, item)

	if err := ctx.Err(); err != nil {
		p.finalizeItem(job, item, StatusCancelled, "")
		return err
	}

	output, err := p.finalStage.Run(ctx, job.Outputs, func(local float64) {
		overall := prog.setFinal(local)
		p.emitProgress(emit, gate, overall, -1, false)
	})
	if err != nil {
		if isCancellation(ctx, err) {
			p.finalizeItem(job, item, StatusCancelled, "")
			return err
		}
		metrics.IncStageFailure(job.TaskType, p.finalStage.Name)
		p.logger.Warn().
			Err(err).
			Str("event", "pipeline.stage_failed").
			Str(log.FieldJobID, job.ID).
			Str(log.FieldStage, p.finalStage.Name).
			Msg("final stage failed")
		p.finalizeItem(job, item, StatusFailed, err.Error())
		return nil
	}

	item.OutputRef = output
	job.Result = output
	p.finalizeItem(job, item, StatusCompleted, "")
	overall := prog.setFinal(100)
	emit(sse.New(sse.StageCompletePayload{
		FileID:             item.ID,
		Stage:              p.finalStage.Name,
		StageWeight:        p.finalStage.Weight,
		FileWeightProgress: 100,
	}))
	p.emitProgress(emit, gate, overall, -1, true)
	emit(sse.New(sse.FileCompletePayload{
		FileID:       item.ID,
		TotalSeconds: p.opts.Clock().UTC().Sub(start).Seconds(),
	}))
	return nil
}

func (p *Pipeline) emitProgress(emit func(sse.Event), gate *progressGate, overall float64, unit int, force bool) {
	if !gate.allow(overall, force) {
		return
	}
	payload := sse.ProgressPayload{Percentage: overall}
	if unit >= 0 {
		u := unit
		payload.FileIndex = &u
	}
	emit(sse.New(payload))
}

// finalizeItem stamps the terminal status and fires the stage hook.
func (p *Pipeline) finalizeItem(job *Job, item *JobStage, status Status, errMsg string) {
	end := p.opts.Clock().UTC()
	item.Status = status
	item.EndTime = &end
	item.ErrorMessage = errMsg
	if p.opts.OnStageCompleted != nil {
		p.opts.OnStageCompleted(job, item)
	}
}

// cancelFrom marks the item at idx (if still live) and every later item as
// Cancelled, then stamps the job. No terminal event is emitted for a
// cancelled run; the closing sink tells the consumer the stream is over.
func (p *Pipeline) cancelFrom(job *Job, idx int) {
	end := p.opts.Clock().UTC()
	for _, item := range job.SubTasks[idx:] {
		if item.Status.IsTerminal() {
			continue
		}
		item.Status = StatusCancelled
		item.EndTime = &end
		if p.opts.OnStageCompleted != nil {
			p.opts.OnStageCompleted(job, item)
		}
	}
	job.Status = StatusCancelled
	job.EndTime = &end
	metrics.ObserveJobDuration(job.TaskType, "cancelled", end.Sub(job.StartTime))
	p.logger.Info().
		Str("event", "pipeline.job_cancelled").
		Str(log.FieldJobID, job.ID).
		Msg("job cancelled")
	if p.opts.OnJobCompleted != nil {
		p.opts.OnJobCompleted(job)
	}
}

// finish emits the single completed event and closes out the job.
func (p *Pipeline) finish(job *Job, emit func(sse.Event)) {
	end := p.opts.Clock().UTC()
	succeeded, failed := job.Counts()

	job.EndTime = &end
	outcome := "completed"
	job.Status = StatusCompleted
	if succeeded == 0 && failed > 0 {
		job.Status = StatusFailed
		outcome = "failed"
	}
	metrics.ObserveJobDuration(job.TaskType, outcome, end.Sub(job.StartTime))

	emit(sse.New(sse.CompletedPayload{
		Result:    job.Result,
		Succeeded: succeeded,
		Failed:    failed,
	}))
	p.logger.Info().
		Str("event", "pipeline.job_finished").
		Str(log.FieldJobID, job.ID).
		Str(log.FieldNewStatus, string(job.Status)).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Msg("job finished")
	if p.opts.OnJobCompleted != nil {
		p.opts.OnJobCompleted(job)
	}
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
