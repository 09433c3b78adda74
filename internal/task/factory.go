// SPDX-License-Identifier: MIT

package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ManuGH/taskstream/internal/config"
	"github.com/ManuGH/taskstream/internal/media"
)

// ErrUnknownTaskType is returned by Create for an unregistered task type.
var ErrUnknownTaskType = errors.New("task: unknown task type")

// Deps carries the external capabilities and the stage-weight configuration
// the built-in pipelines need.
type Deps struct {
	Transcoder   media.Transcoder
	Recognizer   media.Recognizer
	Concatenator media.Concatenator
	Synthesizer  media.Synthesizer
	Weights      func() config.Weights // live view, supports hot reload
	Options      Options
}

func (d Deps) weights() config.Weights {
	if d.Weights != nil {
		if w := d.Weights(); w != nil {
			return w
		}
	}
	return config.DefaultWeights()
}

func (d Deps) weightFor(taskType, stage string) (int, error) {
	for _, sw := range d.weights().For(taskType) {
		if sw.Stage == stage {
			return sw.Weight, nil
		}
	}
	return 0, fmt.Errorf("%w: task type %q stage %q has no weight", config.ErrInvalidWeights, taskType, stage)
}

// Builder constructs a pipeline for one task type from the shared deps.
type Builder func(deps Deps) (*Pipeline, error)

// Factory is an open registry of task types. The built-in types asr, merge
// and tts are registered by NewFactory; callers may add more.
type Factory struct {
	mu       sync.RWMutex
	deps     Deps
	builders map[string]Builder
}

// NewFactory builds a factory with the built-in task types registered.
func NewFactory(deps Deps) *Factory {
	f := &Factory{
		deps:     deps,
		builders: make(map[string]Builder),
	}
	f.Register("asr", buildASR)
	f.Register("merge", buildMerge)
	f.Register("tts", buildTTS)
	return f
}

// Register adds or replaces a task type.
func (f *Factory) Register(taskType string, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[taskType] = b
}

// Create builds a fresh pipeline for taskType. Each call returns a new
// instance because a pipeline runs exactly one job.
func (f *Factory) Create(taskType string) (*Pipeline, error) {
	f.mu.RLock()
	b, ok := f.builders[taskType]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
	}
	return b(f.deps)
}

// Known reports whether taskType is registered.
func (f *Factory) Known(taskType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.builders[taskType]
	return ok
}

// Types lists the registered task types, sorted.
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.builders))
	for t := range f.builders {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// buildASR wires transcode then recognize over each input file.
func buildASR(deps Deps) (*Pipeline, error) {
	wTranscode, err := deps.weightFor("asr", "transcode")
	if err != nil {
		return nil, err
	}
	wRecognize, err := deps.weightFor("asr", "recognize")
	if err != nil {
		return nil, err
	}
	return New("asr", []Stage{
		{Name: "transcode", Weight: wTranscode, Run: deps.Transcoder.Transcode},
		{Name: "recognize", Weight: wRecognize, Run: deps.Recognizer.Recognize},
	}, nil, deps.Options)
}

// buildMerge wires per-input preprocessing plus a final concat.
func buildMerge(deps Deps) (*Pipeline, error) {
	wPreprocess, err := deps.weightFor("merge", "preprocess")
	if err != nil {
		return nil, err
	}
	wConcat, err := deps.weightFor("merge", "concat")
	if err != nil {
		return nil, err
	}
	return New("merge", []Stage{
		{Name: "preprocess", Weight: wPreprocess, Run: deps.Transcoder.Transcode},
	}, &FinalStage{
		Name:   "concat",
		Weight: wConcat,
		Run:    deps.Concatenator.Concat,
	}, deps.Options)
}

// buildTTS wires single-stage synthesis; the "input" each unit carries is
// the text to render.
func buildTTS(deps Deps) (*Pipeline, error) {
	wSynthesize, err := deps.weightFor("tts", "synthesize")
	if err != nil {
		return nil, err
	}
	return New("tts", []Stage{
		{Name: "synthesize", Weight: wSynthesize, Run: synthStage(deps.Synthesizer)},
	}, nil, deps.Options)
}

func synthStage(s media.Synthesizer) func(ctx context.Context, input string, onProgress media.ProgressFunc) (string, error) {
	return func(ctx context.Context, input string, onProgress media.ProgressFunc) (string, error) {
		return s.Synthesize(ctx, input, onProgress)
	}
}
