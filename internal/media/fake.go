// SPDX-License-Identifier: MIT

package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Scripted capabilities emit a fixed progress sequence and a deterministic
// result. They back unit tests and the engine's default wiring when no real
// recognition or synthesis backend is configured.

// ScriptedSteps is the default progress sequence of the scripted fakes.
var ScriptedSteps = []float64{25, 50, 75, 100}

// ScriptedTranscoder reports Steps and returns the input path with Suffix
// appended, failing instead when Err is set.
type ScriptedTranscoder struct {
	Steps  []float64
	Suffix string
	Err    error
}

func (s *ScriptedTranscoder) Transcode(ctx context.Context, inputPath string, onProgress ProgressFunc) (string, error) {
	if err := emitSteps(ctx, s.Steps, onProgress); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	suffix := s.Suffix
	if suffix == "" {
		suffix = ".wav"
	}
	return inputPath + suffix, nil
}

// ScriptedRecognizer reports Steps and returns a transcript derived from the
// audio file name.
type ScriptedRecognizer struct {
	Steps []float64
	Err   error
}

func (s *ScriptedRecognizer) Recognize(ctx context.Context, audioPath string, onProgress ProgressFunc) (string, error) {
	if err := emitSteps(ctx, s.Steps, onProgress); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	base := filepath.Base(audioPath)
	return fmt.Sprintf("transcript of %s", strings.TrimSuffix(base, filepath.Ext(base))), nil
}

// ScriptedConcatenator reports Steps and returns a synthetic output naming
// the joined inputs.
type ScriptedConcatenator struct {
	Steps []float64
	Err   error
}

func (s *ScriptedConcatenator) Concat(ctx context.Context, inputPaths []string, onProgress ProgressFunc) (string, error) {
	if len(inputPaths) == 0 {
		return "", ErrNoInput
	}
	if err := emitSteps(ctx, s.Steps, onProgress); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	return fmt.Sprintf("merged-%d.wav", len(inputPaths)), nil
}

// ScriptedSynthesizer reports Steps and returns a synthetic audio path.
type ScriptedSynthesizer struct {
	Steps []float64
	Err   error
}

func (s *ScriptedSynthesizer) Synthesize(ctx context.Context, text string, onProgress ProgressFunc) (string, error) {
	if err := emitSteps(ctx, s.Steps, onProgress); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	return fmt.Sprintf("speech-%d.wav", len(text)), nil
}

func emitSteps(ctx context.Context, steps []float64, onProgress ProgressFunc) error {
	if len(steps) == 0 {
		steps = ScriptedSteps
	}
	for _, pct := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if onProgress != nil {
			onProgress(pct)
		}
	}
	return nil
}
