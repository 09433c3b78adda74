// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StageWeight assigns one pipeline stage its share of overall job progress.
type StageWeight struct {
	Stage  string `yaml:"stage"`
	Weight int    `yaml:"weight"`
}

// Weights maps a task type to its ordered stage weights. Weights for a task
// type must sum to exactly 100; this is a configuration invariant, enforced
// before any pipeline runs.
type Weights map[string][]StageWeight

// ErrInvalidWeights marks stage-weight configurations that cannot be used.
var ErrInvalidWeights = errors.New("invalid stage weights")

// DefaultWeights returns the built-in stage weights: speech recognition
// splits 20/80 between transcode and recognize, video merge 60/40 between
// per-input preprocessing and the final concat, synthesis is single-stage.
func DefaultWeights() Weights {
	return Weights{
		"asr": {
			{Stage: "transcode", Weight: 20},
			{Stage: "recognize", Weight: 80},
		},
		"merge": {
			{Stage: "preprocess", Weight: 60},
			{Stage: "concat", Weight: 40},
		},
		"tts": {
			{Stage: "synthesize", Weight: 100},
		},
	}
}

// Validate checks every task type's weights: positive values, named stages,
// and a total of exactly 100.
func (w Weights) Validate() error {
	if len(w) == 0 {
		return fmt.Errorf("%w: no task types configured", ErrInvalidWeights)
	}
	for taskType, stages := range w {
		if len(stages) == 0 {
			return fmt.Errorf("%w: task type %q has no stages", ErrInvalidWeights, taskType)
		}
		sum := 0
		seen := make(map[string]bool, len(stages))
		for _, sw := range stages {
			if sw.Stage == "" {
				return fmt.Errorf("%w: task type %q has an unnamed stage", ErrInvalidWeights, taskType)
			}
			if seen[sw.Stage] {
				return fmt.Errorf("%w: task type %q lists stage %q twice", ErrInvalidWeights, taskType, sw.Stage)
			}
			seen[sw.Stage] = true
			if sw.Weight <= 0 {
				return fmt.Errorf("%w: task type %q stage %q has non-positive weight %d", ErrInvalidWeights, taskType, sw.Stage, sw.Weight)
			}
			sum += sw.Weight
		}
		if sum != 100 {
			return fmt.Errorf("%w: task type %q weights sum to %d, want 100", ErrInvalidWeights, taskType, sum)
		}
	}
	return nil
}

// For returns the stage weights for a task type, or nil if unconfigured.
func (w Weights) For(taskType string) []StageWeight {
	return w[taskType]
}

// LoadWeights reads and validates a stage-weight file. Task types present in
// the file replace the defaults; absent ones keep them.
func LoadWeights(path string) (Weights, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weights file %s: %w", path, err)
	}
	var fileWeights Weights
	if err := yaml.Unmarshal(buf, &fileWeights); err != nil {
		return nil, fmt.Errorf("parse weights file %s: %w", path, err)
	}

	merged := DefaultWeights()
	for taskType, stages := range fileWeights {
		merged[taskType] = stages
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}
