// SPDX-License-Identifier: MIT

// Package media holds the capability boundary between the task engine and
// the tools that do the actual audio work. The engine only sees these
// interfaces; production wiring binds them to ffmpeg and the recognition
// engine, tests bind them to deterministic fakes.
package media

import (
	"context"
	"errors"
)

// ProgressFunc receives stage-local progress in [0, 100]. Implementations
// must tolerate bursts; throttling is the caller's concern.
type ProgressFunc func(percent float64)

// ErrNoInput is returned when a capability is invoked without input files.
var ErrNoInput = errors.New("media: no input files")

// Transcoder converts one media file into the engine's working format.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath string, onProgress ProgressFunc) (outputPath string, err error)
}

// Recognizer turns an audio file into a transcript.
type Recognizer interface {
	Recognize(ctx context.Context, audioPath string, onProgress ProgressFunc) (transcript string, err error)
}

// Concatenator joins preprocessed inputs into a single output file.
type Concatenator interface {
	Concat(ctx context.Context, inputPaths []string, onProgress ProgressFunc) (outputPath string, err error)
}

// Synthesizer renders text to an audio file.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, onProgress ProgressFunc) (audioPath string, err error)
}

// TranscoderFunc adapts a function to the Transcoder interface.
type TranscoderFunc func(ctx context.Context, inputPath string, onProgress ProgressFunc) (string, error)

func (f TranscoderFunc) Transcode(ctx context.Context, inputPath string, onProgress ProgressFunc) (string, error) {
	return f(ctx, inputPath, onProgress)
}

// RecognizerFunc adapts a function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, audioPath string, onProgress ProgressFunc) (string, error)

func (f RecognizerFunc) Recognize(ctx context.Context, audioPath string, onProgress ProgressFunc) (string, error) {
	return f(ctx, audioPath, onProgress)
}

// SynthesizerFunc adapts a function to the Synthesizer interface.
type SynthesizerFunc func(ctx context.Context, text string, onProgress ProgressFunc) (string, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, text string, onProgress ProgressFunc) (string, error) {
	return f(ctx, text, onProgress)
}
