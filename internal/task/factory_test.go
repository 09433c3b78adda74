// SPDX-License-Identifier: MIT

package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/taskstream/internal/config"
	"github.com/ManuGH/taskstream/internal/media"
	"github.com/ManuGH/taskstream/internal/sse"
)

func testDeps() Deps {
	return Deps{
		Transcoder:   &media.ScriptedTranscoder{Steps: []float64{100}},
		Recognizer:   &media.ScriptedRecognizer{Steps: []float64{100}},
		Concatenator: &media.ScriptedConcatenator{Steps: []float64{100}},
		Synthesizer:  &media.ScriptedSynthesizer{Steps: []float64{100}},
		Options:      fastOpts(),
	}
}

func TestFactoryRegistersBuiltins(t *testing.T) {
	f := NewFactory(testDeps())
	assert.Equal(t, []string{"asr", "merge", "tts"}, f.Types())
	assert.True(t, f.Known("asr"))
	assert.False(t, f.Known("ocr"))
}

func TestFactoryUnknownTaskType(t *testing.T) {
	f := NewFactory(testDeps())
	_, err := f.Create("ocr")
	assert.ErrorIs(t, err, ErrUnknownTaskType)
}

func TestFactoryCreateReturnsFreshInstances(t *testing.T) {
	f := NewFactory(testDeps())
	p1, err := f.Create("asr")
	require.NoError(t, err)
	p2, err := f.Create("asr")
	require.NoError(t, err)
	assert.NotSame(t, p1, p2)
}

func TestFactoryRejectsBrokenWeights(t *testing.T) {
	deps := testDeps()
	deps.Weights = func() config.Weights {
		return config.Weights{"asr": {{Stage: "transcode", Weight: 20}}}
	}
	f := NewFactory(deps)

	// recognize has no weight in this configuration
	_, err := f.Create("asr")
	assert.ErrorIs(t, err, config.ErrInvalidWeights)
}

func TestFactoryCustomRegistration(t *testing.T) {
	f := NewFactory(testDeps())
	f.Register("echo", func(deps Deps) (*Pipeline, error) {
		return New("echo", []Stage{{
			Name:   "echo",
			Weight: 100,
			Run: func(ctx context.Context, input string, onProgress media.ProgressFunc) (string, error) {
				return input, nil
			},
		}}, nil, deps.Options)
	})

	p, err := f.Create("echo")
	require.NoError(t, err)

	emit, _ := collect()
	job := NewJob("echo", []string{"hello"})
	require.NoError(t, p.Run(context.Background(), job, emit))
	assert.Equal(t, "hello", job.Result)
}

func TestASRPipelineEndToEnd(t *testing.T) {
	f := NewFactory(testDeps())
	p, err := f.Create("asr")
	require.NoError(t, err)

	emit, events := collect()
	job := NewJob("asr", []string{"/audio/clip.mp3"})
	require.NoError(t, p.Run(context.Background(), job, emit))

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Contains(t, job.Result, "transcript of")

	done, ok := (*events)[len(*events)-1].Payload.(sse.CompletedPayload)
	require.True(t, ok)
	assert.Equal(t, 1, done.Succeeded)
}

func TestMergePipelineEndToEnd(t *testing.T) {
	f := NewFactory(testDeps())
	p, err := f.Create("merge")
	require.NoError(t, err)

	emit, _ := collect()
	job := NewJob("merge", []string{"a.mp4", "b.mp4"})
	require.NoError(t, p.Run(context.Background(), job, emit))

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, "merged-2.wav", job.Result)
}

func TestTTSPipelineEndToEnd(t *testing.T) {
	f := NewFactory(testDeps())
	p, err := f.Create("tts")
	require.NoError(t, err)

	emit, _ := collect()
	job := NewJob("tts", []string{"hello world"})
	require.NoError(t, p.Run(context.Background(), job, emit))

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, "speech-11.wav", job.Result)
}
