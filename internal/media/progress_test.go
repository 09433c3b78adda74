// SPDX-License-Identifier: MIT

package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgress(t *testing.T) {
	stream := strings.Join([]string{
		"frame=100",
		"out_time_us=5000000",
		"progress=continue",
		"out_time_us=10000000",
		"progress=continue",
		"out_time_us=20000000",
		"progress=end",
	}, "\n")

	var got []float64
	parseProgress(strings.NewReader(stream), 20*time.Second, func(pct float64) {
		got = append(got, pct)
	})

	assert.Equal(t, []float64{25, 50, 100}, got)
}

func TestParseProgressClampsAboveTotal(t *testing.T) {
	stream := "out_time_us=30000000\nprogress=continue\n"

	var got []float64
	parseProgress(strings.NewReader(stream), 20*time.Second, func(pct float64) {
		got = append(got, pct)
	})

	assert.Equal(t, []float64{100}, got)
}

func TestParseProgressSkipsMalformedLines(t *testing.T) {
	stream := strings.Join([]string{
		"garbage",
		"out_time_us=notanumber",
		"out_time_us=-5",
		"out_time_us=10000000",
		"progress=end",
	}, "\n")

	var got []float64
	parseProgress(strings.NewReader(stream), 20*time.Second, func(pct float64) {
		got = append(got, pct)
	})

	assert.Equal(t, []float64{100}, got)
}

func TestParseProgressUnknownTotalDrains(t *testing.T) {
	called := false
	parseProgress(strings.NewReader("out_time_us=1\nprogress=end\n"), 0, func(float64) {
		called = true
	})
	assert.False(t, called)
}

func TestWriteFileAtomicOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.txt")
	require.NoError(t, WriteFileAtomic(path, []byte("v1")))
	require.NoError(t, WriteFileAtomic(path, []byte("v2")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestConcatListEscapesQuotes(t *testing.T) {
	f := NewFFmpeg(t.TempDir())
	listPath, err := f.writeConcatList([]string{"/tmp/it's.wav", "/tmp/b.wav"})
	require.NoError(t, err)
	defer os.Remove(listPath)

	data, err := os.ReadFile(listPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `it'\''s.wav`)
	assert.Contains(t, string(data), "/tmp/b.wav")
}

func TestScriptedCapabilities(t *testing.T) {
	ctx := context.Background()

	var steps []float64
	record := func(pct float64) { steps = append(steps, pct) }

	tr := &ScriptedTranscoder{}
	out, err := tr.Transcode(ctx, "input.mp3", record)
	require.NoError(t, err)
	assert.Equal(t, "input.mp3.wav", out)
	assert.Equal(t, ScriptedSteps, steps)

	rec := &ScriptedRecognizer{Steps: []float64{100}}
	text, err := rec.Recognize(ctx, "/data/clip.wav", nil)
	require.NoError(t, err)
	assert.Equal(t, "transcript of clip", text)

	cat := &ScriptedConcatenator{Steps: []float64{100}}
	_, err = cat.Concat(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrNoInput)
	out, err = cat.Concat(ctx, []string{"a.wav", "b.wav"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "merged-2.wav", out)
}

func TestScriptedCapabilityHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := &ScriptedTranscoder{}
	_, err := tr.Transcode(ctx, "input.mp3", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
