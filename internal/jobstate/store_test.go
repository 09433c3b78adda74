// SPDX-License-Identifier: MIT

package jobstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/taskstream/internal/task"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestPutGetRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := task.NewJob("asr", []string{"a.mp3", "b.mp3"})
	job.Status = task.StatusProcessing
	require.NoError(t, s.Put(ctx, job))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, task.StatusProcessing, got.Status)
	assert.Len(t, got.SubTasks, 2)
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Get(context.Background(), "no-such-job")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPutOverwritesSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := task.NewJob("tts", []string{"hello"})
	require.NoError(t, s.Put(ctx, job))

	job.Status = task.StatusCompleted
	job.Result = "speech.wav"
	require.NoError(t, s.Put(ctx, job))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, "speech.wav", got.Result)
}

func TestList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, task.NewJob("asr", []string{"a"})))
	require.NoError(t, s.Put(ctx, task.NewJob("merge", []string{"b", "c"})))

	jobs, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestRecorderSnapshotsOnHooks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	onStage, onJob := s.Recorder(ctx)
	job := task.NewJob("asr", []string{"a.mp3"})

	job.SubTasks[0].Status = task.StatusCompleted
	onStage(job, job.SubTasks[0])

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.StatusCompleted, got.SubTasks[0].Status)

	job.Status = task.StatusCompleted
	onJob(job)

	got, err = s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
}
