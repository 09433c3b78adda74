// SPDX-License-Identifier: MIT

// Package jobstate persists job snapshots so the operations surface can
// inspect running and finished jobs after their streams have closed.
package jobstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/taskstream/internal/log"
	"github.com/ManuGH/taskstream/internal/task"
)

const keyPrefix = "job:"

// Store is a badger-backed record of job state, updated on every stage
// transition. Records are snapshots: the pipeline remains the owner of the
// live job.
type Store struct {
	db *badger.DB
}

// Open creates or opens the store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open job state store: %w", err)
	}
	logger := log.WithComponent("jobstate")
	logger.Info().
		Str("event", "jobstate.opened").
		Str(log.FieldPath, path).
		Msg("job state store opened")
	return &Store{db: db}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Put writes a snapshot of job.
func (s *Store) Put(ctx context.Context, job *task.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	key := []byte(keyPrefix + job.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

// Get returns the snapshot for id, or (nil, nil) when no record exists.
func (s *Store) Get(ctx context.Context, id string) (*task.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := []byte(keyPrefix + id)
	var out task.Job
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// List returns every stored job snapshot.
func (s *Store) List(ctx context.Context) ([]*task.Job, error) {
	prefix := []byte(keyPrefix)
	var jobs []*task.Job
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var job task.Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				continue
			}
			jobs = append(jobs, &job)
		}
		return nil
	})
	return jobs, err
}

// Recorder returns pipeline hooks that snapshot the job into the store on
// every stage transition and on completion. Write failures are logged, not
// surfaced; a stream must not die because a record could not be written.
func (s *Store) Recorder(ctx context.Context) (onStage func(*task.Job, *task.JobStage), onJob func(*task.Job)) {
	logger := log.WithComponent("jobstate")
	put := func(job *task.Job) {
		if err := s.Put(ctx, job); err != nil {
			logger.Error().
				Err(err).
				Str("event", "jobstate.put_failed").
				Str(log.FieldJobID, job.ID).
				Msg("failed to record job snapshot")
		}
	}
	return func(job *task.Job, _ *task.JobStage) { put(job) },
		func(job *task.Job) { put(job) }
}
