// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/taskstream/internal/log"
)

// WeightsHolder hands out the current stage-weight configuration and swaps
// it atomically when the weights file changes on disk. An invalid file keeps
// the previous configuration in place.
type WeightsHolder struct {
	mu      sync.RWMutex
	current Weights
	path    string
}

// NewWeightsHolder seeds the holder. If path is empty the holder is static
// and Watch is a no-op.
func NewWeightsHolder(initial Weights, path string) (*WeightsHolder, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &WeightsHolder{current: initial, path: path}, nil
}

// Current returns the active weight configuration.
func (h *WeightsHolder) Current() Weights {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

func (h *WeightsHolder) swap(w Weights) {
	h.mu.Lock()
	h.current = w
	h.mu.Unlock()
}

// Watch re-reads the weights file whenever it changes and blocks until ctx
// is cancelled. Editors replace files rather than rewriting them in place,
// so the parent directory is watched and events filtered by name.
func (h *WeightsHolder) Watch(ctx context.Context) error {
	if h.path == "" {
		<-ctx.Done()
		return nil
	}

	logger := log.WithComponent("weights")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create weights watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	logger.Info().
		Str("event", "weights.watch_started").
		Str(log.FieldPath, h.path).
		Msg("watching stage-weight file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(h.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			h.reload(logger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().
				Err(err).
				Str("event", "weights.watch_error").
				Msg("weights watcher reported an error")
		}
	}
}

// Reload re-reads the weights file once, keeping the old configuration on
// any error.
func (h *WeightsHolder) Reload() error {
	return h.reload(log.WithComponent("weights"))
}

func (h *WeightsHolder) reload(logger zerolog.Logger) error {
	w, err := LoadWeights(h.path)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("event", "weights.reload_rejected").
			Str(log.FieldPath, h.path).
			Msg("keeping previous stage weights")
		return err
	}
	h.swap(w)
	logger.Info().
		Str("event", "weights.reloaded").
		Str(log.FieldPath, h.path).
		Int("task_types", len(w)).
		Msg("stage weights reloaded")
	return nil
}
