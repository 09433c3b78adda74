// SPDX-License-Identifier: MIT

// Package daemon assembles the subsystems and owns their lifecycle:
// open, serve, drain, close.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/taskstream/internal/api"
	"github.com/ManuGH/taskstream/internal/buffer"
	"github.com/ManuGH/taskstream/internal/chat"
	"github.com/ManuGH/taskstream/internal/config"
	"github.com/ManuGH/taskstream/internal/jobstate"
	"github.com/ManuGH/taskstream/internal/log"
	"github.com/ManuGH/taskstream/internal/media"
	"github.com/ManuGH/taskstream/internal/store"
	"github.com/ManuGH/taskstream/internal/task"
)

// App owns every long-lived subsystem. New opens resources; Run serves
// until the context is cancelled, then drains; Close releases everything.
type App struct {
	cfg    config.Config
	logger zerolog.Logger

	buffer   *buffer.Buffer
	sessions store.SessionStore
	jobs     *jobstate.Store
	weights  *config.WeightsHolder
	server   *http.Server
}

// New opens stores and wires the daemon. A partially opened App is closed
// before the error is returned.
func New(cfg config.Config) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: log.WithComponent("daemon"),
	}
	if err := a.open(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open() error {
	for _, dir := range []string{a.cfg.DataDir, a.cfg.JobStateDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	weights := config.DefaultWeights()
	if a.cfg.WeightsPath != "" {
		loaded, err := config.LoadWeights(a.cfg.WeightsPath)
		if err != nil {
			return fmt.Errorf("load stage weights: %w", err)
		}
		weights = loaded
	}
	holder, err := config.NewWeightsHolder(weights, a.cfg.WeightsPath)
	if err != nil {
		return err
	}
	a.weights = holder

	a.buffer = buffer.New(buffer.Options{
		MaxSize:             a.cfg.Buffer.MaxSize,
		DefaultEventCount:   a.cfg.Buffer.DefaultEventCount,
		MaxEventsPerRequest: a.cfg.Buffer.MaxEventsPerRequest,
		EventMaxAge:         a.cfg.Buffer.EventMaxAge,
		ClientIdleTimeout:   a.cfg.Buffer.ClientIdleTimeout,
		CleanupInterval:     a.cfg.Buffer.CleanupInterval,
	})

	sessions, err := store.Open(a.cfg.Store)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	a.sessions = sessions

	if a.cfg.JobStateDir != "" {
		jobs, err := jobstate.Open(a.cfg.JobStateDir)
		if err != nil {
			return err
		}
		a.jobs = jobs
	}

	completion := chat.NewCompletion(chat.Deps{
		Buffer:   a.buffer,
		Factory:  task.NewFactory(a.taskDeps()),
		Sessions: a.sessions,
	})

	srv := api.NewServer(completion, a.buffer, a.jobs, a.cfg.Server)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}
	return nil
}

// taskDeps binds the built-in pipelines to ffmpeg and the scripted
// recognition stand-ins, with job snapshots recorded on every transition.
func (a *App) taskDeps() task.Deps {
	mediaDir := filepath.Join(a.cfg.DataDir, "media")
	ffmpeg := media.NewFFmpeg(mediaDir)

	deps := task.Deps{
		Transcoder:   ffmpeg,
		Concatenator: ffmpeg,
		// TODO(recognition): replace the scripted engines once the external
		// model runner endpoint is deployed.
		Recognizer:  &media.ScriptedRecognizer{},
		Synthesizer: &media.ScriptedSynthesizer{},
		Weights:     a.weights.Current,
	}
	if a.jobs != nil {
		onStage, onJob := a.jobs.Recorder(context.Background())
		deps.Options.OnStageCompleted = onStage
		deps.Options.OnJobCompleted = onJob
	}
	return deps
}

// Run serves until ctx is cancelled, then drains in-flight streams within
// the shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.DataDir != "" {
		if err := os.MkdirAll(filepath.Join(a.cfg.DataDir, "media"), 0o750); err != nil {
			return fmt.Errorf("create media dir: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().
			Str("event", "daemon.listening").
			Str("addr", a.server.Addr).
			Msg("http server listening")
		if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.logger.Info().
			Str("event", "daemon.draining").
			Dur("timeout", a.cfg.Server.ShutdownTimeout).
			Msg("draining in-flight streams")
		return a.server.Shutdown(drainCtx)
	})

	g.Go(func() error {
		err := a.buffer.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return a.weights.Watch(ctx)
	})

	// SIGHUP reloads the weights file in place
	if a.cfg.WeightsPath != "" {
		g.Go(func() error {
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hup:
					a.logger.Info().
						Str("event", "daemon.reload_signal").
						Msg("reloading stage weights")
					_ = a.weights.Reload()
				}
			}
		})
	}

	err := g.Wait()
	a.logger.Info().
		Str("event", "daemon.stopped").
		Msg("daemon stopped")
	return err
}

// Close releases the stores. Safe on a partially opened App.
func (a *App) Close() error {
	var errs []error
	if a.jobs != nil {
		if err := a.jobs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close job state store: %w", err))
		}
	}
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ListenAddr reports the configured listen address; tests use it after
// overriding the config with an ephemeral port.
func (a *App) ListenAddr() string { return a.server.Addr }
