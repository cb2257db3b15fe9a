package engine

import (
	"log/slog"
	"time"

	"loom/internal/config"
	"loom/internal/hooks"
	"loom/internal/items"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/pipeline"
	"loom/internal/runstate"
	"loom/internal/services"
	"loom/internal/stall"
	"loom/internal/statemachine"
)

// Bootstrap wires a fully equipped engine from configuration: stores, git and
// tracker clients, tmux workers, hook runner, and stall detector. The returned
// closer persists run state and closes the item database; callers defer it.
func Bootstrap(cfg *config.Config, logger *slog.Logger) (*Engine, *runstate.Store, func(), error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	resolver, err := pipeline.NewResolver(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	state, err := runstate.Open(cfg.StateDocumentPath())
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := items.Open(cfg.DatabasePath())
	if err != nil {
		return nil, nil, nil, err
	}

	externalTimeout := time.Duration(cfg.Workflow.ExternalToolTimeout) * time.Second
	git := services.NewCLIGit(externalTimeout)
	tracker := services.NewCLITracker(externalTimeout)

	var workers services.Workers
	if tmux, err := services.NewTmuxWorkers(externalTimeout); err != nil {
		logger.Warn("tmux unavailable, worker sessions disabled", logging.Error(err))
		workers = services.NoopWorkers{}
	} else {
		workers = tmux
	}

	notifier := notifications.NewService(cfg)
	runner := hooks.NewRunner(cfg, resolver, state, store, git, tracker, workers, logger)
	detector := stall.NewDetector(cfg, store, resolver, state, logger)

	eng := New(cfg, resolver, statemachine.DefaultTable(), runner, store, state,
		detector, notifier, workers, logger)

	closer := func() {
		if err := state.Save(); err != nil {
			logger.Warn("persist run state", logging.Error(err))
		}
		if err := store.Close(); err != nil {
			logger.Warn("close item store", logging.Error(err))
		}
	}
	return eng, state, closer, nil
}
