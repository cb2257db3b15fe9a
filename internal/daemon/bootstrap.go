package daemon

import (
	"log/slog"

	"loom/internal/config"
	"loom/internal/engine"
)

// Bootstrap wires an engine from configuration and wraps it in a daemon. The
// returned closer releases the engine's resources after the daemon stops.
func Bootstrap(cfg *config.Config, logger *slog.Logger) (*Daemon, func(), error) {
	eng, state, closer, err := engine.Bootstrap(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	d, err := New(cfg, eng, state, logger)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return d, closer, nil
}
