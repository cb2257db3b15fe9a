// Package stall finds work items that have stopped advancing. An item is
// stalled when it sits in an ordinary stage past the configured threshold;
// human-review gates, parking lots, and terminal stages are expected resting
// places and never count. A per (item, dot-path) cooldown suppresses repeat
// reports for the same stall.
package stall

import (
	"context"
	"log/slog"
	"time"

	"loom/internal/config"
	"loom/internal/items"
	"loom/internal/logging"
	"loom/internal/pipeline"
	"loom/internal/runstate"
)

// Record describes one stalled item.
type Record struct {
	ID             int64
	Path           string
	MinutesStalled int
	Title          string
}

// Detector scans the item store each heartbeat.
type Detector struct {
	cfg      *config.Config
	store    *items.Store
	resolver *pipeline.Resolver
	state    *runstate.Store
	logger   *slog.Logger
	now      func() time.Time
}

// NewDetector wires a stall detector against the item store and run state.
func NewDetector(cfg *config.Config, store *items.Store, resolver *pipeline.Resolver, state *runstate.Store, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Detector{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		state:    state,
		logger:   logging.WithComponent(logger, "stall"),
		now:      time.Now,
	}
}

// Detect returns newly stalled items, recording each in the cooldown map so
// the same stall is reported once per cooldown window. Items inside the
// window are suppressed silently.
func (d *Detector) Detect(ctx context.Context) ([]Record, error) {
	all, err := d.store.InFlight(ctx, d.restingPaths())
	if err != nil {
		return nil, err
	}

	now := d.now()
	threshold := time.Duration(d.cfg.Workflow.StallThresholdMin) * time.Minute
	cooldown := time.Duration(d.cfg.Workflow.StallCooldownMin) * time.Minute

	var stalled []Record
	for _, item := range all {
		path, err := pipeline.ParsePath(item.DotPath)
		if err != nil {
			d.logger.Warn("item has unparseable dot-path",
				logging.Int64(logging.FieldItemID, item.ID),
				logging.String(logging.FieldDotPath, item.DotPath))
			continue
		}
		if d.resting(item.Flow, path) {
			continue
		}

		elapsed := now.Sub(item.LastAdvancedAt)
		if elapsed < threshold {
			continue
		}
		if last := d.state.StallNotifiedAt(item.ID, item.DotPath); !last.IsZero() && now.Sub(last) < cooldown {
			continue
		}

		minutes := int(elapsed.Seconds() / 60)
		stalled = append(stalled, Record{
			ID:             item.ID,
			Path:           item.DotPath,
			MinutesStalled: minutes,
			Title:          item.Title,
		})
		d.state.MarkStallNotified(item.ID, item.DotPath, now)
		d.logger.Warn("work item stalled",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String(logging.FieldDotPath, item.DotPath),
			logging.Int("minutes", minutes))
	}
	return stalled, nil
}

func (d *Detector) resting(flow string, path pipeline.Path) bool {
	return d.resolver.IsHumanReview(path) ||
		d.resolver.IsParkingLot(path) ||
		d.resolver.IsTerminal(flow, path)
}

// restingPaths enumerates the flow-independent resting states so the store
// excludes them up front. Terminality depends on the item's flow, so the
// per-item resting check still applies to what comes back.
func (d *Detector) restingPaths() []string {
	seen := make(map[string]bool)
	var excluded []string
	for _, flow := range d.resolver.FlowNames() {
		paths, err := d.resolver.FlowPaths(flow)
		if err != nil {
			continue
		}
		for _, p := range paths {
			if !d.resolver.IsHumanReview(p) && !d.resolver.IsParkingLot(p) {
				continue
			}
			if s := p.String(); !seen[s] {
				seen[s] = true
				excluded = append(excluded, s)
			}
		}
	}
	return excluded
}
