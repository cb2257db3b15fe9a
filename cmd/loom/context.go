package main

import (
	"context"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/engine"
	"loom/internal/items"
	"loom/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// withStore opens the item database for read-mostly commands that do not need
// the full engine.
func (c *commandContext) withStore(ctx context.Context, fn func(context.Context, *items.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := items.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

// withEngine wires the full engine for commands that transition items or fire
// events. CLI invocations log only warnings and errors to keep output usable.
func (c *commandContext) withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: "warn", Format: cfg.Logging.Format})
	if err != nil {
		return err
	}
	eng, _, closer, err := engine.Bootstrap(cfg, logger)
	if err != nil {
		return err
	}
	defer closer()
	return fn(ctx, eng)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
